package laborder

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository"
	"github.com/careflow/careflow-api/internal/repository/memory"
	"github.com/careflow/careflow-api/internal/service/txn"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
	"github.com/careflow/careflow-api/pkg/metrics"
	blobs "github.com/careflow/careflow-api/pkg/storage/memory"
)

type fixture struct {
	svc          *Service
	store        *memory.Store
	objects      *blobs.Store
	doctor       model.User
	tech         model.Caller
	patient      model.Patient
	lab          model.Laboratory
	consultation model.Consultation
	tick         int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.NewStore(),
		objects: blobs.NewStore(),
		doctor:  model.User{Base: model.Base{ID: uuid.New()}, FirstName: "Ada", LastName: "Osei", Role: model.RoleDoctor, IsActive: true},
		tech:    model.Caller{UserID: uuid.New(), Role: model.RoleLabTechnician},
		patient: model.Patient{Base: model.Base{ID: uuid.New()}},
		lab:     model.Laboratory{Base: model.Base{ID: uuid.New()}, Name: "Central Lab", IsActive: true},
	}
	f.consultation = model.Consultation{Base: model.Base{ID: uuid.New()}, PatientID: f.patient.ID}
	coord := txn.NewCoordinator(f.store, f.objects, metrics.NewNop(), zerolog.Nop(), txn.Config{UnitTimeout: time.Second})
	clock := func() time.Time {
		f.tick++
		return time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(f.tick) * time.Millisecond)
	}
	f.svc = NewService(coord, Config{MaxUploadBytes: 1 << 10, PresignTTL: 10 * time.Minute}, WithClock(clock))

	f.store.SeedUser(f.doctor)
	f.store.SeedPatient(f.patient)
	f.store.SeedLaboratory(f.lab)
	f.store.SeedConsultation(f.consultation)
	return f
}

func (f *fixture) caller() model.Caller {
	return model.Caller{UserID: f.doctor.ID, Role: model.RoleDoctor}
}

func (f *fixture) order(t *testing.T) *model.LabOrder {
	t.Helper()
	o, err := f.svc.Create(context.Background(), f.caller(), model.CreateLabOrderRequest{
		ConsultationID: &f.consultation.ID,
		PatientID:      f.patient.ID,
		Tests:          []model.LabTest{{Name: "CBC", Category: "hematology", SpecimenType: "blood"}},
		OrderedBy:      f.doctor.ID,
	})
	require.NoError(t, err)
	return o
}

func pdf(name string) model.FileUpload {
	return model.FileUpload{Name: name, ContentType: "application/pdf", Data: []byte("%PDF-1.4 result")}
}

func TestUploadScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	assert.Equal(t, model.LabOrderStatusOrdered, o.Status)
	assert.Equal(t, model.LabPriorityRoutine, o.Priority)

	first, err := f.svc.UploadResult(ctx, f.tech, o.ID, pdf("cbc.pdf"))
	require.NoError(t, err)
	assert.Len(t, first.Order.ResultIDs, 1)
	assert.Equal(t, model.LabOrderStatusReceived, first.Order.Status)
	assert.True(t, strings.HasPrefix(first.Result.StorageKey, "lab-results/"+o.ID.String()+"/"))
	assert.True(t, f.objects.Exists(first.Result.StorageKey))

	second, err := f.svc.UploadResult(ctx, f.tech, o.ID, pdf("cbc-page2.pdf"))
	require.NoError(t, err)
	assert.Len(t, second.Order.ResultIDs, 2)
	assert.Equal(t, model.LabOrderStatusReceived, second.Order.Status, "status unchanged on second upload")
	assert.Equal(t, first.Result.ID, second.Order.ResultIDs[0])

	results, err := f.svc.ListResults(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSameNameUploadsInOneMillisecondKeepBothFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	frozen := time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)
	coord := txn.NewCoordinator(f.store, f.objects, metrics.NewNop(), zerolog.Nop(), txn.Config{UnitTimeout: time.Second})
	svc := NewService(coord, Config{MaxUploadBytes: 1 << 10}, WithClock(func() time.Time { return frozen }))

	first, err := svc.UploadResult(ctx, f.tech, o.ID, pdf("r.pdf"))
	require.NoError(t, err)
	second, err := svc.UploadResult(ctx, f.tech, o.ID, pdf("r.pdf"))
	require.NoError(t, err)

	assert.NotEqual(t, first.Result.StorageKey, second.Result.StorageKey)
	assert.Contains(t, first.Result.StorageKey, first.Result.ID.String())
	assert.Contains(t, second.Result.StorageKey, second.Result.ID.String())
	assert.True(t, f.objects.Exists(first.Result.StorageKey))
	assert.True(t, f.objects.Exists(second.Result.StorageKey))
	assert.Equal(t, 2, f.objects.Len())
}

func TestUploadRollsBackAndCompensates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	f.store.SetFailureHook(func(op string) error {
		if op == "lab_orders.update" {
			return errors.New("forced")
		}
		return nil
	})
	_, err := f.svc.UploadResult(ctx, f.tech, o.ID, pdf("cbc.pdf"))
	assert.True(t, apperrors.Is(err, apperrors.ErrIntegrity))
	f.store.SetFailureHook(nil)

	assert.Zero(t, f.store.LabResultCount())
	assert.Zero(t, f.objects.Len())
	got, err := f.svc.Get(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ResultIDs)
	assert.Equal(t, model.LabOrderStatusOrdered, got.Status)
}

func TestUploadRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	_, err := f.svc.UploadResult(ctx, f.tech, uuid.New(), pdf("cbc.pdf"))
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))

	_, err = f.svc.UploadResult(ctx, f.tech, o.ID, model.FileUpload{Name: "x.exe", ContentType: "application/x-msdownload", Data: []byte("MZ")})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = f.svc.UploadResult(ctx, f.tech, o.ID, model.FileUpload{Name: "big.pdf", ContentType: "application/pdf", Data: make([]byte, 2<<10)})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))

	_, err = f.svc.Cancel(ctx, f.caller(), o.ID, "not needed")
	require.NoError(t, err)
	_, err = f.svc.UploadResult(ctx, f.tech, o.ID, pdf("late.pdf"))
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
	assert.Zero(t, f.objects.Len(), "rejected upload leaves no blob")
}

func TestCreateLinksConsultationAtomically(t *testing.T) {
	f := newFixture(t)
	o := f.order(t)

	require.NoError(t, f.store.View(context.Background(), func(tx repository.Tx) error {
		c, err := tx.Consultations().Get(context.Background(), f.consultation.ID)
		require.NoError(t, err)
		assert.True(t, c.LabOrderIDs.Contains(o.ID))
		return nil
	}))

	missing := uuid.New()
	_, err := f.svc.Create(context.Background(), f.caller(), model.CreateLabOrderRequest{
		ConsultationID: &missing,
		PatientID:      f.patient.ID,
		Tests:          []model.LabTest{{Name: "CBC", Category: "hematology", SpecimenType: "blood"}},
		OrderedBy:      f.doctor.ID,
	})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
	list, err := f.svc.List(context.Background(), &model.LabOrderFilters{PatientID: f.patient.ID})
	require.NoError(t, err)
	assert.Len(t, list, 1, "failed create leaves no order behind")
}

func TestCreateRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tests := []model.LabTest{{Name: "CBC", Category: "hematology", SpecimenType: "blood"}}

	_, err := f.svc.Create(ctx, f.caller(), model.CreateLabOrderRequest{PatientID: f.patient.ID, Tests: tests})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "ordering practitioner required")

	_, err = f.svc.Create(ctx, f.caller(), model.CreateLabOrderRequest{PatientID: f.patient.ID, OrderedBy: f.doctor.ID})
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation), "at least one test")

	nurse := model.User{Base: model.Base{ID: uuid.New()}, Role: model.RoleNurse, IsActive: true}
	f.store.SeedUser(nurse)
	_, err = f.svc.Create(ctx, f.caller(), model.CreateLabOrderRequest{PatientID: f.patient.ID, Tests: tests, OrderedBy: nurse.ID})
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidRole))

	_, err = f.svc.Create(ctx, f.caller(), model.CreateLabOrderRequest{PatientID: uuid.New(), Tests: tests, OrderedBy: f.doctor.ID})
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}

func TestLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)

	o, err := f.svc.AssignLaboratory(ctx, f.caller(), o.ID, f.lab.ID)
	require.NoError(t, err)
	assert.Equal(t, f.lab.ID, *o.LaboratoryID)

	o, err = f.svc.CollectSample(ctx, f.tech, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LabOrderStatusSampleCollected, o.Status)

	o, err = f.svc.StartProcessing(ctx, f.tech, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LabOrderStatusInProgress, o.Status)

	_, err = f.svc.Complete(ctx, f.tech, o.ID, false)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition), "no results yet")

	o, err = f.svc.RecordInlineResults(ctx, f.tech, o.ID, model.RecordInlineResultsRequest{
		Results: []model.InlineResult{{TestName: "Hemoglobin", Value: "13.5", Unit: "g/dL", Flag: "normal"}},
	})
	require.NoError(t, err)
	require.Len(t, o.InlineResults, 1)
	assert.Equal(t, f.tech.UserID, o.InlineResults[0].RecordedBy)

	o, err = f.svc.Complete(ctx, f.tech, o.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.LabOrderStatusCompleted, o.Status)

	o, err = f.svc.Validate(ctx, f.caller(), o.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.LabOrderStatusValidated, o.Status)
	assert.Equal(t, f.doctor.ID, *o.ValidatedBy)

	_, err = f.svc.Cancel(ctx, f.caller(), o.ID, "too late")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidTransition))
}

func TestCompleteWithOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	_, err := f.svc.CollectSample(ctx, f.tech, o.ID)
	require.NoError(t, err)

	o, err = f.svc.Complete(ctx, f.tech, o.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.LabOrderStatusCompleted, o.Status)
}

func TestResultDownloadAndFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.order(t)
	up, err := f.svc.UploadResult(ctx, f.tech, o.ID, pdf("cbc.pdf"))
	require.NoError(t, err)

	link, err := f.svc.ResultDownloadURL(ctx, up.Result.ID)
	require.NoError(t, err)
	assert.Contains(t, link.URL, up.Result.StorageKey)

	flagged, err := f.svc.FlagResult(ctx, f.caller(), up.Result.ID, model.FlagLabResultRequest{Flagged: true, Notes: "abnormal"})
	require.NoError(t, err)
	assert.True(t, flagged.Flagged)

	results, err := f.svc.ListResults(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, results[0].Flagged)
	assert.Equal(t, "abnormal", results[0].Notes)
	assert.Equal(t, up.Result.StorageKey, results[0].StorageKey)

	_, err = f.svc.ResultDownloadURL(ctx, uuid.New())
	assert.True(t, apperrors.Is(err, apperrors.ErrNotFound))
}
