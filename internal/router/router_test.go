package router

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appointmenthandler "github.com/careflow/careflow-api/internal/handler/appointment"
	audithandler "github.com/careflow/careflow-api/internal/handler/audit"
	documenthandler "github.com/careflow/careflow-api/internal/handler/document"
	"github.com/careflow/careflow-api/internal/handler/health"
	laborderhandler "github.com/careflow/careflow-api/internal/handler/laborder"
	prescriptionhandler "github.com/careflow/careflow-api/internal/handler/prescription"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/repository/memory"
	"github.com/careflow/careflow-api/internal/service/appointment"
	"github.com/careflow/careflow-api/internal/service/audit"
	"github.com/careflow/careflow-api/internal/service/document"
	"github.com/careflow/careflow-api/internal/service/laborder"
	"github.com/careflow/careflow-api/internal/service/prescription"
	"github.com/careflow/careflow-api/internal/service/txn"
	"github.com/careflow/careflow-api/pkg/auth"
	"github.com/careflow/careflow-api/pkg/metrics"
	blobs "github.com/careflow/careflow-api/pkg/storage/memory"
)

type env struct {
	engine       *gin.Engine
	store        *memory.Store
	objects      *blobs.Store
	tokens       auth.JWTService
	doctor       model.User
	admin        model.User
	pharmacist   model.User
	labTech      model.User
	patient      model.Patient
	consultation model.Consultation
	pharmacy     model.Pharmacy
	lab          model.Laboratory
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	objects := blobs.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("test", reg)
	coord := txn.NewCoordinator(store, objects, m, zerolog.Nop(), txn.Config{UnitTimeout: 5 * time.Second})

	e := &env{
		store:      store,
		objects:    objects,
		tokens:     auth.NewJWTService("test-secret", "careflow-test", time.Hour),
		doctor:     model.User{Base: model.Base{ID: uuid.New()}, FirstName: "Gregory", LastName: "House", Role: model.RoleDoctor, IsActive: true},
		admin:      model.User{Base: model.Base{ID: uuid.New()}, Role: model.RoleAdmin, IsActive: true},
		pharmacist: model.User{Base: model.Base{ID: uuid.New()}, Role: model.RolePharmacist, IsActive: true},
		labTech:    model.User{Base: model.Base{ID: uuid.New()}, Role: model.RoleLabTechnician, IsActive: true},
		patient:    model.Patient{Base: model.Base{ID: uuid.New()}, FirstName: "Ada", LastName: "Lovelace"},
		pharmacy:   model.Pharmacy{Base: model.Base{ID: uuid.New()}, Name: "Corner Pharmacy", IsActive: true},
		lab:        model.Laboratory{Base: model.Base{ID: uuid.New()}, Name: "Central Lab", IsActive: true},
	}
	e.consultation = model.Consultation{Base: model.Base{ID: uuid.New()}, PatientID: e.patient.ID, PractitionerID: e.doctor.ID}
	for _, u := range []model.User{e.doctor, e.admin, e.pharmacist, e.labTech} {
		store.SeedUser(u)
	}
	store.SeedPatient(e.patient)
	store.SeedConsultation(e.consultation)
	store.SeedPharmacy(e.pharmacy)
	store.SeedLaboratory(e.lab)

	engine, err := New(Config{ServiceName: "careflow-test", RequestTimeout: 5 * time.Second, RateLimitRPS: 1000, CORSConfig: middleware.DefaultCORSConfig()}, Deps{
		Auth:     middleware.NewAuthMiddleware(e.tokens),
		Health:   health.NewHandler(map[string]health.Checker{"database": store}),
		Metrics:  m,
		Gatherer: reg,
		Log:      zerolog.Nop(),
		Handlers: []Handler{
			appointmenthandler.NewHandler(appointment.NewService(coord)),
			prescriptionhandler.NewHandler(prescription.NewService(coord, prescription.Config{})),
			laborderhandler.NewHandler(laborder.NewService(coord, laborder.Config{})),
			documenthandler.NewHandler(document.NewService(coord, document.Config{})),
			audithandler.NewHandler(audit.NewService(store)),
		},
	})
	require.NoError(t, err)
	e.engine = engine
	return e
}

func (e *env) token(t *testing.T, id uuid.UUID, role model.Role) string {
	t.Helper()
	tok, err := e.tokens.GenerateAccessToken(model.Caller{UserID: id, Role: role})
	require.NoError(t, err)
	return tok
}

type reply struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path, token string, body interface{}) (int, reply) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return e.send(t, req, token)
}

func (e *env) send(t *testing.T, req *http.Request, token string) (int, reply) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	var r reply
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") != "text/csv" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r), w.Body.String())
	}
	return w.Code, r
}

func decode[T any](t *testing.T, r reply) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(r.Data, &v))
	return v
}

func nextWeek() string {
	return time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
}

func TestBookingOverHTTP(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.admin.ID, model.RoleAdmin)
	date := nextWeek()
	book := func(start, end string) (int, reply) {
		return e.do(t, http.MethodPost, "/api/v1/appointments", tok, map[string]string{
			"patient_id":      e.patient.ID.String(),
			"practitioner_id": e.doctor.ID.String(),
			"date":            date,
			"start_time":      start,
			"end_time":        end,
			"reason":          "checkup",
		})
	}

	status, r := book("09:00", "09:30")
	require.Equal(t, http.StatusCreated, status, r.Message)
	apt := decode[model.Appointment](t, r)
	assert.Equal(t, model.AppointmentStatusScheduled, apt.Status)

	status, r = book("09:15", "09:45")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "error", r.Status)
	assert.Equal(t, "SLOT_CONFLICT", r.Code)

	status, _ = book("09:30", "10:00")
	assert.Equal(t, http.StatusCreated, status)

	status, r = e.do(t, http.MethodGet, "/api/v1/appointments/availability?practitioner_id="+e.doctor.ID.String()+
		"&date="+date+"&start_time=09:10&end_time=09:20", tok, nil)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, decode[model.Availability](t, r).Available)

	status, r = e.do(t, http.MethodPost, "/api/v1/appointments/"+apt.ID.String()+"/cancel", tok, map[string]string{"reason": "travel"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.AppointmentStatusCancelled, decode[model.Appointment](t, r).Status)

	status, _ = book("09:00", "09:30")
	assert.Equal(t, http.StatusCreated, status, "cancelled slot is free again")
}

func TestRequestValidation(t *testing.T) {
	e := newEnv(t)
	tok := e.token(t, e.admin.ID, model.RoleAdmin)

	status, r := e.do(t, http.MethodGet, "/api/v1/appointments/availability?practitioner_id="+e.doctor.ID.String()+
		"&date=2025-13-01&start_time=9am&end_time=10:00", tok, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", r.Code)
	assert.Contains(t, r.Message, "StartTime must be a 24-hour HH:MM time")

	status, r = e.do(t, http.MethodPost, "/api/v1/appointments", tok, map[string]string{
		"patient_id":      e.patient.ID.String(),
		"practitioner_id": e.doctor.ID.String(),
		"date":            "2020-01-01",
		"start_time":      "09:00",
		"end_time":        "09:30",
		"reason":          "checkup",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "PAST_DATE", r.Code)

	status, r = e.do(t, http.MethodGet, "/api/v1/appointments/not-a-uuid", tok, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "BAD_REQUEST", r.Code)
}

func TestAuthAndRoleGates(t *testing.T) {
	e := newEnv(t)

	status, r := e.do(t, http.MethodGet, "/api/v1/appointments", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", r.Code)

	status, _ = e.do(t, http.MethodGet, "/api/v1/appointments", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, r = e.do(t, http.MethodPost, "/api/v1/prescriptions", e.token(t, e.pharmacist.ID, model.RolePharmacist), map[string]string{})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", r.Code)
}

func TestPrescriptionWorkflowOverHTTP(t *testing.T) {
	e := newEnv(t)
	doctor := e.token(t, e.doctor.ID, model.RoleDoctor)
	line := map[string]interface{}{
		"name": "Amoxicillin", "dosage": "500", "unit": "mg", "route": "oral",
		"frequency": "3x daily", "duration": map[string]interface{}{"value": 7, "unit": "days"}, "quantity": 21,
	}

	status, r := e.do(t, http.MethodPost, "/api/v1/prescriptions", doctor, map[string]interface{}{
		"consultation_id": e.consultation.ID, "patient_id": e.patient.ID,
		"items": []interface{}{line}, "medications": []interface{}{line},
	})
	assert.Equal(t, http.StatusBadRequest, status, "both aliases at once are ambiguous")
	assert.Equal(t, "VALIDATION_ERROR", r.Code)

	status, r = e.do(t, http.MethodPost, "/api/v1/prescriptions", doctor, map[string]interface{}{
		"consultation_id": e.consultation.ID, "patient_id": e.patient.ID, "items": []interface{}{line},
	})
	require.Equal(t, http.StatusCreated, status, r.Message)
	p := decode[model.Prescription](t, r)
	require.Len(t, p.Medications, 1)
	base := "/api/v1/prescriptions/" + p.ID.String()

	status, _ = e.do(t, http.MethodPost, base+"/sign", doctor, nil)
	require.Equal(t, http.StatusOK, status)
	status, r = e.do(t, http.MethodPost, base+"/assign-pharmacy", doctor, map[string]string{"pharmacy_id": e.pharmacy.ID.String()})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.PrescriptionStatusSent, decode[model.Prescription](t, r).Status)

	status, r = e.do(t, http.MethodPost, base+"/dispense", e.token(t, e.pharmacist.ID, model.RolePharmacist), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.PrescriptionStatusDispensed, decode[model.Prescription](t, r).Status)

	other := model.Pharmacy{Base: model.Base{ID: uuid.New()}, Name: "Night Pharmacy", IsActive: true}
	e.store.SeedPharmacy(other)
	status, r = e.do(t, http.MethodPost, base+"/assign-pharmacy", doctor, map[string]string{"pharmacy_id": other.ID.String()})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "INVALID_TRANSITION", r.Code)

	status, r = e.do(t, http.MethodGet, "/api/v1/audit/prescription/"+p.ID.String(), e.token(t, e.admin.ID, model.RoleAdmin), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]model.AuditLog](t, r), 4)
}

func multipartFile(t *testing.T, path string, fields map[string]string, name, contentType string, data []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	h := make(map[string][]string)
	h["Content-Disposition"] = []string{`form-data; name="file"; filename="` + name + `"`}
	h["Content-Type"] = []string{contentType}
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestLabResultUploadOverHTTP(t *testing.T) {
	e := newEnv(t)
	doctor := e.token(t, e.doctor.ID, model.RoleDoctor)
	tech := e.token(t, e.labTech.ID, model.RoleLabTechnician)

	status, r := e.do(t, http.MethodPost, "/api/v1/lab-orders", doctor, map[string]interface{}{
		"patient_id":      e.patient.ID,
		"consultation_id": e.consultation.ID,
		"tests":           []map[string]string{{"name": "CBC", "category": "hematology", "specimen_type": "blood"}},
	})
	require.Equal(t, http.StatusCreated, status, r.Message)
	order := decode[model.LabOrder](t, r)
	assert.Equal(t, e.doctor.ID, order.OrderedBy)

	path := "/api/v1/lab-orders/" + order.ID.String() + "/results"
	status, r = e.send(t, multipartFile(t, path, nil, "cbc.pdf", "application/pdf", []byte("%PDF-1.4")), tech)
	require.Equal(t, http.StatusCreated, status, r.Message)
	upload := decode[laborder.ResultUpload](t, r)
	assert.Equal(t, model.LabOrderStatusReceived, upload.Order.Status)
	assert.Equal(t, 1, e.objects.Len())

	status, r = e.send(t, multipartFile(t, path, nil, "notes.txt", "text/plain", []byte("hi")), tech)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", r.Code)

	status, r = e.do(t, http.MethodGet, "/api/v1/lab-results/"+upload.Result.ID.String()+"/download", doctor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, decode[model.DownloadLink](t, r).URL)

	patient := e.token(t, e.patient.ID, model.RolePatient)
	for _, p := range []string{
		"/api/v1/lab-orders/" + order.ID.String(),
		"/api/v1/lab-results/" + upload.Result.ID.String() + "/download",
	} {
		status, r = e.do(t, http.MethodGet, p, patient, nil)
		assert.Equal(t, http.StatusForbidden, status, p)
		assert.Equal(t, "FORBIDDEN", r.Code, p)
	}
}

func TestLabOrderRejectsConflictingOrderers(t *testing.T) {
	e := newEnv(t)
	status, r := e.do(t, http.MethodPost, "/api/v1/lab-orders", e.token(t, e.doctor.ID, model.RoleDoctor), map[string]interface{}{
		"patient_id": e.patient.ID,
		"doctor":     e.doctor.ID,
		"ordered_by": e.admin.ID,
		"tests":      []map[string]string{{"name": "CBC", "category": "hematology", "specimen_type": "blood"}},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", r.Code)
}

func TestDocumentsOverHTTP(t *testing.T) {
	e := newEnv(t)
	doctor := e.token(t, e.doctor.ID, model.RoleDoctor)

	req := multipartFile(t, "/api/v1/documents", map[string]string{
		"patient_id": e.patient.ID.String(),
		"title":      "Referral letter",
		"category":   "report",
	}, "referral.pdf", "application/pdf", []byte("%PDF-1.4"))
	status, r := e.send(t, req, doctor)
	require.Equal(t, http.StatusCreated, status, r.Message)
	doc := decode[model.Document](t, r)

	status, r = e.do(t, http.MethodGet, "/api/v1/patients/"+e.patient.ID.String()+"/documents", doctor, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]model.Document](t, r), 1)

	status, _ = e.do(t, http.MethodDelete, "/api/v1/documents/"+doc.ID.String(), doctor, nil)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Zero(t, e.objects.Len())
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, status)

	e.do(t, http.MethodGet, "/api/v1/appointments", "", nil)
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}
