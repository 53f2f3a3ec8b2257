package prescription

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/handler"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/service/prescription"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type Handler struct {
	service *prescription.Service
}

func NewHandler(service *prescription.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	doctor := middleware.RequireRoles(model.RoleDoctor)

	prescriptions := r.Group("/prescriptions")
	{
		prescriptions.POST("", doctor, h.Create)
		prescriptions.GET("", middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin, model.RoleNurse, model.RolePharmacist), h.List)
		prescriptions.GET("/:id", h.Get)
		prescriptions.POST("/:id/sign", doctor, h.Sign)
		prescriptions.POST("/:id/assign-pharmacy", middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin), h.AssignPharmacy)
		prescriptions.POST("/:id/dispense", middleware.RequireRoles(model.RolePharmacist), h.Dispense)
		prescriptions.POST("/:id/cancel", middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin), h.Cancel)
	}
}

// createBody accepts prescription lines under either "medications" or "items".
type createBody struct {
	model.CreatePrescriptionRequest
	Items []model.Medication `json:"items"`
}

// normalize folds the items alias into Medications. Sending both is ambiguous
// and rejected.
func (b createBody) normalize() (model.CreatePrescriptionRequest, error) {
	req := b.CreatePrescriptionRequest
	if len(b.Items) > 0 {
		if len(req.Medications) > 0 {
			return req, apperrors.NewValidation("send prescription lines as either medications or items, not both", nil)
		}
		req.Medications = b.Items
	}
	return req, nil
}

func (h *Handler) Create(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		handler.Fail(c, apperrors.NewBadRequest("malformed request body", err))
		return
	}
	req, err := body.normalize()
	if err != nil {
		handler.Fail(c, err)
		return
	}

	p, err := h.service.Create(c.Request.Context(), caller, req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, p)
}

type listQuery struct {
	PatientID  string                   `form:"patient_id" binding:"omitempty,uuid"`
	PharmacyID string                   `form:"pharmacy_id" binding:"omitempty,uuid"`
	Status     model.PrescriptionStatus `form:"status"`
	model.Pagination
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		handler.Fail(c, err)
		return
	}
	filters := &model.PrescriptionFilters{Status: q.Status, Pagination: q.Pagination}
	if q.PatientID != "" {
		filters.PatientID = uuid.MustParse(q.PatientID)
	}
	if q.PharmacyID != "" {
		filters.PharmacyID = uuid.MustParse(q.PharmacyID)
	}

	list, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, list)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	p, err := h.service.Get(c.Request.Context(), id)
	respond(c, p, err)
}

func (h *Handler) Sign(c *gin.Context) {
	if caller, id, ok := handler.Target(c); ok {
		p, err := h.service.Sign(c.Request.Context(), caller, id)
		respond(c, p, err)
	}
}

func (h *Handler) AssignPharmacy(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.AssignPharmacyRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	p, err := h.service.AssignPharmacy(c.Request.Context(), caller, id, req.PharmacyID)
	respond(c, p, err)
}

func (h *Handler) Dispense(c *gin.Context) {
	if caller, id, ok := handler.Target(c); ok {
		p, err := h.service.Dispense(c.Request.Context(), caller, id)
		respond(c, p, err)
	}
}

func (h *Handler) Cancel(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.CancelPrescriptionRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	p, err := h.service.Cancel(c.Request.Context(), caller, id, req.Reason)
	respond(c, p, err)
}

func respond(c *gin.Context, p *model.Prescription, err error) {
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, p)
}
