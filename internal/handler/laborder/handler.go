package laborder

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/handler"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/service/laborder"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type Handler struct {
	service *laborder.Service
}

func NewHandler(service *laborder.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	lab := middleware.RequireRoles(model.RoleLabTechnician, model.RoleAdmin)
	ordering := middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin)
	staff := middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin, model.RoleNurse, model.RoleLabTechnician)

	orders := r.Group("/lab-orders")
	{
		orders.POST("", middleware.RequireRoles(model.RoleDoctor), h.Create)
		orders.GET("", staff, h.List)
		orders.GET("/:id", staff, h.Get)
		orders.POST("/:id/assign-laboratory", ordering, h.AssignLaboratory)
		orders.POST("/:id/collect-sample", middleware.RequireRoles(model.RoleNurse, model.RoleLabTechnician, model.RoleAdmin), h.CollectSample)
		orders.POST("/:id/start", lab, h.Start)
		orders.POST("/:id/inline-results", lab, h.InlineResults)
		orders.POST("/:id/complete", lab, h.Complete)
		orders.POST("/:id/validate", middleware.RequireRoles(model.RoleDoctor, model.RoleLabTechnician), h.Validate)
		orders.POST("/:id/cancel", ordering, h.Cancel)
		orders.POST("/:id/results", lab, h.UploadResult)
		orders.GET("/:id/results", staff, h.ListResults)
	}

	results := r.Group("/lab-results")
	{
		results.GET("/:id/download", staff, h.Download)
		results.PATCH("/:id/flag", middleware.RequireRoles(model.RoleDoctor, model.RoleLabTechnician), h.Flag)
	}
}

// createBody carries the two ways clients name the ordering practitioner.
type createBody struct {
	model.CreateLabOrderRequest
	OrderedBy *uuid.UUID `json:"ordered_by"`
	Doctor    *uuid.UUID `json:"doctor"`
}

// orderer picks the single ordering practitioner: whichever of doctor and
// ordered_by is set, else the caller. Two different explicit values are
// rejected rather than guessed between.
func (b createBody) orderer(caller model.Caller) (uuid.UUID, error) {
	switch {
	case b.OrderedBy != nil && b.Doctor != nil && *b.OrderedBy != *b.Doctor:
		return uuid.Nil, apperrors.NewValidation("doctor and ordered_by name different practitioners", nil)
	case b.Doctor != nil:
		return *b.Doctor, nil
	case b.OrderedBy != nil:
		return *b.OrderedBy, nil
	default:
		return caller.UserID, nil
	}
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
	req := body.CreateLabOrderRequest
	if req.OrderedBy, err = body.orderer(caller); err != nil {
		handler.Fail(c, err)
		return
	}

	order, err := h.service.Create(c.Request.Context(), caller, req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, order)
}

type listQuery struct {
	PatientID    string               `form:"patient_id" binding:"omitempty,uuid"`
	LaboratoryID string               `form:"laboratory_id" binding:"omitempty,uuid"`
	Status       model.LabOrderStatus `form:"status"`
	model.Pagination
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		handler.Fail(c, err)
		return
	}
	filters := &model.LabOrderFilters{Status: q.Status, Pagination: q.Pagination}
	if q.PatientID != "" {
		filters.PatientID = uuid.MustParse(q.PatientID)
	}
	if q.LaboratoryID != "" {
		filters.LaboratoryID = uuid.MustParse(q.LaboratoryID)
	}

	orders, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, orders)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	order, err := h.service.Get(c.Request.Context(), id)
	respond(c, order, err)
}

func (h *Handler) AssignLaboratory(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.AssignLaboratoryRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	order, err := h.service.AssignLaboratory(c.Request.Context(), caller, id, req.LaboratoryID)
	respond(c, order, err)
}

func (h *Handler) CollectSample(c *gin.Context) {
	if caller, id, ok := handler.Target(c); ok {
		order, err := h.service.CollectSample(c.Request.Context(), caller, id)
		respond(c, order, err)
	}
}

func (h *Handler) Start(c *gin.Context) {
	if caller, id, ok := handler.Target(c); ok {
		order, err := h.service.StartProcessing(c.Request.Context(), caller, id)
		respond(c, order, err)
	}
}

func (h *Handler) InlineResults(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.RecordInlineResultsRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	order, err := h.service.RecordInlineResults(c.Request.Context(), caller, id, req)
	respond(c, order, err)
}

func (h *Handler) Complete(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.CompleteLabOrderRequest
	if err := handler.BindOptionalJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	order, err := h.service.Complete(c.Request.Context(), caller, id, req.Override)
	respond(c, order, err)
}

func (h *Handler) Validate(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.CompleteLabOrderRequest
	if err := handler.BindOptionalJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	order, err := h.service.Validate(c.Request.Context(), caller, id, req.Override)
	respond(c, order, err)
}

func (h *Handler) Cancel(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.CancelLabOrderRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	order, err := h.service.Cancel(c.Request.Context(), caller, id, req.Reason)
	respond(c, order, err)
}

// UploadResult takes a multipart form with the result in the "file" field.
func (h *Handler) UploadResult(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	file, err := handler.FormFile(c, "file")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	upload, err := h.service.UploadResult(c.Request.Context(), caller, id, file)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, upload)
}

func (h *Handler) ListResults(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	results, err := h.service.ListResults(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, results)
}

func (h *Handler) Download(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	link, err := h.service.ResultDownloadURL(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, link)
}

func (h *Handler) Flag(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.FlagLabResultRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	result, err := h.service.FlagResult(c.Request.Context(), caller, id, req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, result)
}

func respond(c *gin.Context, order *model.LabOrder, err error) {
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, order)
}
