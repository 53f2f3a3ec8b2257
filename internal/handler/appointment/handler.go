package appointment

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/handler"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/service/appointment"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type Handler struct {
	service *appointment.Service
}

func NewHandler(service *appointment.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	booking := middleware.RequireRoles(model.RolePatient, model.RoleDoctor, model.RoleAdmin, model.RoleNurse)
	staff := middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin, model.RoleNurse)

	appointments := r.Group("/appointments")
	{
		appointments.GET("/availability", h.Availability)
		appointments.POST("", booking, h.Create)
		appointments.GET("", staff, h.List)
		appointments.GET("/:id", h.Get)
		appointments.PATCH("/:id/reschedule", booking, h.Reschedule)
		appointments.POST("/:id/confirm", staff, h.Confirm)
		appointments.POST("/:id/start", staff, h.Start)
		appointments.POST("/:id/cancel", booking, h.Cancel)
		appointments.POST("/:id/complete", middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin), h.Complete)
		appointments.POST("/:id/no-show", staff, h.NoShow)
	}
}

type availabilityQuery struct {
	PractitionerID string `form:"practitioner_id" binding:"required,uuid"`
	Date           string `form:"date" binding:"required,date"`
	StartTime      string `form:"start_time" binding:"required,hhmm"`
	EndTime        string `form:"end_time" binding:"required,hhmm"`
}

func (h *Handler) Availability(c *gin.Context) {
	var q availabilityQuery
	if err := handler.BindQuery(c, &q); err != nil {
		handler.Fail(c, err)
		return
	}
	availability, err := h.service.CheckAvailability(c.Request.Context(), uuid.MustParse(q.PractitionerID), q.Date, q.StartTime, q.EndTime)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, availability)
}

func (h *Handler) Create(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	var req model.CreateAppointmentRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}

	apt, err := h.service.Create(c.Request.Context(), caller, req)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, apt)
}

type listQuery struct {
	PractitionerID string                  `form:"practitioner_id" binding:"omitempty,uuid"`
	PatientID      string                  `form:"patient_id" binding:"omitempty,uuid"`
	Status         model.AppointmentStatus `form:"status"`
	Date           string                  `form:"date" binding:"omitempty,date"`
	model.Pagination
}

func (h *Handler) List(c *gin.Context) {
	var q listQuery
	if err := handler.BindQuery(c, &q); err != nil {
		handler.Fail(c, err)
		return
	}
	filters := &model.AppointmentFilters{Status: q.Status, Pagination: q.Pagination}
	if q.PractitionerID != "" {
		filters.PractitionerID = uuid.MustParse(q.PractitionerID)
	}
	if q.PatientID != "" {
		filters.PatientID = uuid.MustParse(q.PatientID)
	}
	if q.Date != "" {
		d, err := model.ParseDate(q.Date)
		if err != nil {
			handler.Fail(c, apperrors.NewValidation(err.Error(), err))
			return
		}
		filters.Date = &d
	}

	appointments, err := h.service.List(c.Request.Context(), filters)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, appointments)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	apt, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, apt)
}

func (h *Handler) Reschedule(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.RescheduleAppointmentRequest
	if err := handler.BindJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	apt, err := h.service.Reschedule(c.Request.Context(), caller, id, req)
	respond(c, apt, err)
}

func (h *Handler) Cancel(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var req model.CancelAppointmentRequest
	if err := handler.BindOptionalJSON(c, &req); err != nil {
		handler.Fail(c, err)
		return
	}
	apt, err := h.service.Cancel(c.Request.Context(), caller, id, req.Reason)
	respond(c, apt, err)
}

func (h *Handler) Complete(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	var notes model.CompletionNotes
	if err := handler.BindOptionalJSON(c, &notes); err != nil {
		handler.Fail(c, err)
		return
	}
	apt, err := h.service.Complete(c.Request.Context(), caller, id, notes)
	respond(c, apt, err)
}

func (h *Handler) Confirm(c *gin.Context) {
	if caller, id, ok := handler.Target(c); ok {
		apt, err := h.service.Confirm(c.Request.Context(), caller, id)
		respond(c, apt, err)
	}
}

func (h *Handler) Start(c *gin.Context) {
	if caller, id, ok := handler.Target(c); ok {
		apt, err := h.service.Start(c.Request.Context(), caller, id)
		respond(c, apt, err)
	}
}

func (h *Handler) NoShow(c *gin.Context) {
	if caller, id, ok := handler.Target(c); ok {
		apt, err := h.service.MarkNoShow(c.Request.Context(), caller, id)
		respond(c, apt, err)
	}
}

func respond(c *gin.Context, apt *model.Appointment, err error) {
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, apt)
}
