package document

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/careflow/careflow-api/internal/handler"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/service/document"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

type Handler struct {
	service *document.Service
}

func NewHandler(service *document.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	staff := middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin, model.RoleNurse, model.RoleLabTechnician)

	r.POST("/documents", staff, h.Upload)
	r.GET("/documents/:id/download", h.Download)
	r.DELETE("/documents/:id", middleware.RequireRoles(model.RoleDoctor, model.RoleAdmin), h.Delete)
	r.GET("/patients/:id/documents", staff, h.ListByPatient)
}

// Upload takes a multipart form: file, patient_id, title and optional
// consultation_id, category, description and repeated tags.
func (h *Handler) Upload(c *gin.Context) {
	caller, err := handler.Caller(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	req, err := uploadRequest(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	file, err := handler.FormFile(c, "file")
	if err != nil {
		handler.Fail(c, err)
		return
	}

	doc, err := h.service.Upload(c.Request.Context(), caller, req, file)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.Created(c, doc)
}

func uploadRequest(c *gin.Context) (model.UploadDocumentRequest, error) {
	req := model.UploadDocumentRequest{
		Title:       strings.TrimSpace(c.PostForm("title")),
		Category:    model.DocumentCategory(c.PostForm("category")),
		Tags:        c.PostFormArray("tags"),
		Description: c.PostForm("description"),
	}
	patientID, err := uuid.Parse(c.PostForm("patient_id"))
	if err != nil {
		return req, apperrors.NewValidation("patient_id must be a UUID", err)
	}
	req.PatientID = patientID
	if raw := c.PostForm("consultation_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return req, apperrors.NewValidation("consultation_id must be a UUID", err)
		}
		req.ConsultationID = &id
	}
	return req, nil
}

func (h *Handler) ListByPatient(c *gin.Context) {
	patientID, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	page, err := handler.Pagination(c)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	docs, err := h.service.ListByPatient(c.Request.Context(), patientID, page)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, docs)
}

func (h *Handler) Download(c *gin.Context) {
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return
	}
	link, err := h.service.DownloadURL(c.Request.Context(), id)
	if err != nil {
		handler.Fail(c, err)
		return
	}
	handler.OK(c, link)
}

func (h *Handler) Delete(c *gin.Context) {
	caller, id, ok := handler.Target(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), caller, id); err != nil {
		handler.Fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
