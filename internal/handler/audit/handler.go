package audit

import (
	"encoding/csv"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/careflow/careflow-api/internal/handler"
	"github.com/careflow/careflow-api/internal/middleware"
	"github.com/careflow/careflow-api/internal/model"
	"github.com/careflow/careflow-api/internal/service/audit"
	apperrors "github.com/careflow/careflow-api/pkg/errors"
)

var entityTypes = map[string]bool{
	model.AuditEntityAppointment:  true,
	model.AuditEntityPrescription: true,
	model.AuditEntityLabOrder:     true,
	model.AuditEntityLabResult:    true,
	model.AuditEntityDocument:     true,
}

type Handler struct {
	service *audit.Service
}

func NewHandler(service *audit.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	logs := r.Group("/audit", middleware.RequireRoles(model.RoleAdmin))
	{
		logs.GET("/:type/:id", h.History)
		logs.GET("/:type/:id/export", h.Export)
	}
}

func (h *Handler) history(c *gin.Context) ([]*model.AuditLog, string, bool) {
	entityType := c.Param("type")
	if !entityTypes[entityType] {
		handler.Fail(c, apperrors.NewBadRequest("unknown entity type "+entityType, nil))
		return nil, "", false
	}
	id, err := handler.ParseID(c, "id")
	if err != nil {
		handler.Fail(c, err)
		return nil, "", false
	}
	logs, err := h.service.History(c.Request.Context(), entityType, id)
	if err != nil {
		handler.Fail(c, err)
		return nil, "", false
	}
	return logs, fmt.Sprintf("%s_%s", entityType, id), true
}

func (h *Handler) History(c *gin.Context) {
	if logs, _, ok := h.history(c); ok {
		handler.OK(c, logs)
	}
}

// Export writes the history of one entity as CSV.
func (h *Handler) Export(c *gin.Context) {
	logs, name, ok := h.history(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=audit_%s.csv", name))
	writer := csv.NewWriter(c.Writer)
	_ = writer.Write([]string{"ID", "User ID", "Action", "Entity Type", "Entity ID", "Changes", "Created At"})
	for _, log := range logs {
		_ = writer.Write([]string{
			log.ID.String(),
			log.UserID.String(),
			log.Action,
			log.EntityType,
			log.EntityID.String(),
			string(log.Changes),
			log.CreatedAt.Format(time.RFC3339),
		})
	}
	writer.Flush()
}
