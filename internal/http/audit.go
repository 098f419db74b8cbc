package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/audit"
	"github.com/koshelf/koshelf/internal/entities"
)

// AuditController exposes the audit trail to administrators.
type AuditController struct {
	audit *audit.Service
}

func NewAuditController(service *audit.Service) *AuditController {
	return &AuditController{audit: service}
}

// List handles GET /api/audit. Supports type and user_id filters plus
// standard pagination.
func (ac *AuditController) List(c *gin.Context) {
	page, size := parsePagination(c)
	offset := (page - 1) * size

	var userID uint
	if raw := c.Query("user_id"); raw != "" {
		id, ok := parseQueryUint(c, "user_id")
		if !ok {
			return
		}
		userID = id
	}

	var (
		events []entities.AuditEvent
		total  int64
		err    error
	)

	if eventType := c.Query("type"); eventType != "" {
		events, total, err = ac.audit.GetEventsByType(entities.AuditEventType(eventType), userID, size, offset)
	} else {
		events, total, err = ac.audit.GetEvents(userID, size, offset)
	}
	if err != nil {
		respondInternalError(c, err, "list audit events")
		return
	}

	c.JSON(http.StatusOK, newPaginatedResponse(events, total, page, size))
}
