package http

import (
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/audit"
	"github.com/koshelf/koshelf/internal/auth"
	statsdb "github.com/koshelf/koshelf/internal/database/stats"
	"github.com/koshelf/koshelf/internal/stats"
)

// StatsController exposes the reading-statistics views and a direct ingest
// endpoint for clients that do not speak WebDAV.
type StatsController struct {
	ingestor *stats.Ingestor
	repo     *statsdb.Repository
	audit    *audit.Service
	payloads *audit.Auditor
}

func NewStatsController(ingestor *stats.Ingestor, repo *statsdb.Repository, auditService *audit.Service, payloads *audit.Auditor) *StatsController {
	return &StatsController{ingestor: ingestor, repo: repo, audit: auditService, payloads: payloads}
}

// List handles GET /api/stats/reading.
func (s *StatsController) List(c *gin.Context) {
	user := auth.CurrentUser(c)
	page, size := parsePagination(c)

	list, total, err := s.repo.List(user.ID, statsdb.ListOptions{
		Page:       page,
		Size:       size,
		DeviceName: c.Query("device"),
		BookTitle:  c.Query("title"),
	})
	if err != nil {
		respondInternalError(c, err, "list reading stats")
		return
	}
	c.JSON(http.StatusOK, newPaginatedResponse(list, total, page, size))
}

// Overview handles GET /api/stats/overview.
func (s *StatsController) Overview(c *gin.Context) {
	user := auth.CurrentUser(c)

	overview, err := s.ingestor.BuildOverview(user.ID)
	if err != nil {
		respondInternalError(c, err, "build stats overview")
		return
	}
	c.JSON(http.StatusOK, overview)
}

// Ingest handles POST /api/stats/reading. The body is one raw KOReader
// statistics document; the device is named by query parameter.
func (s *StatsController) Ingest(c *gin.Context) {
	user := auth.CurrentUser(c)

	device := c.Query("device")
	if device == "" {
		device = "unknown"
	}

	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondBadRequest(c, "unreadable body")
		return
	}

	res, err := s.ingestor.Ingest(user.ID, device, payload)
	if err != nil && s.audit != nil {
		s.audit.LogIngest(user.ID, device, "Statistics ingest rejected", err)
	}
	switch {
	case errors.Is(err, stats.ErrMalformedPayload), errors.Is(err, stats.ErrMissingTitle):
		// Keep the rejected payload around for inspection when archiving is on
		if s.payloads != nil {
			if _, saveErr := s.payloads.SavePayload(payload); saveErr != nil {
				log.Printf("archive rejected payload: %v", saveErr)
			}
		}
		respondBadRequest(c, err.Error())
	case err != nil:
		respondInternalError(c, err, "ingest stats")
	default:
		status := http.StatusOK
		if res.Created {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"stat": res.Stat, "warnings": res.Warnings})
	}
}
