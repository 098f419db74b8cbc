package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/syncer"
)

// ProgressController is the bearer-token management surface over sync
// records: listing, batch upload and deletion. The kosync controller owns
// the legacy wire contract.
type ProgressController struct {
	reconciler *syncer.Reconciler
}

func NewProgressController(reconciler *syncer.Reconciler) *ProgressController {
	return &ProgressController{reconciler: reconciler}
}

// List handles GET /api/syncs/progress.
func (p *ProgressController) List(c *gin.Context) {
	user := auth.CurrentUser(c)
	page, size := parsePagination(c)

	records, total, err := p.reconciler.ListProgress(user.ID, page, size, c.Query("document"))
	if err != nil {
		respondInternalError(c, err, "list progress")
		return
	}
	c.JSON(http.StatusOK, newPaginatedResponse(records, total, page, size))
}

type batchUploadBody struct {
	Updates []batchUpdateBody `json:"updates" binding:"required"`
}

type batchUpdateBody struct {
	Document   string  `json:"document"`
	Progress   string  `json:"progress"`
	Percentage float64 `json:"percentage"`
	Device     string  `json:"device"`
	DeviceID   string  `json:"device_id"`
	Page       *int    `json:"page"`
	Pos        string  `json:"pos"`
	Chapter    string  `json:"chapter"`
	Timestamp  *int64  `json:"timestamp"`
}

// BatchUpload handles POST /api/syncs/progress/batch. Each entry succeeds or
// fails on its own; the response reports per-entry outcomes.
func (p *ProgressController) BatchUpload(c *gin.Context) {
	user := auth.CurrentUser(c)

	var body batchUploadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondBadRequest(c, "body must carry an 'updates' array")
		return
	}
	if len(body.Updates) == 0 {
		respondBadRequest(c, "updates array is empty")
		return
	}

	updates := make([]syncer.ProgressUpdate, 0, len(body.Updates))
	for _, u := range body.Updates {
		updates = append(updates, syncer.ProgressUpdate{
			Document:   u.Document,
			Progress:   u.Progress,
			Percentage: u.Percentage,
			Device:     u.Device,
			DeviceID:   u.DeviceID,
			Page:       u.Page,
			Pos:        u.Pos,
			Chapter:    u.Chapter,
			Timestamp:  u.Timestamp,
		})
	}

	results := p.reconciler.BatchUpload(user.ID, updates)

	accepted := 0
	for _, r := range results {
		if r.OK {
			accepted++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"results":  results,
		"accepted": accepted,
		"rejected": len(results) - accepted,
	})
}

// Delete handles DELETE /api/syncs/progress/:id.
func (p *ProgressController) Delete(c *gin.Context) {
	user := auth.CurrentUser(c)
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	err := p.reconciler.DeleteProgress(user.ID, id)
	if errors.Is(err, syncer.ErrNotFound) {
		respondNotFound(c, "sync record")
		return
	}
	if err != nil {
		respondInternalError(c, err, "delete progress")
		return
	}
	respondSuccess(c, "sync record deleted")
}
