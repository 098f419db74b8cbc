package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/syncer"
)

// KosyncController implements the wire contract of the KOReader sync plugin.
// Bodies arrive form-encoded from old plugin builds and as JSON from newer
// ones, so every bind struct carries both tags.
type KosyncController struct {
	auth              *auth.Service
	reconciler        *syncer.Reconciler
	limiter           *auth.RateLimiter
	allowRegistration bool
}

func NewKosyncController(authService *auth.Service, reconciler *syncer.Reconciler, limiter *auth.RateLimiter, allowRegistration bool) *KosyncController {
	return &KosyncController{
		auth:              authService,
		reconciler:        reconciler,
		limiter:           limiter,
		allowRegistration: allowRegistration,
	}
}

type kosyncCredentials struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// CreateUser handles POST /users/create. The plugin sends the password
// already hashed, which is why the stored credential stays in the legacy
// scheme.
func (k *KosyncController) CreateUser(c *gin.Context) {
	if !k.allowRegistration {
		respondError(c, http.StatusForbidden, "registration is disabled")
		return
	}

	var creds kosyncCredentials
	if err := c.ShouldBind(&creds); err != nil {
		respondBadRequest(c, "username and password are required")
		return
	}

	user, err := k.auth.RegisterKosync(creds.Username, creds.Password)
	switch {
	case errors.Is(err, auth.ErrUserExists):
		respondError(c, http.StatusConflict, "username is already registered")
	case errors.Is(err, auth.ErrUsernameRequired), errors.Is(err, auth.ErrUsernameInvalid):
		respondBadRequest(c, err.Error())
	case err != nil:
		respondInternalError(c, err, "kosync create user")
	default:
		c.JSON(http.StatusCreated, gin.H{"username": user.Username})
	}
}

// AuthorizeUser handles POST /users/auth. The response body shape is fixed:
// the plugin string-compares authorized == "OK".
func (k *KosyncController) AuthorizeUser(c *gin.Context) {
	var creds kosyncCredentials
	if err := c.ShouldBind(&creds); err != nil {
		respondBadRequest(c, "username and password are required")
		return
	}

	user, err := k.auth.Authenticate(creds.Username, creds.Password)
	if err != nil {
		if k.limiter != nil {
			k.limiter.RecordFailure(c.ClientIP(), creds.Username)
		}
		respondError(c, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if k.limiter != nil {
		k.limiter.RecordSuccess(c.ClientIP(), creds.Username)
	}

	c.JSON(http.StatusOK, gin.H{"authorized": "OK", "username": user.Username})
}

type kosyncProgress struct {
	Document   string `form:"document" json:"document"`
	Progress   string `form:"progress" json:"progress"`
	Percentage string `form:"percentage" json:"percentage"`
	Device     string `form:"device" json:"device"`
	DeviceID   string `form:"device_id" json:"device_id"`
	Page       string `form:"page" json:"page"`
	Pos        string `form:"pos" json:"pos"`
	Chapter    string `form:"chapter" json:"chapter"`
	Timestamp  string `form:"timestamp" json:"timestamp"`
}

// UploadProgress handles PUT /syncs/progress.
func (k *KosyncController) UploadProgress(c *gin.Context) {
	var body kosyncProgress
	if err := c.ShouldBind(&body); err != nil {
		respondBadRequest(c, "malformed progress body")
		return
	}
	k.applyProgress(c, &body)
}

// SyncProgress handles POST /syncs/progress. Old plugin builds use POST for
// both directions: a body carrying progress is an upload, a bare document
// reference is a fetch.
func (k *KosyncController) SyncProgress(c *gin.Context) {
	var body kosyncProgress
	if err := c.ShouldBind(&body); err != nil {
		respondBadRequest(c, "malformed progress body")
		return
	}

	if body.Progress == "" && body.Percentage == "" {
		k.respondProgress(c, body.Document)
		return
	}
	k.applyProgress(c, &body)
}

// GetProgress handles GET /syncs/progress/:document.
func (k *KosyncController) GetProgress(c *gin.Context) {
	k.respondProgress(c, c.Param("document"))
}

func (k *KosyncController) applyProgress(c *gin.Context, body *kosyncProgress) {
	user := auth.CurrentUser(c)

	update := syncer.ProgressUpdate{
		Document: body.Document,
		Progress: body.Progress,
		Device:   body.Device,
		DeviceID: body.DeviceID,
		Pos:      body.Pos,
		Chapter:  body.Chapter,
	}

	if body.Percentage != "" {
		pct, err := strconv.ParseFloat(strings.TrimSpace(body.Percentage), 64)
		if err != nil {
			respondBadRequest(c, "percentage must be a number")
			return
		}
		update.Percentage = pct
	}
	if body.Page != "" {
		if page, err := strconv.Atoi(strings.TrimSpace(body.Page)); err == nil {
			update.Page = &page
		}
	}
	if body.Timestamp != "" {
		if ts, err := strconv.ParseInt(strings.TrimSpace(body.Timestamp), 10, 64); err == nil {
			update.Timestamp = &ts
		}
	}

	record, err := k.reconciler.UploadProgress(user.ID, update)
	switch {
	case errors.Is(err, syncer.ErrEmptyDocument),
		errors.Is(err, syncer.ErrEmptyProgress),
		errors.Is(err, syncer.ErrInvalidPercentage):
		respondBadRequest(c, err.Error())
	case err != nil:
		respondInternalError(c, err, "kosync upload progress")
	default:
		c.JSON(http.StatusOK, gin.H{
			"document":  record.Document,
			"timestamp": record.LastSyncAt.Unix(),
		})
	}
}

func (k *KosyncController) respondProgress(c *gin.Context, document string) {
	user := auth.CurrentUser(c)

	record, err := k.reconciler.GetProgress(user.ID, document)
	switch {
	case errors.Is(err, syncer.ErrEmptyDocument):
		respondBadRequest(c, err.Error())
	case errors.Is(err, syncer.ErrNotFound):
		// The plugin treats a body with just the document name as "no
		// position stored yet", distinct from an error body.
		c.JSON(http.StatusNotFound, gin.H{"document": document})
	case err != nil:
		respondInternalError(c, err, "kosync get progress")
	default:
		c.JSON(http.StatusOK, record.Kosync())
	}
}
