package http

import (
	"github.com/koshelf/koshelf/internal/audit"
	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/contentstore"
	"github.com/koshelf/koshelf/internal/database"
	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/database/devices"
	statsdb "github.com/koshelf/koshelf/internal/database/stats"
	"github.com/koshelf/koshelf/internal/database/syncs"
	"github.com/koshelf/koshelf/internal/stats"
	"github.com/koshelf/koshelf/internal/syncer"
	"github.com/koshelf/koshelf/internal/tasks"
)

// RouterConfig carries every dependency the router wires into controllers.
type RouterConfig struct {
	// Core dependencies
	Database   *database.Database
	Reconciler *syncer.Reconciler
	Ingestor   *stats.Ingestor

	// Repositories
	Books   *books.Repository
	Devices *devices.Repository
	Syncs   *syncs.Repository
	Stats   *statsdb.Repository

	// Storage
	ContentStore *contentstore.Store
	WebDAVRoot   string

	// Authentication
	AuthService    *auth.Service
	AuthMiddleware *auth.Middleware
	SessionManager *auth.SessionManager
	RateLimiter    *auth.RateLimiter
	CSRFSecret     []byte
	SecureCookies  bool

	// Audit trail. Audit is nil-safe in controllers; PayloadAuditor archives
	// rejected statistics payloads when configured.
	Audit          *audit.Service
	PayloadAuditor *audit.Auditor

	// Background work. TaskClient is nil when the queue is disabled.
	TaskClient *tasks.Client

	// Behavior knobs
	AllowRegistration bool
	AutoEnrich        bool
	MaxUploadBytes    int64
	PageSizeLimit     int

	// Application info
	Version string
}
