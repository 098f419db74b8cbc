package http

import (
	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/auth"
)

// NewRouter creates and configures the HTTP router with all endpoints.
// Uses RouterConfig to receive all dependencies, improving testability
// and reducing parameter count.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	router.Use(auth.SecurityHeadersMiddleware())

	// CSRF must run before session so that session context is preserved
	if len(cfg.CSRFSecret) > 0 {
		router.Use(auth.CSRFMiddleware(cfg.CSRFSecret, cfg.SecureCookies, cfg.AuthService))
	}
	if cfg.SessionManager != nil {
		router.Use(cfg.SessionManager.SessionLoadSave())
	}
	if cfg.AuthMiddleware != nil {
		router.Use(cfg.AuthMiddleware.Identify())
	}

	kosync := NewKosyncController(cfg.AuthService, cfg.Reconciler, cfg.RateLimiter, cfg.AllowRegistration)
	users := NewUsersController(cfg.AuthService, cfg.SessionManager, cfg.RateLimiter, cfg.Audit)
	progress := NewProgressController(cfg.Reconciler)
	booksController := NewBooksController(cfg)
	devicesController := NewDevicesController(cfg.Devices, cfg.Syncs)
	statsController := NewStatsController(cfg.Ingestor, cfg.Stats, cfg.Audit, cfg.PayloadAuditor)
	webdav := NewWebDAVController(cfg.WebDAVRoot, cfg.AuthService, cfg.Ingestor)
	opds := NewOPDSController(cfg.Books, cfg.PageSizeLimit)
	health := NewHealthController(cfg.Database, cfg.Version)
	tasksController := NewTasksController(cfg.TaskClient)
	auditController := NewAuditController(cfg.Audit)

	// Health endpoints
	router.GET("/healthz", health.Status)
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})

	// kosync wire contract. /users/auth doubles as the connection check the
	// plugin runs on every sync, so it carries the login rate limiter.
	if cfg.RateLimiter != nil {
		limited := cfg.RateLimiter.RateLimitMiddleware()
		router.POST("/users/create", limited, kosync.CreateUser)
		router.POST("/users/auth", limited, kosync.AuthorizeUser)
	} else {
		router.POST("/users/create", kosync.CreateUser)
		router.POST("/users/auth", kosync.AuthorizeUser)
	}

	syncRoutes := router.Group("/syncs", auth.RequireUser())
	syncRoutes.PUT("/progress", kosync.UploadProgress)
	syncRoutes.POST("/progress", kosync.SyncProgress)
	syncRoutes.GET("/progress/:document", kosync.GetProgress)

	// Modern API
	router.POST("/api/auth/login", users.Login)

	api := router.Group("/api", auth.RequireUser())
	api.GET("/auth/me", users.Me)

	api.GET("/syncs/progress", progress.List)
	api.POST("/syncs/progress/batch", progress.BatchUpload)
	api.DELETE("/syncs/progress/:id", progress.Delete)
	api.GET("/syncs/devices/status", devicesController.SyncStatus)

	api.POST("/books", booksController.Upload)
	api.GET("/books", booksController.List)
	api.GET("/books/:id", booksController.Get)
	api.GET("/books/:id/download", booksController.Download)
	api.GET("/books/:id/cover", booksController.Cover)
	api.PATCH("/books/:id", booksController.Patch)
	api.DELETE("/books/:id", booksController.Delete)

	api.GET("/devices", devicesController.List)
	api.POST("/devices", devicesController.Register)
	api.DELETE("/devices/:id", devicesController.Delete)

	api.GET("/stats/reading", statsController.List)
	api.POST("/stats/reading", statsController.Ingest)
	api.GET("/stats/overview", statsController.Overview)

	// Admin-only surface: user management, the task queue and the audit trail
	admin := router.Group("/api", auth.RequireAdmin())
	admin.GET("/users", users.List)
	admin.POST("/users", users.Create)
	admin.GET("/tasks/types", tasksController.ListTaskTypes)
	admin.GET("/tasks/:id", tasksController.GetTaskStatus)
	admin.POST("/tasks/:type/run", tasksController.RunTask)
	if cfg.Audit != nil {
		admin.GET("/audit", auditController.List)
	}

	// Session path for the browser surface
	router.POST("/login", users.SessionLogin)
	router.POST("/logout", users.SessionLogout)

	// OPDS feeds; reader apps send Basic or no credentials, the catalog
	// itself is not user-scoped.
	router.GET("/opds", opds.Root)
	router.GET("/opds/books", opds.Books)

	// WebDAV subtree for the statistics plugin. Mixed verbs route through
	// Any because gin has no PROPFIND/MKCOL helpers.
	router.Any("/webdav/*path", webdav.Handle)

	return router
}
