package entrypoint

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/koshelf/koshelf/internal/audit"
	"github.com/koshelf/koshelf/internal/auth"
	"github.com/koshelf/koshelf/internal/config"
	"github.com/koshelf/koshelf/internal/contentstore"
	"github.com/koshelf/koshelf/internal/database"
	auditdb "github.com/koshelf/koshelf/internal/database/audit"
	"github.com/koshelf/koshelf/internal/database/books"
	"github.com/koshelf/koshelf/internal/database/devices"
	statsdb "github.com/koshelf/koshelf/internal/database/stats"
	"github.com/koshelf/koshelf/internal/database/syncs"
	http_controllers "github.com/koshelf/koshelf/internal/http"
	"github.com/koshelf/koshelf/internal/metadata"
	"github.com/koshelf/koshelf/internal/scheduler"
	"github.com/koshelf/koshelf/internal/stats"
	"github.com/koshelf/koshelf/internal/syncer"
	"github.com/koshelf/koshelf/internal/tasks"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Serve runs the HTTP server until SIGINT/SIGTERM, then drains with the
// configured timeout.
func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting server at %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing\n", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

// Run constructs every component and serves until shutdown.
func Run(cfg *config.Config, version string) {
	log.Printf("Starting Koshelf v%s", version)

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	store, err := contentstore.New(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to initialize content store: %v", err)
	}
	if err := os.MkdirAll(cfg.WebDAV.RootPath, 0o755); err != nil {
		log.Fatalf("Failed to create webdav root: %v", err)
	}

	bookRepo := books.NewRepository(db.DB)
	deviceRepo := devices.NewRepository(db.DB)
	syncRepo := syncs.NewRepository(db.DB)
	statsRepo := statsdb.NewRepository(db.DB)

	reconciler := syncer.NewReconciler(syncRepo, deviceRepo, bookRepo)
	ingestor := stats.NewIngestor(statsRepo, bookRepo)

	auditService := audit.NewService(auditdb.NewRepository(db.DB))
	var payloadAuditor *audit.Auditor
	if cfg.Audit.PayloadDir != "" {
		payloadAuditor = audit.NewAuditor(cfg.Audit.PayloadDir)
	}

	enricher := metadata.NewEnricher(metadata.NewOpenLibraryClient(), bookRepo)

	var taskClient *tasks.Client
	if cfg.Tasks.Enabled {
		taskCfg := tasks.DefaultConfig()
		if cfg.Tasks.Workers > 0 {
			taskCfg.Workers = cfg.Tasks.Workers
		}

		taskClient, err = tasks.NewClient(cfg.Database.Path, taskCfg)
		if err != nil {
			log.Fatalf("Failed to initialize task queue: %v", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				log.Printf("Error closing task client: %v", err)
			}
		}()

		taskClient.Register(
			tasks.NewEnrichBookQueue(enricher),
			tasks.NewEnrichAllBooksQueue(enricher),
			tasks.NewCleanupAuditEventsQueue(auditService),
		)

		taskCtx, taskCancel := context.WithCancel(context.Background())
		defer taskCancel()
		go taskClient.Start(taskCtx)

		// Seed the retention sweep; completed entries age out per queue config.
		if _, err := taskClient.Add(tasks.CleanupAuditEventsTask{RetentionDays: cfg.Audit.RetentionDays}).Save(); err != nil {
			log.Printf("Failed to enqueue audit cleanup: %v", err)
		}
	}

	// Tokens signed with an ephemeral secret die with the process; fine for
	// trying things out, wrong for real deployments.
	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret, err = auth.GenerateSecret()
		if err != nil {
			log.Fatalf("Failed to generate JWT secret: %v", err)
		}
		log.Printf("Generated ephemeral JWT secret (set JWT_SECRET to persist tokens across restarts)")
	}

	tokens := auth.NewTokenIssuer(jwtSecret, cfg.Auth.TokenExpiry)
	authService := auth.NewService(db.DB, tokens, cfg.Auth)

	sqlDB, err := db.DB.DB()
	if err != nil {
		log.Fatalf("Failed to get SQL DB for sessions: %v", err)
	}
	sessionManager, err := auth.NewSessionManager(sqlDB, cfg.Auth)
	if err != nil {
		log.Fatalf("Failed to initialize session manager: %v", err)
	}

	authMiddleware := auth.NewMiddleware(authService, sessionManager)
	rateLimiter := auth.NewRateLimiter(auth.DefaultRateLimitConfig())
	defer rateLimiter.Stop()

	var csrfSecret []byte
	if cfg.Auth.SessionSecret != "" {
		csrfSecret, err = hex.DecodeString(cfg.Auth.SessionSecret)
		if err != nil {
			// Not hex, use as raw bytes
			csrfSecret = []byte(cfg.Auth.SessionSecret)
		}
	} else {
		secret, err := auth.GenerateSecret()
		if err != nil {
			log.Fatalf("Failed to generate CSRF secret: %v", err)
		}
		csrfSecret, _ = hex.DecodeString(secret)
		log.Printf("Generated session secret (set SESSION_SECRET to persist)")
	}

	if hasUsers, _ := authService.HasUsers(); !hasUsers {
		log.Printf("No users found. Run 'create-admin' or let a reader register via /users/create.")
	}

	var sweeper *scheduler.OrphanSweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	if cfg.Maintenance.OrphanSweepEnabled {
		sweeper = scheduler.NewOrphanSweeper(bookRepo, store, cfg.Maintenance.OrphanSweepSchedule)
		if err := sweeper.Start(sweepCtx); err != nil {
			log.Fatalf("Failed to start orphan sweep: %v", err)
		}
	}

	routerCfg := http_controllers.RouterConfig{
		Database:          db,
		Reconciler:        reconciler,
		Ingestor:          ingestor,
		Books:             bookRepo,
		Devices:           deviceRepo,
		Syncs:             syncRepo,
		Stats:             statsRepo,
		ContentStore:      store,
		WebDAVRoot:        cfg.WebDAV.RootPath,
		AuthService:       authService,
		AuthMiddleware:    authMiddleware,
		SessionManager:    sessionManager,
		RateLimiter:       rateLimiter,
		CSRFSecret:        csrfSecret,
		SecureCookies:     cfg.Auth.SecureCookies,
		Audit:             auditService,
		PayloadAuditor:    payloadAuditor,
		TaskClient:        taskClient,
		AllowRegistration: cfg.Auth.AllowRegistration,
		AutoEnrich:        cfg.Enrichment.AutoEnrich,
		MaxUploadBytes:    cfg.Storage.MaxUploadBytes,
		PageSizeLimit:     cfg.Sync.PageSizeLimit,
		Version:           version,
	}

	router := http_controllers.NewRouter(routerCfg)

	Serve(router, cfg, func(ctx context.Context) {
		if sweeper != nil {
			sweeper.Stop()
		}
		if taskClient != nil {
			taskClient.Stop(ctx)
		}
	})
}
