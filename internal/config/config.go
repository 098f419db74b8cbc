package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default paths used when the environment does not override them.
const (
	DefaultDatabasePath = "./koshelf.db"
	DefaultStoragePath  = "./storage"
	DefaultWebDAVPath   = "./webdav"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Storage
		WebDAV
		Auth
		Sync
		Maintenance
		Tasks
		Enrichment
		Audit
	}

	HTTP struct {
		Port int32
		Host string
	}

	Global struct {
		ShutdownTimeoutInSeconds int
	}

	Database struct {
		Path string
	}

	Storage struct {
		// Path is the root of the content-addressed blob store.
		Path string
		// MaxUploadBytes caps book upload size.
		MaxUploadBytes int64
	}

	WebDAV struct {
		// RootPath is where raw client-uploaded files (statistics snapshots)
		// are kept alongside their ingested form.
		RootPath string
	}

	Auth struct {
		// JWTSecret signs bearer tokens for the modern API. Generated at
		// startup when empty, which invalidates tokens across restarts.
		JWTSecret     string
		TokenExpiry   time.Duration
		BcryptCost    int
		SessionSecret string
		// SessionLifetime bounds admin browser sessions.
		SessionLifetime time.Duration
		SecureCookies   bool
		// AllowRegistration controls the open kosync /users/create endpoint.
		AllowRegistration bool
	}

	Sync struct {
		// PageSizeLimit caps the size parameter on paginated listings.
		PageSizeLimit int
	}

	Maintenance struct {
		// OrphanSweepEnabled controls the scheduled removal of content-store
		// blobs no book references.
		OrphanSweepEnabled  bool
		OrphanSweepSchedule string // cron format
	}

	Tasks struct {
		// Enabled controls the background task queue. When off, enrichment
		// endpoints return 501 and uploads skip auto-enrichment.
		Enabled bool
		Workers int
	}

	Enrichment struct {
		// AutoEnrich enqueues a metadata enrichment task after each upload
		// whose extracted metadata is incomplete.
		AutoEnrich bool
	}

	Audit struct {
		// RetentionDays is how long audit events are kept before the cleanup
		// task removes them.
		RetentionDays int
		// PayloadDir is where rejected statistics payloads are archived.
		// Empty disables archiving.
		PayloadDir string
	}
)

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8080)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 5)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("storage_path", DefaultStoragePath)
	v.SetDefault("max_upload_bytes", int64(500*1024*1024))
	v.SetDefault("webdav_root_path", DefaultWebDAVPath)

	// Auth defaults
	v.SetDefault("jwt_secret", "") // Auto-generated if empty
	v.SetDefault("token_expiry", "720h")
	v.SetDefault("bcrypt_cost", 12)
	v.SetDefault("session_secret", "")
	v.SetDefault("session_lifetime", "24h")
	v.SetDefault("secure_cookies", true)
	v.SetDefault("allow_registration", true)

	v.SetDefault("sync_page_size_limit", 100)

	v.SetDefault("orphan_sweep_enabled", true)
	v.SetDefault("orphan_sweep_schedule", "30 3 * * *") // Daily at 03:30

	v.SetDefault("tasks_enabled", true)
	v.SetDefault("tasks_workers", 2)
	v.SetDefault("auto_enrich", false)
	v.SetDefault("audit_retention_days", 90)
	v.SetDefault("audit_payload_dir", "")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Storage: Storage{
			Path:           v.GetString("STORAGE_PATH"),
			MaxUploadBytes: v.GetInt64("MAX_UPLOAD_BYTES"),
		},
		WebDAV: WebDAV{
			RootPath: v.GetString("WEBDAV_ROOT_PATH"),
		},
		Auth: Auth{
			JWTSecret:         v.GetString("JWT_SECRET"),
			TokenExpiry:       v.GetDuration("TOKEN_EXPIRY"),
			BcryptCost:        v.GetInt("BCRYPT_COST"),
			SessionSecret:     v.GetString("SESSION_SECRET"),
			SessionLifetime:   v.GetDuration("SESSION_LIFETIME"),
			SecureCookies:     v.GetBool("SECURE_COOKIES"),
			AllowRegistration: v.GetBool("ALLOW_REGISTRATION"),
		},
		Sync: Sync{
			PageSizeLimit: v.GetInt("SYNC_PAGE_SIZE_LIMIT"),
		},
		Maintenance: Maintenance{
			OrphanSweepEnabled:  v.GetBool("ORPHAN_SWEEP_ENABLED"),
			OrphanSweepSchedule: v.GetString("ORPHAN_SWEEP_SCHEDULE"),
		},
		Tasks: Tasks{
			Enabled: v.GetBool("TASKS_ENABLED"),
			Workers: v.GetInt("TASKS_WORKERS"),
		},
		Enrichment: Enrichment{
			AutoEnrich: v.GetBool("AUTO_ENRICH"),
		},
		Audit: Audit{
			RetentionDays: v.GetInt("AUDIT_RETENTION_DAYS"),
			PayloadDir:    v.GetString("AUDIT_PAYLOAD_DIR"),
		},
	}
}
