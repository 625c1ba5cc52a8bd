package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "COURSEPACK"

	defaultHTTPAddress               = "0.0.0.0:8080"
	defaultLogLevel                  = "info"
	defaultDatabaseDriver            = DatabaseDriverSQLite
	defaultDatabaseDSN               = "coursepack.db"
	defaultTokenTTLMinutes           = 30
	defaultUploadDir                 = "data/uploads"
	defaultPreviewDir                = "data/preview"
	defaultMaxUploadBytes            = 512 << 20
	defaultMaxEntryBytes             = 100 << 20
	defaultLocalQuizMinExportVersion = 2017011400
	defaultMediaURLMaxLength         = 250
	defaultJanitorSchedule           = "@every 1h"
	defaultJanitorMaxAgeMinutes      = 360
	defaultStorageDriver             = StorageDriverLocal
	defaultLockDriver                = LockDriverLocal
	defaultLockTTLSeconds            = 600
	defaultNatsSubject               = "coursepack.gamification"
)

const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
	StorageDriverLocal     = "local"
	StorageDriverGCS       = "gcs"
	LockDriverLocal        = "local"
	LockDriverRedis        = "redis"
)

// AppConfig captures runtime configuration for the server and the CLI.
type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	DatabaseDriver string
	DatabaseDSN    string

	SigningSecret string
	TokenIssuer   string
	TokenTTL      time.Duration

	TempDir                   string
	UploadDir                 string
	PreviewDir                string
	MaxUploadBytes            int64
	MaxEntryBytes             int64
	LocalQuizMinExportVersion int64
	MediaURLMaxLength         int
	JanitorSchedule           string
	JanitorMaxAge             time.Duration

	StorageDriver string
	GCSBucket     string
	GCSPrefix     string

	LockDriver   string
	LockRedisURL string
	// LockTTL is how long a crashed holder blocks imports; live holders keep renewing it.
	LockTTL      time.Duration

	NatsURL     string
	NatsSubject string

	TracingEnabled bool
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("auth.issuer", "coursepack")
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("import.temp_dir", filepath.Join(os.TempDir(), "coursepack"))
	configViper.SetDefault("import.upload_dir", defaultUploadDir)
	configViper.SetDefault("import.preview_dir", defaultPreviewDir)
	configViper.SetDefault("import.max_upload_bytes", defaultMaxUploadBytes)
	configViper.SetDefault("import.max_entry_bytes", defaultMaxEntryBytes)
	configViper.SetDefault("import.local_quiz_min_export_version", defaultLocalQuizMinExportVersion)
	configViper.SetDefault("import.media_url_max_length", defaultMediaURLMaxLength)
	configViper.SetDefault("import.janitor_schedule", defaultJanitorSchedule)
	configViper.SetDefault("import.janitor_max_age_minutes", defaultJanitorMaxAgeMinutes)
	configViper.SetDefault("storage.driver", defaultStorageDriver)
	configViper.SetDefault("lock.driver", defaultLockDriver)
	configViper.SetDefault("lock.ttl_seconds", defaultLockTTLSeconds)
	configViper.SetDefault("gamification.nats_subject", defaultNatsSubject)
	configViper.SetDefault("tracing.enabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:               configViper.GetString("http.address"),
		LogLevel:                  configViper.GetString("log.level"),
		DatabaseDriver:            strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:               configViper.GetString("database.dsn"),
		SigningSecret:             configViper.GetString("auth.signing_secret"),
		TokenIssuer:               configViper.GetString("auth.issuer"),
		TokenTTL:                  time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		TempDir:                   configViper.GetString("import.temp_dir"),
		UploadDir:                 configViper.GetString("import.upload_dir"),
		PreviewDir:                configViper.GetString("import.preview_dir"),
		MaxUploadBytes:            configViper.GetInt64("import.max_upload_bytes"),
		MaxEntryBytes:             configViper.GetInt64("import.max_entry_bytes"),
		LocalQuizMinExportVersion: configViper.GetInt64("import.local_quiz_min_export_version"),
		MediaURLMaxLength:         configViper.GetInt("import.media_url_max_length"),
		JanitorSchedule:           configViper.GetString("import.janitor_schedule"),
		JanitorMaxAge:             time.Duration(configViper.GetInt("import.janitor_max_age_minutes")) * time.Minute,
		StorageDriver:             strings.ToLower(strings.TrimSpace(configViper.GetString("storage.driver"))),
		GCSBucket:                 configViper.GetString("storage.gcs_bucket"),
		GCSPrefix:                 configViper.GetString("storage.gcs_prefix"),
		LockDriver:                strings.ToLower(strings.TrimSpace(configViper.GetString("lock.driver"))),
		LockRedisURL:              configViper.GetString("lock.redis_url"),
		LockTTL:                   time.Duration(configViper.GetInt("lock.ttl_seconds")) * time.Second,
		NatsURL:                   configViper.GetString("gamification.nats_url"),
		NatsSubject:               configViper.GetString("gamification.nats_subject"),
		TracingEnabled:            configViper.GetBool("tracing.enabled"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireSigningSecret reports an error when no token signing secret is configured. The serve and
// token commands need one; one-shot imports do not.
func (c AppConfig) RequireSigningSecret() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite, DatabaseDriverPostgres:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DatabaseDriverSQLite, DatabaseDriverPostgres, c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	if strings.TrimSpace(c.TempDir) == "" {
		return fmt.Errorf("import.temp_dir is required")
	}
	if c.MaxUploadBytes <= 0 || c.MaxEntryBytes <= 0 {
		return fmt.Errorf("import.max_upload_bytes and import.max_entry_bytes must be positive")
	}
	if c.MediaURLMaxLength <= 0 {
		return fmt.Errorf("import.media_url_max_length must be positive")
	}
	if c.JanitorMaxAge <= 0 {
		return fmt.Errorf("import.janitor_max_age_minutes must be positive")
	}
	switch c.StorageDriver {
	case StorageDriverLocal:
		if strings.TrimSpace(c.UploadDir) == "" {
			return fmt.Errorf("import.upload_dir is required for local storage")
		}
	case StorageDriverGCS:
		if strings.TrimSpace(c.GCSBucket) == "" {
			return fmt.Errorf("storage.gcs_bucket is required for gcs storage")
		}
	default:
		return fmt.Errorf("storage.driver must be %q or %q, got %q", StorageDriverLocal, StorageDriverGCS, c.StorageDriver)
	}
	switch c.LockDriver {
	case LockDriverLocal:
	case LockDriverRedis:
		if strings.TrimSpace(c.LockRedisURL) == "" {
			return fmt.Errorf("lock.redis_url is required for redis locking")
		}
	default:
		return fmt.Errorf("lock.driver must be %q or %q, got %q", LockDriverLocal, LockDriverRedis, c.LockDriver)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be positive")
	}
	return nil
}
