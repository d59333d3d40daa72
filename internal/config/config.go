package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server       ServerConfig
	App          AppConfig
	Cache        CacheConfig
	ERP          ERPConfig
	Storage      StorageConfig
	Sync         SyncConfig
	Security     SecurityConfig
	Revalidation RevalidationConfig
	History      HistoryConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	PublicURL       string        `envconfig:"SERVER_PUBLIC_URL" default:""`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"320s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string   `envconfig:"APP_NAME" default:"tsh-sync"`
	Environment string   `envconfig:"APP_ENV" default:"development"`
	Version     string   `envconfig:"APP_VERSION" default:"1.0.0"`
	LogLevel    string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat   string   `envconfig:"LOG_FORMAT" default:""` // json or console; empty picks by environment
	Locales     []string `envconfig:"APP_LOCALES" default:"en,ar"`
}

// CacheConfig holds key-value store settings.
type CacheConfig struct {
	Type      string `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis
	KeyPrefix string `envconfig:"CACHE_KEY_PREFIX" default:""`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// ERPConfig holds upstream ERP API settings.
type ERPConfig struct {
	BooksBaseURL     string        `envconfig:"ERP_BOOKS_URL" default:"https://www.zohoapis.com/books/v3"`
	InventoryBaseURL string        `envconfig:"ERP_INVENTORY_URL" default:"https://www.zohoapis.com/inventory/v1"`
	OrganizationID   string        `envconfig:"ERP_ORGANIZATION_ID" default:""`
	AccessToken      string        `envconfig:"ERP_ACCESS_TOKEN" default:""`
	AccountsURL      string        `envconfig:"ERP_ACCOUNTS_URL" default:"https://accounts.zoho.com/oauth/v2/token"`
	ClientID         string        `envconfig:"ERP_CLIENT_ID" default:""`
	ClientSecret     string        `envconfig:"ERP_CLIENT_SECRET" default:""`
	RefreshToken     string        `envconfig:"ERP_REFRESH_TOKEN" default:""`
	Timeout          time.Duration `envconfig:"ERP_TIMEOUT" default:"30s"`
	RequestsPerSec   float64       `envconfig:"ERP_RPS" default:"1.5"`
	Burst            int           `envconfig:"ERP_BURST" default:"3"`
	DefaultSource    string        `envconfig:"ERP_DEFAULT_SOURCE" default:"INVENTORY"` // BOOKS or INVENTORY
}

// StorageConfig holds object storage settings for product images.
type StorageConfig struct {
	Type          string `envconfig:"STORAGE_TYPE" default:"memory"` // memory or s3
	Bucket        string `envconfig:"STORAGE_BUCKET" default:"product-images"`
	Region        string `envconfig:"STORAGE_REGION" default:"us-east-1"`
	Endpoint      string `envconfig:"STORAGE_ENDPOINT" default:""`
	AccessKey     string `envconfig:"STORAGE_ACCESS_KEY" default:""`
	SecretKey     string `envconfig:"STORAGE_SECRET_KEY" default:""`
	UseSSL        bool   `envconfig:"STORAGE_USE_SSL" default:"true"`
	UsePathStyle  bool   `envconfig:"STORAGE_PATH_STYLE" default:"false"`
	PublicBaseURL string `envconfig:"STORAGE_PUBLIC_URL" default:""`
}

// SyncConfig holds reconciliation tuning.
type SyncConfig struct {
	BatchSize         int           `envconfig:"SYNC_BATCH_SIZE" default:"100"`
	BatchDelay        time.Duration `envconfig:"SYNC_BATCH_DELAY" default:"1500ms"`
	MaxItems          int           `envconfig:"SYNC_MAX_ITEMS" default:"0"` // 0 means the whole catalog
	MaxDuration       time.Duration `envconfig:"SYNC_MAX_DURATION" default:"280s"`
	Concurrency       int           `envconfig:"SYNC_CONCURRENCY" default:"4"`
	LockTTL           time.Duration `envconfig:"SYNC_LOCK_TTL" default:"10m"`
	ImageLockTTL      time.Duration `envconfig:"SYNC_IMAGE_LOCK_TTL" default:"15m"`
	StaleThreshold    time.Duration `envconfig:"SYNC_STALE_THRESHOLD" default:"15m"`
	SchedulerEnabled  bool          `envconfig:"SYNC_SCHEDULER_ENABLED" default:"false"`
	SchedulerInterval time.Duration `envconfig:"SYNC_SCHEDULER_INTERVAL" default:"15m"`
	DedupeWindow      time.Duration `envconfig:"WEBHOOK_DEDUPE_WINDOW" default:"30s"`
	ReadCacheTTL      time.Duration `envconfig:"STOCK_READ_CACHE_TTL" default:"5m"`
	HistoryRetention  time.Duration `envconfig:"SYNC_HISTORY_RETENTION" default:"720h"`
}

// SecurityConfig holds the shared secrets protecting the sync surface.
type SecurityConfig struct {
	WebhookSecret string `envconfig:"WEBHOOK_SECRET" default:""`
	WebhookHeader string `envconfig:"WEBHOOK_SECRET_HEADER" default:"X-Webhook-Secret"`
	SyncSecret    string `envconfig:"SYNC_SECRET" default:""`
	CronSecret    string `envconfig:"CRON_SECRET" default:""`
}

// RevalidationConfig points at the rendered-page layer's revalidation hook.
type RevalidationConfig struct {
	URL     string        `envconfig:"REVALIDATE_URL" default:""`
	Secret  string        `envconfig:"REVALIDATE_SECRET" default:""`
	Timeout time.Duration `envconfig:"REVALIDATE_TIMEOUT" default:"10s"`
}

// HistoryConfig holds the sync-run history database settings.
type HistoryConfig struct {
	Type string `envconfig:"HISTORY_DB_TYPE" default:"none"` // none, sqlite, postgres, mysql or mongodb
	Path string `envconfig:"HISTORY_DB_PATH" default:"./data/sync_history.db"`
	// PostgreSQL / MySQL settings
	Host     string `envconfig:"HISTORY_DB_HOST" default:"localhost"`
	Port     int    `envconfig:"HISTORY_DB_PORT" default:"5432"`
	Name     string `envconfig:"HISTORY_DB_NAME" default:"tsh"`
	User     string `envconfig:"HISTORY_DB_USER" default:"postgres"`
	Password string `envconfig:"HISTORY_DB_PASS" default:""`
	SSLMode  string `envconfig:"HISTORY_DB_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"tsh"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"sync_runs"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (h *HistoryConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		h.User, h.Password, h.Host, h.Port, h.Name, h.SSLMode)
}

// MySQLDSN returns the MySQL data source name.
func (h *HistoryConfig) MySQLDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		h.User, h.Password, h.Host, h.Port, h.Name)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.Sync.BatchSize <= 0 || c.Sync.BatchSize > 200 {
		return fmt.Errorf("SYNC_BATCH_SIZE must be between 1 and 200, got %d", c.Sync.BatchSize)
	}
	if c.Sync.LockTTL <= 0 {
		return fmt.Errorf("SYNC_LOCK_TTL must be positive")
	}
	switch strings.ToUpper(c.ERP.DefaultSource) {
	case "BOOKS", "INVENTORY":
	default:
		return fmt.Errorf("ERP_DEFAULT_SOURCE must be BOOKS or INVENTORY, got %q", c.ERP.DefaultSource)
	}
	if len(c.App.Locales) == 0 {
		return fmt.Errorf("APP_LOCALES must list at least one locale")
	}
	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
