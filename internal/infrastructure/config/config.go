package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Archive   ArchiveConfig
	Engine    EngineConfig
	Scheduler SchedulerConfig
	Vendors   VendorsConfig
	Log       LogConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ArchiveConfig holds object storage settings for normalized invoice PDFs.
// Compatible with any S3 API (AWS S3, MinIO, RustFS).
type ArchiveConfig struct {
	Enabled   bool
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// EngineConfig holds vendor engine tuning knobs
type EngineConfig struct {
	// RequestTimeout bounds every vendor network call
	RequestTimeout time.Duration
	// HistoryFanout bounds parallel per-order detail fetches (2-50)
	HistoryFanout int
	// SearchFanout bounds parallel per-product field backfills (2-50)
	SearchFanout int
	// BlockingWorkers sizes the dedicated pool for browser-automation adapters
	BlockingWorkers int
	// RelinkThreshold is how many consecutive auth failures flag a credential
	RelinkThreshold int
	// PriceStaleness maps vendor slug to the window after which a cached
	// price must be refreshed before being trusted
	PriceStaleness map[string]time.Duration
	// DefaultPriceStaleness applies to vendors without an explicit window
	DefaultPriceStaleness time.Duration
	// InvoiceRenderTimeout bounds HTML to PDF conversion
	InvoiceRenderTimeout time.Duration
	// SearchPageBound is the hard safety limit on driven search pages
	SearchPageBound int
}

// VendorsConfig holds per-vendor adapter settings
type VendorsConfig struct {
	// DentalDirectBaseURL is the storefront root for the dental_direct
	// adapter
	DentalDirectBaseURL string
}

// SchedulerConfig holds history fetch job runner configuration
type SchedulerConfig struct {
	Enabled       bool
	FetchWindow   time.Duration // how far back a scheduled fetch reaches
	JobTimeout    time.Duration
	RetryAttempts int // applies only to transient network failures
	RetryDelay    time.Duration
	LockTTL       time.Duration // redis run-lock expiry
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ORDO_ prefix (e.g., ORDO_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ORDO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Archive: ArchiveConfig{
			Enabled:   v.GetBool("archive.enabled"),
			Endpoint:  v.GetString("archive.endpoint"),
			Region:    v.GetString("archive.region"),
			Bucket:    v.GetString("archive.bucket"),
			AccessKey: v.GetString("archive.access_key"),
			SecretKey: v.GetString("archive.secret_key"),
			UseSSL:    v.GetBool("archive.use_ssl"),
		},
		Engine: EngineConfig{
			RequestTimeout:        v.GetDuration("engine.request_timeout"),
			HistoryFanout:         v.GetInt("engine.history_fanout"),
			SearchFanout:          v.GetInt("engine.search_fanout"),
			BlockingWorkers:       v.GetInt("engine.blocking_workers"),
			RelinkThreshold:       v.GetInt("engine.relink_threshold"),
			DefaultPriceStaleness: v.GetDuration("engine.default_price_staleness"),
			InvoiceRenderTimeout:  v.GetDuration("engine.invoice_render_timeout"),
			SearchPageBound:       v.GetInt("engine.search_page_bound"),
		},
		Scheduler: SchedulerConfig{
			Enabled:       v.GetBool("scheduler.enabled"),
			FetchWindow:   v.GetDuration("scheduler.fetch_window"),
			JobTimeout:    v.GetDuration("scheduler.job_timeout"),
			RetryAttempts: v.GetInt("scheduler.retry_attempts"),
			RetryDelay:    v.GetDuration("scheduler.retry_delay"),
			LockTTL:       v.GetDuration("scheduler.lock_ttl"),
		},
		Vendors: VendorsConfig{
			DentalDirectBaseURL: v.GetString("vendors.dental_direct.base_url"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}

	// Per-vendor staleness windows arrive as a string map of durations
	cfg.Engine.PriceStaleness = make(map[string]time.Duration)
	for slug, raw := range v.GetStringMapString("engine.price_staleness") {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("engine.price_staleness.%s: invalid duration %q: %w", slug, raw, err)
		}
		cfg.Engine.PriceStaleness[slug] = d
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "vendor-engine"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "ordo"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Archive.Region == "" {
		cfg.Archive.Region = "us-east-1"
	}
	if cfg.Engine.RequestTimeout == 0 {
		cfg.Engine.RequestTimeout = 30 * time.Second
	}
	if cfg.Engine.HistoryFanout == 0 {
		cfg.Engine.HistoryFanout = 8
	}
	if cfg.Engine.SearchFanout == 0 {
		cfg.Engine.SearchFanout = 4
	}
	if cfg.Engine.BlockingWorkers == 0 {
		cfg.Engine.BlockingWorkers = 2
	}
	if cfg.Engine.RelinkThreshold == 0 {
		cfg.Engine.RelinkThreshold = 3
	}
	if cfg.Engine.DefaultPriceStaleness == 0 {
		cfg.Engine.DefaultPriceStaleness = 24 * time.Hour
	}
	if cfg.Engine.InvoiceRenderTimeout == 0 {
		cfg.Engine.InvoiceRenderTimeout = 30 * time.Second
	}
	if cfg.Engine.SearchPageBound == 0 {
		cfg.Engine.SearchPageBound = 200
	}
	if cfg.Vendors.DentalDirectBaseURL == "" {
		cfg.Vendors.DentalDirectBaseURL = "https://shop.dentaldirect.example"
	}
	if cfg.Scheduler.FetchWindow == 0 {
		cfg.Scheduler.FetchWindow = 14 * 24 * time.Hour
	}
	if cfg.Scheduler.JobTimeout == 0 {
		cfg.Scheduler.JobTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = 30 * time.Second
	}
	if cfg.Scheduler.LockTTL == 0 {
		cfg.Scheduler.LockTTL = 45 * time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Fan-out bounds per the vendor rate-limiting policy
	if c.Engine.HistoryFanout < 2 || c.Engine.HistoryFanout > 50 {
		return fmt.Errorf("engine.history_fanout must be between 2 and 50, got %d", c.Engine.HistoryFanout)
	}
	if c.Engine.SearchFanout < 2 || c.Engine.SearchFanout > 50 {
		return fmt.Errorf("engine.search_fanout must be between 2 and 50, got %d", c.Engine.SearchFanout)
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.Archive.Enabled {
			if c.Archive.Bucket == "" || c.Archive.AccessKey == "" || c.Archive.SecretKey == "" {
				return fmt.Errorf("archive.bucket, archive.access_key and archive.secret_key are required when archive is enabled in production")
			}
		}
	}

	return nil
}

// StalenessFor returns the price staleness window for a vendor slug.
func (e *EngineConfig) StalenessFor(slug string) time.Duration {
	if d, ok := e.PriceStaleness[slug]; ok {
		return d
	}
	return e.DefaultPriceStaleness
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}
