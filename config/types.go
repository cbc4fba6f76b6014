// Package config implements the hierarchical configuration core: layered
// load + merge, typed validation, atomic hot-swap, change subscribers, and
// masking of secrets for safe display.
package config

import "time"

// Environment is the deployment tier selector driving environment-
// dependent validation rules.
type Environment string

const (
	EnvDev     Environment = "dev"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

// DatabaseConfig is the database.* configuration tree.
type DatabaseConfig struct {
	URL         string        `mapstructure:"url" validate:"required" mask:"true"`
	PoolSize    int           `mapstructure:"pool_size" validate:"min=1,max=50"`
	MaxOverflow int           `mapstructure:"max_overflow" validate:"min=0,max=100"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout" validate:"min=1000000000,max=300000000000"`
	PoolRecycle time.Duration `mapstructure:"pool_recycle" validate:"min=300000000000"`
	Echo        bool          `mapstructure:"echo"`
}

// SecurityConfig is the security.* configuration tree.
type SecurityConfig struct {
	SecretKey          string        `mapstructure:"secret_key" validate:"required" mask:"true"`
	APIKey             string        `mapstructure:"api_key" mask:"true"`
	TokenExpiry        time.Duration `mapstructure:"token_expiry" validate:"min=300000000000,max=86400000000000"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" validate:"min=1,max=1000"`
	AllowedHosts       []string      `mapstructure:"allowed_hosts"`
	CORSOrigins        []string      `mapstructure:"cors_origins"`
}

// LogLevel mirrors internal/logging.Level for the configuration tree.
type LogLevel string

const (
	LogDebug    LogLevel = "DEBUG"
	LogInfo     LogLevel = "INFO"
	LogWarning  LogLevel = "WARNING"
	LogError    LogLevel = "ERROR"
	LogCritical LogLevel = "CRITICAL"
)

// LoggingConfig is the logging.* configuration tree.
type LoggingConfig struct {
	Level          LogLevel `mapstructure:"level" validate:"oneof=DEBUG INFO WARNING ERROR CRITICAL"`
	Format         string   `mapstructure:"format"`
	FilePath       string   `mapstructure:"file_path"`
	MaxBytes       int64    `mapstructure:"max_bytes" validate:"min=1024"`
	BackupCount    int      `mapstructure:"backup_count" validate:"min=1,max=100"`
	Structured     bool     `mapstructure:"structured"`
	CrawlerLevel   LogLevel `mapstructure:"crawler_level"`
	ConfigLevel    LogLevel `mapstructure:"config_level"`
	DatabaseLevel  LogLevel `mapstructure:"database_level"`
}

// CrawlingConfig is the crawling.* configuration tree.
type CrawlingConfig struct {
	DefaultDelay          float64  `mapstructure:"default_delay" validate:"min=0.1,max=60"`
	MaxConcurrentRequests int      `mapstructure:"max_concurrent_requests" validate:"min=1,max=50"`
	RequestTimeout        int      `mapstructure:"request_timeout" validate:"min=5,max=300"`
	MaxRetries            int      `mapstructure:"max_retries" validate:"min=0,max=10"`
	RetryDelay            float64  `mapstructure:"retry_delay" validate:"min=0.5,max=30"`
	UserAgent             string   `mapstructure:"user_agent"`
	RespectRobotsTxt      bool     `mapstructure:"respect_robots_txt"`
	MaxPageSize           int64    `mapstructure:"max_page_size" validate:"min=1024"`
	AllowedContentTypes   []string `mapstructure:"allowed_content_types"`
	MinDelay              float64  `mapstructure:"min_delay" validate:"min=0.1"`
	BurstDelay            float64  `mapstructure:"burst_delay" validate:"min=1.0"`
	MaxPagesPerDomain     int      `mapstructure:"max_pages_per_domain" validate:"min=1"`
	MaxConcurrentSessions int      `mapstructure:"max_concurrent_sessions" validate:"min=1"`
}

// NotificationsConfig is the notifications.* configuration tree.
type NotificationsConfig struct {
	Enabled               bool     `mapstructure:"enabled"`
	Email                 string   `mapstructure:"email" mask:"true"`
	Slack                 string   `mapstructure:"slack" mask:"true"`
	ErrorThreshold        int      `mapstructure:"error_threshold" validate:"min=1"`
	FailureRateThreshold  float64  `mapstructure:"failure_rate_threshold" validate:"min=0,max=1"`
	QueueSizeThreshold    int      `mapstructure:"queue_size_threshold" validate:"min=1"`
	QuietHoursStart       string   `mapstructure:"quiet_hours_start"`
	QuietHoursEnd         string   `mapstructure:"quiet_hours_end"`
	MaxAlertsPerHour      int      `mapstructure:"max_alerts_per_hour" validate:"min=1,max=100"`
}

// SiteConfig is one sites.<name> configuration tree entry.
type SiteConfig struct {
	Name              string            `mapstructure:"name" validate:"required"`
	BaseURL           string            `mapstructure:"base_url" validate:"required"`
	Domains           []string          `mapstructure:"domains" validate:"required,min=1"`
	Enabled           bool              `mapstructure:"enabled"`
	Priority          int               `mapstructure:"priority" validate:"min=1,max=10"`
	AllowPatterns     []string          `mapstructure:"allow_patterns"`
	DenyPatterns      []string          `mapstructure:"deny_patterns"`
	ContentSelectors  map[string]string `mapstructure:"content_selectors"`
	Delay             float64           `mapstructure:"delay"`
	MaxConcurrent     int               `mapstructure:"max_concurrent"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" validate:"omitempty,min=1,max=60"`
	DailyLimit        int               `mapstructure:"daily_limit" validate:"omitempty,min=1"`
	MaxDepth          int               `mapstructure:"max_depth" validate:"min=1,max=20"`
	HealthCheckURL    string            `mapstructure:"health_check_url"`
	NotificationLevel string            `mapstructure:"notification_level"`
}

// Config is the fully decoded, validated configuration tree.
type Config struct {
	Environment   Environment            `mapstructure:"environment"`
	Debug         bool                   `mapstructure:"debug"`
	HotReload     bool                   `mapstructure:"hot_reload"`
	Database      DatabaseConfig         `mapstructure:"database" validate:"required"`
	Security      SecurityConfig         `mapstructure:"security" validate:"required"`
	Logging       LoggingConfig          `mapstructure:"logging"`
	Crawling      CrawlingConfig         `mapstructure:"crawling"`
	Notifications NotificationsConfig    `mapstructure:"notifications"`
	Sites         map[string]SiteConfig  `mapstructure:"sites"`
}

// Defaults returns the configuration tree's documented defaults, applied
// before any layer is merged on top.
func Defaults() Config {
	return Config{
		Environment: EnvDev,
		Debug:       true,
		HotReload:   true,
		Database: DatabaseConfig{
			PoolSize:    5,
			MaxOverflow: 10,
			PoolTimeout: 30 * time.Second,
			PoolRecycle: 3600 * time.Second,
		},
		Security: SecurityConfig{
			TokenExpiry:        3600 * time.Second,
			RateLimitPerMinute: 60,
		},
		Logging: LoggingConfig{
			Level:         LogInfo,
			Format:        "text",
			MaxBytes:      10 * 1024 * 1024,
			BackupCount:   5,
			CrawlerLevel:  LogInfo,
			ConfigLevel:   LogWarning,
			DatabaseLevel: LogWarning,
		},
		Crawling: CrawlingConfig{
			DefaultDelay:          1.0,
			MaxConcurrentRequests: 5,
			RequestTimeout:        30,
			MaxRetries:            3,
			RetryDelay:            2.0,
			RespectRobotsTxt:      true,
			MaxPageSize:           10 * 1024 * 1024,
			MinDelay:              0.5,
			BurstDelay:            5.0,
			MaxPagesPerDomain:     1000,
			MaxConcurrentSessions: 1,
		},
		Notifications: NotificationsConfig{
			Enabled:            true,
			ErrorThreshold:     10,
			FailureRateThreshold: 0.1,
			QueueSizeThreshold: 1000,
			MaxAlertsPerHour:   5,
		},
		Sites: map[string]SiteConfig{},
	}
}
