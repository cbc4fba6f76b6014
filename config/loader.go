package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/philocrawl/crawlcore/domain"
	"github.com/philocrawl/crawlcore/internal/logging"
)

var loaderLog = logging.ComponentLogger("config")

// Sources names the files the hierarchical loader reads, lowest to
// highest precedence (before process env and the runtime overlay).
type Sources struct {
	// Dir holds base.yaml, <env>.yaml, and a sites/ subdirectory of
	// per-site yaml files.
	Dir string
}

// ResolveEnvironment reads ENVIRONMENT or ENV (case-insensitively),
// defaulting to dev, per spec §6.
func ResolveEnvironment() Environment {
	raw := os.Getenv("ENVIRONMENT")
	if raw == "" {
		raw = os.Getenv("ENV")
	}
	switch strings.ToLower(raw) {
	case "staging":
		return EnvStaging
	case "prod", "production":
		return EnvProd
	default:
		return EnvDev
	}
}

// Load is a pure function of its inputs: it merges base.yaml, the
// environment-specific file, every sites/*.yaml file, process environment
// variables (CRAWLER_<SECTION>__<FIELD>), and returns a fully validated
// Config or a domain.ConfigurationError enumerating every field failure.
// Missing files are tolerated with a warning; a file that exists but
// fails to parse is a hard load error.
func Load(src Sources) (*Config, error) {
	env := ResolveEnvironment()

	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v, Defaults())

	if err := mergeFile(v, filepath.Join(src.Dir, "base.yaml")); err != nil {
		return nil, domain.NewConfigLoadError(err)
	}
	if err := mergeFile(v, filepath.Join(src.Dir, string(env)+".yaml")); err != nil {
		return nil, domain.NewConfigLoadError(err)
	}

	siteFiles, _ := filepath.Glob(filepath.Join(src.Dir, "sites", "*.yaml"))
	for _, f := range siteFiles {
		if err := mergeFile(v, f); err != nil {
			return nil, domain.NewConfigLoadError(err)
		}
	}

	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, domain.NewConfigLoadError(fmt.Errorf("decode: %w", err))
	}
	cfg.Environment = env

	if errs := Validate(&cfg); len(errs) > 0 {
		return nil, domain.NewConfigValidationError(errs)
	}
	for _, warning := range SoftWarnings(&cfg) {
		loaderLog.Warn(warning)
	}
	return &cfg, nil
}

func mergeFile(v *viper.Viper, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		loaderLog.WithField("path", path).Warn("configuration file not found, skipping")
		return nil
	}
	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// setDefaults seeds v with Config's documented defaults so a missing
// field in every layer still resolves to a spec-compliant value.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("environment", string(d.Environment))
	v.SetDefault("debug", d.Debug)
	v.SetDefault("hot_reload", d.HotReload)

	v.SetDefault("database.pool_size", d.Database.PoolSize)
	v.SetDefault("database.max_overflow", d.Database.MaxOverflow)
	v.SetDefault("database.pool_timeout", d.Database.PoolTimeout)
	v.SetDefault("database.pool_recycle", d.Database.PoolRecycle)
	v.SetDefault("database.echo", d.Database.Echo)

	v.SetDefault("security.token_expiry", d.Security.TokenExpiry)
	v.SetDefault("security.rate_limit_per_minute", d.Security.RateLimitPerMinute)

	v.SetDefault("logging.level", string(d.Logging.Level))
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.max_bytes", d.Logging.MaxBytes)
	v.SetDefault("logging.backup_count", d.Logging.BackupCount)
	v.SetDefault("logging.structured", d.Logging.Structured)
	v.SetDefault("logging.crawler_level", string(d.Logging.CrawlerLevel))
	v.SetDefault("logging.config_level", string(d.Logging.ConfigLevel))
	v.SetDefault("logging.database_level", string(d.Logging.DatabaseLevel))

	v.SetDefault("crawling.default_delay", d.Crawling.DefaultDelay)
	v.SetDefault("crawling.max_concurrent_requests", d.Crawling.MaxConcurrentRequests)
	v.SetDefault("crawling.request_timeout", d.Crawling.RequestTimeout)
	v.SetDefault("crawling.max_retries", d.Crawling.MaxRetries)
	v.SetDefault("crawling.retry_delay", d.Crawling.RetryDelay)
	v.SetDefault("crawling.respect_robots_txt", d.Crawling.RespectRobotsTxt)
	v.SetDefault("crawling.max_page_size", d.Crawling.MaxPageSize)
	v.SetDefault("crawling.min_delay", d.Crawling.MinDelay)
	v.SetDefault("crawling.burst_delay", d.Crawling.BurstDelay)
	v.SetDefault("crawling.max_pages_per_domain", d.Crawling.MaxPagesPerDomain)
	v.SetDefault("crawling.max_concurrent_sessions", d.Crawling.MaxConcurrentSessions)

	v.SetDefault("notifications.enabled", d.Notifications.Enabled)
	v.SetDefault("notifications.error_threshold", d.Notifications.ErrorThreshold)
	v.SetDefault("notifications.failure_rate_threshold", d.Notifications.FailureRateThreshold)
	v.SetDefault("notifications.queue_size_threshold", d.Notifications.QueueSizeThreshold)
	v.SetDefault("notifications.max_alerts_per_hour", d.Notifications.MaxAlertsPerHour)
}
