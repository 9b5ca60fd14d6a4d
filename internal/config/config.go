// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
	_ "time/tzdata" // crawl windows need zone data on minimal images

	"github.com/spf13/viper"

	"github.com/JakeFAU/news-engagement-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig            `mapstructure:"server"`
	Crawler   CrawlerConfig           `mapstructure:"crawler"`
	HTTP      HTTPConfig              `mapstructure:"http"`
	Sources   map[string]SourceConfig `mapstructure:"sources"`
	Database  DatabaseConfig          `mapstructure:"database"`
	Storage   StorageConfig           `mapstructure:"storage"`
	PubSub    PubSubConfig            `mapstructure:"pubsub"`
	Progress  ProgressConfig          `mapstructure:"progress"`
	Schedule  ScheduleConfig          `mapstructure:"schedule"`
	Telemetry TelemetryConfig         `mapstructure:"telemetry"`
	Logging   LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// RequestTimeout bounds non-streaming API handlers.
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// CrawlTimeout bounds a crawl streamed over POST /api/crawl. The run
	// continues after the client disconnects, up to this limit. Zero means no limit.
	CrawlTimeout time.Duration `mapstructure:"crawl_timeout"`
}

// CrawlerConfig governs pipeline sizing and background execution.
type CrawlerConfig struct {
	BatchSize          int    `mapstructure:"batch_size"`
	TopN               int    `mapstructure:"top_n"`
	MetadataChunkSize  int    `mapstructure:"metadata_chunk_size"`
	MaxEngagementPages int    `mapstructure:"max_engagement_pages"`
	DefaultDays        int    `mapstructure:"default_days"`
	MaxDays            int    `mapstructure:"max_days"`
	Timezone           string `mapstructure:"timezone"`
	Workers            int    `mapstructure:"workers"`
	QueueDepth         int    `mapstructure:"queue_depth"`
	// RunTimeout bounds queued crawls. Zero disables the limit.
	RunTimeout time.Duration `mapstructure:"run_timeout"`
}

// HTTPConfig configures outbound requests.
type HTTPConfig struct {
	UserAgent      string          `mapstructure:"user_agent"`
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	MaxBodyBytes   int             `mapstructure:"max_body_bytes"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
	Retry          RetryConfig     `mapstructure:"retry"`
}

// RetryConfig bounds retries of transient fetch failures.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig is the per-host politeness budget. Hosts overrides it for
// a domain and its subdomains.
type RateLimitConfig struct {
	RPS   float64         `mapstructure:"rps"`
	Burst int             `mapstructure:"burst"`
	Hosts []HostRateLimit `mapstructure:"hosts"`
}

// HostRateLimit is one rate limit override. A list rather than a map since
// viper splits map keys on dots.
type HostRateLimit struct {
	Host  string  `mapstructure:"host"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// SourceConfig enables a source and overrides its endpoints.
type SourceConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RankBy        string `mapstructure:"rank_by"`
	SitemapBase   string `mapstructure:"sitemap_base"`
	MetadataURL   string `mapstructure:"metadata_url"`
	EngagementURL string `mapstructure:"engagement_url"`
	UserAgent     string `mapstructure:"user_agent"`
}

// DatabaseConfig selects and connects the cache store.
type DatabaseConfig struct {
	// Driver is "postgres" or "memory".
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects where snapshot archives are written.
type StorageConfig struct {
	// Backend is "none", "memory", "local" or "gcs".
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds crawl notification settings.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// ProgressConfig tunes the run event hub.
type ProgressConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
	SinkTimeout    time.Duration `mapstructure:"sink_timeout"`
	LifecycleWait  time.Duration `mapstructure:"lifecycle_wait"`
	LogEvents      bool          `mapstructure:"log_events"`
}

// ScheduleConfig lists periodic crawls.
type ScheduleConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Jobs    []ScheduleJob `mapstructure:"jobs"`
}

// ScheduleJob is one cron entry.
type ScheduleJob struct {
	Source string `mapstructure:"source"`
	Days   int    `mapstructure:"days"`
	Cron   string `mapstructure:"cron"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	// ProjectID enables export to Google Cloud Trace when set.
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return Config{}, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// bindLegacyEnv keeps the unprefixed variables deployments already set.
func bindLegacyEnv(v *viper.Viper) error {
	bindings := map[string]string{
		"server.port":       "PORT",
		"database.host":     "DB_HOST",
		"database.port":     "DB_PORT",
		"database.user":     "DB_USER",
		"database.password": "DB_PASSWORD",
		"database.name":     "DB_NAME",
	}
	for key, env := range bindings {
		prefixed := "CRAWLER_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)
	v.SetDefault("server.crawl_timeout", 30*time.Minute)

	v.SetDefault("crawler.batch_size", 10)
	v.SetDefault("crawler.top_n", 10)
	v.SetDefault("crawler.metadata_chunk_size", 100)
	v.SetDefault("crawler.max_engagement_pages", 20)
	v.SetDefault("crawler.default_days", 7)
	v.SetDefault("crawler.max_days", 31)
	v.SetDefault("crawler.timezone", "Asia/Ho_Chi_Minh")
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.queue_depth", 16)
	v.SetDefault("crawler.run_timeout", 30*time.Minute)

	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.max_body_bytes", 64<<20)
	v.SetDefault("http.rate_limit.rps", 5)
	v.SetDefault("http.rate_limit.burst", 10)
	v.SetDefault("http.retry.max_attempts", 3)
	v.SetDefault("http.retry.base_delay", 250*time.Millisecond)
	v.SetDefault("http.retry.max_delay", 5*time.Second)

	v.SetDefault("sources.vnexpress.enabled", true)
	v.SetDefault("sources.vnexpress.rank_by", string(crawler.RankByReactions))
	v.SetDefault("sources.tuoitre.enabled", true)
	v.SetDefault("sources.tuoitre.rank_by", string(crawler.RankByReactionsAndComments))

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "news_crawler")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.local_dir", "data/snapshots")
	v.SetDefault("storage.prefix", "snapshots")

	v.SetDefault("pubsub.topic", "crawl-events")

	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait", 500*time.Millisecond)
	v.SetDefault("progress.sink_timeout", 5*time.Second)
	v.SetDefault("progress.lifecycle_wait", time.Second)
	v.SetDefault("progress.log_events", true)

	v.SetDefault("telemetry.service_name", "news-engagement-crawler")
	v.SetDefault("telemetry.sample_ratio", 1.0)

	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.CrawlTimeout < 0 {
		return fmt.Errorf("server.crawl_timeout must be >= 0")
	}
	if c.Crawler.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.Crawler.TopN <= 0 {
		return fmt.Errorf("crawler.top_n must be > 0")
	}
	if c.Crawler.MetadataChunkSize <= 0 {
		return fmt.Errorf("crawler.metadata_chunk_size must be > 0")
	}
	if c.Crawler.MaxEngagementPages <= 0 {
		return fmt.Errorf("crawler.max_engagement_pages must be > 0")
	}
	if c.Crawler.DefaultDays <= 0 || c.Crawler.DefaultDays > c.Crawler.MaxDays {
		return fmt.Errorf("crawler.default_days must be between 1 and crawler.max_days")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("crawler.timezone must be a valid IANA zone: %w", err)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if len(c.EnabledSources()) == 0 {
		return fmt.Errorf("sources must enable at least one source")
	}
	for name, src := range c.Sources {
		if !crawler.RankPolicy(src.RankBy).Valid() {
			return fmt.Errorf("sources.%s.rank_by must be %q or %q", name, crawler.RankByReactions, crawler.RankByReactionsAndComments)
		}
	}
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			return fmt.Errorf("database.dsn or database.host must be set for postgres")
		}
	default:
		return fmt.Errorf("database.driver must be postgres or memory")
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be none, memory, local or gcs")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set when pubsub is enabled")
	}
	if c.Schedule.Enabled {
		enabled := c.EnabledSources()
		for i, job := range c.Schedule.Jobs {
			if _, ok := enabled[strings.ToLower(job.Source)]; !ok {
				return fmt.Errorf("schedule.jobs[%d].source must name an enabled source", i)
			}
			if job.Cron == "" {
				return fmt.Errorf("schedule.jobs[%d].cron must be set", i)
			}
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}

// EnabledSources returns the enabled source configs keyed by lowercase name.
func (c Config) EnabledSources() map[string]SourceConfig {
	out := make(map[string]SourceConfig)
	for name, src := range c.Sources {
		if src.Enabled {
			out[strings.ToLower(name)] = src
		}
	}
	return out
}

// EnabledSourceNames lists enabled sources in sorted order.
func (c Config) EnabledSourceNames() []string {
	enabled := c.EnabledSources()
	names := make([]string, 0, len(enabled))
	for n := range enabled {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Location resolves crawler.timezone. It defines calendar days for windows
// and the current-month sitemap rule.
func (c Config) Location() (*time.Location, error) {
	if c.Crawler.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Crawler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", c.Crawler.Timezone, err)
	}
	return loc, nil
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// PostgresDSN returns database.dsn or one assembled from the discrete fields.
func (c DatabaseConfig) PostgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Name,
	}
	if c.Password != "" {
		u.User = url.UserPassword(c.User, c.Password)
	} else if c.User != "" {
		u.User = url.User(c.User)
	}
	if c.SSLMode != "" {
		u.RawQuery = "sslmode=" + url.QueryEscape(c.SSLMode)
	}
	return u.String()
}
