// Package config loads the feedbot TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dicklesworthstone/feedbot/internal/action"
	"github.com/Dicklesworthstone/feedbot/internal/ratelimit"
	"github.com/Dicklesworthstone/feedbot/internal/remote"
	"github.com/Dicklesworthstone/feedbot/internal/retry"
	"github.com/Dicklesworthstone/feedbot/internal/scheduler"
	"github.com/Dicklesworthstone/feedbot/internal/util"
)

// Duration is a time.Duration written as a Go duration string ("6s", "1h").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents the main configuration
type Config struct {
	DataDir   string                      `toml:"data_dir"`
	Quotas    map[string]ratelimit.Limits `toml:"quotas"`
	Pacing    PacingConfig                `toml:"pacing"`
	Retry     RetryConfig                 `toml:"retry"`
	Breaker   BreakerConfig               `toml:"breaker"`
	Scheduler SchedulerConfig             `toml:"scheduler"`
	Remote    RemoteConfig                `toml:"remote"`
	Feed      FeedConfig                  `toml:"feed"`
	State     StateConfig                 `toml:"state"`
	Serve     ServeConfig                 `toml:"serve"`
	Metrics   MetricsConfig               `toml:"metrics"`
	Log       LogConfig                   `toml:"log"`
}

// PacingConfig is the minimum spacing between consecutive actions
type PacingConfig struct {
	Like     Duration `toml:"like"`
	Comment  Duration `toml:"comment"`
	Follow   Duration `toml:"follow"`
	Unfollow Duration `toml:"unfollow"`
	Default  Duration `toml:"default"`
}

// RetryConfig holds retry policy settings
type RetryConfig struct {
	MaxRetries int      `toml:"max_retries"`
	RetryDelay Duration `toml:"retry_delay"`
}

// BreakerConfig holds circuit breaker settings
type BreakerConfig struct {
	FailureThreshold int      `toml:"failure_threshold"`
	MinSuccessRate   float64  `toml:"min_success_rate"` // Percent, 0 disables
	MinSamples       int      `toml:"min_samples"`
	RateWindow       Duration `toml:"rate_window"`
	Cooldown         Duration `toml:"cooldown"`
	MaxCooldown      Duration `toml:"max_cooldown"`
}

// SchedulerConfig holds the feed loop settings
type SchedulerConfig struct {
	Interval Duration `toml:"interval"`
}

// RemoteConfig holds settings for the social service client
type RemoteConfig struct {
	BaseURL      string   `toml:"base_url"`
	CookiesFile  string   `toml:"cookies_file"`
	UserAgent    string   `toml:"user_agent"`
	Timeout      Duration `toml:"timeout"`
	WatchCookies bool     `toml:"watch_cookies"` // Reload cookies when the file changes
}

// FeedConfig controls which posts turn into candidate actions
type FeedConfig struct {
	MaxPosts        int      `toml:"max_posts"`
	LikeAll         bool     `toml:"like_all"`
	LikeKeywords    []string `toml:"like_keywords"`
	CommentKeywords []string `toml:"comment_keywords"`
	CommentTemplate string   `toml:"comment_template"`
	CommentFallback string   `toml:"comment_fallback"`
}

// StateConfig holds the conversation database settings
type StateConfig struct {
	Database        string `toml:"database"`
	MaxInteractions int    `toml:"max_interactions_per_conversation"`
}

// ServeConfig holds dashboard API settings
type ServeConfig struct {
	Enabled           bool    `toml:"enabled"`
	Host              string  `toml:"host"`
	Port              int     `toml:"port"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// MetricsConfig holds action metrics persistence settings
type MetricsConfig struct {
	File      string   `toml:"file"`
	Retention Duration `toml:"retention"`
}

// LogConfig holds logging settings. Log files are rotated by size;
// rotated files beyond MaxBackups or older than MaxAgeDays are removed.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	ErrorFile  string `toml:"error_file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// Defaults for settings without a home in another package.
const (
	DefaultMaxPosts          = 20
	DefaultLogMaxSizeMB      = 5
	DefaultLogMaxBackups     = 5
	DefaultLogMaxAgeDays     = 7
	DefaultCommentTemplate   = "Love this, @{author}! ✨"
	DefaultPort              = 7337
	DefaultRequestsPerSecond = 10
	DefaultBurst             = 20
	DefaultRetention         = 30 * 24 * time.Hour
	DefaultMaxInteractions   = 5
)

// DefaultPath returns the default config file path
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "feedbot", "config.toml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "feedbot", "config.toml")
}

// DefaultDataDir returns the default directory for persisted state
func DefaultDataDir() string {
	if dir, err := util.DataDir(); err == nil {
		return dir
	}
	return ".feedbot"
}

// Default returns the default configuration.
func Default() *Config {
	quotas := make(map[string]ratelimit.Limits)
	for cat, l := range ratelimit.DefaultLimits() {
		quotas[string(cat)] = l
	}
	breaker := ratelimit.DefaultBreakerConfig()

	return &Config{
		DataDir: DefaultDataDir(),
		Quotas:  quotas,
		Pacing: PacingConfig{
			Like:     Duration{ratelimit.DefaultDelayLike},
			Comment:  Duration{ratelimit.DefaultDelayComment},
			Follow:   Duration{ratelimit.DefaultDelayFollow},
			Unfollow: Duration{ratelimit.DefaultDelayUnfollow},
			Default:  Duration{ratelimit.DefaultDelay},
		},
		Retry: RetryConfig{
			MaxRetries: retry.DefaultMaxRetries,
			RetryDelay: Duration{retry.DefaultRetryDelay},
		},
		Breaker: BreakerConfig{
			FailureThreshold: breaker.FailureThreshold,
			MinSuccessRate:   breaker.MinSuccessRate,
			MinSamples:       breaker.MinSamples,
			RateWindow:       Duration{breaker.RateWindow},
			Cooldown:         Duration{breaker.Cooldown},
			MaxCooldown:      Duration{breaker.MaxCooldown},
		},
		Scheduler: SchedulerConfig{
			Interval: Duration{scheduler.DefaultInterval},
		},
		Remote: RemoteConfig{
			BaseURL:      remote.DefaultBaseURL,
			UserAgent:    remote.DefaultUserAgent,
			Timeout:      Duration{remote.DefaultTimeout},
			WatchCookies: true,
		},
		Feed: FeedConfig{
			MaxPosts:        DefaultMaxPosts,
			LikeAll:         true,
			CommentTemplate: DefaultCommentTemplate,
		},
		State: StateConfig{
			MaxInteractions: DefaultMaxInteractions,
		},
		Serve: ServeConfig{
			Host:              "127.0.0.1",
			Port:              DefaultPort,
			RequestsPerSecond: DefaultRequestsPerSecond,
			Burst:             DefaultBurst,
		},
		Metrics: MetricsConfig{
			Retention: Duration{DefaultRetention},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
	}
}

// Load loads configuration from a file, fills in defaults for missing
// values and applies environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg = Default()
		cfg.applyEnv()
		return cfg, nil
	}
	return cfg, err
}

// Parse decodes TOML data over the defaults and applies env overrides.
// Keys absent from data keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	def := Default()

	if c.DataDir == "" {
		c.DataDir = def.DataDir
	}
	c.DataDir = util.ExpandHome(c.DataDir)

	if c.Quotas == nil {
		c.Quotas = make(map[string]ratelimit.Limits)
	}
	for name, l := range def.Quotas {
		if _, ok := c.Quotas[name]; !ok {
			c.Quotas[name] = l
		}
	}

	setDuration(&c.Pacing.Like, def.Pacing.Like)
	setDuration(&c.Pacing.Comment, def.Pacing.Comment)
	setDuration(&c.Pacing.Follow, def.Pacing.Follow)
	setDuration(&c.Pacing.Unfollow, def.Pacing.Unfollow)
	setDuration(&c.Pacing.Default, def.Pacing.Default)

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = def.Retry.MaxRetries
	}
	setDuration(&c.Retry.RetryDelay, def.Retry.RetryDelay)

	if c.Breaker.FailureThreshold == 0 {
		c.Breaker.FailureThreshold = def.Breaker.FailureThreshold
	}
	if c.Breaker.MinSamples == 0 {
		c.Breaker.MinSamples = def.Breaker.MinSamples
	}
	setDuration(&c.Breaker.RateWindow, def.Breaker.RateWindow)
	setDuration(&c.Breaker.Cooldown, def.Breaker.Cooldown)
	setDuration(&c.Breaker.MaxCooldown, def.Breaker.MaxCooldown)

	setDuration(&c.Scheduler.Interval, def.Scheduler.Interval)

	if c.Remote.BaseURL == "" {
		c.Remote.BaseURL = def.Remote.BaseURL
	}
	if c.Remote.UserAgent == "" {
		c.Remote.UserAgent = def.Remote.UserAgent
	}
	setDuration(&c.Remote.Timeout, def.Remote.Timeout)

	if c.Feed.MaxPosts == 0 {
		c.Feed.MaxPosts = def.Feed.MaxPosts
	}
	if c.Feed.CommentTemplate == "" {
		c.Feed.CommentTemplate = def.Feed.CommentTemplate
	}

	if c.State.MaxInteractions == 0 {
		c.State.MaxInteractions = def.State.MaxInteractions
	}

	if c.Serve.Host == "" {
		c.Serve.Host = def.Serve.Host
	}
	if c.Serve.Port == 0 {
		c.Serve.Port = def.Serve.Port
	}
	if c.Serve.RequestsPerSecond == 0 {
		c.Serve.RequestsPerSecond = def.Serve.RequestsPerSecond
	}
	if c.Serve.Burst == 0 {
		c.Serve.Burst = def.Serve.Burst
	}

	setDuration(&c.Metrics.Retention, def.Metrics.Retention)

	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = def.Log.MaxBackups
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = def.Log.MaxAgeDays
	}
}

func setDuration(d *Duration, def Duration) {
	if d.Duration == 0 {
		*d = def
	}
}

// applyEnv applies FEEDBOT_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("FEEDBOT_DATA_DIR"); v != "" {
		c.DataDir = util.ExpandHome(v)
	}
	if v := os.Getenv("FEEDBOT_BASE_URL"); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv("FEEDBOT_COOKIES_FILE"); v != "" {
		c.Remote.CookiesFile = v
	}
	if v := os.Getenv("FEEDBOT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first configuration error found.
func (c *Config) Validate() error {
	for name, l := range c.Quotas {
		if _, err := action.ParseCategory(name); err != nil {
			return fmt.Errorf("quotas: %w", err)
		}
		if err := l.Validate(); err != nil {
			return fmt.Errorf("quotas.%s: %w", name, err)
		}
	}
	for name, d := range map[string]Duration{
		"like":     c.Pacing.Like,
		"comment":  c.Pacing.Comment,
		"follow":   c.Pacing.Follow,
		"unfollow": c.Pacing.Unfollow,
		"default":  c.Pacing.Default,
	} {
		if d.Duration < 0 {
			return fmt.Errorf("pacing.%s must not be negative", name)
		}
	}
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be at least 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.RetryDelay.Duration < 0 {
		return errors.New("retry.retry_delay must not be negative")
	}
	if c.Breaker.MinSuccessRate < 0 || c.Breaker.MinSuccessRate > 100 {
		return fmt.Errorf("breaker.min_success_rate must be within 0-100, got %g", c.Breaker.MinSuccessRate)
	}
	if c.Breaker.FailureThreshold < 0 || c.Breaker.MinSamples < 0 {
		return errors.New("breaker thresholds must not be negative")
	}
	if c.Breaker.MaxCooldown.Duration < c.Breaker.Cooldown.Duration {
		return errors.New("breaker.max_cooldown must be >= breaker.cooldown")
	}
	if c.Scheduler.Interval.Duration <= 0 {
		return errors.New("scheduler.interval must be positive")
	}
	if c.Feed.MaxPosts < 0 {
		return errors.New("feed.max_posts must not be negative")
	}
	if c.State.MaxInteractions < 1 {
		return errors.New("state.max_interactions_per_conversation must be at least 1")
	}
	if c.Serve.Port < 0 || c.Serve.Port > 65535 {
		return fmt.Errorf("serve.port out of range: %d", c.Serve.Port)
	}
	if c.Serve.RequestsPerSecond < 0 || c.Serve.Burst < 0 {
		return errors.New("serve limiter settings must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return errors.New("log rotation settings must not be negative")
	}
	return nil
}

// Limits returns the quota table keyed by category.
func (c *Config) Limits() map[action.Category]ratelimit.Limits {
	out := make(map[action.Category]ratelimit.Limits, len(c.Quotas))
	for name, l := range c.Quotas {
		out[action.Category(name)] = l
	}
	return out
}

// Delays returns the per-category pacing table.
func (c *Config) Delays() map[action.Category]time.Duration {
	return map[action.Category]time.Duration{
		action.Like:     c.Pacing.Like.Duration,
		action.Comment:  c.Pacing.Comment.Duration,
		action.Follow:   c.Pacing.Follow.Duration,
		action.Unfollow: c.Pacing.Unfollow.Duration,
	}
}

// BreakerSettings converts the [breaker] section for ratelimit.NewBreaker.
func (c *Config) BreakerSettings() ratelimit.BreakerConfig {
	return ratelimit.BreakerConfig{
		FailureThreshold: c.Breaker.FailureThreshold,
		MinSuccessRate:   c.Breaker.MinSuccessRate,
		MinSamples:       c.Breaker.MinSamples,
		RateWindow:       c.Breaker.RateWindow.Duration,
		Cooldown:         c.Breaker.Cooldown.Duration,
		MaxCooldown:      c.Breaker.MaxCooldown.Duration,
	}
}

// RemoteOptions converts the [remote] section for remote.New.
func (c *Config) RemoteOptions() remote.Options {
	return remote.Options{
		BaseURL:     c.Remote.BaseURL,
		CookiesFile: c.CookiesPath(),
		UserAgent:   c.Remote.UserAgent,
		Timeout:     c.Remote.Timeout.Duration,
	}
}

// MetricsPath returns the metrics JSON file path.
func (c *Config) MetricsPath() string {
	return c.inDataDir(c.Metrics.File, "metrics.json")
}

// DatabasePath returns the conversation database path.
func (c *Config) DatabasePath() string {
	if c.State.Database == ":memory:" {
		return c.State.Database
	}
	return c.inDataDir(c.State.Database, "feedbot.db")
}

// CookiesPath returns the cookie file path.
func (c *Config) CookiesPath() string {
	return c.inDataDir(c.Remote.CookiesFile, "cookies.json")
}

// ServeAddr returns the dashboard listen address.
func (c *Config) ServeAddr() string {
	return fmt.Sprintf("%s:%d", c.Serve.Host, c.Serve.Port)
}

func (c *Config) inDataDir(path, fallback string) string {
	if path == "" {
		return filepath.Join(c.DataDir, fallback)
	}
	path = util.ExpandHome(path)
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.DataDir, path)
}

// CreateDefault creates a default config file
func CreateDefault() (string, error) {
	path := DefaultPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	// Check if file already exists
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if err := Print(Default(), f); err != nil {
		return "", err
	}

	return path, nil
}

// Print writes config to a writer in TOML format
func Print(cfg *Config, w io.Writer) error {
	fmt.Fprintln(w, "# feedbot configuration")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# Directory for metrics, the conversation database and cookies")
	fmt.Fprintf(w, "data_dir = %q\n", cfg.DataDir)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# Action quotas; daily_max must be >= hourly_max")
	names := make([]string, 0, len(cfg.Quotas))
	for name := range cfg.Quotas {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		l := cfg.Quotas[name]
		fmt.Fprintf(w, "[quotas.%s]\n", name)
		fmt.Fprintf(w, "daily_max = %d\n", l.DailyMax)
		fmt.Fprintf(w, "hourly_max = %d\n", l.HourlyMax)
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "[pacing]")
	fmt.Fprintln(w, "# Minimum spacing before each attempted action")
	fmt.Fprintf(w, "like = %q\n", cfg.Pacing.Like)
	fmt.Fprintf(w, "comment = %q\n", cfg.Pacing.Comment)
	fmt.Fprintf(w, "follow = %q\n", cfg.Pacing.Follow)
	fmt.Fprintf(w, "unfollow = %q\n", cfg.Pacing.Unfollow)
	fmt.Fprintf(w, "default = %q\n", cfg.Pacing.Default)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[retry]")
	fmt.Fprintln(w, "# Attempts per action; backoff grows linearly with retry_delay")
	fmt.Fprintf(w, "max_retries = %d\n", cfg.Retry.MaxRetries)
	fmt.Fprintf(w, "retry_delay = %q\n", cfg.Retry.RetryDelay)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[breaker]")
	fmt.Fprintln(w, "# min_success_rate is a percentage; 0 disables rate-based tripping")
	fmt.Fprintf(w, "failure_threshold = %d\n", cfg.Breaker.FailureThreshold)
	fmt.Fprintf(w, "min_success_rate = %g\n", cfg.Breaker.MinSuccessRate)
	fmt.Fprintf(w, "min_samples = %d\n", cfg.Breaker.MinSamples)
	fmt.Fprintf(w, "rate_window = %q\n", cfg.Breaker.RateWindow)
	fmt.Fprintf(w, "cooldown = %q\n", cfg.Breaker.Cooldown)
	fmt.Fprintf(w, "max_cooldown = %q\n", cfg.Breaker.MaxCooldown)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[scheduler]")
	fmt.Fprintf(w, "interval = %q\n", cfg.Scheduler.Interval)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[remote]")
	fmt.Fprintln(w, "# Environment variables: FEEDBOT_BASE_URL, FEEDBOT_COOKIES_FILE")
	fmt.Fprintf(w, "base_url = %q\n", cfg.Remote.BaseURL)
	if cfg.Remote.CookiesFile != "" {
		fmt.Fprintf(w, "cookies_file = %q\n", cfg.Remote.CookiesFile)
	} else {
		fmt.Fprintln(w, "# cookies_file = \"cookies.json\"  # Relative to data_dir")
	}
	fmt.Fprintf(w, "user_agent = %q\n", cfg.Remote.UserAgent)
	fmt.Fprintf(w, "timeout = %q\n", cfg.Remote.Timeout)
	fmt.Fprintf(w, "watch_cookies = %t\n", cfg.Remote.WatchCookies)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[feed]")
	fmt.Fprintln(w, "# Template placeholders: {author}, {caption}")
	fmt.Fprintf(w, "max_posts = %d\n", cfg.Feed.MaxPosts)
	fmt.Fprintf(w, "like_all = %t\n", cfg.Feed.LikeAll)
	fmt.Fprintf(w, "like_keywords = %s\n", quoteList(cfg.Feed.LikeKeywords))
	fmt.Fprintf(w, "comment_keywords = %s\n", quoteList(cfg.Feed.CommentKeywords))
	fmt.Fprintf(w, "comment_template = %q\n", cfg.Feed.CommentTemplate)
	if cfg.Feed.CommentFallback != "" {
		fmt.Fprintf(w, "comment_fallback = %q\n", cfg.Feed.CommentFallback)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[state]")
	if cfg.State.Database != "" {
		fmt.Fprintf(w, "database = %q\n", cfg.State.Database)
	} else {
		fmt.Fprintln(w, "# database = \"feedbot.db\"  # Relative to data_dir")
	}
	fmt.Fprintf(w, "max_interactions_per_conversation = %d\n", cfg.State.MaxInteractions)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[serve]")
	fmt.Fprintln(w, "# Dashboard API; enabled starts it alongside `feedbot run`")
	fmt.Fprintf(w, "enabled = %t\n", cfg.Serve.Enabled)
	fmt.Fprintf(w, "host = %q\n", cfg.Serve.Host)
	fmt.Fprintf(w, "port = %d\n", cfg.Serve.Port)
	fmt.Fprintf(w, "requests_per_second = %g\n", cfg.Serve.RequestsPerSecond)
	fmt.Fprintf(w, "burst = %d\n", cfg.Serve.Burst)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[metrics]")
	if cfg.Metrics.File != "" {
		fmt.Fprintf(w, "file = %q\n", cfg.Metrics.File)
	} else {
		fmt.Fprintln(w, "# file = \"metrics.json\"  # Relative to data_dir")
	}
	fmt.Fprintf(w, "retention = %q\n", cfg.Metrics.Retention)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "[log]")
	fmt.Fprintln(w, "# Environment variable: FEEDBOT_LOG_LEVEL")
	fmt.Fprintf(w, "level = %q\n", cfg.Log.Level)
	fmt.Fprintf(w, "format = %q\n", cfg.Log.Format)
	if cfg.Log.File != "" {
		fmt.Fprintf(w, "file = %q\n", cfg.Log.File)
	} else {
		fmt.Fprintln(w, "# file = \"feedbot.log\"  # Empty logs to stderr")
	}
	if cfg.Log.ErrorFile != "" {
		fmt.Fprintf(w, "error_file = %q\n", cfg.Log.ErrorFile)
	} else {
		fmt.Fprintln(w, "# error_file = \"errors.log\"  # Error records only")
	}
	fmt.Fprintf(w, "max_size_mb = %d\n", cfg.Log.MaxSizeMB)
	fmt.Fprintf(w, "max_backups = %d\n", cfg.Log.MaxBackups)
	fmt.Fprintf(w, "max_age_days = %d\n", cfg.Log.MaxAgeDays)

	return nil
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
