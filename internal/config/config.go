// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for carp-streamer. Values resolve
// through four layers: defaults -> config file -> environment -> CLI flags.
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	Remote  RemoteConfig  `toml:"remote"`
	Sync    SyncConfig    `toml:"sync"`
	Cache   CacheConfig   `toml:"cache"`
	Retry   RetryConfig   `toml:"retry"`
	Upload  UploadConfig  `toml:"upload"`
	Logging LoggingConfig `toml:"logging"`
	Metrics MetricsConfig `toml:"metrics"`
}

// RemoteConfig locates the content API and the credentials used with it.
type RemoteConfig struct {
	APIURL       string `toml:"api_url"`
	UploadURL    string `toml:"upload_url"`
	TokenFile    string `toml:"token_file"`
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	Timeout      string `toml:"timeout"`
}

// SyncConfig controls the synchronizer: worker count, excluded prefixes,
// dry-run mode and the watch-mode debounce.
type SyncConfig struct {
	Concurrency int      `toml:"concurrency"`
	Excludes    []string `toml:"excludes"`
	DryRun      bool     `toml:"dry_run"`
	Debounce    string   `toml:"debounce"`
}

// CacheConfig controls the remote path cache and its snapshot file. The
// snapshot backend is chosen by file extension (.db/.sqlite, .bolt, or
// anything else for JSON). An empty file disables persistence.
type CacheConfig struct {
	File       string `toml:"file"`
	MaxEntries int    `toml:"max_entries"`
	MaxAge     string `toml:"max_age"`
	Revalidate bool   `toml:"revalidate"`
}

// RetryConfig bounds retries of rate-limited and conflicting calls.
type RetryConfig struct {
	MaxAttempts int    `toml:"max_attempts"`
	Jitter      string `toml:"jitter"`
}

// UploadConfig selects between single-request and chunked uploads.
type UploadConfig struct {
	ChunkThreshold string `toml:"chunk_threshold"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// MetricsConfig controls the Prometheus endpoint. An empty addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath      string   // --config flag (empty = use default)
	DryRun          *bool    // --dry-run
	Concurrency     *int     // --concurrency
	Excludes        []string // --exclude, appended to the configured list
	CacheFile       *string  // --cache-file
	CacheMaxEntries *int     // --cache-max-entries
	CacheMaxAge     *string  // --cache-max-age
	Revalidate      *bool    // --revalidate
	MetricsAddr     *string  // --metrics-addr
	LogLevel        *string  // derived from --verbose / --quiet
}

// Resolved is a validated configuration with every string-typed setting
// parsed into its runtime form.
type Resolved struct {
	Config

	// ConfigPath is the file the configuration was read from, if any.
	ConfigPath string

	// AccessToken is a fixed bearer token from the environment. When set
	// it takes precedence over the token file.
	AccessToken string

	Timeout        time.Duration
	Debounce       time.Duration
	CacheMaxAge    time.Duration
	RetryJitter    time.Duration
	ChunkThreshold int64
}
