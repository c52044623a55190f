package config

import "path/filepath"

// Default values for configuration options. These are "layer 0" of the
// override chain.
const (
	defaultTimeout        = "60s"
	defaultConcurrency    = 10
	defaultDebounce       = "2s"
	defaultMaxEntries     = 10_000
	defaultMaxAge         = "0"
	defaultMaxAttempts    = 5
	defaultJitter         = "1s"
	defaultChunkThreshold = "20MB"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
	defaultCacheFileName  = "pathcache.db"
	defaultTokenFileName  = "token.json"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding so unset fields keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			TokenFile: DefaultTokenPath(),
			Timeout:   defaultTimeout,
		},
		Sync: SyncConfig{
			Concurrency: defaultConcurrency,
			Debounce:    defaultDebounce,
		},
		Cache: CacheConfig{
			File:       DefaultCachePath(),
			MaxEntries: defaultMaxEntries,
			MaxAge:     defaultMaxAge,
		},
		Retry: RetryConfig{
			MaxAttempts: defaultMaxAttempts,
			Jitter:      defaultJitter,
		},
		Upload: UploadConfig{
			ChunkThreshold: defaultChunkThreshold,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}

// DefaultTokenPath is the saved OAuth token location.
func DefaultTokenPath() string {
	dir := DefaultDataDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, defaultTokenFileName)
}

// DefaultCachePath is the path cache snapshot location.
func DefaultCachePath() string {
	dir := DefaultCacheDir()
	if dir == "" {
		return ""
	}

	return filepath.Join(dir, defaultCacheFileName)
}
