package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal, with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns
// a Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// The result is validated and parsed.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	// An explicitly named config file must exist.
	var (
		cfg *Config
		err error
	)

	if cli.ConfigPath != "" || env.ConfigPath != "" {
		cfg, err = Load(cfgPath)
	} else {
		cfg, err = LoadOrDefault(cfgPath)
	}

	if err != nil {
		return nil, err
	}

	if env.TokenFile != "" {
		cfg.Remote.TokenFile = env.TokenFile
	}

	applyCLI(cfg, cli)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return parse(cfg, cfgPath, env.AccessToken)
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.DryRun != nil {
		cfg.Sync.DryRun = *cli.DryRun
	}

	if cli.Concurrency != nil {
		cfg.Sync.Concurrency = *cli.Concurrency
	}

	cfg.Sync.Excludes = append(cfg.Sync.Excludes, cli.Excludes...)

	if cli.CacheFile != nil {
		cfg.Cache.File = *cli.CacheFile
	}

	if cli.CacheMaxEntries != nil {
		cfg.Cache.MaxEntries = *cli.CacheMaxEntries
	}

	if cli.CacheMaxAge != nil {
		cfg.Cache.MaxAge = *cli.CacheMaxAge
	}

	if cli.Revalidate != nil {
		cfg.Cache.Revalidate = *cli.Revalidate
	}

	if cli.MetricsAddr != nil {
		cfg.Metrics.Addr = *cli.MetricsAddr
	}

	if cli.LogLevel != nil {
		cfg.Logging.LogLevel = *cli.LogLevel
	}
}

// parse converts validated string settings into runtime values.
func parse(cfg *Config, cfgPath, accessToken string) (*Resolved, error) {
	r := &Resolved{Config: *cfg, ConfigPath: cfgPath, AccessToken: accessToken}

	var errs []error

	parseInto := func(dst *time.Duration, field, value string) {
		d, err := parseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}

		*dst = d
	}

	parseInto(&r.Timeout, "remote.timeout", cfg.Remote.Timeout)
	parseInto(&r.Debounce, "sync.debounce", cfg.Sync.Debounce)
	parseInto(&r.CacheMaxAge, "cache.max_age", cfg.Cache.MaxAge)
	parseInto(&r.RetryJitter, "retry.jitter", cfg.Retry.Jitter)

	n, err := ParseSize(cfg.Upload.ChunkThreshold)
	if err != nil {
		errs = append(errs, fmt.Errorf("upload.chunk_threshold: %w", err))
	}

	r.ChunkThreshold = n

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return r, nil
}
