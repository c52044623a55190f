package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Validation range constants.
const (
	minConcurrency = 1
	maxConcurrency = 64
	minMaxAttempts = 1
	maxMaxAttempts = 20
	minTimeout     = 1 * time.Second
	minDebounce    = 10 * time.Millisecond
	minChunkBytes  = 20_000_000 // service minimum for upload sessions
)

// Validate checks all configuration values and returns all errors found,
// so a user can fix every issue in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateRemote(&cfg.Remote)...)
	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateRetry(&cfg.Retry)...)
	errs = append(errs, validateUpload(&cfg.Upload)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateRemote(r *RemoteConfig) []error {
	var errs []error

	for field, v := range map[string]string{"remote.api_url": r.APIURL, "remote.upload_url": r.UploadURL} {
		if v == "" {
			continue
		}

		if u, err := url.Parse(v); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: must be an absolute URL, got %q", field, v))
		}
	}

	if (r.ClientID == "") != (r.ClientSecret == "") {
		errs = append(errs, errors.New("remote: client_id and client_secret must be set together"))
	}

	errs = append(errs, validateDurationMin("remote.timeout", r.Timeout, minTimeout)...)

	return errs
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if s.Concurrency < minConcurrency || s.Concurrency > maxConcurrency {
		errs = append(errs, fmt.Errorf("sync.concurrency: must be between %d and %d, got %d",
			minConcurrency, maxConcurrency, s.Concurrency))
	}

	errs = append(errs, validateDurationMin("sync.debounce", s.Debounce, minDebounce)...)

	return errs
}

func validateCache(c *CacheConfig) []error {
	var errs []error

	if c.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("cache.max_entries: must be >= 1, got %d", c.MaxEntries))
	}

	errs = append(errs, validateDurationNonNeg("cache.max_age", c.MaxAge)...)

	return errs
}

func validateRetry(r *RetryConfig) []error {
	var errs []error

	if r.MaxAttempts < minMaxAttempts || r.MaxAttempts > maxMaxAttempts {
		errs = append(errs, fmt.Errorf("retry.max_attempts: must be between %d and %d, got %d",
			minMaxAttempts, maxMaxAttempts, r.MaxAttempts))
	}

	errs = append(errs, validateDurationNonNeg("retry.jitter", r.Jitter)...)

	return errs
}

func validateUpload(u *UploadConfig) []error {
	n, err := ParseSize(u.ChunkThreshold)
	if err != nil {
		return []error{fmt.Errorf("upload.chunk_threshold: %w", err)}
	}

	if n < minChunkBytes {
		return []error{fmt.Errorf("upload.chunk_threshold: must be >= %d bytes, got %d", minChunkBytes, n)}
	}

	return nil
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := parseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)
	}

	return nil
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	if err := validateDuration(field, value, minimum); err != nil {
		return []error{err}
	}

	return nil
}

func validateDurationNonNeg(field, value string) []error {
	return validateDurationMin(field, value, 0)
}

// parseDuration is time.ParseDuration that also accepts "0" and "".
func parseDuration(value string) (time.Duration, error) {
	if value == "" || value == "0" {
		return 0, nil
	}

	return time.ParseDuration(value)
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)
	errs = append(errs, validateLogFormat(l.LogFormat)...)

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("logging.log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogFormat(format string) []error {
	if !validLogFormats[format] {
		return []error{fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", format)}
	}

	return nil
}
