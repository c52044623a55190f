package boxapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"golang.org/x/oauth2"
)

// Token file permissions.
const (
	TokenFilePerms = 0o600
	TokenDirPerms  = 0o700
)

// Default OAuth2 endpoint of the service.
var defaultEndpoint = oauth2.Endpoint{
	AuthURL:  "https://account.box.com/api/oauth2/authorize",
	TokenURL: "https://api.box.com/oauth2/token",
}

// ErrNotLoggedIn is returned when no saved token exists.
var ErrNotLoggedIn = errors.New("boxapi: not logged in")

// OAuthConfig identifies the OAuth2 application used for token refresh.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string // empty selects the service default
}

// tokenFile is the on-disk format of a saved token.
type tokenFile struct {
	Token *oauth2.Token `json:"token"`
}

// LoadToken reads a saved token. Returns (nil, nil) if the file does not
// exist.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("boxapi: reading token %s: %w", path, err)
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("boxapi: decoding token %s: %w", path, err)
	}

	if tf.Token == nil {
		return nil, fmt.Errorf("boxapi: %s missing token field", path)
	}

	return tf.Token, nil
}

// SaveToken writes a token file atomically (write-to-temp + rename) with
// 0600 permissions. Never logs token values.
func SaveToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tokenFile{Token: tok}, "", "  ")
	if err != nil {
		return fmt.Errorf("boxapi: encoding token: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, TokenDirPerms); err != nil {
		return fmt.Errorf("boxapi: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("boxapi: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, TokenFilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("boxapi: setting token permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("boxapi: writing token: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("boxapi: syncing token: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("boxapi: closing token: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("boxapi: renaming token: %w", err)
	}

	success = true

	return nil
}

// StaticToken is a TokenSource for a fixed access token, e.g. a developer
// token taken from the environment.
type StaticToken string

// Token implements TokenSource.
func (t StaticToken) Token() (string, error) {
	if t == "" {
		return "", ErrNotLoggedIn
	}

	return string(t), nil
}

// TokenSourceFromPath loads a saved token and returns a TokenSource that
// refreshes it when expired and persists every refreshed token back to
// tokenPath.
//
// ctx must outlive the TokenSource: it is bound to refresh requests.
func TokenSourceFromPath(ctx context.Context, tokenPath string, cfg OAuthConfig, logger *slog.Logger) (TokenSource, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tok, err := LoadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	if tok == nil {
		return nil, ErrNotLoggedIn
	}

	expired := !tok.Expiry.IsZero() && tok.Expiry.Before(time.Now())
	logger.Info("loaded saved token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tok.Expiry),
		slog.Bool("expired", expired),
	)

	src := oauthConfig(cfg).TokenSource(ctx, tok)

	return &tokenBridge{
		src:    src,
		path:   tokenPath,
		last:   tok.AccessToken,
		logger: logger,
	}, nil
}

func oauthConfig(cfg OAuthConfig) *oauth2.Config {
	endpoint := defaultEndpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	return &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
	}
}

// tokenBridge adapts oauth2.TokenSource to TokenSource and saves the token
// whenever the underlying source hands out a new one.
type tokenBridge struct {
	src    oauth2.TokenSource
	path   string
	logger *slog.Logger

	mu   stdsync.Mutex
	last string
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))
		return "", fmt.Errorf("boxapi: obtaining token: %w", err)
	}

	b.mu.Lock()
	changed := t.AccessToken != b.last
	b.last = t.AccessToken
	b.mu.Unlock()

	if changed {
		b.logger.Info("token refreshed",
			slog.String("path", b.path),
			slog.Time("new_expiry", t.Expiry),
		)

		if err := SaveToken(b.path, t); err != nil {
			b.logger.Warn("failed to persist refreshed token",
				slog.String("path", b.path),
				slog.String("error", err.Error()),
			)
		}
	}

	return t.AccessToken, nil
}
