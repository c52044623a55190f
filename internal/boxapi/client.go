// Package boxapi is an HTTP client for a Box-style content API (v2.0
// shape: folders, files, marker pagination, upload sessions). It performs
// exactly one HTTP exchange per call; retries live in the retry package.
package boxapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// Default service endpoints.
const (
	DefaultAPIURL    = "https://api.box.com/2.0"
	DefaultUploadURL = "https://upload.box.com/api/2.0"

	userAgent = "carp-streamer/0.1"
)

// TokenSource provides OAuth2 bearer tokens.
type TokenSource interface {
	Token() (string, error)
}

// Client talks to the content API. It implements remote.Client.
type Client struct {
	apiURL     string
	uploadURL  string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger

	// pageSize is the limit sent with folder listings.
	pageSize int

	// sleepFunc waits between upload commit polls. Tests override it.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

var _ remote.Client = (*Client)(nil)

// NewClient creates an API client. Empty URLs select the public defaults.
func NewClient(apiURL, uploadURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	if apiURL == "" {
		apiURL = DefaultAPIURL
	}

	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}

	return &Client{
		apiURL:     strings.TrimRight(apiURL, "/"),
		uploadURL:  strings.TrimRight(uploadURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     logger,
		pageSize:   listPageSize,
		sleepFunc:  timeSleep,
	}
}

// request describes one HTTP exchange.
type request struct {
	method      string
	url         string
	body        io.Reader
	contentType string
	header      http.Header
}

// do executes req once. 2xx responses are returned for the caller to
// decode and close; anything else is converted into a *remote.APIError.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.method, req.url, req.body)
	if err != nil {
		return nil, fmt.Errorf("boxapi: creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("boxapi: obtaining token: %w", err)
	}

	httpReq.Header.Set("Authorization", "Bearer "+tok)
	httpReq.Header.Set("User-Agent", userAgent)

	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	for k, vs := range req.header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("boxapi: request canceled: %w", ctx.Err())
		}

		return nil, fmt.Errorf("boxapi: %s %s: %w", req.method, req.url, err)
	}

	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", req.method),
			slog.String("url", req.url),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	defer resp.Body.Close()

	apiErr := parseError(resp)

	c.logger.Debug("request failed",
		slog.String("method", req.method),
		slog.String("url", req.url),
		slog.Int("status", resp.StatusCode),
		slog.String("code", apiErr.Code),
	)

	return nil, apiErr
}

// doJSON executes req and decodes a JSON response body into out.
func (c *Client) doJSON(ctx context.Context, req request, out any) error {
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("boxapi: decoding %s %s response: %w", req.method, req.url, err)
	}

	return nil
}

// errorResponse is the service's error payload.
type errorResponse struct {
	Type        string          `json:"type"`
	Status      int             `json:"status"`
	Code        string          `json:"code"`
	Message     string          `json:"message"`
	RequestID   string          `json:"request_id"`
	ContextInfo json.RawMessage `json:"context_info"`
}

// conflictInfo covers both shapes the service uses for name collisions:
// a single object (upload preflight) or a list (folder creation).
type conflictInfo struct {
	Conflicts json.RawMessage `json:"conflicts"`
}

// parseError converts a non-2xx response into an APIError, including the
// conflicting entity and retry hint when present.
func parseError(resp *http.Response) *remote.APIError {
	apiErr := remote.NewAPIError(resp.StatusCode, http.StatusText(resp.StatusCode))
	apiErr.RequestID = resp.Header.Get("box-request-id")
	apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))

	if apiErr.Err == nil {
		apiErr.Err = fmt.Errorf("boxapi: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil || len(body) == 0 {
		return apiErr
	}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		apiErr.Message = strings.TrimSpace(string(body))
		return apiErr
	}

	apiErr.Code = er.Code

	if er.Message != "" {
		apiErr.Message = er.Message
	}

	if er.RequestID != "" {
		apiErr.RequestID = er.RequestID
	}

	apiErr.Conflict = parseConflict(er.ContextInfo)

	return apiErr
}

func parseConflict(raw json.RawMessage) *remote.Entity {
	if len(raw) == 0 {
		return nil
	}

	var info conflictInfo
	if err := json.Unmarshal(raw, &info); err != nil || len(info.Conflicts) == 0 {
		return nil
	}

	var one itemResponse
	if err := json.Unmarshal(info.Conflicts, &one); err == nil && one.ID != "" {
		if e, err := one.toEntity(); err == nil {
			return &e
		}

		return nil
	}

	var many []itemResponse
	if err := json.Unmarshal(info.Conflicts, &many); err == nil && len(many) > 0 {
		if e, err := many[0].toEntity(); err == nil {
			return &e
		}
	}

	return nil
}

// parseRetryAfter accepts delay-seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}

	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}

		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}

	return 0
}

// ErrUnexpectedType is returned when the service answers with an entity of
// a different kind than the one requested.
var ErrUnexpectedType = errors.New("boxapi: unexpected item type")
