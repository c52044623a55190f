package retry

import (
	"context"
	"fmt"
	"io"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// Client decorates a remote.Client so every call is retried on rate
// limiting, and folder creation additionally adopts conflicting folders.
// Upload bodies must be io.Seeker or io.ReaderAt so a retry can re-read
// them from the start.
type Client struct {
	next   remote.Client
	policy Policy
}

var _ remote.Client = (*Client)(nil)

// Wrap decorates next with policy.
func Wrap(next remote.Client, policy Policy) *Client {
	return &Client{next: next, policy: policy}
}

// Unwrap returns the decorated client.
func (c *Client) Unwrap() remote.Client { return c.next }

func (c *Client) GetFolder(ctx context.Context, id string) (*remote.Entity, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (*remote.Entity, error) {
		return c.next.GetFolder(ctx, id)
	}, RateLimited[*remote.Entity]())
}

type page struct {
	entities []remote.Entity
	next     string
}

func (c *Client) ListChildren(ctx context.Context, folderID, marker string) ([]remote.Entity, string, error) {
	p, err := Do(ctx, c.policy, func(ctx context.Context) (page, error) {
		entities, next, err := c.next.ListChildren(ctx, folderID, marker)
		return page{entities: entities, next: next}, err
	}, RateLimited[page]())

	return p.entities, p.next, err
}

func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*remote.Entity, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (*remote.Entity, error) {
		return c.next.CreateFolder(ctx, parentID, name)
	}, RateLimited[*remote.Entity](), FolderConflict(c.GetFolder))
}

func (c *Client) GetFile(ctx context.Context, id string) (*remote.Entity, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (*remote.Entity, error) {
		return c.next.GetFile(ctx, id)
	}, RateLimited[*remote.Entity]())
}

func (c *Client) ConditionalGet(ctx context.Context, kind remote.Kind, id, etag string) (*remote.Entity, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (*remote.Entity, error) {
		return c.next.ConditionalGet(ctx, kind, id, etag)
	}, RateLimited[*remote.Entity]())
}

func (c *Client) PreflightUpload(ctx context.Context, folderID, name string, size int64) error {
	_, err := Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.next.PreflightUpload(ctx, folderID, name, size)
	}, RateLimited[struct{}]())

	return err
}

func (c *Client) PreflightNewVersion(ctx context.Context, fileID string, size int64) error {
	_, err := Do(ctx, c.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.next.PreflightNewVersion(ctx, fileID, size)
	}, RateLimited[struct{}]())

	return err
}

func (c *Client) UploadSimple(
	ctx context.Context, folderID, name string, content io.Reader, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (*remote.Entity, error) {
		if err := rewind(content); err != nil {
			return nil, err
		}

		return c.next.UploadSimple(ctx, folderID, name, content, attrs)
	}, RateLimited[*remote.Entity]())
}

func (c *Client) UploadChunked(
	ctx context.Context, folderID string, size int64, name string, content io.ReaderAt, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (*remote.Entity, error) {
		return c.next.UploadChunked(ctx, folderID, size, name, content, attrs)
	}, RateLimited[*remote.Entity]())
}

func (c *Client) UploadNewVersion(
	ctx context.Context, fileID string, content io.Reader, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	return Do(ctx, c.policy, func(ctx context.Context) (*remote.Entity, error) {
		if err := rewind(content); err != nil {
			return nil, err
		}

		return c.next.UploadNewVersion(ctx, fileID, content, attrs)
	}, RateLimited[*remote.Entity]())
}

// rewind seeks content back to the start when it supports seeking.
func rewind(content io.Reader) error {
	if s, ok := content.(io.Seeker); ok {
		if _, err := s.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("retry: rewinding upload body: %w", err)
		}
	}

	return nil
}
