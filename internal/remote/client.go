package remote

import (
	"context"
	"io"
	"time"
)

// UploadAttrs carries the local file attributes sent alongside content.
type UploadAttrs struct {
	ModifiedAt time.Time
	CreatedAt  time.Time
	SHA1       string // hex content digest; empty when unknown
}

// Client is the remote API consumed by the resolver. Defined at the
// consumer so the HTTP transport, the retry decorator, and test fakes all
// satisfy the same surface.
type Client interface {
	// GetFolder fetches folder metadata. ErrNotFound if absent.
	GetFolder(ctx context.Context, id string) (*Entity, error)

	// ListChildren returns one page of a folder's children. An empty next
	// marker means the listing is exhausted.
	ListChildren(ctx context.Context, folderID, marker string) ([]Entity, string, error)

	// CreateFolder creates a folder. A name collision fails with an
	// APIError wrapping ErrConflict, naming the existing entity when known.
	CreateFolder(ctx context.Context, parentID, name string) (*Entity, error)

	// GetFile fetches file metadata. ErrNotFound if absent.
	GetFile(ctx context.Context, id string) (*Entity, error)

	// ConditionalGet fetches an entity unless it still carries etag, in
	// which case it returns ErrNotModified.
	ConditionalGet(ctx context.Context, kind Kind, id, etag string) (*Entity, error)

	// PreflightUpload validates an upload before content is sent. A name
	// collision fails with ErrConflict naming the existing file.
	PreflightUpload(ctx context.Context, folderID, name string, size int64) error

	// PreflightNewVersion validates replacing fileID's content with size
	// bytes, so a quota or permission refusal arrives before the body.
	PreflightNewVersion(ctx context.Context, fileID string, size int64) error

	// UploadSimple uploads content in a single request.
	UploadSimple(ctx context.Context, folderID, name string, content io.Reader, attrs UploadAttrs) (*Entity, error)

	// UploadChunked uploads content through a resumable session.
	UploadChunked(
		ctx context.Context, folderID string, size int64, name string, content io.ReaderAt, attrs UploadAttrs,
	) (*Entity, error)

	// UploadNewVersion replaces the content of an existing file.
	UploadNewVersion(ctx context.Context, fileID string, content io.Reader, attrs UploadAttrs) (*Entity, error)
}
