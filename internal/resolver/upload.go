package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// Content is an upload body. Both upload paths need to re-read it from
// the start on retry: simple uploads seek, chunked uploads read by offset.
type Content interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// UploadFile uploads content as a new file named name in folder (the
// root when folder is nil). When preflight reports that a file already
// holds the name, the upload becomes a new version of that file instead.
func (r *Resolver) UploadFile(
	ctx context.Context, name string, content Content, info fs.FileInfo, folder *remote.Entity,
) (*remote.Entity, error) {
	if folder == nil {
		root := r.root
		folder = &root
	}

	if err := ValidateName(name); err != nil {
		return nil, err
	}

	size := info.Size()

	if err := r.client.PreflightUpload(ctx, folder.ID, name, size); err != nil {
		existing := remote.ConflictOf(err)
		if errors.Is(err, remote.ErrConflict) && existing != nil && existing.IsFile() {
			r.logger.Debug("preflight found existing file, uploading new version",
				slog.String("name", name),
				slog.String("file_id", existing.ID),
			)

			return r.UploadNewFileVersion(ctx, existing, content, info)
		}

		return nil, fmt.Errorf("resolver: preflight for %q in %s: %w", name, folder.ID, err)
	}

	attrs := uploadAttrs(info)

	var (
		uploaded *remote.Entity
		err      error
	)

	if size > r.chunkThreshold {
		uploaded, err = r.client.UploadChunked(ctx, folder.ID, size, name, content, attrs)
	} else {
		uploaded, err = r.client.UploadSimple(ctx, folder.ID, name, content, attrs)
	}

	if err != nil {
		return nil, fmt.Errorf("resolver: uploading %q to %s: %w", name, folder.ID, err)
	}

	r.cache.Put(folder.ID, *uploaded)

	r.logger.Debug("uploaded file",
		slog.String("name", name),
		slog.String("id", uploaded.ID),
		slog.Int64("size", size),
		slog.Bool("chunked", size > r.chunkThreshold),
	)

	return uploaded, nil
}

// UploadNewFileVersion replaces the content of an existing file. The size
// is preflighted first so a refusal costs no body transfer.
func (r *Resolver) UploadNewFileVersion(
	ctx context.Context, file *remote.Entity, content Content, info fs.FileInfo,
) (*remote.Entity, error) {
	if err := r.client.PreflightNewVersion(ctx, file.ID, info.Size()); err != nil {
		return nil, fmt.Errorf("resolver: preflight for new version of %s: %w", file.ID, err)
	}

	uploaded, err := r.client.UploadNewVersion(ctx, file.ID, content, uploadAttrs(info))
	if err != nil {
		return nil, fmt.Errorf("resolver: uploading new version of %s: %w", file.ID, err)
	}

	parentID := uploaded.ParentID
	if parentID == "" {
		parentID = file.ParentID
	}

	if parentID != "" {
		r.cache.Put(parentID, *uploaded)
	}

	r.logger.Debug("uploaded new version",
		slog.String("name", file.Name),
		slog.String("id", uploaded.ID),
		slog.Int64("size", info.Size()),
	)

	return uploaded, nil
}

func uploadAttrs(info fs.FileInfo) remote.UploadAttrs {
	return remote.UploadAttrs{ModifiedAt: info.ModTime()}
}
