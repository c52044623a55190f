package boxapi

import (
	"bytes"
	"context"
	"crypto/sha1" //nolint:gosec // the service's content digest is SHA-1
	"encoding/base64"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// maxCommitPolls bounds how many times a commit answered with 202 (parts
// still being processed) is re-sent.
const maxCommitPolls = 10

// defaultCommitDelay is used when a 202 commit carries no Retry-After.
const defaultCommitDelay = 1 * time.Second

// UploadSimple uploads content in one multipart request.
func (c *Client) UploadSimple(
	ctx context.Context, folderID, name string, content io.Reader, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	c.logger.Info("simple upload",
		slog.String("folder_id", folderID),
		slog.String("name", name),
	)

	meta := attributesFor(attrs)
	meta.Name = name
	meta.Parent = &parentRef{ID: folderID}

	return c.uploadMultipart(ctx, c.uploadURL+"/files/content", meta, name, content, attrs.SHA1)
}

// UploadNewVersion replaces the content of fileID.
func (c *Client) UploadNewVersion(
	ctx context.Context, fileID string, content io.Reader, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	c.logger.Info("uploading new version",
		slog.String("file_id", fileID),
	)

	u := fmt.Sprintf("%s/files/%s/content", c.uploadURL, url.PathEscape(fileID))

	return c.uploadMultipart(ctx, u, attributesFor(attrs), "content", content, attrs.SHA1)
}

// uploadMultipart streams an attributes part followed by the file part.
// The attributes part must precede the content.
func (c *Client) uploadMultipart(
	ctx context.Context, u string, meta uploadAttributes, filename string, content io.Reader, sha1Hex string,
) (*remote.Entity, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("boxapi: marshaling upload attributes: %w", err)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeMultipart(mw, metaJSON, filename, content))
	}()

	defer pr.Close()

	var header http.Header
	if sha1Hex != "" {
		header = http.Header{"Content-MD5": {sha1Hex}}
	}

	q := url.Values{"fields": {itemFields}}

	var coll collectionResponse
	if err := c.doJSON(ctx, request{
		method:      http.MethodPost,
		url:         u + "?" + q.Encode(),
		body:        pr,
		contentType: mw.FormDataContentType(),
		header:      header,
	}, &coll); err != nil {
		return nil, err
	}

	return firstEntry(coll)
}

func writeMultipart(mw *multipart.Writer, metaJSON []byte, filename string, content io.Reader) error {
	if err := mw.WriteField("attributes", string(metaJSON)); err != nil {
		return fmt.Errorf("boxapi: writing attributes part: %w", err)
	}

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("boxapi: creating file part: %w", err)
	}

	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("boxapi: writing file part: %w", err)
	}

	return mw.Close()
}

// UploadChunked uploads content through an upload session: the file is
// sent in parts of the size the service chooses, then committed with the
// whole-file digest. The session is aborted if any step fails.
func (c *Client) UploadChunked(
	ctx context.Context, folderID string, size int64, name string, content io.ReaderAt, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	c.logger.Info("creating upload session",
		slog.String("folder_id", folderID),
		slog.String("name", name),
		slog.Int64("size", size),
	)

	session, err := c.createSession(ctx, folderID, name, size)
	if err != nil {
		return nil, err
	}

	e, err := c.uploadSession(ctx, session, size, content, attrs)
	if err != nil {
		c.abortSession(session.ID)
		return nil, err
	}

	return e, nil
}

func (c *Client) createSession(ctx context.Context, folderID, name string, size int64) (*sessionResponse, error) {
	body, err := json.Marshal(createSessionRequest{FolderID: folderID, FileSize: size, FileName: name})
	if err != nil {
		return nil, fmt.Errorf("boxapi: marshaling upload session request: %w", err)
	}

	var s sessionResponse
	if err := c.doJSON(ctx, request{
		method:      http.MethodPost,
		url:         c.uploadURL + "/files/upload_sessions",
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}, &s); err != nil {
		return nil, err
	}

	if s.ID == "" || s.PartSize <= 0 {
		return nil, fmt.Errorf("boxapi: invalid upload session (id %q, part size %d)", s.ID, s.PartSize)
	}

	return &s, nil
}

func (c *Client) uploadSession(
	ctx context.Context, s *sessionResponse, size int64, content io.ReaderAt, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	whole := sha1.New() //nolint:gosec // service digest
	buf := make([]byte, s.PartSize)
	parts := make([]uploadPart, 0, s.TotalParts)

	for offset := int64(0); offset < size; {
		n := min(s.PartSize, size-offset)
		chunk := buf[:n]

		if _, err := content.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, fmt.Errorf("boxapi: reading part at offset %d: %w", offset, err)
		}

		whole.Write(chunk)

		part, err := c.uploadPart(ctx, s.ID, chunk, offset, size)
		if err != nil {
			return nil, err
		}

		parts = append(parts, part)
		offset += n
	}

	return c.commitSession(ctx, s.ID, parts, whole, attrs)
}

func (c *Client) uploadPart(ctx context.Context, sessionID string, chunk []byte, offset, total int64) (uploadPart, error) {
	c.logger.Debug("uploading part",
		slog.String("session_id", sessionID),
		slog.Int64("offset", offset),
		slog.Int("length", len(chunk)),
		slog.Int64("total", total),
	)

	sum := sha1.Sum(chunk) //nolint:gosec // service digest

	var pr partResponse
	if err := c.doJSON(ctx, request{
		method:      http.MethodPut,
		url:         c.uploadURL + "/files/upload_sessions/" + url.PathEscape(sessionID),
		body:        bytes.NewReader(chunk),
		contentType: "application/octet-stream",
		header: http.Header{
			"Content-Range": {fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total)},
			"Digest":        {"sha=" + base64.StdEncoding.EncodeToString(sum[:])},
		},
	}, &pr); err != nil {
		return uploadPart{}, err
	}

	return pr.Part, nil
}

func (c *Client) commitSession(
	ctx context.Context, sessionID string, parts []uploadPart, whole hash.Hash, attrs remote.UploadAttrs,
) (*remote.Entity, error) {
	body, err := json.Marshal(commitRequest{Parts: parts, Attributes: attributesFor(attrs)})
	if err != nil {
		return nil, fmt.Errorf("boxapi: marshaling commit request: %w", err)
	}

	digest := "sha=" + base64.StdEncoding.EncodeToString(whole.Sum(nil))
	u := c.uploadURL + "/files/upload_sessions/" + url.PathEscape(sessionID) + "/commit"

	for poll := 0; ; poll++ {
		resp, err := c.do(ctx, request{
			method:      http.MethodPost,
			url:         u,
			body:        bytes.NewReader(body),
			contentType: "application/json",
			header:      http.Header{"Digest": {digest}},
		})
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusAccepted {
			var coll collectionResponse

			decErr := json.NewDecoder(resp.Body).Decode(&coll)
			resp.Body.Close()

			if decErr != nil {
				return nil, fmt.Errorf("boxapi: decoding commit response: %w", decErr)
			}

			return firstEntry(coll)
		}

		delay := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()

		if poll+1 >= maxCommitPolls {
			return nil, fmt.Errorf("boxapi: upload session %s not committed after %d polls", sessionID, maxCommitPolls)
		}

		if delay <= 0 {
			delay = defaultCommitDelay
		}

		c.logger.Debug("commit pending, polling",
			slog.String("session_id", sessionID),
			slog.Duration("delay", delay),
		)

		if err := c.sleepFunc(ctx, delay); err != nil {
			return nil, fmt.Errorf("boxapi: commit canceled: %w", err)
		}
	}
}

// abortSession deletes a failed session. It runs on a fresh context so a
// canceled upload still releases the server-side session.
func (c *Client) abortSession(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := c.do(ctx, request{
		method: http.MethodDelete,
		url:    c.uploadURL + "/files/upload_sessions/" + url.PathEscape(sessionID),
	})
	if err != nil {
		c.logger.Warn("failed to abort upload session",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)

		return
	}

	resp.Body.Close()
}

func attributesFor(attrs remote.UploadAttrs) uploadAttributes {
	var meta uploadAttributes

	if !attrs.CreatedAt.IsZero() {
		meta.ContentCreatedAt = attrs.CreatedAt.UTC().Format(time.RFC3339)
	}

	if !attrs.ModifiedAt.IsZero() {
		meta.ContentModifiedAt = attrs.ModifiedAt.UTC().Format(time.RFC3339)
	}

	return meta
}

func firstEntry(coll collectionResponse) (*remote.Entity, error) {
	if len(coll.Entries) == 0 {
		return nil, fmt.Errorf("boxapi: upload response has no entries")
	}

	e, err := coll.Entries[0].toEntity()
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
