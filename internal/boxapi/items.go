package boxapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// listPageSize is the limit sent with folder listings. 1000 is the
// service maximum for marker pagination.
const listPageSize = 1000

func (c *Client) itemURL(kind remote.Kind, id string) string {
	collection := "files"
	if kind == remote.KindFolder {
		collection = "folders"
	}

	q := url.Values{"fields": {itemFields}}

	return fmt.Sprintf("%s/%s/%s?%s", c.apiURL, collection, url.PathEscape(id), q.Encode())
}

// fetch reads one item and checks it is of the requested kind.
func (c *Client) fetch(ctx context.Context, kind remote.Kind, id string, header http.Header) (*remote.Entity, error) {
	var ir itemResponse
	if err := c.doJSON(ctx, request{method: http.MethodGet, url: c.itemURL(kind, id), header: header}, &ir); err != nil {
		return nil, err
	}

	e, err := ir.toEntity()
	if err != nil {
		return nil, err
	}

	if e.Kind != kind {
		return nil, fmt.Errorf("%w: want %s, got %s (id %s)", ErrUnexpectedType, kind, e.Kind, id)
	}

	return &e, nil
}

// GetFolder fetches folder metadata.
func (c *Client) GetFolder(ctx context.Context, id string) (*remote.Entity, error) {
	return c.fetch(ctx, remote.KindFolder, id, nil)
}

// GetFile fetches file metadata.
func (c *Client) GetFile(ctx context.Context, id string) (*remote.Entity, error) {
	return c.fetch(ctx, remote.KindFile, id, nil)
}

// ConditionalGet fetches an entity with If-None-Match. A 304 surfaces as an
// APIError wrapping remote.ErrNotModified.
func (c *Client) ConditionalGet(ctx context.Context, kind remote.Kind, id, etag string) (*remote.Entity, error) {
	var header http.Header
	if etag != "" {
		header = http.Header{"If-None-Match": {etag}}
	}

	return c.fetch(ctx, kind, id, header)
}

// ListChildren returns one page of a folder's children using marker
// pagination.
func (c *Client) ListChildren(ctx context.Context, folderID, marker string) ([]remote.Entity, string, error) {
	q := url.Values{
		"fields":    {itemFields},
		"usemarker": {"true"},
		"limit":     {strconv.Itoa(c.pageSize)},
	}

	if marker != "" {
		q.Set("marker", marker)
	}

	u := fmt.Sprintf("%s/folders/%s/items?%s", c.apiURL, url.PathEscape(folderID), q.Encode())

	var page listResponse
	if err := c.doJSON(ctx, request{method: http.MethodGet, url: u}, &page); err != nil {
		return nil, "", err
	}

	entities := make([]remote.Entity, 0, len(page.Entries))

	for i := range page.Entries {
		e, err := page.Entries[i].toEntity()
		if err != nil {
			// Web links and other item types are not part of the tree.
			c.logger.Debug("skipping listed item",
				slog.String("folder_id", folderID),
				slog.String("type", page.Entries[i].Type),
				slog.String("id", page.Entries[i].ID),
			)

			continue
		}

		if e.ParentID == "" {
			e.ParentID = folderID
		}

		entities = append(entities, e)
	}

	c.logger.Debug("listed folder page",
		slog.String("folder_id", folderID),
		slog.Int("count", len(entities)),
		slog.Bool("more", page.NextMarker != ""),
	)

	return entities, page.NextMarker, nil
}

// CreateFolder creates a folder under parentID.
func (c *Client) CreateFolder(ctx context.Context, parentID, name string) (*remote.Entity, error) {
	c.logger.Info("creating folder",
		slog.String("parent_id", parentID),
		slog.String("name", name),
	)

	body, err := json.Marshal(createFolderRequest{Name: name, Parent: parentRef{ID: parentID}})
	if err != nil {
		return nil, fmt.Errorf("boxapi: marshaling create folder request: %w", err)
	}

	q := url.Values{"fields": {itemFields}}
	req := request{
		method:      http.MethodPost,
		url:         c.apiURL + "/folders?" + q.Encode(),
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}

	var ir itemResponse
	if err := c.doJSON(ctx, req, &ir); err != nil {
		return nil, err
	}

	e, err := ir.toEntity()
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// PreflightUpload asks the service whether an upload of name and size into
// folderID would be accepted.
func (c *Client) PreflightUpload(ctx context.Context, folderID, name string, size int64) error {
	body, err := json.Marshal(preflightRequest{Name: name, Parent: parentRef{ID: folderID}, Size: size})
	if err != nil {
		return fmt.Errorf("boxapi: marshaling preflight request: %w", err)
	}

	return c.doJSON(ctx, request{
		method:      http.MethodOptions,
		url:         c.apiURL + "/files/content",
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}, nil)
}

// PreflightNewVersion asks whether fileID may take a new version of size
// bytes.
func (c *Client) PreflightNewVersion(ctx context.Context, fileID string, size int64) error {
	body, err := json.Marshal(versionPreflightRequest{Size: size})
	if err != nil {
		return fmt.Errorf("boxapi: marshaling version preflight request: %w", err)
	}

	return c.doJSON(ctx, request{
		method:      http.MethodOptions,
		url:         fmt.Sprintf("%s/files/%s/content", c.apiURL, url.PathEscape(fileID)),
		body:        bytes.NewReader(body),
		contentType: "application/json",
	}, nil)
}
