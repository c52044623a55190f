package boxapi

import (
	"fmt"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// Item type discriminants used on the wire.
const (
	typeFolder = "folder"
	typeFile   = "file"
)

// itemFields is requested on every read so etag, sha1 and parent are
// always present.
const itemFields = "type,id,name,etag,sha1,size,parent,item_collection"

// itemResponse mirrors the service's folder/file mini and full objects.
// Unexported: callers use remote.Entity via toEntity.
type itemResponse struct {
	Type           string          `json:"type"`
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	ETag           string          `json:"etag"`
	SHA1           string          `json:"sha1"`
	Size           int64           `json:"size"`
	Parent         *parentRef      `json:"parent"`
	ItemCollection *itemCollection `json:"item_collection"`
}

type parentRef struct {
	ID string `json:"id"`
}

type itemCollection struct {
	TotalCount int `json:"total_count"`
}

// toEntity normalizes a wire item into a remote.Entity. The kind comes
// from the type discriminant, never from which fields happen to be set.
func (r *itemResponse) toEntity() (remote.Entity, error) {
	parentID := ""
	if r.Parent != nil {
		parentID = r.Parent.ID
	}

	switch r.Type {
	case typeFolder:
		count := remote.ItemCountUnknown
		if r.ItemCollection != nil {
			count = r.ItemCollection.TotalCount
		}

		return remote.NewFolder(r.ID, r.Name, r.ETag, parentID, count), nil
	case typeFile:
		return remote.NewFile(r.ID, r.Name, r.ETag, parentID, r.SHA1, r.Size), nil
	default:
		return remote.Entity{}, fmt.Errorf("%w: %q (id %s)", ErrUnexpectedType, r.Type, r.ID)
	}
}

// listResponse is one page of a marker-paginated folder listing.
type listResponse struct {
	Entries    []itemResponse `json:"entries"`
	NextMarker string         `json:"next_marker"`
}

// collectionResponse wraps the entries returned by uploads.
type collectionResponse struct {
	TotalCount int            `json:"total_count"`
	Entries    []itemResponse `json:"entries"`
}

type createFolderRequest struct {
	Name   string    `json:"name"`
	Parent parentRef `json:"parent"`
}

type preflightRequest struct {
	Name   string    `json:"name"`
	Parent parentRef `json:"parent"`
	Size   int64     `json:"size"`
}

// versionPreflightRequest checks only the size of a replacement body.
type versionPreflightRequest struct {
	Size int64 `json:"size"`
}

// uploadAttributes is the "attributes" part of a multipart upload and of
// an upload session commit.
type uploadAttributes struct {
	Name              string     `json:"name,omitempty"`
	Parent            *parentRef `json:"parent,omitempty"`
	ContentCreatedAt  string     `json:"content_created_at,omitempty"`
	ContentModifiedAt string     `json:"content_modified_at,omitempty"`
}

type createSessionRequest struct {
	FolderID string `json:"folder_id"`
	FileSize int64  `json:"file_size"`
	FileName string `json:"file_name"`
}

type sessionResponse struct {
	ID         string `json:"id"`
	PartSize   int64  `json:"part_size"`
	TotalParts int    `json:"total_parts"`
}

// uploadPart identifies one uploaded part for the commit request.
type uploadPart struct {
	PartID string `json:"part_id"`
	Offset int64  `json:"offset"`
	Size   int64  `json:"size"`
	SHA1   string `json:"sha1,omitempty"`
}

type partResponse struct {
	Part uploadPart `json:"part"`
}

type commitRequest struct {
	Parts      []uploadPart     `json:"parts"`
	Attributes uploadAttributes `json:"attributes"`
}
