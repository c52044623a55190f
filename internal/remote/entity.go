// Package remote defines the entity model, error taxonomy, and client
// interface for the remote file-storage service. Implementations of Client
// live elsewhere (boxapi for HTTP, remotetest for tests); everything above
// the transport talks to this package only.
package remote

import "fmt"

// ItemCountUnknown indicates the folder's child count was not reported.
const ItemCountUnknown = -1

// Kind discriminates the two entity variants. It is set when the entity is
// constructed and never inferred from which fields happen to be populated.
type Kind int

const (
	KindFolder Kind = iota + 1
	KindFile
)

func (k Kind) String() string {
	switch k {
	case KindFolder:
		return "folder"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Entity is a folder or file known to the remote service. Entities are
// values: a refreshed observation replaces the previous one rather than
// mutating it.
type Entity struct {
	Kind     Kind   `json:"kind"`
	ID       string `json:"id"`
	Name     string `json:"name"`
	ETag     string `json:"etag,omitempty"`      // empty for the synthetic root
	ParentID string `json:"parent_id,omitempty"` // weak reference; empty only for root

	// File variant.
	SHA1 string `json:"sha1,omitempty"`
	Size int64  `json:"size,omitempty"`

	// Folder variant.
	ItemCount int `json:"item_count,omitempty"`
}

// NewFolder builds a folder entity. itemCount may be ItemCountUnknown.
func NewFolder(id, name, etag, parentID string, itemCount int) Entity {
	return Entity{
		Kind:      KindFolder,
		ID:        id,
		Name:      name,
		ETag:      etag,
		ParentID:  parentID,
		ItemCount: itemCount,
	}
}

// NewFile builds a file entity.
func NewFile(id, name, etag, parentID, sha1 string, size int64) Entity {
	return Entity{
		Kind:     KindFile,
		ID:       id,
		Name:     name,
		ETag:     etag,
		ParentID: parentID,
		SHA1:     sha1,
		Size:     size,
	}
}

// IsFolder reports whether the entity is the folder variant.
func (e *Entity) IsFolder() bool { return e.Kind == KindFolder }

// IsFile reports whether the entity is the file variant.
func (e *Entity) IsFile() bool { return e.Kind == KindFile }

// Key is the identity of an entity within one parent.
type Key struct {
	Kind Kind
	ID   string
}

// Key returns the (kind, id) identity of the entity.
func (e *Entity) Key() Key {
	return Key{Kind: e.Kind, ID: e.ID}
}

func (e Entity) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Kind, e.Name, e.ID)
}
