// Package resolver maps slash-separated paths relative to a remote root
// folder onto remote entities. Lookups consult the path cache first and
// fall back to paginated listings; folder creation is idempotent and
// relies on the client adopting folders created concurrently elsewhere.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/unicode/norm"

	"github.com/naokikimura/carp-streamer/internal/pathcache"
	"github.com/naokikimura/carp-streamer/internal/remote"
)

// DefaultChunkThreshold is the payload size above which uploads switch to
// a chunked session. The service accepts single-request uploads up to
// 50 MB but only opens upload sessions from 20 MB.
const DefaultChunkThreshold int64 = 20 * 1024 * 1024

// ErrInvalidPath is returned for paths that escape the root.
var ErrInvalidPath = errors.New("resolver: invalid path")

// Options configures a Resolver.
type Options struct {
	// Cache holds known folder children. A private cache with default
	// limits is created when nil.
	Cache *pathcache.Cache

	// Revalidate confirms every cache hit with a conditional fetch.
	Revalidate bool

	// ChunkThreshold defaults to DefaultChunkThreshold.
	ChunkThreshold int64

	Logger *slog.Logger
}

// Resolver is safe for concurrent use. Lookup state shared between
// callers lives in the path cache.
type Resolver struct {
	client         remote.Client
	root           remote.Entity
	cache          *pathcache.Cache
	revalidate     bool
	chunkThreshold int64
	logger         *slog.Logger

	listings singleflight.Group

	mu      sync.Mutex
	created map[string]struct{} // folder IDs made by this resolver, not yet claimed
}

// Open fetches the root folder and returns a resolver anchored at it.
// Fails with an error wrapping remote.ErrNotFound if rootID is invalid.
func Open(ctx context.Context, client remote.Client, rootID string, opts Options) (*Resolver, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cache := opts.Cache
	if cache == nil {
		cache = pathcache.New(pathcache.Options{})
	}

	threshold := opts.ChunkThreshold
	if threshold <= 0 {
		threshold = DefaultChunkThreshold
	}

	f, err := client.GetFolder(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("resolver: opening root folder %s: %w", rootID, err)
	}

	// The root is the only entity without a parent or etag.
	root := remote.NewFolder(f.ID, f.Name, "", "", f.ItemCount)

	logger.Debug("resolver opened",
		slog.String("root_id", root.ID),
		slog.String("root_name", root.Name),
		slog.Bool("revalidate", opts.Revalidate),
	)

	return &Resolver{
		client:         client,
		root:           root,
		cache:          cache,
		revalidate:     opts.Revalidate,
		chunkThreshold: threshold,
		logger:         logger,
		created:        make(map[string]struct{}),
	}, nil
}

// Root returns the root folder.
func (r *Resolver) Root() remote.Entity { return r.root }

// Cache returns the path cache backing the resolver.
func (r *Resolver) Cache() *pathcache.Cache { return r.cache }

// FindFolderByPath resolves p to a folder. It returns (nil, nil) when any
// segment is absent. The empty path resolves to the root.
func (r *Resolver) FindFolderByPath(ctx context.Context, p string) (*remote.Entity, error) {
	segs, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	return r.walk(ctx, segs)
}

// FindFileByPath resolves p to a file. It returns (nil, nil) when the
// file or any ancestor folder is absent.
func (r *Resolver) FindFileByPath(ctx context.Context, p string) (*remote.Entity, error) {
	segs, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: empty file path", ErrInvalidPath)
	}

	parent, err := r.walk(ctx, segs[:len(segs)-1])
	if err != nil || parent == nil {
		return nil, err
	}

	return r.FindChild(ctx, parent, segs[len(segs)-1], remote.KindFile)
}

// walk resolves folder segments from the root, one at a time.
func (r *Resolver) walk(ctx context.Context, segs []string) (*remote.Entity, error) {
	current := r.root

	for _, seg := range segs {
		child, err := r.FindChild(ctx, &current, seg, remote.KindFolder)
		if err != nil {
			return nil, err
		}

		if child == nil {
			return nil, nil //nolint:nilnil // absent is a value, not an error
		}

		current = *child
	}

	return &current, nil
}

// FindChild looks up one child of parent by name and kind, trying the
// cache before listing. It returns (nil, nil) when no such child exists.
func (r *Resolver) FindChild(ctx context.Context, parent *remote.Entity, name string, kind remote.Kind) (*remote.Entity, error) {
	if hit := match(r.cache.Get(parent.ID), name, kind); hit != nil {
		if !r.revalidate {
			return hit, nil
		}

		confirmed, err := r.confirm(ctx, parent.ID, hit, name)
		if err != nil || confirmed != nil {
			return confirmed, err
		}
	}

	children, err := r.list(ctx, parent.ID)
	if err != nil {
		return nil, err
	}

	return match(children, name, kind), nil
}

// confirm revalidates a cached hit. It returns nil without error when the
// entity is gone, has moved, or was renamed, after evicting it.
func (r *Resolver) confirm(ctx context.Context, parentID string, hit *remote.Entity, name string) (*remote.Entity, error) {
	fresh, err := r.client.ConditionalGet(ctx, hit.Kind, hit.ID, hit.ETag)

	switch {
	case errors.Is(err, remote.ErrNotModified):
		return hit, nil
	case errors.Is(err, remote.ErrNotFound):
		r.logger.Debug("evicting stale cache entry",
			slog.String("parent_id", parentID),
			slog.String("id", hit.ID),
			slog.String("name", hit.Name),
		)
		r.cache.Remove(parentID, hit.Kind, hit.ID)

		return nil, nil //nolint:nilnil // absent is a value, not an error
	case err != nil:
		return nil, fmt.Errorf("resolver: revalidating %s %s: %w", hit.Kind, hit.ID, err)
	}

	if fresh.ParentID != parentID || !sameName(fresh.Name, name) {
		r.cache.Remove(parentID, hit.Kind, hit.ID)
		return nil, nil //nolint:nilnil // moved away; absent here
	}

	r.cache.Put(parentID, *fresh)

	return fresh, nil
}

// maxListingRejoins bounds how often a caller lists again after a shared
// listing was cancelled by someone else.
const maxListingRejoins = 3

// list pages through a folder's children, merging each page into the
// cache as it arrives. Concurrent listings of one folder share a call; a
// sharer whose listing failed only because the leading caller was
// cancelled lists again under its own context.
func (r *Resolver) list(ctx context.Context, folderID string) ([]remote.Entity, error) {
	for attempt := 0; ; attempt++ {
		all, shared, err := r.listOnce(ctx, folderID)
		if err == nil {
			if shared {
				r.logger.Debug("shared in-flight listing", slog.String("folder_id", folderID))
			}

			return all, nil
		}

		if !shared || ctx.Err() != nil || !isContextErr(err) || attempt == maxListingRejoins {
			return nil, err
		}

		r.logger.Debug("shared listing cancelled by another caller, listing again",
			slog.String("folder_id", folderID),
		)
	}
}

func (r *Resolver) listOnce(ctx context.Context, folderID string) ([]remote.Entity, bool, error) {
	v, err, shared := r.listings.Do(folderID, func() (any, error) {
		var (
			all    []remote.Entity
			marker string
			pages  int
		)

		for {
			page, next, err := r.client.ListChildren(ctx, folderID, marker)
			if err != nil {
				return nil, fmt.Errorf("resolver: listing folder %s: %w", folderID, err)
			}

			pages++

			r.cache.Put(folderID, page...)
			all = append(all, page...)

			if next == "" {
				break
			}

			marker = next
		}

		r.logger.Debug("listed folder",
			slog.String("folder_id", folderID),
			slog.Int("pages", pages),
			slog.Int("children", len(all)),
		)

		return all, nil
	})
	if err != nil {
		return nil, shared, err
	}

	return v.([]remote.Entity), shared, nil
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func match(entities []remote.Entity, name string, kind remote.Kind) *remote.Entity {
	want := norm.NFC.String(name)

	for i := range entities {
		if entities[i].Kind == kind && norm.NFC.String(entities[i].Name) == want {
			e := entities[i]
			return &e
		}
	}

	return nil
}

func sameName(a, b string) bool {
	return norm.NFC.String(a) == norm.NFC.String(b)
}

// splitPath turns a relative slash path into its segments. "", "." and
// "/" all mean the root.
func splitPath(p string) ([]string, error) {
	for _, s := range strings.Split(p, "/") {
		if s == ".." {
			return nil, fmt.Errorf("%w: %q escapes the root", ErrInvalidPath, p)
		}
	}

	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" {
		return nil, nil
	}

	return strings.Split(clean, "/"), nil
}
