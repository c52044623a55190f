package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// CreateFolderUnlessItExists resolves p as a folder, creating whichever
// trailing segments are missing. Calling it again for the same path makes
// no creation calls. A creation that collides with a folder made by a
// concurrent writer is settled by the client's conflict adoption.
func (r *Resolver) CreateFolderUnlessItExists(ctx context.Context, p string) (*remote.Entity, error) {
	found, err := r.FindFolderByPath(ctx, p)
	if err != nil || found != nil {
		return found, err
	}

	segs, err := splitPath(p)
	if err != nil {
		return nil, err
	}

	current := r.root

	for _, seg := range segs {
		child, err := r.FindChild(ctx, &current, seg, remote.KindFolder)
		if err != nil {
			return nil, err
		}

		if child == nil {
			if child, err = r.createFolder(ctx, &current, seg); err != nil {
				return nil, err
			}
		}

		current = *child
	}

	return &current, nil
}

func (r *Resolver) createFolder(ctx context.Context, parent *remote.Entity, name string) (*remote.Entity, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}

	created, err := r.client.CreateFolder(ctx, parent.ID, name)
	if err != nil {
		return nil, fmt.Errorf("resolver: creating folder %q in %s: %w", name, parent.ID, err)
	}

	if !created.IsFolder() {
		return nil, fmt.Errorf("resolver: creating folder %q in %s: got %s", name, parent.ID, created.Kind)
	}

	r.cache.Put(parent.ID, *created)

	r.mu.Lock()
	r.created[created.ID] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("created folder",
		slog.String("parent_id", parent.ID),
		slog.String("name", name),
		slog.String("id", created.ID),
	)

	return created, nil
}

// ClaimCreated reports whether this resolver created the folder id and
// has not reported it yet. Only the first claim for an id returns true,
// so a folder made on behalf of a nested path is reported once by
// whichever caller owns it.
func (r *Resolver) ClaimCreated(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.created[id]; !ok {
		return false
	}

	delete(r.created, id)

	return true
}
