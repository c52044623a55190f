package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/naokikimura/carp-streamer/internal/boxapi"
	"github.com/naokikimura/carp-streamer/internal/cachestore"
	"github.com/naokikimura/carp-streamer/internal/config"
	"github.com/naokikimura/carp-streamer/internal/pathcache"
	"github.com/naokikimura/carp-streamer/internal/remote"
	"github.com/naokikimura/carp-streamer/internal/resolver"
	"github.com/naokikimura/carp-streamer/internal/retry"
)

// newRemoteClient builds the transport-level API client. Tests replace it
// with an in-memory fake.
var newRemoteClient = func(cfg *config.Resolved, logger *slog.Logger) (remote.Client, error) {
	var tokens boxapi.TokenSource

	if cfg.AccessToken != "" {
		tokens = boxapi.StaticToken(cfg.AccessToken)
	} else {
		src, err := boxapi.TokenSourceFromPath(context.Background(), cfg.Remote.TokenFile, boxapi.OAuthConfig{
			ClientID:     cfg.Remote.ClientID,
			ClientSecret: cfg.Remote.ClientSecret,
		}, logger)
		if errors.Is(err, boxapi.ErrNotLoggedIn) {
			return nil, fmt.Errorf("no saved token at %s; set %s or provide a token file: %w",
				cfg.Remote.TokenFile, config.EnvAccessToken, err)
		}

		if err != nil {
			return nil, err
		}

		tokens = src
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	return boxapi.NewClient(cfg.Remote.APIURL, cfg.Remote.UploadURL, httpClient, tokens, logger), nil
}

// session is the remote side of one command invocation: the retrying
// client, the path cache and its persisted snapshot, and the resolver.
type session struct {
	resolver *resolver.Resolver
	cache    *pathcache.Cache
	store    cachestore.Store
	logger   *slog.Logger
}

// openSession wires the remote stack for destID. A snapshot that cannot be
// read is logged and ignored; the cache then starts cold.
func openSession(ctx context.Context, cfg *config.Resolved, destID string, logger *slog.Logger) (*session, error) {
	api, err := newRemoteClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	client := retry.Wrap(api, retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		JitterBase:  cfg.RetryJitter,
		Logger:      logger,
	})

	cache := pathcache.New(pathcache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxAge:     cfg.CacheMaxAge,
	})

	s := &session{cache: cache, logger: logger}

	if cfg.Cache.File != "" {
		store, err := cachestore.Open(ctx, cfg.Cache.File, logger)
		if err != nil {
			return nil, fmt.Errorf("opening cache %s: %w", cfg.Cache.File, err)
		}

		snap, err := store.Load(ctx)
		if err != nil {
			logger.Warn("ignoring unreadable cache snapshot",
				slog.String("path", cfg.Cache.File),
				slog.String("error", err.Error()),
			)
		} else {
			cache.Load(snap)
			logger.Info("loaded cache snapshot",
				slog.String("path", cfg.Cache.File),
				slog.Int("entries", cache.Len()),
			)
		}

		s.store = store
	}

	res, err := resolver.Open(ctx, client, destID, resolver.Options{
		Cache:          cache,
		Revalidate:     cfg.Cache.Revalidate,
		ChunkThreshold: cfg.ChunkThreshold,
		Logger:         logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("opening destination folder %s: %w", destID, err)
	}

	s.resolver = res

	return s, nil
}

// Close saves the cache snapshot and releases the store. It runs on a
// fresh context so an interrupted run still persists what it learned.
func (s *session) Close() error {
	if s.store == nil {
		return nil
	}

	snap := s.cache.Dump()

	saveErr := s.store.Save(context.Background(), snap)
	if saveErr == nil {
		s.logger.Info("saved cache snapshot",
			slog.Int("entries", snap.Len()),
			slog.Int("entities", snap.EntityCount()),
		)
	}

	return errors.Join(saveErr, s.store.Close())
}
