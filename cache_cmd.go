package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/naokikimura/carp-streamer/internal/cachestore"
	"github.com/naokikimura/carp-streamer/internal/pathcache"
)

var errNoCacheFile = errors.New("no cache file configured; set [cache] file or pass --cache-file")

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the persisted path cache",
	}

	cmd.PersistentFlags().String("cache-file", "", "path cache snapshot file")

	cmd.AddCommand(newCacheShowCmd())
	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

func newCacheShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the cached folder listings",
		Args:  cobra.NoArgs,
		RunE:  runCacheShow,
	}
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the persisted path cache",
		Args:  cobra.NoArgs,
		RunE:  runCacheClear,
	}
}

// cacheEntryJSON is the JSON form of one cached listing.
type cacheEntryJSON struct {
	ParentID string    `json:"parent_id"`
	Entities int       `json:"entities"`
	StoredAt time.Time `json:"stored_at"`
}

type cacheShowJSON struct {
	Backend  string           `json:"backend"`
	Path     string           `json:"path"`
	Entries  int              `json:"entries"`
	Entities int              `json:"entities"`
	Listings []cacheEntryJSON `json:"listings"`
}

func runCacheShow(cmd *cobra.Command, _ []string) error {
	path := resolvedCfg.Cache.File
	if path == "" {
		return errNoCacheFile
	}

	logger := buildLogger(os.Stderr)

	store, err := cachestore.Open(cmd.Context(), path, logger)
	if err != nil {
		return fmt.Errorf("opening cache %s: %w", path, err)
	}
	defer store.Close()

	snap, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("reading cache %s: %w", path, err)
	}

	if flagJSON {
		return printCacheJSON(cmd.OutOrStdout(), path, snap)
	}

	printCacheText(cmd.OutOrStdout(), path, snap, time.Now())

	return nil
}

func printCacheJSON(w io.Writer, path string, snap pathcache.Snapshot) error {
	out := cacheShowJSON{
		Backend:  cachestore.Kind(path),
		Path:     path,
		Entries:  snap.Len(),
		Entities: snap.EntityCount(),
		Listings: make([]cacheEntryJSON, 0, snap.Len()),
	}

	for _, e := range snap.Entries {
		out.Listings = append(out.Listings, cacheEntryJSON{
			ParentID: e.ParentID,
			Entities: len(e.Entities),
			StoredAt: e.StoredAt,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON: %w", err)
	}

	return nil
}

func printCacheText(w io.Writer, path string, snap pathcache.Snapshot, now time.Time) {
	fmt.Fprintf(w, "Cache:    %s (%s)\n", path, cachestore.Kind(path))
	fmt.Fprintf(w, "Listings: %d\n", snap.Len())
	fmt.Fprintf(w, "Entities: %d\n", snap.EntityCount())

	if snap.Len() == 0 {
		return
	}

	fmt.Fprintln(w)

	rows := make([][]string, 0, snap.Len())
	for _, e := range snap.Entries {
		rows = append(rows, []string{e.ParentID, strconv.Itoa(len(e.Entities)), formatAge(e.StoredAt, now)})
	}

	printTable(w, []string{"PARENT", "ENTITIES", "STORED"}, rows)
}

func runCacheClear(cmd *cobra.Command, _ []string) error {
	path := resolvedCfg.Cache.File
	if path == "" {
		return errNoCacheFile
	}

	logger := buildLogger(os.Stderr)

	store, err := cachestore.Open(cmd.Context(), path, logger)
	if err != nil {
		return fmt.Errorf("opening cache %s: %w", path, err)
	}
	defer store.Close()

	if err := store.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clearing cache %s: %w", path, err)
	}

	logger.Info("cleared cache", slog.String("path", path))
	statusf(flagQuiet, "Cleared %s\n", path)

	return nil
}
