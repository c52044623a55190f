// Seeds the E2E token file from a refresh token and checks that it can
// reach the test folder.
//
// Usage:
//
//	CARP_STREAMER_REFRESH_TOKEN=... CARP_STREAMER_CLIENT_ID=... \
//	CARP_STREAMER_CLIENT_SECRET=... go run ./cmd/integration-bootstrap
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"

	"github.com/naokikimura/carp-streamer/internal/boxapi"
	"github.com/naokikimura/carp-streamer/testutil"
)

func main() {
	root := testutil.FindModuleRoot(".")
	testutil.LoadDotEnv(filepath.Join(root, ".env"))

	out := flag.String("out", filepath.Join(testutil.CredentialDir(root), testutil.TokenFileName),
		"token file to write")
	flag.Parse()

	if err := run(*out); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
}

func run(out string) error {
	refresh := os.Getenv("CARP_STREAMER_REFRESH_TOKEN")
	if refresh == "" {
		return errors.New("CARP_STREAMER_REFRESH_TOKEN not set")
	}

	folder := testutil.RequireTestFolder()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	logger := slog.Default()

	// An empty access token forces a refresh on first use, which also
	// rotates the refresh token into the file.
	if err := boxapi.SaveToken(out, &oauth2.Token{RefreshToken: refresh}); err != nil {
		return err
	}

	tokens, err := boxapi.TokenSourceFromPath(ctx, out, boxapi.OAuthConfig{
		ClientID:     os.Getenv("CARP_STREAMER_CLIENT_ID"),
		ClientSecret: os.Getenv("CARP_STREAMER_CLIENT_SECRET"),
	}, logger)
	if err != nil {
		return err
	}

	client := boxapi.NewClient("", "", nil, tokens, logger)

	f, err := client.GetFolder(ctx, folder)
	if err != nil {
		return fmt.Errorf("checking test folder %s: %w", folder, err)
	}

	fmt.Printf("Token saved to %s. Test folder: %s (%s)\n", out, f.Name, f.ID)

	return nil
}
