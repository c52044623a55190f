package retry

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naokikimura/carp-streamer/internal/remote"
	"github.com/naokikimura/carp-streamer/internal/remote/remotetest"
)

func TestClient_RetriesEveryMethodOnRateLimit(t *testing.T) {
	srv := remotetest.New()
	rs := &recordingSleep{}
	c := Wrap(srv, testPolicy(rs))
	ctx := context.Background()

	srv.FailNext(remotetest.MethodGetFolder, remotetest.RateLimited(1))
	_, err := c.GetFolder(ctx, remotetest.RootID)
	require.NoError(t, err)

	srv.FailNext(remotetest.MethodListChildren, remotetest.RateLimited(0), remotetest.RateLimited(0))
	_, _, err = c.ListChildren(ctx, remotetest.RootID, "")
	require.NoError(t, err)

	srv.FailNext(remotetest.MethodPreflightUpload, remotetest.RateLimited(0))
	require.NoError(t, c.PreflightUpload(ctx, remotetest.RootID, "a.txt", 3))

	file := srv.AddFile(remotetest.RootID, "b.txt", []byte("b"))
	srv.FailNext(remotetest.MethodPreflightNewVersion, remotetest.RateLimited(0))
	require.NoError(t, c.PreflightNewVersion(ctx, file.ID, 3))

	assert.Equal(t, 2, srv.Calls(remotetest.MethodGetFolder))
	assert.Equal(t, 3, srv.Calls(remotetest.MethodListChildren))
	assert.Equal(t, 2, srv.Calls(remotetest.MethodPreflightUpload))
	assert.Equal(t, 2, srv.Calls(remotetest.MethodPreflightNewVersion))
	assert.Len(t, rs.delays, 5)
}

func TestClient_UploadRetryRereadsBody(t *testing.T) {
	srv := remotetest.New()
	c := Wrap(srv, testPolicy(&recordingSleep{}))

	srv.FailNext(remotetest.MethodUploadSimple, remotetest.RateLimited(0))

	f, err := c.UploadSimple(context.Background(), remotetest.RootID, "a.txt",
		bytes.NewReader([]byte("hello")), remote.UploadAttrs{})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), srv.Content(f.ID))
}

func TestClient_CreateFolderAdoptsConflict(t *testing.T) {
	srv := remotetest.New()
	existing := srv.AddFolder(remotetest.RootID, "x")
	c := Wrap(srv, testPolicy(&recordingSleep{}))

	got, err := c.CreateFolder(context.Background(), remotetest.RootID, "x")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, got.ID)
	assert.Len(t, srv.Children(remotetest.RootID), 1)
}

func TestClient_NonRetryablePassesThrough(t *testing.T) {
	srv := remotetest.New()
	rs := &recordingSleep{}
	c := Wrap(srv, testPolicy(rs))

	forbidden := remote.NewAPIError(http.StatusForbidden, "no")
	srv.FailNext(remotetest.MethodGetFile, forbidden)

	_, err := c.GetFile(context.Background(), "123")
	assert.Same(t, forbidden, err)
	assert.Equal(t, 1, srv.Calls(remotetest.MethodGetFile))
	assert.Empty(t, rs.delays)
}
