package backend_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fenwicklabs/phpedge/src/backend"
	"github.com/stretchr/testify/require"
)

func TestStaticGetIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	sb, err := backend.NewStaticBackend(dir, nil)
	require.NoError(t, err)

	resp, serr := sb.Execute(context.Background(), &backend.Request{Method: "GET", URI: "/"})
	require.Nil(t, serr)
	require.Equal(t, uint16(200), resp.Status)
	require.Equal(t, "text/html; charset=utf-8", resp.Headers["Content-Type"])
	require.Equal(t, "5", resp.Headers["Content-Length"])
	require.Equal(t, "hello", string(resp.Body))
	require.Equal(t, "no-cache", resp.Headers["Cache-Control"])
	require.NotEmpty(t, resp.Headers["ETag"])
}

func TestStaticPathTraversalRejected(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))

	sb, err := backend.NewStaticBackend(dir, nil)
	require.NoError(t, err)

	_, serr := sb.Execute(context.Background(), &backend.Request{Method: "GET", URI: "/../etc/passwd"})
	require.NotNil(t, serr)
	require.Equal(t, backend.ErrNotFound, serr.Kind)
}

func TestStaticMethodNotAllowed(t *testing.T) {
	dir := t.TempDir()
	sb, err := backend.NewStaticBackend(dir, nil)
	require.NoError(t, err)

	resp, serr := sb.Execute(context.Background(), &backend.Request{Method: "POST", URI: "/"})
	require.Nil(t, serr)
	require.Equal(t, uint16(405), resp.Status)
	require.Equal(t, "GET, HEAD", resp.Headers["Allow"])
}

func TestStaticHeadHasNoBody(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("hello"), 0o644))
	sb, err := backend.NewStaticBackend(dir, nil)
	require.NoError(t, err)

	resp, serr := sb.Execute(context.Background(), &backend.Request{Method: "HEAD", URI: "/index.html"})
	require.Nil(t, serr)
	require.Empty(t, resp.Body)
	require.Equal(t, "5", resp.Headers["Content-Length"])
}
