package server_test

import (
	"bytes"
	"compress/gzip"
	"io"
	"testing"

	"github.com/fenwicklabs/phpedge/src/server"
	"github.com/stretchr/testify/require"
)

func TestShouldCompressRespectsMinSize(t *testing.T) {
	c := server.NewCompressor(1024)
	require.False(t, c.ShouldCompress("gzip", "text/html", 100))
	require.True(t, c.ShouldCompress("gzip", "text/html", 2048))
}

func TestShouldCompressRequiresGzipAcceptEncoding(t *testing.T) {
	c := server.NewCompressor(0)
	require.False(t, c.ShouldCompress("br", "text/html", 2048))
	require.True(t, c.ShouldCompress("gzip, deflate", "text/html", 2048))
	require.True(t, c.ShouldCompress("*", "text/html", 2048))
}

func TestShouldCompressSkipsIncompressibleTypes(t *testing.T) {
	c := server.NewCompressor(0)
	require.False(t, c.ShouldCompress("gzip", "image/png", 2048))
	require.True(t, c.ShouldCompress("gzip", "application/json; charset=utf-8", 2048))
	require.True(t, c.ShouldCompress("gzip", "image/svg+xml", 2048))
}

func TestCompressProducesValidGzip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, server.Compress(&buf, []byte("hello world")))

	r, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(out))
}
