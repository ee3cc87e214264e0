package server

import (
	"compress/gzip"
	"io"
	"strings"
)

// Compressor gzip-encodes static responses above a minimum size, grounded on
// original_source/src/server/compression.rs scoped down to gzip only (the
// original also supports brotli; no brotli encoder is carried by the
// reference corpus's go.mod, see DESIGN.md).
type Compressor struct {
	minBytes int
}

// NewCompressor builds a Compressor that only compresses bodies of at least
// minBytes.
func NewCompressor(minBytes int) *Compressor {
	return &Compressor{minBytes: minBytes}
}

// ShouldCompress reports whether body of the given size, served as
// contentType, and requested with acceptEncoding, should be gzip-encoded.
func (c *Compressor) ShouldCompress(acceptEncoding string, contentType string, size int) bool {
	if size < c.minBytes {
		return false
	}
	if !acceptsGzip(acceptEncoding) {
		return false
	}
	return isCompressible(contentType)
}

func acceptsGzip(acceptEncoding string) bool {
	for _, tok := range strings.Split(acceptEncoding, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "*" {
			return true
		}
		name, _, _ := strings.Cut(tok, ";")
		if strings.EqualFold(strings.TrimSpace(name), "gzip") {
			return true
		}
	}
	return false
}

func isCompressible(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	mediaType = strings.TrimSpace(mediaType)
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return true
	case strings.HasSuffix(mediaType, "+json"), strings.HasSuffix(mediaType, "+xml"):
		return true
	case mediaType == "application/json", mediaType == "application/javascript",
		mediaType == "application/xml", mediaType == "image/svg+xml":
		return true
	default:
		return false
	}
}

// Compress writes the gzip-encoded form of body to w.
func Compress(w io.Writer, body []byte) error {
	gw := gzip.NewWriter(w)
	if _, err := gw.Write(body); err != nil {
		gw.Close()
		return err
	}
	return gw.Close()
}
