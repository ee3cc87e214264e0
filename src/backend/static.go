package backend

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// mimeTable is the closed extension->Content-Type table from §4.8.
var mimeTable = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm":  "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "application/javascript; charset=utf-8",
	".json": "application/json",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".ico":  "image/x-icon",
	".woff":  "font/woff",
	".woff2": "font/woff2",
	".ttf":  "font/ttf",
	".otf":  "font/otf",
	".pdf":  "application/pdf",
	".txt":  "text/plain; charset=utf-8",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".zip":  "application/zip",
	".gz":   "application/gzip",
}

var fontExts = map[string]bool{".woff": true, ".woff2": true, ".ttf": true, ".otf": true}
var imageExts = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true, ".webp": true, ".ico": true}
var scriptExts = map[string]bool{".css": true, ".js": true}

func mimeType(ext string) string {
	if ct, ok := mimeTable[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

func cacheControl(ext string) string {
	switch {
	case fontExts[ext]:
		return "public, max-age=31536000, immutable"
	case imageExts[ext]:
		return "public, max-age=86400"
	case scriptExts[ext]:
		return "public, max-age=3600"
	case ext == ".html" || ext == ".htm":
		return "no-cache"
	default:
		return "public, max-age=600"
	}
}

// StaticBackend serves files under Root (§4.8). Every resolved path is
// canonicalized and checked against Root before any read (§8 "Path
// traversal").
type StaticBackend struct {
	Root       string
	IndexFiles []string
}

// NewStaticBackend resolves Root to its canonical absolute form once, so
// every subsequent request need only canonicalize the candidate path and
// compare prefixes.
func NewStaticBackend(root string, indexFiles []string) (*StaticBackend, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving static root: %w", err)
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		canon = abs
	}
	if len(indexFiles) == 0 {
		indexFiles = []string{"index.html"}
	}
	return &StaticBackend{Root: canon, IndexFiles: indexFiles}, nil
}

func (s *StaticBackend) Kind() Kind { return KindStatic }

// resolve implements the §4.8 / §8 path-traversal defense: strip query,
// URL-decode, join under root, canonicalize, reject unless still under root.
func (s *StaticBackend) resolve(uri string) (string, *Error) {
	rawPath := uri
	if idx := strings.IndexByte(rawPath, '?'); idx >= 0 {
		rawPath = rawPath[:idx]
	}
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", NewError(ErrNotFound, err)
	}

	joined := filepath.Join(s.Root, filepath.FromSlash(decoded))
	canon := filepath.Clean(joined)
	if resolved, err := filepath.EvalSymlinks(canon); err == nil {
		canon = resolved
	}

	if canon != s.Root && !strings.HasPrefix(canon, s.Root+string(filepath.Separator)) {
		return "", NewError(ErrNotFound, fmt.Errorf("path escapes root"))
	}
	return canon, nil
}

func (s *StaticBackend) Execute(ctx context.Context, req *Request) (*Response, *Error) {
	if req.Method != "GET" && req.Method != "HEAD" {
		return &Response{
			Status:  405,
			Headers: map[string]string{"Allow": "GET, HEAD"},
			Body:    []byte("Method Not Allowed"),
		}, nil
	}

	path, rerr := s.resolve(req.URI)
	if rerr != nil {
		return nil, rerr
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, NewError(ErrNotFound, err)
	}

	if info.IsDir() {
		found := false
		for _, idx := range s.IndexFiles {
			candidate := filepath.Join(path, idx)
			ci, cerr := os.Stat(candidate)
			if cerr == nil && ci.Mode().IsRegular() {
				path, info = candidate, ci
				found = true
				break
			}
		}
		if !found {
			return nil, NewError(ErrNotFound, fmt.Errorf("no index file"))
		}
	}
	if !info.Mode().IsRegular() {
		return nil, NewError(ErrNotFound, fmt.Errorf("not a regular file"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(ErrIOError, err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	etag := fmt.Sprintf(`"%x-%x"`, info.Size(), info.ModTime().Unix())
	headers := map[string]string{
		"Content-Type":  mimeType(ext),
		"Cache-Control": cacheControl(ext),
		"ETag":          etag,
		"Content-Length": strconv.Itoa(len(data)),
	}

	if req.Method == "HEAD" {
		return &Response{Status: 200, Headers: headers}, nil
	}
	return &Response{Status: 200, Headers: headers, Body: data}, nil
}

func (s *StaticBackend) HealthCheck(ctx context.Context) HealthStatus {
	start := time.Now()
	info, err := os.Stat(s.Root)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil || !info.IsDir() {
		return HealthStatus{Healthy: false, Message: "static root unavailable", LatencyMS: latency}
	}
	return HealthStatus{Healthy: true, Message: "ok", LatencyMS: latency}
}
