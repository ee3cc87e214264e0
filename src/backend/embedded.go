package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// ScriptExecutor is the narrow surface EmbeddedBackend needs from
// php.WorkerPool, kept here to avoid backend importing php directly and
// creating a cycle (php never needs to know about Backend).
type ScriptExecutor interface {
	Execute(ctx context.Context, scriptPath string) ([]byte, error)
	ActiveWorkers() int64
}

// EmbeddedBackend resolves the request URI to a script under DocumentRoot
// and runs it through the embedded-interpreter worker pool (§4.5, §4.6).
type EmbeddedBackend struct {
	Executor     ScriptExecutor
	DocumentRoot string
	PoolSize     int
}

func (e *EmbeddedBackend) Kind() Kind { return KindEmbedded }

func (e *EmbeddedBackend) scriptPath(uri string) (string, *Error) {
	clean := uri
	if idx := strings.IndexByte(clean, '?'); idx >= 0 {
		clean = clean[:idx]
	}
	joined := filepath.Join(e.DocumentRoot, filepath.FromSlash(clean))
	canon := filepath.Clean(joined)
	if canon != e.DocumentRoot && !strings.HasPrefix(canon, e.DocumentRoot+string(filepath.Separator)) {
		return "", NewError(ErrNotFound, fmt.Errorf("script path escapes document root"))
	}
	return canon, nil
}

func (e *EmbeddedBackend) Execute(ctx context.Context, req *Request) (*Response, *Error) {
	start := time.Now()

	path, perr := e.scriptPath(req.URI)
	if perr != nil {
		return nil, perr
	}

	raw, err := e.Executor.Execute(ctx, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError(ErrTimeout, err)
		}
		return nil, NewError(ErrPhpError, err)
	}

	status, headers, body := ParseCGIOutput(raw)
	return &Response{
		Status:     status,
		Headers:    headers,
		Body:       body,
		DurationMS: float64(time.Since(start).Microseconds()) / 1000.0,
	}, nil
}

func (e *EmbeddedBackend) HealthCheck(ctx context.Context) HealthStatus {
	active := e.Executor.ActiveWorkers()
	if active == 0 {
		return HealthStatus{Healthy: false, Message: "no active workers"}
	}
	return HealthStatus{Healthy: true, Message: fmt.Sprintf("%d workers active", active)}
}
