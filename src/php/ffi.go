package php

import (
	"fmt"
	"sync"

	"github.com/ebitengine/purego"
	"github.com/fenwicklabs/phpedge/src/security/crypto"
	"github.com/fenwicklabs/phpedge/src/security/validation"
)

// Module is the process-wide handle to the dynamically-loaded embedded
// interpreter library (§4.1, §9 "Shared mutable module handle"). It is
// initialized exactly once and shut down only after every worker has exited.
type Module struct {
	handle uintptr

	moduleStartup   func() int32
	moduleShutdown  func()
	threadInit      func() int32
	threadCleanup   func()
	requestStartup  func() int32
	requestShutdown func()
	executeScript   func(path *byte, outLen *int32) *byte

	// executeScriptFn, when set, replaces the raw FFI call in
	// ExecuteScript. LoadModule leaves it nil so production modules go
	// through the real symbol; tests set it directly to exercise the
	// worker pool without a native library.
	executeScriptFn func(scriptPath string) ([]byte, error)

	startOnce sync.Once
	started   bool
}

// LoadModule dlopen's the native interpreter library and binds the seven
// lifecycle and execution symbols from §4.1 by name. The path is rejected if it
// escapes allowedDir or isn't a regular .so file; when expectedHash is
// non-empty the file's SHA-256 must also match before it is ever passed to
// dlopen.
func LoadModule(libraryPath, allowedDir, expectedHash string) (*Module, error) {
	if err := validation.ValidateLibraryPath(libraryPath, allowedDir); err != nil {
		return nil, fmt.Errorf("rejecting interpreter library: %w", err)
	}
	if expectedHash != "" {
		if err := crypto.VerifySHA256(libraryPath, expectedHash); err != nil {
			return nil, fmt.Errorf("interpreter library integrity check failed: %w", err)
		}
	}

	handle, err := purego.Dlopen(libraryPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("loading interpreter library %s: %w", libraryPath, err)
	}

	m := &Module{handle: handle}
	purego.RegisterLibFunc(&m.moduleStartup, handle, "phpedge_module_startup")
	purego.RegisterLibFunc(&m.moduleShutdown, handle, "phpedge_module_shutdown")
	purego.RegisterLibFunc(&m.threadInit, handle, "phpedge_thread_init")
	purego.RegisterLibFunc(&m.threadCleanup, handle, "phpedge_thread_cleanup")
	purego.RegisterLibFunc(&m.requestStartup, handle, "phpedge_request_startup")
	purego.RegisterLibFunc(&m.requestShutdown, handle, "phpedge_request_shutdown")
	purego.RegisterLibFunc(&m.executeScript, handle, "phpedge_execute_script")
	return m, nil
}

// Startup calls module_startup exactly once process-wide (§4.1 contract).
func (m *Module) Startup() error {
	var startupErr error
	m.startOnce.Do(func() {
		if rc := m.moduleStartup(); rc != 0 {
			startupErr = fmt.Errorf("module_startup failed with code %d", rc)
			return
		}
		m.started = true
	})
	return startupErr
}

// Shutdown calls module_shutdown. The caller (WorkerPool) guarantees this
// runs only after every worker thread has exited.
func (m *Module) Shutdown() {
	if m.started {
		m.moduleShutdown()
	}
}

// ThreadInit brackets a worker thread's lifetime start (§4.1).
func (m *Module) ThreadInit() error {
	if rc := m.threadInit(); rc != 0 {
		return fmt.Errorf("thread_init failed with code %d", rc)
	}
	return nil
}

// ThreadCleanup brackets a worker thread's lifetime end.
func (m *Module) ThreadCleanup() {
	m.threadCleanup()
}

// ExecuteScript brackets one execution with request_startup/request_shutdown
// (request_shutdown runs even on error, per §4.1) and returns the captured
// output bytes.
func (m *Module) ExecuteScript(scriptPath string) ([]byte, error) {
	if rc := m.requestStartup(); rc != 0 {
		return nil, fmt.Errorf("request_startup failed with code %d", rc)
	}
	defer m.requestShutdown()

	if m.executeScriptFn != nil {
		return m.executeScriptFn(scriptPath)
	}

	pathBytes := append([]byte(scriptPath), 0)
	var outLen int32
	outPtr := m.executeScript(&pathBytes[0], &outLen)
	if outPtr == nil {
		return nil, fmt.Errorf("php error executing %s", scriptPath)
	}
	return unsafeBytes(outPtr, int(outLen)), nil
}
