package php

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadModuleRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadModule(filepath.Join(dir, "..", "evil.so"), dir, "")
	require.Error(t, err)
}

func TestLoadModuleRejectsWrongExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := LoadModule(path, dir, "")
	require.Error(t, err)
}

func TestLoadModuleRejectsHashMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.so")
	require.NoError(t, os.WriteFile(path, []byte("native library bytes"), 0o644))

	wrongHash := strings.Repeat("0", 64)
	_, err := LoadModule(path, dir, wrongHash)
	require.Error(t, err)
}
