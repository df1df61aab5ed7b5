package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunMountAssemblesRawPipeline(t *testing.T) {
	dir := t.TempDir()
	evidence := filepath.Join(dir, "evidence.dd")
	require.NoError(t, os.WriteFile(evidence, []byte("some forensic bytes"), 0o644))

	mountFlags = struct {
		inFormat   string
		inOptions  string
		offset     int64
		sizeLimit  int64
		morph      string
		morphOpts  string
		outFormat  string
		outOptions string
		cachePath  string
		overwrite  bool
	}{
		inFormat:  "raw",
		morph:     "combine",
		outFormat: "dd",
		cachePath: filepath.Join(dir, "cache.bin"),
	}

	err := runMount([]string{evidence, filepath.Join(dir, "mnt")})
	require.NoError(t, err)
}

func TestRunMountRejectsUnknownOutputFormat(t *testing.T) {
	dir := t.TempDir()
	evidence := filepath.Join(dir, "evidence.dd")
	require.NoError(t, os.WriteFile(evidence, []byte("x"), 0o644))

	mountFlags = struct {
		inFormat   string
		inOptions  string
		offset     int64
		sizeLimit  int64
		morph      string
		morphOpts  string
		outFormat  string
		outOptions string
		cachePath  string
		overwrite  bool
	}{
		inFormat:  "raw",
		morph:     "combine",
		outFormat: "no-such-format",
		cachePath: filepath.Join(dir, "cache.bin"),
	}

	err := runMount([]string{evidence, filepath.Join(dir, "mnt")})
	require.Error(t, err)
}
