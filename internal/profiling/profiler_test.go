package profiling

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_Enabled(t *testing.T) {
	assert.False(t, Options{}.Enabled())
	assert.True(t, Options{HeapPath: "heap.prof"}.Enabled())
}

func TestSession_WritesRequestedProfiles(t *testing.T) {
	// Given: all three profiles requested
	dir := t.TempDir()
	opts := Options{
		CPUPath:   filepath.Join(dir, "cpu.prof"),
		HeapPath:  filepath.Join(dir, "heap.prof"),
		TracePath: filepath.Join(dir, "trace.out"),
	}

	// When: a session is started, does some work and is stopped
	s, err := Start(opts)
	require.NoError(t, err)
	sum := 0
	for i := 0; i < 100000; i++ {
		sum += i
	}
	require.NoError(t, s.Stop())

	// Then: every file exists and has content
	for _, path := range []string{opts.CPUPath, opts.HeapPath, opts.TracePath} {
		info, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Positive(t, info.Size(), path)
	}
	assert.Positive(t, sum)
}

func TestSession_StopIsIdempotent(t *testing.T) {
	s, err := Start(Options{HeapPath: filepath.Join(t.TempDir(), "heap.prof")})
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestSession_NilStop(t *testing.T) {
	var s *Session
	assert.NoError(t, s.Stop())
}

func TestStart_InvalidPath(t *testing.T) {
	_, err := Start(Options{CPUPath: filepath.Join(t.TempDir(), "missing", "cpu.prof")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create CPU profile file")
}

func TestStart_TraceFailureStopsCPU(t *testing.T) {
	dir := t.TempDir()
	_, err := Start(Options{
		CPUPath:   filepath.Join(dir, "cpu.prof"),
		TracePath: filepath.Join(dir, "missing", "trace.out"),
	})
	require.Error(t, err)

	// CPU profiling must have been released for a new session.
	s, err := Start(Options{CPUPath: filepath.Join(dir, "cpu2.prof")})
	require.NoError(t, err)
	require.NoError(t, s.Stop())
}
