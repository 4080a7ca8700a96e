//go:build unix

package main

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes the CLI against a private directory.
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Setenv("SHMSYNC_DIR", dir)
	t.Setenv("SHMSYNC_SEGMENT_SIZE", "4096")
	mutexFlag = ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--log-level", "5"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPutGet(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "put", "idx_cache", "1", "0x02")
	require.NoError(t, err)

	out, err := run(t, dir, "get", "idx_cache", "1")
	require.NoError(t, err)
	assert.Equal(t, "0x02\n", out)

	_, err = run(t, dir, "get", "idx_cache", "4096")
	assert.Error(t, err)
	_, err = run(t, dir, "put", "idx_cache", "0", "256")
	assert.Error(t, err)

	_, err = run(t, dir, "rm", "idx_cache")
	require.NoError(t, err)
	exists, err := factory.SegmentExists("idx_cache")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDump(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "put", "dumped", "0", "0x41")
	require.NoError(t, err)

	out, err := run(t, dir, "dump", "dumped", "--length", "16")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "00000000  41 00"), out)
	assert.Contains(t, out, "|A...............|")
	assert.Contains(t, out, "... 16 of 4096 bytes shown")
}

func TestStress(t *testing.T) {
	dir := t.TempDir()
	out, err := run(t, dir, "stress", "contended", "--workers", "4", "--iterations", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "400 acquisitions")
	assert.Contains(t, out, "counter 0 -> 400")

	_, seg, release, err := attach(rootCmd, "contended")
	require.NoError(t, err)
	defer release()
	assert.Equal(t, uint64(400), binary.LittleEndian.Uint64(seg.Bytes()))
}

func TestCheckEventsDetectsOverlap(t *testing.T) {
	q := queue.New(4)
	require.NoError(t, q.Put(
		lockEvent{worker: 1, enter: true},
		lockEvent{worker: 2, enter: true},
	))
	assert.ErrorContains(t, checkEvents(q, 4), "worker 2 entered while worker 1 held the lock")

	q = queue.New(4)
	require.NoError(t, q.Put(
		lockEvent{worker: 1, enter: true},
		lockEvent{worker: 1},
		lockEvent{worker: 2, enter: true},
		lockEvent{worker: 2},
	))
	assert.NoError(t, checkEvents(q, 4))
}
