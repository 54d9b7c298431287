package logsource

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process tests need a POSIX shell")
	}
}

func newShellSource(t *testing.T, script string, mutate ...func(*ProcessConfig)) *ProcessSource {
	t.Helper()
	cfg := ProcessConfig{
		Command:     []string{"sh", "-c", script},
		Dir:         t.TempDir(),
		StopTimeout: 2 * time.Second,
		Logger:      zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	src := NewProcessSource("test", cfg)
	t.Cleanup(src.Stop)
	return src
}

func readAll(t *testing.T, src *ProcessSource) []string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out []string
	for {
		line, ok := src.ReadLine(ctx)
		if !ok {
			require.NoError(t, ctx.Err(), "timed out reading lines")
			return out
		}
		out = append(out, line)
	}
}

func TestProcessSource_ReadsLinesInOrder(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, `printf 'a\n\n  b  \nc\n'`)
	require.NoError(t, src.Start(context.Background()))

	assert.Equal(t, []string{"a", "b", "c"}, readAll(t, src))

	<-src.Done()
	assert.NoError(t, src.Err())
}

func TestProcessSource_MissingExecutableIsSpawnError(t *testing.T) {
	t.Parallel()

	src := NewProcessSource("bad", ProcessConfig{
		Command: []string{"/definitely/not/a/real/binary"},
		Logger:  zerolog.Nop(),
	})
	err := src.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSpawn))

	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, []string{"/definitely/not/a/real/binary"}, spawnErr.Command)

	// An unstarted source ends immediately and stops cleanly.
	_, ok := src.ReadLine(context.Background())
	assert.False(t, ok)
	src.Stop()
}

func TestProcessSource_MissingDirectoryIsSpawnError(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "echo hi", func(c *ProcessConfig) {
		c.Dir = filepath.Join(t.TempDir(), "missing")
	})
	err := src.Start(context.Background())
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestProcessSource_EmptyCommandIsSpawnError(t *testing.T) {
	t.Parallel()

	src := NewProcessSource("empty", ProcessConfig{Logger: zerolog.Nop()})
	assert.ErrorIs(t, src.Start(context.Background()), ErrSpawn)
}

func TestProcessSource_StartTwiceFails(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "exec sleep 5")
	require.NoError(t, src.Start(context.Background()))
	assert.ErrorIs(t, src.Start(context.Background()), ErrSpawn)
}

func TestProcessSource_SnapshotCapsLineCount(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, `i=0; while [ $i -lt 300 ]; do echo $i; i=$((i+1)); done; exec sleep 5`)
	require.NoError(t, src.Start(context.Background()))

	lines, ok := src.Snapshot(context.Background(), SnapshotPolicy{
		MaxLines:    100,
		IdleTimeout: 2 * time.Second,
		MaxIdle:     3,
	})
	require.True(t, ok)
	require.Len(t, lines, 100)
	assert.Equal(t, "0", lines[0])
	assert.Equal(t, "99", lines[99])

	next, ok := src.ReadLine(context.Background())
	require.True(t, ok)
	assert.Equal(t, strconv.Itoa(100), next)
}

func TestProcessSource_SnapshotGivesUpOnSilentSource(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "exec sleep 10")
	require.NoError(t, src.Start(context.Background()))

	start := time.Now()
	lines, ok := src.Snapshot(context.Background(), SnapshotPolicy{
		MaxLines:    100,
		IdleTimeout: 50 * time.Millisecond,
		MaxIdle:     3,
	})
	assert.True(t, ok)
	assert.Empty(t, lines)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProcessSource_SnapshotReportsEndOfStream(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "echo only")
	require.NoError(t, src.Start(context.Background()))

	lines, ok := src.Snapshot(context.Background(), SnapshotPolicy{
		MaxLines:    100,
		IdleTimeout: 2 * time.Second,
		MaxIdle:     3,
	})
	assert.False(t, ok)
	assert.Equal(t, []string{"only"}, lines)
}

func TestProcessSource_StopTerminatesAndIsIdempotent(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "exec sleep 30")
	require.NoError(t, src.Start(context.Background()))

	start := time.Now()
	src.Stop()
	src.Stop()
	assert.Less(t, time.Since(start), 3*time.Second)

	select {
	case <-src.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process was not reaped after Stop")
	}
	assert.NoError(t, src.Err())

	_, ok := src.ReadLine(context.Background())
	assert.False(t, ok)
}

func TestProcessSource_StopIsBoundedWhenSignalIgnored(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, `trap '' TERM; echo ready; exec sleep 30`, func(c *ProcessConfig) {
		c.StopTimeout = 200 * time.Millisecond
	})
	require.NoError(t, src.Start(context.Background()))

	line, ok := src.ReadLine(context.Background())
	require.True(t, ok)
	require.Equal(t, "ready", line)

	start := time.Now()
	src.Stop()
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProcessSource_MergeStderr(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "echo out; echo err 1>&2", func(c *ProcessConfig) {
		c.MergeStderr = true
	})
	require.NoError(t, src.Start(context.Background()))

	assert.ElementsMatch(t, []string{"out", "err"}, readAll(t, src))
}

func TestProcessSource_StderrNotMergedByDefault(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "echo out; echo err 1>&2")
	require.NoError(t, src.Start(context.Background()))

	assert.Equal(t, []string{"out"}, readAll(t, src))
}

func TestProcessSource_NonZeroExitIsReported(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "echo bye; exit 3")
	require.NoError(t, src.Start(context.Background()))

	assert.Equal(t, []string{"bye"}, readAll(t, src))
	<-src.Done()

	var exitErr interface{ ExitCode() int }
	require.ErrorAs(t, src.Err(), &exitErr)
	assert.Equal(t, 3, exitErr.ExitCode())
}

func TestProcessSource_ClosedStdoutEndsStream(t *testing.T) {
	requireShell(t)
	t.Parallel()

	src := newShellSource(t, "echo a; exec 1>&-; exec sleep 30")
	require.NoError(t, src.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	line, ok := src.ReadLine(ctx)
	require.True(t, ok)
	require.Equal(t, "a", line)

	start := time.Now()
	_, ok = src.ReadLine(ctx)
	assert.False(t, ok)
	require.NoError(t, ctx.Err(), "end of output was not reported while the process lived")
	assert.Less(t, time.Since(start), time.Second)

	select {
	case <-src.Done():
		t.Fatal("process should still be running")
	default:
	}

	src.Stop()
	select {
	case <-src.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("process was not reaped after Stop")
	}
	assert.NoError(t, src.Err())
}
