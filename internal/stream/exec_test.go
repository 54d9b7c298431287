package stream

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/tailexplorer/internal/logsource"
	"github.com/tinytelemetry/tailexplorer/internal/model"
)

func newExecRegistry(t *testing.T, specs ...SourceSpec) *Registry {
	t.Helper()
	reg, err := NewRegistry(specs, Options{
		GracePeriod: 20 * time.Millisecond,
		StopTimeout: time.Second,
		Snapshot:    logsource.SnapshotPolicy{MaxLines: 10, IdleTimeout: 20 * time.Millisecond, MaxIdle: 2},
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return reg
}

func TestRegistry_StreamsRealProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	t.Parallel()

	reg := newExecRegistry(t, SourceSpec{
		ID:         "sh",
		Command:    []string{"sh", "-c", "echo one; echo two; exec sleep 30"},
		WorkingDir: t.TempDir(),
	})

	sub := newTestSub("s1")
	require.NoError(t, reg.Subscribe("sh", sub))

	// Depending on timing the lines arrive in the snapshot or afterwards.
	var got []string
	for len(got) < 2 {
		m := sub.next(t)
		switch m.Kind {
		case model.KindInitialLogs:
			got = append(got, m.Lines...)
		case model.KindNewLog:
			got = append(got, m.Line)
		default:
			t.Fatalf("unexpected %s message: %s", m.Kind, m.Error)
		}
	}
	assert.Equal(t, []string{"one", "two"}, got)

	reg.Unsubscribe("sh", sub)
	waitRetired(t, reg, "sh")
}

func TestRegistry_ClosedStdoutEndsRunWhileProcessLives(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	t.Parallel()

	reg := newExecRegistry(t, SourceSpec{
		ID:         "sh",
		Command:    []string{"sh", "-c", "echo one; exec 1>&-; exec sleep 30"},
		WorkingDir: t.TempDir(),
	})

	sub := newTestSub("s1")
	require.NoError(t, reg.Subscribe("sh", sub))

	m := sub.next(t)
	require.Equal(t, model.KindInitialLogs, m.Kind)
	assert.Equal(t, []string{"one"}, m.Lines)

	require.Eventually(t, func() bool {
		st, err := reg.Status("sh")
		return err == nil && st.State == Idle && !st.Running
	}, 4*time.Second, 10*time.Millisecond)

	st, err := reg.Status("sh")
	require.NoError(t, err)
	assert.ErrorIs(t, st.LastError, ErrStreamEnded)
	sub.expectNone(t, 50*time.Millisecond)

	reg.Unsubscribe("sh", sub)
	waitRetired(t, reg, "sh")
}

func TestRegistry_RealSpawnFailure(t *testing.T) {
	t.Parallel()

	reg := newExecRegistry(t, SourceSpec{
		ID:      "missing",
		Command: []string{"/definitely/not/a/real/binary"},
	})

	sub := newTestSub("s1")
	require.NoError(t, reg.Subscribe("missing", sub))

	m := sub.next(t)
	assert.Equal(t, model.KindError, m.Kind)
	assert.Contains(t, m.Error, "Failed to start log source")

	st, err := reg.Status("missing")
	require.NoError(t, err)
	assert.ErrorIs(t, st.LastError, logsource.ErrSpawn)

	reg.Unsubscribe("missing", sub)
	waitRetired(t, reg, "missing")
}
