package logsource

import (
	"context"
	"time"

	"github.com/tinytelemetry/tailexplorer/internal/model"
)

// LogSource is a line-oriented input that is read until it ends.
type LogSource interface {
	ReadLine(ctx context.Context) (string, bool) // blocks; false once the source has ended
	Stop()                                       // graceful shutdown, safe to repeat
	Name() string
}

// SnapshotPolicy bounds the startup read that fills in recent history.
// The read stops at MaxLines lines or after MaxIdle consecutive waits of
// IdleTimeout without a line, whichever comes first.
type SnapshotPolicy struct {
	MaxLines    int
	IdleTimeout time.Duration
	MaxIdle     int
}

// DefaultSnapshotPolicy returns 100 lines / 3 idle waits of 2s.
func DefaultSnapshotPolicy() SnapshotPolicy {
	return SnapshotPolicy{
		MaxLines:    model.DefaultSnapshotLines,
		IdleTimeout: model.DefaultSnapshotIdleTimeout,
		MaxIdle:     model.DefaultSnapshotMaxIdle,
	}
}

func (p SnapshotPolicy) withDefaults() SnapshotPolicy {
	d := DefaultSnapshotPolicy()
	if p.MaxLines <= 0 {
		p.MaxLines = d.MaxLines
	}
	if p.IdleTimeout <= 0 {
		p.IdleTimeout = d.IdleTimeout
	}
	if p.MaxIdle <= 0 {
		p.MaxIdle = d.MaxIdle
	}
	return p
}
