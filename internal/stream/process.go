package stream

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tinytelemetry/tailexplorer/internal/logsource"
)

// Process is the running command behind a source.
type Process interface {
	logsource.LogSource
	Start(ctx context.Context) error
	Snapshot(ctx context.Context, policy logsource.SnapshotPolicy) ([]string, bool)
	Err() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
}

// ProcessFactory builds an unstarted Process for a spec.
type ProcessFactory func(spec SourceSpec, log zerolog.Logger) Process

// ExecFactory launches specs as local OS processes.
func ExecFactory(stopTimeout time.Duration) ProcessFactory {
	return func(spec SourceSpec, log zerolog.Logger) Process {
		return logsource.NewProcessSource(string(spec.ID), logsource.ProcessConfig{
			Command:     spec.Command,
			Dir:         spec.WorkingDir,
			MergeStderr: spec.MergeStderr,
			StopTimeout: stopTimeout,
			Logger:      log,
		})
	}
}
