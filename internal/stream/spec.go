package stream

import (
	"github.com/tinytelemetry/tailexplorer/internal/model"
)

// SourceSpec is the static description of one log source. It is never
// modified after the registry is built.
type SourceSpec struct {
	ID               model.SourceID
	Name             string
	Type             string
	Description      string
	Command          []string
	WorkingDir       string
	MaxLines         int
	CleanupThreshold int
	MergeStderr      bool
}

// Status is a point-in-time view of a source.
type Status struct {
	ID            model.SourceID
	State         State
	Subscribers   int
	Running       bool
	BufferedLines int
	// MaxLines is the capacity of the live buffer, zero when none exists.
	MaxLines int
	// LastError is the spawn failure or ErrStreamEnded-wrapped exit of the
	// most recent run, nil while a run is live.
	LastError error
}
