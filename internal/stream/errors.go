package stream

import "errors"

var (
	// ErrUnknownSource is returned for a source id with no configured spec.
	ErrUnknownSource = errors.New("unknown source")
	// ErrSourceNotActive is returned when history is requested for a source
	// nobody is streaming.
	ErrSourceNotActive = errors.New("source not active")
	// ErrStreamEnded marks a process whose output ended on its own.
	ErrStreamEnded = errors.New("stream ended")
	// ErrRegistryClosed is returned by Subscribe after Close.
	ErrRegistryClosed = errors.New("registry closed")
)
