package logsource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSpawn matches every *SpawnError via errors.Is.
var ErrSpawn = errors.New("spawn failed")

var (
	errEmptyCommand   = errors.New("empty command")
	errAlreadyStarted = errors.New("process already started")
)

// SpawnError reports that a source command could not be launched.
type SpawnError struct {
	Command []string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %q in %s: %v", strings.Join(e.Command, " "), e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrSpawn) match.
func (e *SpawnError) Is(target error) bool { return target == ErrSpawn }
