package logsource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultLineBuffer is the default channel buffer size between the pipe
	// readers and ReadLine.
	DefaultLineBuffer = 1024

	// DefaultMaxLineSize is the default maximum size (in bytes) of a single line.
	DefaultMaxLineSize = 1024 * 1024 // 1MB
)

// decodeLine drops invalid UTF-8 and surrounding whitespace.
func decodeLine(raw string) string {
	return strings.TrimSpace(strings.ToValidUTF8(raw, ""))
}

// scanLines reads r line by line and hands every non-empty decoded line to
// emit until r is exhausted or emit returns false. A clean EOF returns nil.
func scanLines(r io.Reader, maxLineSize int, emit func(string) bool) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, min(64*1024, maxLineSize))
	scanner.Buffer(buf, maxLineSize)

	for scanner.Scan() {
		line := decodeLine(scanner.Text())
		if line == "" {
			continue
		}
		if !emit(line) {
			return nil
		}
	}

	err := scanner.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bufio.ErrTooLong):
		return fmt.Errorf("line exceeded max size (%d bytes): %w", maxLineSize, err)
	default:
		return fmt.Errorf("read: %w", err)
	}
}
