// Package linebuffer keeps a bounded, ordered window of recent log lines for
// one source.
package linebuffer

import (
	"sync"

	"github.com/tinytelemetry/tailexplorer/internal/model"
)

// Buffer holds at most maxLines lines. When an append pushes it past maxLines
// it is cut back to the most recent cleanupThreshold lines in one step, so the
// cost of trimming is spread over the next maxLines-cleanupThreshold appends.
//
// One goroutine appends; any number may read.
type Buffer struct {
	mu               sync.RWMutex
	lines            []model.LogLine
	maxLines         int
	cleanupThreshold int
}

// New creates a buffer. Out-of-range limits fall back to the package defaults,
// and cleanupThreshold is clamped below maxLines.
func New(maxLines, cleanupThreshold int) *Buffer {
	if maxLines <= 0 {
		maxLines = model.DefaultMaxLines
	}
	if cleanupThreshold <= 0 {
		cleanupThreshold = model.DefaultCleanupThreshold
	}
	if cleanupThreshold >= maxLines {
		cleanupThreshold = maxLines / 2
	}
	return &Buffer{
		lines:            make([]model.LogLine, 0, min(maxLines+1, 1024)),
		maxLines:         maxLines,
		cleanupThreshold: cleanupThreshold,
	}
}

// Append adds one line, truncating to the newest cleanupThreshold lines when
// the buffer grows beyond maxLines.
func (b *Buffer) Append(line model.LogLine) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lines = append(b.lines, line)
	if len(b.lines) <= b.maxLines {
		return
	}

	keep := b.cleanupThreshold
	n := copy(b.lines, b.lines[len(b.lines)-keep:])
	clear(b.lines[n:])
	b.lines = b.lines[:n]
}

// AppendAll appends lines in order.
func (b *Buffer) AppendAll(lines []model.LogLine) {
	for _, l := range lines {
		b.Append(l)
	}
}

// Recent returns up to the last n lines, oldest first.
func (b *Buffer) Recent(n int) []model.LogLine {
	if n <= 0 {
		return []model.LogLine{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if n > len(b.lines) {
		n = len(b.lines)
	}
	out := make([]model.LogLine, n)
	copy(out, b.lines[len(b.lines)-n:])
	return out
}

// Snapshot returns a copy of every buffered line.
func (b *Buffer) Snapshot() []model.LogLine {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.LogLine, len(b.lines))
	copy(out, b.lines)
	return out
}

// Len reports the number of buffered lines.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.lines)
}

// Limits returns the effective maxLines and cleanupThreshold.
func (b *Buffer) Limits() (maxLines, cleanupThreshold int) {
	return b.maxLines, b.cleanupThreshold
}
