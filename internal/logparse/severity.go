// Package logparse classifies raw log lines for display.
package logparse

import (
	"regexp"
	"strings"
)

// Severity is a coarse log level. Unknown sorts below every real level.
type Severity int

const (
	Unknown Severity = iota
	Trace
	Debug
	Info
	Warn
	Error
	Fatal
)

var severityNames = [...]string{"UNKNOWN", "TRACE", "DEBUG", "INFO", "WARN", "ERROR", "FATAL"}

func (s Severity) String() string {
	if s < Unknown || s > Fatal {
		return severityNames[Unknown]
	}
	return severityNames[s]
}

// Passes reports whether a line of severity s should be shown under a
// minimum of min. Lines with no recognizable level always pass.
func (s Severity) Passes(min Severity) bool {
	return s == Unknown || s >= min
}

var (
	// structuredLevel matches level=warn, "level":"error", lvl: info and similar.
	structuredLevel = regexp.MustCompile(`(?i)"?\b(?:level|lvl|severity)"?\s*[:=]\s*"?([a-z]+)`)
	// bareLevel matches a level word anywhere in the text.
	bareLevel = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL|PANIC)\b`)
)

// ParseSeverity maps a level name, abbreviation or prefix to a Severity.
func ParseSeverity(name string) Severity {
	normalized := strings.ToUpper(strings.TrimSpace(name))

	switch normalized {
	case "TRACE", "TRAC", "TRC":
		return Trace
	case "DEBUG", "DEBU", "DBG", "DEB":
		return Debug
	case "INFO", "INFORMATION", "INF":
		return Info
	case "WARN", "WARNING", "WRNG", "WRN":
		return Warn
	case "ERROR", "ERR", "ERRO":
		return Error
	case "FATAL", "FATL", "FTL", "CRITICAL", "CRIT", "CRT", "PANIC", "PNC":
		return Fatal
	}
	if len(normalized) >= 4 {
		switch normalized[:4] {
		case "INFO":
			return Info
		case "WARN":
			return Warn
		case "ERRO":
			return Error
		case "DEBU":
			return Debug
		case "TRAC":
			return Trace
		case "FATA", "CRIT":
			return Fatal
		}
	}
	return Unknown
}

// Classify finds the severity of a raw line. A structured level field wins
// over a bare level word; lines with neither are Unknown.
func Classify(line string) Severity {
	if m := structuredLevel.FindStringSubmatch(line); len(m) > 1 {
		if s := ParseSeverity(m[1]); s != Unknown {
			return s
		}
	}
	if m := bareLevel.FindStringSubmatch(line); len(m) > 1 {
		return ParseSeverity(m[1])
	}
	return Unknown
}
