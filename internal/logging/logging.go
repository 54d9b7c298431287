// Package logging builds the service's zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
	defaultLogMaxSizeMB  = 100
	defaultLogMaxBackups = 7
	defaultLogMaxAgeDays = 28
)

// Options selects level and destination. An empty File logs to Out, which
// defaults to stdout.
type Options struct {
	Level   string
	File    string
	Out     io.Writer
	NoColor bool
}

// ParseLevel maps a level name to a zerolog level. Unknown names are info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New returns the service logger and a closer for its output. It also sets
// the zerolog global level and log.Logger.
func New(opts Options) (zerolog.Logger, io.Closer) {
	var writer io.Writer = os.Stdout
	if opts.Out != nil {
		writer = opts.Out
	}

	var closer io.Closer = nopCloser{}
	if file := strings.TrimSpace(opts.File); file != "" {
		lj := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    defaultLogMaxSizeMB,
			MaxBackups: defaultLogMaxBackups,
			MaxAge:     defaultLogMaxAgeDays,
			Compress:   true,
		}
		writer = lj
		closer = lj
		opts.NoColor = true
	}

	cw := zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339, NoColor: opts.NoColor}
	zl := zerolog.New(cw).With().Timestamp().Logger()

	zerolog.SetGlobalLevel(ParseLevel(opts.Level))
	log.Logger = zl

	return zl, closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
