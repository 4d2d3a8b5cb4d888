// Package logging builds the daemon's loggers. Every subsystem gets a
// stdlib logger with a bracketed prefix; when a log file is configured the
// output also goes to a size-rotated file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the shared log sink.
type Options struct {
	// File enables rotating file output when non-empty.
	File string

	// MaxSizeMB, MaxBackups, MaxAgeDays control rotation. Zero values fall
	// back to lumberjack's defaults.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Sink is a shared log destination handed to every subsystem logger.
type Sink struct {
	w      io.Writer
	closer io.Closer
}

// NewSink creates the shared destination: stderr, plus a rotating file when
// opts.File is set.
func NewSink(opts Options) *Sink {
	if opts.File == "" {
		return &Sink{w: os.Stderr}
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
	}
	return &Sink{
		w:      io.MultiWriter(os.Stderr, rotator),
		closer: rotator,
	}
}

// Logger returns a logger writing to the sink with "[subsystem] " prefixed
// to every line.
func (s *Sink) Logger(subsystem string) *log.Logger {
	return log.New(s.w, "["+subsystem+"] ", log.LstdFlags)
}

// Close flushes and closes the rotating file, if any.
func (s *Sink) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
