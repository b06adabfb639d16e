// Package logging routes the standard logger to stderr and, optionally,
// a size-rotated log file.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Setup points the standard logger at stderr plus path when path is set.
// The returned closer releases the log file.
func Setup(path string) io.Closer {
	log.SetFlags(log.LstdFlags)
	if path == "" {
		log.SetOutput(os.Stderr)
		return nopCloser{}
	}

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, rotator))
	return rotator
}

// New returns a prefixed logger sharing the standard logger's output.
func New(prefix string) *log.Logger {
	return log.New(log.Writer(), prefix, log.LstdFlags)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
