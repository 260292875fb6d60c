package training

import (
	"log"
	"os"
)

// Logger is the logging sink used by the training loop. It accepts formatted
// text lines.
type Logger interface {
	Logf(format string, v ...interface{})
}

// StdLogger writes timestamped lines to standard output.
type StdLogger struct {
	logger *log.Logger
}

// NewStdLogger creates the default logger.
func NewStdLogger() *StdLogger {
	return &StdLogger{logger: log.New(os.Stdout, "", log.LstdFlags)}
}

func (l *StdLogger) Logf(format string, v ...interface{}) {
	l.logger.Printf(format, v...)
}

// NopLogger discards all lines.
type NopLogger struct{}

func (NopLogger) Logf(string, ...interface{}) {}
