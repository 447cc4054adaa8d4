// Package logging builds the logrus logger shared by all the services,
// writing to the console and to a rotating log file.
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLogFilename   = "taker.log"
	DefaultMaxFileSizeKB = 10 * 1024
	DefaultMaxFiles      = 3
)

// Config defines the parameters for creating a Logger with New.
type Config struct {
	Level logrus.Level
	// LogDir, if not empty, enables the rotating log file.
	LogDir        string
	MaxFileSizeKB int64
	MaxFiles      int
	// Console defaults to stdout.
	Console io.Writer
}

// Logger is a logrus logger whose file output must be flushed with Close at
// shutdown.
type Logger struct {
	*logrus.Logger

	rotator *rotator.Rotator
	pipe    *io.PipeWriter
	done    chan struct{}
}

// New returns a Logger writing to the console and, if configured, to a
// rotating file under LogDir.
func New(cfg Config) (*Logger, error) {
	console := cfg.Console
	if console == nil {
		console = os.Stdout
	}

	l := logrus.New()
	l.SetLevel(cfg.Level)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger := &Logger{Logger: l}

	if cfg.LogDir == "" {
		l.SetOutput(console)
		return logger, nil
	}

	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	maxSize, maxFiles := cfg.MaxFileSizeKB, cfg.MaxFiles
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSizeKB
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}

	r, err := rotator.New(
		filepath.Join(cfg.LogDir, DefaultLogFilename), maxSize, true, maxFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	logger.rotator = r
	logger.pipe = pw
	logger.done = make(chan struct{})

	go func() {
		defer close(logger.done)
		if err := r.Run(pr); err != nil && !errors.Is(err, io.EOF) {
			fmt.Fprintf(os.Stderr, "failed to run file rotator: %v\n", err)
		}
	}()

	l.SetOutput(io.MultiWriter(console, pw))
	return logger, nil
}

// Close flushes and closes the log file, if any. Logging after Close only
// reaches the console.
func (l *Logger) Close() error {
	if l.rotator == nil {
		return nil
	}

	l.SetOutput(os.Stdout)
	if err := l.pipe.Close(); err != nil {
		return err
	}
	<-l.done
	err := l.rotator.Close()
	l.rotator = nil
	return err
}

// ParseLevel converts the numeric level of the config into a logrus level.
func ParseLevel(level int) (logrus.Level, error) {
	if level < int(logrus.PanicLevel) || level > int(logrus.TraceLevel) {
		return 0, fmt.Errorf("invalid log level %d", level)
	}
	return logrus.Level(level), nil
}
