package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// initLogger builds the process logger. An empty file logs to stderr.
// The returned func closes the log file, if any.
func initLogger(level, file string, stderr io.Writer) (logrus.FieldLogger, func(), error) {
	logger := logrus.New()
	logger.Formatter = &logrus.TextFormatter{}
	logger.SetOutput(stderr)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	logger.SetLevel(lvl)

	closeFn := func() {}
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		closeFn = func() { f.Close() }
	}

	return logger.WithFields(logrus.Fields{"app": "idelink", "version": Version}), closeFn, nil
}
