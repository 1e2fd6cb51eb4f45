package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"golang.org/x/term"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/voicenexus/voicenexus/internal/config"
)

var logFile *lumberjack.Logger

// setupLog installs the logger used before configuration is loaded.
func setupLog() (func() error, error) {
	log.SetOutput(os.Stderr)
	log.SetLevel(log.InfoLevel)
	log.SetReportTimestamp(!term.IsTerminal(int(os.Stderr.Fd())))
	return func() error {
		if logFile != nil {
			return logFile.Close()
		}
		return nil
	}, nil
}

// configureLog applies the log section of the configuration. When a file
// is set, records go to both stderr and a rotating file.
func configureLog(c config.LogConfig) error {
	level, err := log.ParseLevel(c.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log.SetLevel(level)

	switch c.Format {
	case "json":
		log.SetFormatter(log.JSONFormatter)
	case "logfmt":
		log.SetFormatter(log.LogfmtFormatter)
	default:
		log.SetFormatter(log.TextFormatter)
	}

	var out io.Writer = os.Stderr
	if c.File != "" {
		if err := os.MkdirAll(filepath.Dir(c.File), 0o755); err != nil { //nolint:gosec
			return fmt.Errorf("unable to create log directory: %w", err)
		}
		logFile = &lumberjack.Logger{
			Filename:   c.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		out = io.MultiWriter(os.Stderr, logFile)
		log.SetReportTimestamp(true)
	}
	log.SetOutput(out)
	return nil
}
