// Package logging wires logrus for process-wide structured logging and
// provides a RequestLogger used by the admin-visible request/response trace.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
)

// Setup configures the global logrus logger for the process.
func Setup(logDir string, debug bool) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if logDir == "" {
		return nil
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(logDir, "llmgate.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	log.SetOutput(io.MultiWriter(os.Stdout, f))
	return nil
}

// RequestLogger captures request/response pairs for operator diagnosis.
// Zero overhead when disabled.
type RequestLogger interface {
	IsEnabled() bool
	LogRequest(info RequestInfo)
}

// RequestInfo is a single captured request/response exchange.
type RequestInfo struct {
	Method     string
	URL        string
	Provider   string
	StatusCode int
	Duration   time.Duration
	Err        error
}

// FileRequestLogger appends captured exchanges as log lines under LogDir.
type FileRequestLogger struct {
	enabled bool
}

// NewFileRequestLogger builds a RequestLogger that is a no-op unless enabled.
func NewFileRequestLogger(enabled bool, _ string) *FileRequestLogger {
	return &FileRequestLogger{enabled: enabled}
}

func (l *FileRequestLogger) IsEnabled() bool { return l != nil && l.enabled }

func (l *FileRequestLogger) LogRequest(info RequestInfo) {
	if !l.IsEnabled() {
		return
	}
	fields := log.Fields{
		"method":   info.Method,
		"url":      info.URL,
		"provider": info.Provider,
		"status":   info.StatusCode,
		"duration": info.Duration.String(),
	}
	if info.Err != nil {
		log.WithFields(fields).WithError(info.Err).Warn("upstream request failed")
		return
	}
	log.WithFields(fields).Debug("upstream request completed")
}
