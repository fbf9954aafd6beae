package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	logOutputStandardError     = "stderr"
	errorMessageUnknownLevel   = "unknown log level %q"
	errorMessageCreateLogDir   = "create log directory"
	errorMessageBuildLogger    = "build logger"
	logDirectoryMode           = 0o755
	logTimeKey                 = "time"
	defaultLogLevelDescription = "INFO"
)

// logLevels maps LOG_LEVEL names, including the WARNING and CRITICAL spellings, to zap.
var logLevels = map[string]zapcore.Level{
	"DEBUG":    zapcore.DebugLevel,
	"INFO":     zapcore.InfoLevel,
	"WARN":     zapcore.WarnLevel,
	"WARNING":  zapcore.WarnLevel,
	"ERROR":    zapcore.ErrorLevel,
	"CRITICAL": zapcore.ErrorLevel,
}

// newLogger builds a production zap logger writing to stderr and, when set, logFile.
func newLogger(level string, logFile string) (*zap.Logger, error) {
	levelName := strings.ToUpper(strings.TrimSpace(level))
	if levelName == "" {
		levelName = defaultLogLevelDescription
	}
	zapLevel, known := logLevels[levelName]
	if !known {
		return nil, fmt.Errorf(errorMessageUnknownLevel, level)
	}

	configuration := zap.NewProductionConfig()
	configuration.Level = zap.NewAtomicLevelAt(zapLevel)
	configuration.EncoderConfig.TimeKey = logTimeKey
	configuration.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	configuration.OutputPaths = []string{logOutputStandardError}
	configuration.ErrorOutputPaths = []string{logOutputStandardError}

	if trimmedFile := strings.TrimSpace(logFile); trimmedFile != "" {
		if mkdirErr := os.MkdirAll(filepath.Dir(trimmedFile), logDirectoryMode); mkdirErr != nil {
			return nil, fmt.Errorf("%s: %w", errorMessageCreateLogDir, mkdirErr)
		}
		configuration.OutputPaths = append(configuration.OutputPaths, trimmedFile)
	}

	logger, buildErr := configuration.Build()
	if buildErr != nil {
		return nil, fmt.Errorf("%s: %w", errorMessageBuildLogger, buildErr)
	}
	return logger, nil
}
