// Package logger builds the process-wide zap logger from the logging
// configuration.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger.
//
// level is DEBUG, INFO, WARN or ERROR (case-insensitive); format is "text"
// or "json"; output is "stdout", "stderr" or a file path. Errors and above
// carry stack traces, matching the server-side logging policy for handler
// failures.
func New(level, format, output string) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = zapcore.DebugLevel
	case "INFO", "":
		lvl = zapcore.InfoLevel
	case "WARN":
		lvl = zapcore.WarnLevel
	case "ERROR":
		lvl = zapcore.ErrorLevel
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	switch format {
	case "text", "":
		cfg.Encoding = "console"
	case "json":
		cfg.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	switch output {
	case "stdout", "":
		cfg.OutputPaths = []string{"stdout"}
	case "stderr":
		cfg.OutputPaths = []string{"stderr"}
	default:
		cfg.OutputPaths = []string{output}
	}

	return cfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
}
