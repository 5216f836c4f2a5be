package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production zap logger shaped by the log section.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Level != "" {
		level, err := zapcore.ParseLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if c.Encoding != "" {
		zc.Encoding = c.Encoding
	}
	if len(c.OutputPaths) > 0 {
		zc.OutputPaths = c.OutputPaths
	}
	return zc.Build()
}
