package logging

import (
	"testing"

	"github.com/nalgeon/be"
	"go.uber.org/zap/zapcore"

	"github.com/autoreply-dev/autoreply/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name  string
		cfg   config.LogConfig
		level zapcore.Level
	}{
		{"defaults", config.LogConfig{}, zapcore.InfoLevel},
		{"debug console", config.LogConfig{Level: "debug", Format: "console"}, zapcore.DebugLevel},
		{"upper case", config.LogConfig{Level: "WARN", Format: "json"}, zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			be.Err(t, err, nil)
			be.True(t, logger.Core().Enabled(tt.level))
			be.True(t, !logger.Core().Enabled(tt.level-1))
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "loud"})
	be.Err(t, err, "invalid log level")
}
