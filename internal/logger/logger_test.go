package logger

import (
	"testing"

	"github.com/deppfellow/apm-transactions/internal/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerServiceWithoutLicense(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()

	ls := NewLoggerService(&cfg)
	assert.Nil(t, ls.GetApplication())
	ls.Shutdown()
}

func TestNewLoggerLevel(t *testing.T) {
	cfg := config.DefaultObservabilityConfig()
	cfg.Logging.Level = "warn"

	l := NewLogger(&cfg)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	cfg.Logging.Level = ""
	cfg.Environment = "production"
	l = NewLogger(&cfg)
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}

func TestWithTraceContextNilTransaction(t *testing.T) {
	l := zerolog.Nop()
	assert.Equal(t, l, WithTraceContext(l, nil))
}

func TestNilServiceIsSafe(t *testing.T) {
	var ls *LoggerService
	assert.Nil(t, ls.GetApplication())
	ls.Shutdown()
}
