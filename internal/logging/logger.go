// Package logging builds the zap loggers used across crowdqueue.
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field keys shared by every component.
const (
	FieldEntryID       = "entry_id"
	FieldParticipantID = "participant_id"
	FieldMediaID       = "media_id"
	FieldFrom          = "from"
	FieldTo            = "to"
)

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string // "console" or "json"
}

// New constructs a zap logger writing to stderr.
// Unknown levels fall back to info; unknown formats are an error.
func New(opts Options) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(parseLevel(opts.Level))

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.Development = false
	case "json":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	cfg.Level = level
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = level.Level() > zapcore.DebugLevel

	return cfg.Build()
}

func parseLevel(raw string) zapcore.Level {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(raw)))); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// OptionalString returns a zap field for an optional id, "none" when nil.
func OptionalString(key string, v *string) zap.Field {
	if v == nil {
		return zap.String(key, "none")
	}
	return zap.String(key, *v)
}
