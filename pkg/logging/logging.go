// Package logging builds the zap logger shared by the CLI and the protocol
// packages.
//
// Logging is silent unless a level is given, either explicitly or through
// ECUFLASH_LOG_LEVEL. A log file, when configured, is rotated by lumberjack
// and receives the same records as the console.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevelEnvVar overrides an empty Options.Level.
const LogLevelEnvVar = "ECUFLASH_LOG_LEVEL"

type Options struct {
	// Level is debug, info, warn or error. Empty means silent.
	Level string `yaml:"level"`
	// File enables a rotated log file in addition to stderr.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
	MaxBackups int    `yaml:"max_backups"`
	Compress   bool   `yaml:"compress"`
}

func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

// New returns a nop logger when no level is configured.
func New(o Options) (*zap.Logger, error) {
	if o.Level == "" {
		o.Level = os.Getenv(LogLevelEnvVar)
	}
	if o.Level == "" {
		return zap.NewNop(), nil
	}
	lvl, err := ParseLevel(o.Level)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	consoleCfg := encCfg
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleCfg), zapcore.Lock(os.Stderr), lvl),
	}

	if o.File != "" {
		if err := os.MkdirAll(filepath.Dir(o.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		fileCfg := encCfg
		fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(fileCfg), zapcore.AddSync(Rotator(o)), lvl))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}

// Rotator returns the lumberjack writer for o.File with defaults applied.
func Rotator(o Options) *lumberjack.Logger {
	if o.MaxSizeMB <= 0 {
		o.MaxSizeMB = 10
	}
	if o.MaxAgeDays <= 0 {
		o.MaxAgeDays = 7
	}
	if o.MaxBackups <= 0 {
		o.MaxBackups = 3
	}
	return &lumberjack.Logger{
		Filename:   o.File,
		MaxSize:    o.MaxSizeMB,
		MaxAge:     o.MaxAgeDays,
		MaxBackups: o.MaxBackups,
		Compress:   o.Compress,
	}
}

const maxHexDump = 64

// Hex renders up to 64 bytes as spaced hex, noting how many were cut.
func Hex(b []byte) string {
	if len(b) <= maxHexDump {
		return fmt.Sprintf("% X", b)
	}
	return fmt.Sprintf("% X ... (+%d bytes)", b[:maxHexDump], len(b)-maxHexDump)
}

// HexField is a zap field carrying Hex(b).
func HexField(key string, b []byte) zap.Field {
	return zap.String(key, Hex(b))
}
