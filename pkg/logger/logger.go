package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 定義 logger 的輸出設定
type Config struct {
	Level       string   `yaml:"level"`        // debug, info, warn, error
	Encoding    string   `yaml:"encoding"`     // json 或 console
	OutputPaths []string `yaml:"output_paths"` // 檔案路徑或 stdout / stderr
}

// DefaultConfig 以 JSON、info 等級寫入 bank.log
func DefaultConfig() Config {
	return Config{
		Level:       "info",
		Encoding:    "json",
		OutputPaths: []string{"bank.log"},
	}
}

// New 依設定建立 zap logger
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if strings.TrimSpace(cfg.Level) != "" {
		var parsed zapcore.Level
		if err := parsed.Set(cfg.Level); err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = zap.NewAtomicLevelAt(parsed)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	zcfg.DisableStacktrace = true
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	switch cfg.Encoding {
	case "", "json":
		zcfg.Encoding = "json"
	case "console":
		zcfg.Encoding = "console"
	default:
		return nil, fmt.Errorf("invalid log encoding %q", cfg.Encoding)
	}
	if len(cfg.OutputPaths) > 0 {
		zcfg.OutputPaths = cfg.OutputPaths
	}

	built, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return built, nil
}
