package log

import (
	"telegram-dialogs/internal/conf"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Module 提供 Fx 模块
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
)

// NewLogger 根据配置创建 zap 日志器
func NewLogger(c *conf.Bootstrap) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if c != nil && c.Log != nil && c.Log.Level != "" {
		if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
			return nil, err
		}
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)

	// debug 级别下使用开发格式，便于本地排查
	if level == zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	}

	return cfg.Build()
}
