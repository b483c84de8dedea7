package sysutil

import (
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Hara602/usbCapture/internal/config"
)

var Log *zap.Logger
var LogSugar *zap.SugaredLogger

// NewLogger 控制台输出, ISO8601 时间, 大写级别
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Wrapf(err, "log level %q", cfg.Level)
		}
	}

	encoderConfig := zap.NewDevelopmentConfig().EncoderConfig
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // 格式化时间输出
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // 彩色级别

	// 作为动态库加载时 stdout 属于宿主进程, 默认写 stderr
	sink := os.Stderr
	if cfg.Output == "stdout" {
		sink = os.Stdout
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(sink),
		level,
	)
	return zap.New(core, zap.AddCaller()), nil
}

// InitLogger 初始化全局日志, 配置无效时退回 info 级别
func InitLogger(cfg config.LogConfig) {
	logger, err := NewLogger(cfg)
	if err != nil {
		logger, _ = NewLogger(config.LogConfig{Output: cfg.Output})
		logger.Warn("invalid log config, using defaults", zap.Error(err))
	}
	Log = logger
	LogSugar = Log.Sugar()
}
