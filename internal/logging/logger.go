package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"proctor-go/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// fileLevels are written to their own rotating file each.
var fileLevels = []zapcore.Level{
	zapcore.DebugLevel,
	zapcore.InfoLevel,
	zapcore.WarnLevel,
	zapcore.ErrorLevel,
}

// Init builds the service logger: one JSON file per level under the
// configured directory plus a colored console. Relative directories are
// resolved against projectRoot.
func Init(projectRoot string, conf config.LoggingConfig) (*zap.Logger, error) {
	logDir := conf.Directory
	if logDir == "" {
		logDir = "logs"
	}
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(projectRoot, logDir)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create log directory: %w", err)
	}

	fileEncoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		LevelKey:       "level",
		TimeKey:        "time",
		CallerKey:      "caller",
		NameKey:        "component",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})

	date := time.Now().Format("2006-01-02")
	cores := make([]zapcore.Core, 0, len(fileLevels)+1)
	for _, level := range fileLevels {
		cores = append(cores, newFileCore(logDir, date, level, fileEncoder, conf))
	}
	cores = append(cores, newConsoleCore())

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()).
		With(zap.String("service", "proctor")), nil
}

// newFileCore writes exactly one level to proctor-<date>-<level>.log.
func newFileCore(logDir, date string, level zapcore.Level, enc zapcore.Encoder, conf config.LoggingConfig) zapcore.Core {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(logDir, fmt.Sprintf("proctor-%s-%s.log", date, level.String())),
		MaxSize:    conf.MaxSize, // megabytes
		MaxBackups: conf.MaxBackups,
		MaxAge:     conf.MaxAge, // days
		Compress:   conf.Compress,
	})
	only := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l == level })
	return zapcore.NewCore(enc.Clone(), writer, only)
}

// NewConsole returns a console-only logger for use before configuration
// has been loaded.
func NewConsole() *zap.Logger {
	return zap.New(newConsoleCore(), zap.AddCaller())
}

func newConsoleCore() zapcore.Core {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stdout),
		zapcore.DebugLevel,
	)
}
