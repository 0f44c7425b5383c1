package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormZapLoggerTrace(t *testing.T) {
	query := func() (string, int64) { return "SELECT 1", 1 }

	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		elapsed time.Duration
		err     error
		want    zapcore.Level
		logged  bool
	}{
		{"error", gormlogger.Warn, 0, errors.New("boom"), zapcore.ErrorLevel, true},
		{"not found is quiet", gormlogger.Warn, 0, gorm.ErrRecordNotFound, 0, false},
		{"slow", gormlogger.Warn, time.Second, nil, zapcore.WarnLevel, true},
		{"fast at warn", gormlogger.Warn, 0, nil, 0, false},
		{"fast at info", gormlogger.Info, 0, nil, zapcore.DebugLevel, true},
		{"silent", gormlogger.Silent, time.Second, errors.New("boom"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			l := NewGormZapLogger(zap.New(core)).LogMode(tt.level)
			l.Trace(context.Background(), time.Now().Add(-tt.elapsed), query, tt.err)

			entries := logs.All()
			if !tt.logged {
				if len(entries) != 0 {
					t.Errorf("logged %d entries, want none", len(entries))
				}
				return
			}
			if len(entries) != 1 || entries[0].Level != tt.want {
				t.Fatalf("entries = %+v, want one at %s", entries, tt.want)
			}
			if entries[0].ContextMap()["sql"] != "SELECT 1" {
				t.Errorf("sql field = %v", entries[0].ContextMap()["sql"])
			}
		})
	}
}
