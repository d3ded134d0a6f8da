// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package eventlog writes structured routing events as JSON lines.
//
// Each line is {"ts":..., "event_type":..., "data":{...}}. Files are named
// edgeroute_YYYYMMDD.log and a new one is started when the day changes.
// Logging is fire-and-forget: a failed write is reported to the
// operational logger and never surfaces to the caller.
package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// filePrefix and fileDateLayout form edgeroute_20250131.log.
const (
	filePrefix     = "edgeroute_"
	fileDateLayout = "20060102"
)

// Logger records routing events.
type Logger interface {
	LogEvent(eventType string, data map[string]any)
}

// Nop discards every event.
type Nop struct{}

// LogEvent implements Logger.
func (Nop) LogEvent(string, map[string]any) {}

// FileLogger writes events to a daily file under a directory.
type FileLogger struct {
	events *zap.Logger
	sink   *dailyFile
}

// NewFileLogger creates dir if needed and returns a logger writing into it.
// Write failures are reported to errLog, which may be nil.
func NewFileLogger(dir string, errLog *zap.Logger) (*FileLogger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create event log directory: %w", err)
	}
	if errLog == nil {
		errLog = zap.NewNop()
	}

	sink := &dailyFile{dir: dir, now: time.Now, errLog: errLog}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		MessageKey:     "event_type",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, zapcore.DebugLevel)

	return &FileLogger{events: zap.New(core), sink: sink}, nil
}

// LogEvent implements Logger.
func (l *FileLogger) LogEvent(eventType string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	l.events.Info(eventType, zap.Any("data", data))
}

// Path returns the file today's events are written to.
func (l *FileLogger) Path() string {
	return l.sink.pathFor(l.sink.now())
}

// Close flushes and closes the current file.
func (l *FileLogger) Close() error {
	_ = l.events.Sync()
	return l.sink.Close()
}

// dailyFile is a zapcore.WriteSyncer that switches files at midnight.
type dailyFile struct {
	dir    string
	now    func() time.Time
	errLog *zap.Logger

	mu   sync.Mutex
	day  string
	file *os.File
}

func (d *dailyFile) pathFor(t time.Time) string {
	return filepath.Join(d.dir, filePrefix+t.Format(fileDateLayout)+".log")
}

// Write never returns an error; zap would otherwise retry or report it on
// stderr for every event.
func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	day := now.Format(fileDateLayout)
	if d.file == nil || d.day != day {
		if d.file != nil {
			_ = d.file.Close()
			d.file = nil
		}
		f, err := os.OpenFile(d.pathFor(now), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			d.errLog.Warn("event log unavailable", zap.Error(err))
			return len(p), nil
		}
		d.file = f
		d.day = day
	}

	if _, err := d.file.Write(p); err != nil {
		d.errLog.Warn("event log write failed", zap.Error(err))
	}
	return len(p), nil
}

func (d *dailyFile) Sync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	return d.file.Sync()
}

func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
