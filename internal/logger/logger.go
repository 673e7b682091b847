// Copyright (c) 2026 Kevin Zang (kevinzang). All rights reserved.
// Use of this source code is governed by the MIT License.
//
// TranscodeSession - FFmpeg 转码会话管理工具

package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger provides a simple logging interface
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	With(key string, value interface{}) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New returns a logger writing text lines to stderr, tagged with the component name.
// Unknown levels fall back to info.
func New(component, level string) Logger {
	return NewWithOutput(os.Stderr, component, level)
}

// NewWithOutput is New with an explicit destination.
func NewWithOutput(w io.Writer, component, level string) Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	return &logrusLogger{entry: l.WithField("component", component)}
}

// Nop discards everything.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *logrusLogger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logrusLogger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *logrusLogger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logrusLogger) With(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
