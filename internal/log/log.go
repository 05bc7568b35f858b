// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides the process-wide structured logger used by every
// other package in this module. It wraps zap the way milvus's datacoord and
// paramtable packages consume a package-scoped logger: callers import this
// package and call the top-level helpers instead of carrying a *zap.Logger
// through every function signature.
package log

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls how the global logger is constructed.
type Config struct {
	Level      string `yaml:"level" json:"level"`
	Format     string `yaml:"format" json:"format"` // "console" or "json"
	Stdout     bool   `yaml:"stdout" json:"stdout"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB" json:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
}

var (
	_globalLogger atomic.Pointer[zap.Logger]
	_globalProps  atomic.Pointer[zapcore.EncoderConfig]
	initOnce      sync.Once
)

func init() {
	l, _ := zap.NewProduction()
	_globalLogger.Store(l)
}

// Init (re)configures the global logger from cfg. Safe to call once at
// process startup; later calls replace the logger atomically.
func Init(cfg Config) error {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return err
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.AddSync(zapcore.Lock(zapcore.AddSync(newWriter(cfg))))
	core := zapcore.NewCore(enc, sink, level)
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	_globalLogger.Store(logger)
	_globalProps.Store(&encCfg)
	return nil
}

// L returns the current global logger. Use this when a local *zap.Logger is
// preferred over the package-level helpers, e.g. to build a request-scoped
// child with With(...).
func L() *zap.Logger {
	return _globalLogger.Load()
}

func Debug(msg string, fields ...zap.Field) { L().Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { L().Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { L().Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { L().Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { L().Fatal(msg, fields...) }

// With returns a child logger carrying the given fields, the way request
// handlers in the publish pipeline attach tablet/txn identity once and reuse
// it across a task's log lines.
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}
