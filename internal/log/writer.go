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

package log

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// newWriter builds the sink for the configured logger: stdout, a rotating
// file, or both. Mirrors how milvus's log package layers an optional
// lumberjack rotator under the zap core.
func newWriter(cfg Config) io.Writer {
	var writers []io.Writer
	if cfg.Stdout || cfg.File == "" {
		writers = append(writers, os.Stdout)
	}
	if cfg.File != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxOrDefault(cfg.MaxSizeMB, 300),
			MaxBackups: maxOrDefault(cfg.MaxBackups, 10),
			Compress:   true,
		})
	}
	if len(writers) == 1 {
		return writers[0]
	}
	return io.MultiWriter(writers...)
}

func maxOrDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
