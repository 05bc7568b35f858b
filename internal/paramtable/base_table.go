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

// Package paramtable implements the node's configuration layer: a viper-
// backed key/value table with typed accessors via spf13/cast, following
// the teacher's own util/paramtable.BaseTable pattern of a single flat
// config surface loaded from YAML and overridable by environment
// variables.
package paramtable

import (
	"os"
	"strings"
	"sync"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/cloudtablet/tabletd/internal/errs"
)

const envPrefix = "TABLETD"

// BaseTable is the flat key/value configuration surface every component
// reads its tuning knobs from.
type BaseTable struct {
	once sync.Once
	v    *viper.Viper
}

func NewBaseTable() *BaseTable {
	bt := &BaseTable{}
	bt.once.Do(bt.init)
	return bt
}

func (bt *BaseTable) init() {
	bt.v = viper.New()
	bt.v.SetEnvPrefix(envPrefix)
	bt.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bt.v.AutomaticEnv()
	applyDefaults(bt.v)
}

// LoadYaml merges a YAML config file into the table; missing files are
// not an error, matching the teacher's lenient config-dir lookup.
func (bt *BaseTable) LoadYaml(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	bt.v.SetConfigFile(path)
	if err := bt.v.ReadInConfig(); err != nil {
		return errs.Wrapf(err, "load config file %s", path)
	}
	return nil
}

func (bt *BaseTable) Get(key string) string        { return bt.v.GetString(key) }
func (bt *BaseTable) GetInt(key string) int         { return cast.ToInt(bt.v.Get(key)) }
func (bt *BaseTable) GetInt64(key string) int64     { return cast.ToInt64(bt.v.Get(key)) }
func (bt *BaseTable) GetFloat64(key string) float64 { return cast.ToFloat64(bt.v.Get(key)) }
func (bt *BaseTable) GetBool(key string) bool       { return cast.ToBool(bt.v.Get(key)) }
func (bt *BaseTable) GetStringSlice(key string) []string {
	return cast.ToStringSlice(bt.v.Get(key))
}

func (bt *BaseTable) Save(key, value string) { bt.v.Set(key, value) }

func applyDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.interval_ms", 10000)
	v.SetDefault("scheduler.cumulative_rounds_per_base_round", 9)
	v.SetDefault("scheduler.compaction_task_num_per_fast_disk", 4)
	v.SetDefault("scheduler.max_base_compaction_task_num_per_disk", 2)
	v.SetDefault("scheduler.large_cumu_compaction_task_bytes_threshold", int64(1<<30))
	v.SetDefault("scheduler.large_cumu_compaction_task_rows_threshold", int64(10_000_000))
	v.SetDefault("scheduler.large_cumu_compaction_task_min_thread_num", 3)
	v.SetDefault("scheduler.lease_compaction_interval_seconds", 10)
	v.SetDefault("scheduler.auto_compaction_disabled", false)
	v.SetDefault("scheduler.parallel_cumu_enabled", false)

	v.SetDefault("publish.mow_publish_max_discontinuous_version_num", 20)

	v.SetDefault("vault.refresh_s3_info_interval_s", 60)

	v.SetDefault("cluster.configured_id", int64(-1))
	v.SetDefault("cluster.store_paths", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.stdout", true)
}
