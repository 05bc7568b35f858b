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

package paramtable

import (
	"sync"

	"github.com/cloudtablet/tabletd/internal/compaction"
)

// ComponentParam groups every component's typed configuration view atop
// a single BaseTable, the way the teacher's ComponentParam groups
// per-component config structs atop ServiceParam.
type ComponentParam struct {
	once sync.Once
	base *BaseTable

	SchedulerCfg SchedulerConfig
	PublishCfg   PublishConfig
	VaultCfg     VaultConfig
	ClusterCfg   ClusterConfig
}

func NewComponentParam() *ComponentParam {
	return &ComponentParam{base: NewBaseTable()}
}

func (p *ComponentParam) Init() {
	p.once.Do(func() {
		p.SchedulerCfg.init(p.base)
		p.PublishCfg.init(p.base)
		p.VaultCfg.init(p.base)
		p.ClusterCfg.init(p.base)
	})
}

// SchedulerConfig mirrors compaction.Config, sourced from the
// "scheduler.*" keys (§6 task-producer tuning).
type SchedulerConfig struct {
	compaction.Config
}

func (c *SchedulerConfig) init(b *BaseTable) {
	c.IntervalMs = b.GetInt("scheduler.interval_ms")
	c.CumulativeRoundsPerBaseRound = b.GetInt("scheduler.cumulative_rounds_per_base_round")
	c.CompactionTaskNumPerFastDisk = b.GetInt("scheduler.compaction_task_num_per_fast_disk")
	c.MaxBaseCompactionTaskNumPerDisk = b.GetInt("scheduler.max_base_compaction_task_num_per_disk")
	c.LargeCumuBytesThreshold = b.GetInt64("scheduler.large_cumu_compaction_task_bytes_threshold")
	c.LargeCumuRowsThreshold = b.GetInt64("scheduler.large_cumu_compaction_task_rows_threshold")
	c.LargeCumuMinThreadNum = b.GetInt("scheduler.large_cumu_compaction_task_min_thread_num")
	c.LeaseIntervalSeconds = b.GetInt("scheduler.lease_compaction_interval_seconds")
	c.AutoCompactionDisabled = b.GetBool("scheduler.auto_compaction_disabled")
	c.ParallelCumuEnabled = b.GetBool("scheduler.parallel_cumu_enabled")
}

// PublishConfig sources the "publish.*" keys.
type PublishConfig struct {
	MowPublishMaxDiscontinuousVersionNum int64
}

func (c *PublishConfig) init(b *BaseTable) {
	c.MowPublishMaxDiscontinuousVersionNum = b.GetInt64("publish.mow_publish_max_discontinuous_version_num")
}

// VaultConfig sources the "vault.*" keys.
type VaultConfig struct {
	RefreshIntervalSeconds int
}

func (c *VaultConfig) init(b *BaseTable) {
	c.RefreshIntervalSeconds = b.GetInt("vault.refresh_s3_info_interval_s")
}

// ClusterConfig sources the "cluster.*" keys used by the startup
// cluster-id check (§6).
type ClusterConfig struct {
	ConfiguredId int64
	StorePaths   []string
}

func (c *ClusterConfig) init(b *BaseTable) {
	c.ConfiguredId = b.GetInt64("cluster.configured_id")
	c.StorePaths = b.GetStringSlice("cluster.store_paths")
}
