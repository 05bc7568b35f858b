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

package metastore

import (
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
)

// FromTabletMeta is FromDescriptor's inverse: it captures the persisted
// subset of a live TabletMeta's state (identity, schema, binlog,
// time-series-compaction parameters, and — for merge-on-write tablets —
// the delete bitmap excluding stale-rowset entries) into a Descriptor
// ready for EncodeWithRetry (§4.2). Live/stale RowsetMeta themselves are
// never embedded, matching cloud mode's "they live in the metadata
// service" rule.
func FromTabletMeta(m *tabletmeta.TabletMeta) *Descriptor {
	schema := m.Schema()

	d := &Descriptor{
		TableId:              m.TableId,
		PartitionId:          m.PartitionId,
		TabletId:             m.TabletId,
		ReplicaId:            m.ReplicaId,
		Shard:                m.Shard,
		Uid:                  m.Uid,
		State:                int32(m.State),
		CumulativeLayerPoint: m.CumulativeLayerPoint,
		MergeOnWrite:         m.MergeOnWrite,
		Schema:               *schema,
		BinlogEnable:         m.Binlog.Enable,
		BinlogMaxBytes:       m.Binlog.MaxBytes,
		BinlogMaxHistoryNum:  m.Binlog.MaxHistoryNum,
		BinlogTTLSeconds:     m.Binlog.TTLSeconds,
		TSGoalSizeMbytes:        m.TSCompaction.GoalSizeMbytes,
		TSFileCountThreshold:    m.TSCompaction.FileCountThreshold,
		TSTimeThresholdSeconds:  m.TSCompaction.TimeThresholdSeconds,
		TSEmptyRowsetsThreshold: m.TSCompaction.EmptyRowsetsThreshold,
		TSLevelThreshold:        m.TSCompaction.LevelThreshold,
	}

	if !m.MergeOnWrite {
		return d
	}

	live := m.LiveRowsets()
	stale := m.StaleRowsets()
	allIds := make([]types.RowsetId, 0, len(live)+len(stale))
	staleIds := make(map[types.RowsetId]struct{}, len(stale))
	for _, r := range live {
		allIds = append(allIds, r.Id)
	}
	for _, r := range stale {
		allIds = append(allIds, r.Id)
		staleIds[r.Id] = struct{}{}
	}
	d.DeleteBitmapEntries = ToBitmapEntries(m.DeleteBitmap, staleIds, allIds)
	return d
}
