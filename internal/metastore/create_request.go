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

// CreateTabletRequest is the frontend create-tablet request this core
// hydrates a TabletMeta from (§4.2 "Create-from-request"). The columnar
// segment format itself is out of scope (§1); this only captures the
// metadata needed to build a Descriptor/Schema.
type CreateTabletRequest struct {
	TableId, PartitionId, TabletId, ReplicaId int64
	Shard                                     int32
	Uid                                       string

	Columns      []ColumnRequest
	IndexDefs    []IndexRequest
	Compression  types.CompressionKind // CompressionUnspecified defaults to LZ4Frame
	SortType     types.SortKind
	ClusterKeyUids []int32

	MergeOnWrite bool
	Binlog       tabletmeta.BinlogConfig
	TSCompaction tabletmeta.TimeSeriesCompactionParams
}

// ColumnRequest is the wire shape of one column definition; IndexLength
// only matters for variable-width columns, matching the original's
// "index lengths for variable-width columns" note.
type ColumnRequest struct {
	Name          string
	Type          int32
	Length        int32
	VariableWidth bool
	IndexLength   int32
	AggregationFn string
	IsKey         bool
	Nullable      bool
}

// IndexRequest names an index (bitmap/inverted/bloom-filter/n-gram
// bloom-filter) over a column; BloomFilter on IndexMeta is derived from
// this at build time, not carried separately on the column.
type IndexRequest struct {
	Name           string
	Kind           types.IndexKind
	ColumnUniqueId int32
}

// BuildSchema hydrates a types.Schema from a create-tablet request,
// deriving per-column bloom-filter flags from the index definitions and
// defaulting compression to LZ4 frame when unspecified (§4.2).
func BuildSchema(req *CreateTabletRequest, hash uint64) *types.Schema {
	bloomCols := make(map[int32]bool)
	for _, idx := range req.IndexDefs {
		if idx.Kind == types.IndexKindBloomFilter || idx.Kind == types.IndexKindNGramBloomFilter {
			bloomCols[idx.ColumnUniqueId] = true
		}
	}

	columns := make([]types.ColumnMeta, 0, len(req.Columns))
	for _, c := range req.Columns {
		indexLen := int32(0)
		if c.VariableWidth {
			indexLen = c.IndexLength
		}
		columns = append(columns, types.ColumnMeta{
			Name:          c.Name,
			Type:          c.Type,
			Length:        c.Length,
			IndexLength:   indexLen,
			AggregationFn: c.AggregationFn,
			IsKey:         c.IsKey,
			Nullable:      c.Nullable,
		})
	}

	indexes := make([]types.IndexMeta, 0, len(req.IndexDefs))
	for _, idx := range req.IndexDefs {
		indexes = append(indexes, types.IndexMeta{
			Name:           idx.Name,
			Kind:           idx.Kind,
			ColumnUniqueId: idx.ColumnUniqueId,
			BloomFilter:    bloomCols[idx.ColumnUniqueId],
		})
	}

	compression := req.Compression
	if compression == types.CompressionUnspecified {
		compression = types.CompressionLZ4Frame
	}

	return &types.Schema{
		Hash:        hash,
		Columns:     columns,
		Indexes:     indexes,
		Compression: compression,
		SortType:    req.SortType,
		ClusterKeys: req.ClusterKeyUids,
	}
}

// ToDescriptor builds the persisted Descriptor for req and schemaHash;
// then hydrating a *tabletmeta.TabletMeta from that descriptor is
// FromDescriptor's job, completing the "then hydrates from that
// descriptor" step of §4.2.
func ToDescriptor(req *CreateTabletRequest, schema *types.Schema) *Descriptor {
	return &Descriptor{
		TableId:              req.TableId,
		PartitionId:          req.PartitionId,
		TabletId:             req.TabletId,
		ReplicaId:            req.ReplicaId,
		Shard:                req.Shard,
		Uid:                  req.Uid,
		State:                int32(tabletmeta.TabletNotReady),
		MergeOnWrite:         req.MergeOnWrite,
		Schema:               *schema,
		BinlogEnable:         req.Binlog.Enable,
		BinlogMaxBytes:       req.Binlog.MaxBytes,
		BinlogMaxHistoryNum:  req.Binlog.MaxHistoryNum,
		BinlogTTLSeconds:     req.Binlog.TTLSeconds,
		TSGoalSizeMbytes:        req.TSCompaction.GoalSizeMbytes,
		TSFileCountThreshold:    req.TSCompaction.FileCountThreshold,
		TSTimeThresholdSeconds:  req.TSCompaction.TimeThresholdSeconds,
		TSEmptyRowsetsThreshold: req.TSCompaction.EmptyRowsetsThreshold,
		TSLevelThreshold:        req.TSCompaction.LevelThreshold,
	}
}

// FromDescriptor hydrates a *tabletmeta.TabletMeta from a persisted
// Descriptor, re-interning the schema into cache (§4.2 "Schema caching").
func FromDescriptor(d *Descriptor, cache *types.SchemaCache) *tabletmeta.TabletMeta {
	schema := d.Schema
	m := tabletmeta.New(d.TableId, d.PartitionId, d.TabletId, d.ReplicaId, d.Shard, d.Uid,
		&schema, d.MergeOnWrite, cache)
	m.State = tabletmeta.TabletState(d.State)
	m.CumulativeLayerPoint = d.CumulativeLayerPoint
	m.Binlog = tabletmeta.BinlogConfig{
		Enable:        d.BinlogEnable,
		MaxBytes:      d.BinlogMaxBytes,
		MaxHistoryNum: d.BinlogMaxHistoryNum,
		TTLSeconds:    d.BinlogTTLSeconds,
	}
	m.TSCompaction = tabletmeta.TimeSeriesCompactionParams{
		GoalSizeMbytes:        d.TSGoalSizeMbytes,
		FileCountThreshold:    d.TSFileCountThreshold,
		TimeThresholdSeconds:  d.TSTimeThresholdSeconds,
		EmptyRowsetsThreshold: d.TSEmptyRowsetsThreshold,
		LevelThreshold:        d.TSLevelThreshold,
	}
	for _, e := range d.DeleteBitmapEntries {
		applyBitmapEntry(m, e)
	}
	return m
}
