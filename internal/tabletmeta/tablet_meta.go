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

// Package tabletmeta implements the per-tablet metadata model (C2): the
// version list, schema handle, and rowset sets described in §3/§4.2,
// built on internal/types for the pointer-free descriptors and
// internal/deletebitmap for the merge-on-write delete index.
package tabletmeta

import (
	"sort"
	"sync"

	"github.com/cloudtablet/tabletd/internal/deletebitmap"
	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/types"
)

// TabletState is the lifecycle state of a tablet (§3).
type TabletState int32

const (
	TabletNotReady TabletState = iota
	TabletRunning
	TabletTombstoned
	TabletStopped
	TabletShutdown
)

func (s TabletState) String() string {
	switch s {
	case TabletNotReady:
		return "NotReady"
	case TabletRunning:
		return "Running"
	case TabletTombstoned:
		return "Tombstoned"
	case TabletStopped:
		return "Stopped"
	case TabletShutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// BinlogConfig mirrors the subset of binlog configuration the core needs
// to persist and round-trip; the binlog reader/writer itself is out of
// scope (§1).
type BinlogConfig struct {
	Enable          bool
	MaxBytes        int64
	MaxHistoryNum   int32
	TTLSeconds      int64
}

// TimeSeriesCompactionParams holds the knobs the time-series cumulative
// compaction policy (§4.5) consults when selecting input rowsets.
type TimeSeriesCompactionParams struct {
	GoalSizeMbytes       int64
	FileCountThreshold   int32
	TimeThresholdSeconds int64
	EmptyRowsetsThreshold int32
	LevelThreshold       int32
}

// TabletMeta is the per-tablet metadata described in §3: identity, schema
// reference, the live/stale rowset sets, the merge-on-write delete bitmap,
// and binlog/time-series-compaction configuration. Every mutating method
// (Add/Delete/Modify/Revise Rowsets) takes the write side of mu; every
// getter takes the read side, per §5's "reader/writer lock" policy.
type TabletMeta struct {
	mu sync.RWMutex

	TableId     int64
	PartitionId int64
	TabletId    int64
	ReplicaId   int64
	Shard       int32
	Uid         string
	SchemaHash  uint64

	State                TabletState
	CumulativeLayerPoint int64

	schemaHandle *types.SchemaHandle

	live  []types.RowsetMeta // ordered by Version.Start, unique versions
	stale []types.RowsetMeta // rowsets replaced by ModifyRowsets with sameVersion=false

	MergeOnWrite bool
	DeleteBitmap *deletebitmap.DeleteBitmap

	Binlog       BinlogConfig
	TSCompaction TimeSeriesCompactionParams
}

// New constructs an empty tablet bound to the given identity and schema.
// The schema is interned into cache on the caller's behalf; New takes
// ownership of the returned handle (Destroy releases it).
func New(tableId, partitionId, tabletId, replicaId int64, shard int32, uid string,
	schema *types.Schema, mergeOnWrite bool, cache *types.SchemaCache) *TabletMeta {

	if cache == nil {
		cache = types.GlobalSchemaCache
	}
	return &TabletMeta{
		TableId:      tableId,
		PartitionId:  partitionId,
		TabletId:     tabletId,
		ReplicaId:    replicaId,
		Shard:        shard,
		Uid:          uid,
		SchemaHash:   schema.Hash,
		State:        TabletNotReady,
		schemaHandle: cache.Intern(schema),
		MergeOnWrite: mergeOnWrite,
		DeleteBitmap: deletebitmap.New(),
	}
}

// Destroy releases the tablet's schema handle. Called only when the tablet
// manager evicts the tablet and no references remain (§3 "Lifecycles").
func (m *TabletMeta) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.schemaHandle != nil {
		m.schemaHandle.Release()
		m.schemaHandle = nil
	}
}

// Schema returns the tablet's interned schema.
func (m *TabletMeta) Schema() *types.Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.schemaHandle.Get()
}

// reinternSchema re-interns schema into cache, releasing any previously
// held handle first. Called from initFromSerialized (§4.2 "Schema
// caching").
func (m *TabletMeta) reinternSchema(schema *types.Schema, cache *types.SchemaCache) {
	if cache == nil {
		cache = types.GlobalSchemaCache
	}
	if m.schemaHandle != nil {
		m.schemaHandle.Release()
	}
	m.schemaHandle = cache.Intern(schema)
	m.SchemaHash = schema.Hash
}

// LiveRowsets returns a copy of the ordered live rowset list.
func (m *TabletMeta) LiveRowsets() []types.RowsetMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.RowsetMeta, len(m.live))
	copy(out, m.live)
	return out
}

// StaleRowsets returns a copy of the stale rowset list.
func (m *TabletMeta) StaleRowsets() []types.RowsetMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.RowsetMeta, len(m.stale))
	copy(out, m.stale)
	return out
}

// MaxVersion returns the max End over live rowsets, or -1 if there are
// none (so the first publish at version.Start == 0 is contiguous).
func (m *TabletMeta) MaxVersion() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.maxVersionLocked()
}

func (m *TabletMeta) maxVersionLocked() int64 {
	max := int64(-1)
	for _, r := range m.live {
		if r.Version.End > max {
			max = r.Version.End
		}
	}
	return max
}

// AcquireRowsetByVersion returns the live rowset at exactly version v, if
// any.
func (m *TabletMeta) AcquireRowsetByVersion(v types.Version) (types.RowsetMeta, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.live {
		if r.Version == v {
			return r, true
		}
	}
	return types.RowsetMeta{}, false
}

// AddRowset implements §4.2 addRowset: no-op if an identical (version, id)
// pair already exists; ErrVersionAlreadyExists if the version exists with a
// different id; otherwise appends and keeps live sorted by Version.Start.
func (m *TabletMeta) AddRowset(rs types.RowsetMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.live {
		if existing.Version == rs.Version {
			if existing.Id == rs.Id {
				return nil
			}
			return errs.ErrVersionAlreadyExists
		}
	}
	m.live = append(m.live, rs)
	sort.Slice(m.live, func(i, j int) bool { return m.live[i].Version.Start < m.live[j].Version.Start })
	return nil
}

// DeleteRowsetByVersion removes the first live rowset at version v,
// appending it to out if non-nil, and — for merge-on-write tablets —
// drops its rowsetCacheVersion entry from the delete bitmap (§4.2, §8).
func (m *TabletMeta) DeleteRowsetByVersion(v types.Version, out *[]types.RowsetMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, r := range m.live {
		if r.Version == v {
			m.live = append(m.live[:i:i], m.live[i+1:]...)
			if out != nil {
				*out = append(*out, r)
			}
			if m.MergeOnWrite {
				m.DeleteBitmap.DropRowsetCacheVersion(r.Id)
			}
			return
		}
	}
}

// ModifyRowsets implements §4.2 modifyRowsets: removes each toDelete match
// from live; when sameVersion is false the removed rowsets are appended to
// stale instead of discarded; toAdd is then appended to live.
func (m *TabletMeta) ModifyRowsets(toAdd, toDelete []types.RowsetMeta, sameVersion bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	del := make(map[types.RowsetId]struct{}, len(toDelete))
	for _, r := range toDelete {
		del[r.Id] = struct{}{}
	}

	remaining := m.live[:0:0]
	for _, r := range m.live {
		if _, drop := del[r.Id]; drop {
			if !sameVersion {
				m.stale = append(m.stale, r)
			}
			continue
		}
		remaining = append(remaining, r)
	}
	m.live = append(remaining, toAdd...)
	sort.Slice(m.live, func(i, j int) bool { return m.live[i].Version.Start < m.live[j].Version.Start })
}

// ReviseRowsets implements §4.2 reviseRowsets: replaces live wholesale,
// clears stale, and — for merge-on-write — clears the entire
// rowsetCacheVersion side map.
func (m *TabletMeta) ReviseRowsets(rsList []types.RowsetMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.live = append([]types.RowsetMeta(nil), rsList...)
	sort.Slice(m.live, func(i, j int) bool { return m.live[i].Version.Start < m.live[j].Version.Start })
	m.stale = nil
	if m.MergeOnWrite {
		m.DeleteBitmap.ClearRowsetCacheVersion()
	}
}

// ReviseDeleteBitmap rebuilds the tablet's delete bitmap by selecting,
// from bm, the sub-bitmap for every live and stale rowset id and merging
// them together. Per §4.2, this requires the *tablet* lock already held by
// the caller rather than the meta lock — callers must not call this while
// holding mu.
func (m *TabletMeta) ReviseDeleteBitmap(bm *deletebitmap.DeleteBitmap) {
	rebuilt := deletebitmap.New()

	m.mu.RLock()
	ids := make([]types.RowsetId, 0, len(m.live)+len(m.stale))
	for _, r := range m.live {
		ids = append(ids, r.Id)
	}
	for _, r := range m.stale {
		ids = append(ids, r.Id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		bm.Subset(deletebitmap.RowsetLowerBound(id), deletebitmap.RowsetKeySpaceEnd(id), rebuilt)
	}
	m.DeleteBitmap = rebuilt
}

// BaseRowsetDeleteBitmapScore reports the delete-bitmap cardinality of the
// tablet's base rowset (the live rowset starting at version 0), or 0 if the
// tablet has no base rowset yet. Used to feed the per-node
// MaxBaseRowsetDeleteBitmapScore metric (§6).
func (m *TabletMeta) BaseRowsetDeleteBitmapScore() float64 {
	m.mu.RLock()
	var baseId types.RowsetId
	found := false
	for _, r := range m.live {
		if r.Version.Start == 0 {
			baseId = r.Id
			found = true
			break
		}
	}
	m.mu.RUnlock()
	if !found || m.DeleteBitmap == nil {
		return 0
	}
	return float64(m.DeleteBitmap.CardinalityForRowset(baseId))
}

// VersionCountCrossWith counts live rowsets whose version overlaps r.
func (m *TabletMeta) VersionCountCrossWith(r types.Version) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, rs := range m.live {
		if rs.Version.Overlaps(r) {
			n++
		}
	}
	return n
}

// Equal compares two tablets field-by-field on identity, state, schema
// contents, live rowsets (ordered), and compaction parameters. Stale
// rowsets and the delete bitmap are deliberately excluded (§4.2, §8).
func (m *TabletMeta) Equal(o *TabletMeta) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o.mu.RLock()
	defer o.mu.RUnlock()

	if m.TableId != o.TableId || m.PartitionId != o.PartitionId || m.TabletId != o.TabletId ||
		m.ReplicaId != o.ReplicaId || m.Shard != o.Shard || m.Uid != o.Uid ||
		m.SchemaHash != o.SchemaHash || m.State != o.State ||
		m.CumulativeLayerPoint != o.CumulativeLayerPoint || m.MergeOnWrite != o.MergeOnWrite ||
		m.Binlog != o.Binlog || m.TSCompaction != o.TSCompaction {
		return false
	}

	if !schemaEqual(m.schemaHandle.Get(), o.schemaHandle.Get()) {
		return false
	}

	if len(m.live) != len(o.live) {
		return false
	}
	for i := range m.live {
		if !m.live[i].Equal(o.live[i]) {
			return false
		}
	}
	return true
}

func schemaEqual(a, b *types.Schema) bool {
	if a.Hash != b.Hash || a.Compression != b.Compression || a.SortType != b.SortType {
		return false
	}
	if len(a.Columns) != len(b.Columns) || len(a.Indexes) != len(b.Indexes) || len(a.ClusterKeys) != len(b.ClusterKeys) {
		return false
	}
	for i := range a.Columns {
		if a.Columns[i] != b.Columns[i] {
			return false
		}
	}
	for i := range a.Indexes {
		if a.Indexes[i] != b.Indexes[i] {
			return false
		}
	}
	for i := range a.ClusterKeys {
		if a.ClusterKeys[i] != b.ClusterKeys[i] {
			return false
		}
	}
	return true
}
