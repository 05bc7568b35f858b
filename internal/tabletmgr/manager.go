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

// Package tabletmgr implements the tablet manager (C4, §4.4): the
// in-memory directory of locally-replicated TabletMeta instances, their
// per-tablet locks, and the lookup/enumeration operations the compaction
// scheduler and publish pipeline drive off of.
package tabletmgr

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/metastore"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
)

// tabletSlot pairs a TabletMeta with the per-tablet lock §5 requires for
// any operation that spans rowset and delete-bitmap state together
// (ModifyRowsets, ReviseDeleteBitmap, publish).
type tabletSlot struct {
	mu   sync.Mutex
	meta *tabletmeta.TabletMeta
}

// Manager is the tablet directory a node keeps for its locally-replicated
// tablets, keyed by tablet id (§4.4).
type Manager struct {
	mu      sync.RWMutex
	tablets map[int64]*tabletSlot
	store   *metastore.Store
}

func NewManager() *Manager {
	return &Manager{tablets: make(map[int64]*tabletSlot)}
}

// SetStore wires the persistence store a node's tablets are saved to and
// hydrated from (§4.2 "hydrated from persistence"). A Manager with no store
// set (e.g. in unit tests) simply never persists.
func (m *Manager) SetStore(store *metastore.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store = store
}

func (m *Manager) persist(meta *tabletmeta.TabletMeta) {
	m.mu.RLock()
	store := m.store
	m.mu.RUnlock()
	if store == nil {
		return
	}
	if err := store.Save(metastore.FromTabletMeta(meta)); err != nil {
		log.Error("failed to persist tablet meta", zap.Int64("tabletId", meta.TabletId), zap.Error(err))
	}
}

// AddTablet registers a newly created or synced tablet. Re-adding an
// existing tablet id replaces its meta; callers must not hold the
// tablet's lock across a replace.
func (m *Manager) AddTablet(meta *tabletmeta.TabletMeta) {
	m.mu.Lock()
	m.tablets[meta.TabletId] = &tabletSlot{meta: meta}
	m.mu.Unlock()
	m.persist(meta)
}

// GetTablet returns the TabletMeta for tabletId, or ErrNotFound.
func (m *Manager) GetTablet(tabletId int64) (*tabletmeta.TabletMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	slot, ok := m.tablets[tabletId]
	if !ok {
		return nil, errs.Wrapf(errs.ErrNotFound, "tablet %d", tabletId)
	}
	return slot.meta, nil
}

// WithTabletLock runs fn while holding tabletId's per-tablet lock, the
// serialization §5 requires around operations spanning rowsets and the
// delete bitmap together (e.g. ReviseDeleteBitmap).
func (m *Manager) WithTabletLock(tabletId int64, fn func(meta *tabletmeta.TabletMeta) error) error {
	m.mu.RLock()
	slot, ok := m.tablets[tabletId]
	m.mu.RUnlock()
	if !ok {
		return errs.Wrapf(errs.ErrNotFound, "tablet %d", tabletId)
	}
	slot.mu.Lock()
	err := fn(slot.meta)
	slot.mu.Unlock()
	if err != nil {
		return err
	}
	m.persist(slot.meta)
	return nil
}

// DropTablet removes tabletId from the directory, e.g. after a tombstoned
// tablet's vacuum completes.
func (m *Manager) DropTablet(tabletId int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot, ok := m.tablets[tabletId]; ok {
		slot.meta.Destroy()
		delete(m.tablets, tabletId)
	}
}

// AllTabletIds returns every tablet id currently tracked, ascending.
func (m *Manager) AllTabletIds() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]int64, 0, len(m.tablets))
	for id := range m.tablets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetPartitionRelatedTablets returns every tablet whose PartitionId
// matches partitionId (§4.4), used by the publish pipeline to fan a
// partition-level publish out to its tablets.
func (m *Manager) GetPartitionRelatedTablets(partitionId int64) []*tabletmeta.TabletMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*tabletmeta.TabletMeta
	for _, slot := range m.tablets {
		if slot.meta.PartitionId == partitionId {
			out = append(out, slot.meta)
		}
	}
	return out
}

// CompactionCandidate is one tablet's current compaction score, computed
// by a CompactionScorer and ranked by GetTopNTabletsToCompact (§4.5).
type CompactionCandidate struct {
	TabletId int64
	Score    float64
}

// CompactionScorer computes a tablet's compaction priority score; the
// compaction scheduler supplies the concrete cumulative/base scoring
// policy (§4.5).
type CompactionScorer func(meta *tabletmeta.TabletMeta) float64

// GetTopNTabletsToCompact scores every tracked tablet with scorer, ranks
// descending, and fills up to n candidates that filterOut does not reject
// (§4.4 "candidate selection"): filterOut is consulted in ranked order in
// the same pass that builds the result, so a round never comes back
// under-filled just because some higher-scored tablets ahead of the cut
// line were filtered out. filterOut may be nil to accept every candidate.
//
// If outMaxScore is non-nil, it is set to the highest score observed
// across *all* scored tablets (regardless of filtering or the n cutoff),
// feeding the CompactionMaxScore gauge (§6).
func (m *Manager) GetTopNTabletsToCompact(n int, filterOut func(tabletId int64) bool, scorer CompactionScorer, outMaxScore *float64) []CompactionCandidate {
	m.mu.RLock()
	metas := make([]*tabletmeta.TabletMeta, 0, len(m.tablets))
	for _, slot := range m.tablets {
		metas = append(metas, slot.meta)
	}
	m.mu.RUnlock()

	scored := make([]CompactionCandidate, 0, len(metas))
	for _, meta := range metas {
		scored = append(scored, CompactionCandidate{TabletId: meta.TabletId, Score: scorer(meta)})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if outMaxScore != nil && len(scored) > 0 {
		*outMaxScore = scored[0].Score
	}

	if n < 0 {
		n = len(scored)
	}
	candidates := make([]CompactionCandidate, 0, n)
	for _, c := range scored {
		if len(candidates) >= n {
			break
		}
		if filterOut != nil && filterOut(c.TabletId) {
			continue
		}
		candidates = append(candidates, c)
	}
	return candidates
}

// GetTopNTabletDeleteBitmapScore ranks tablets by their delete bitmap's
// cardinality-derived score, used to prioritize merge-on-write tablets
// whose bitmaps are growing large enough to warrant an aggregation-cache
// rebuild or a compaction nudge (§4.5).
func (m *Manager) GetTopNTabletDeleteBitmapScore(n int) []CompactionCandidate {
	return m.GetTopNTabletsToCompact(n, nil, func(meta *tabletmeta.TabletMeta) float64 {
		if meta.DeleteBitmap == nil {
			return 0
		}
		return float64(meta.DeleteBitmap.Cardinality())
	}, nil)
}

// MaxDeleteBitmapScores returns the highest tablet-wide and base-rowset
// delete-bitmap cardinality scores across every tracked tablet, feeding
// the MaxTabletDeleteBitmapScore and MaxBaseRowsetDeleteBitmapScore
// gauges (§6). Both are 0 if no tablets are tracked.
func (m *Manager) MaxDeleteBitmapScores() (maxTablet, maxBaseRowset float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, slot := range m.tablets {
		meta := slot.meta
		if meta.DeleteBitmap != nil {
			if score := float64(meta.DeleteBitmap.Cardinality()); score > maxTablet {
				maxTablet = score
			}
		}
		if score := meta.BaseRowsetDeleteBitmapScore(); score > maxBaseRowset {
			maxBaseRowset = score
		}
	}
	return maxTablet, maxBaseRowset
}

// VacuumStaleRowsets drops tabletId's stale rowset list once
// it is safe to do so (no in-flight reader can still reference them);
// eligibility is the caller's responsibility (§4.2 "stale rowset
// retention"), this just performs the drop under the tablet lock.
func (m *Manager) VacuumStaleRowsets(tabletId int64) error {
	return m.WithTabletLock(tabletId, func(meta *tabletmeta.TabletMeta) error {
		meta.ReviseRowsets(meta.LiveRowsets())
		return nil
	})
}

// SyncSource abstracts the metadata-service RPC that returns the set of
// tablets currently assigned to this node (§4.4), treated as an external
// collaborator per §1.
type SyncSource interface {
	ListAssignedTablets() ([]int64, error)
	FetchTablet(tabletId int64) (*tabletmeta.TabletMeta, error)
}

// SyncTablets reconciles the local directory against src: fetches any
// newly assigned tablet and drops any tablet no longer assigned to this
// node (§4.4).
func (m *Manager) SyncTablets(src SyncSource) error {
	assigned, err := src.ListAssignedTablets()
	if err != nil {
		return errs.Wrap(err, "list assigned tablets")
	}
	want := make(map[int64]struct{}, len(assigned))
	for _, id := range assigned {
		want[id] = struct{}{}
		if _, err := m.GetTablet(id); err == nil {
			continue
		}
		meta, err := src.FetchTablet(id)
		if err != nil {
			return errs.Wrapf(err, "fetch tablet %d", id)
		}
		m.AddTablet(meta)
	}

	for _, id := range m.AllTabletIds() {
		if _, ok := want[id]; !ok {
			m.DropTablet(id)
		}
	}
	return nil
}
