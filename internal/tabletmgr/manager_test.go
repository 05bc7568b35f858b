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

package tabletmgr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/metastore"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
)

func newTestMeta(tabletId, partitionId int64) *tabletmeta.TabletMeta {
	schema := &types.Schema{Hash: uint64(tabletId)}
	return tabletmeta.New(1, partitionId, tabletId, 1, 0, "uid", schema, false, types.NewSchemaCache())
}

func TestManagerAddGetDrop(t *testing.T) {
	m := NewManager()
	m.AddTablet(newTestMeta(10, 1))

	got, err := m.GetTablet(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.TabletId)

	m.DropTablet(10)
	_, err = m.GetTablet(10)
	assert.Error(t, err)
}

func TestGetPartitionRelatedTablets(t *testing.T) {
	m := NewManager()
	m.AddTablet(newTestMeta(1, 100))
	m.AddTablet(newTestMeta(2, 100))
	m.AddTablet(newTestMeta(3, 200))

	related := m.GetPartitionRelatedTablets(100)
	assert.Len(t, related, 2)
}

func TestGetTopNTabletsToCompact(t *testing.T) {
	m := NewManager()
	m.AddTablet(newTestMeta(1, 1))
	m.AddTablet(newTestMeta(2, 1))
	m.AddTablet(newTestMeta(3, 1))

	scores := map[int64]float64{1: 5, 2: 50, 3: 1}
	var maxScore float64
	top := m.GetTopNTabletsToCompact(2, nil, func(meta *tabletmeta.TabletMeta) float64 {
		return scores[meta.TabletId]
	}, &maxScore)
	require.Len(t, top, 2)
	assert.Equal(t, int64(2), top[0].TabletId)
	assert.Equal(t, int64(1), top[1].TabletId)
	assert.Equal(t, float64(50), maxScore, "outMaxScore must reflect the highest score across all tablets, not just the returned top-n")
}

func TestGetTopNTabletsToCompactFillsRoundPastFilteredCandidates(t *testing.T) {
	m := NewManager()
	m.AddTablet(newTestMeta(1, 1))
	m.AddTablet(newTestMeta(2, 1))
	m.AddTablet(newTestMeta(3, 1))

	scores := map[int64]float64{1: 5, 2: 50, 3: 1}
	filterOut := func(tabletId int64) bool { return tabletId == 2 }

	top := m.GetTopNTabletsToCompact(2, filterOut, func(meta *tabletmeta.TabletMeta) float64 {
		return scores[meta.TabletId]
	}, nil)
	require.Len(t, top, 2, "a rejected top candidate must not leave the round under-filled")
	assert.Equal(t, int64(1), top[0].TabletId)
	assert.Equal(t, int64(3), top[1].TabletId)
}

type fakeSyncSource struct {
	assigned []int64
	tablets  map[int64]*tabletmeta.TabletMeta
}

func (f *fakeSyncSource) ListAssignedTablets() ([]int64, error) { return f.assigned, nil }
func (f *fakeSyncSource) FetchTablet(id int64) (*tabletmeta.TabletMeta, error) {
	return f.tablets[id], nil
}

func TestSyncTabletsAddsAndDrops(t *testing.T) {
	m := NewManager()
	m.AddTablet(newTestMeta(1, 1))

	src := &fakeSyncSource{
		assigned: []int64{2},
		tablets:  map[int64]*tabletmeta.TabletMeta{2: newTestMeta(2, 1)},
	}
	require.NoError(t, m.SyncTablets(src))

	_, err := m.GetTablet(1)
	assert.Error(t, err)
	_, err = m.GetTablet(2)
	assert.NoError(t, err)
}

func TestAddTabletPersistsWhenStoreIsSet(t *testing.T) {
	store := metastore.NewStore(t.TempDir())
	m := NewManager()
	m.SetStore(store)

	m.AddTablet(newTestMeta(10, 1))

	d, err := store.Load(10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), d.TabletId)
}

func TestWithTabletLockPersistsOnSuccess(t *testing.T) {
	store := metastore.NewStore(t.TempDir())
	m := NewManager()
	m.SetStore(store)
	m.AddTablet(newTestMeta(10, 1))

	require.NoError(t, m.WithTabletLock(10, func(meta *tabletmeta.TabletMeta) error {
		meta.CumulativeLayerPoint = 7
		return nil
	}))

	d, err := store.Load(10)
	require.NoError(t, err)
	assert.Equal(t, int64(7), d.CumulativeLayerPoint)
}

func TestWithTabletLockDoesNotPersistOnFailure(t *testing.T) {
	store := metastore.NewStore(t.TempDir())
	m := NewManager()
	m.SetStore(store)
	m.AddTablet(newTestMeta(10, 1))

	sentinel := assert.AnError
	err := m.WithTabletLock(10, func(meta *tabletmeta.TabletMeta) error {
		meta.CumulativeLayerPoint = 99
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	d, err := store.Load(10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), d.CumulativeLayerPoint, "a failed mutation must not be persisted")
}

func TestManagerWithoutStoreNeverPersists(t *testing.T) {
	m := NewManager()
	m.AddTablet(newTestMeta(10, 1))
	require.NoError(t, m.WithTabletLock(10, func(meta *tabletmeta.TabletMeta) error { return nil }))
}
