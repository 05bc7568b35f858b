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

package tabletmeta

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/deletebitmap"
	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/types"
)

func newTestTablet(mergeOnWrite bool) *TabletMeta {
	return New(1, 2, 3, 4, 0, "uid-1", &types.Schema{Hash: 1}, mergeOnWrite, types.NewSchemaCache())
}

func rs(start, end int64, lo uint64) types.RowsetMeta {
	return types.RowsetMeta{Id: types.RowsetId{Lo: lo}, Version: types.Version{Start: start, End: end}, NumRows: 1}
}

func TestAddRowsetKeepsLiveSortedAndRejectsConflict(t *testing.T) {
	m := newTestTablet(false)

	require.NoError(t, m.AddRowset(rs(5, 5, 2)))
	require.NoError(t, m.AddRowset(rs(0, 4, 1)))

	live := m.LiveRowsets()
	require.Len(t, live, 2)
	require.Equal(t, int64(0), live[0].Version.Start)
	require.Equal(t, int64(5), live[1].Version.Start)
	require.Equal(t, int64(5), m.MaxVersion())

	// same (version, id) pair is a no-op
	require.NoError(t, m.AddRowset(rs(5, 5, 2)))

	// same version, different id is a conflict
	err := m.AddRowset(rs(5, 5, 99))
	require.ErrorIs(t, err, errs.ErrVersionAlreadyExists)
}

func TestDeleteRowsetByVersionDropsCacheVersionOnMergeOnWrite(t *testing.T) {
	m := newTestTablet(true)
	r := rs(0, 0, 1)
	require.NoError(t, m.AddRowset(r))
	m.DeleteBitmap.SetRowsetCacheVersion(r.Id, 0, 3)

	var removed []types.RowsetMeta
	m.DeleteRowsetByVersion(r.Version, &removed)

	require.Len(t, removed, 1)
	require.Empty(t, m.LiveRowsets())
	require.False(t, m.DeleteBitmap.HasRowsetCacheVersion(r.Id))
}

func TestModifyRowsetsMovesReplacedToStaleUnlessSameVersion(t *testing.T) {
	m := newTestTablet(false)
	base := rs(0, 5, 1)
	require.NoError(t, m.AddRowset(base))

	compacted := rs(0, 5, 2)
	m.ModifyRowsets([]types.RowsetMeta{compacted}, []types.RowsetMeta{base}, false)

	require.Len(t, m.LiveRowsets(), 1)
	require.Equal(t, compacted.Id, m.LiveRowsets()[0].Id)
	require.Len(t, m.StaleRowsets(), 1)
	require.Equal(t, base.Id, m.StaleRowsets()[0].Id)
}

func TestModifyRowsetsDiscardsWhenSameVersion(t *testing.T) {
	m := newTestTablet(false)
	base := rs(0, 5, 1)
	require.NoError(t, m.AddRowset(base))

	replacement := rs(0, 5, 2)
	m.ModifyRowsets([]types.RowsetMeta{replacement}, []types.RowsetMeta{base}, true)

	require.Empty(t, m.StaleRowsets())
}

func TestReviseRowsetsClearsStaleAndCacheVersions(t *testing.T) {
	m := newTestTablet(true)
	base := rs(0, 5, 1)
	require.NoError(t, m.AddRowset(base))
	m.DeleteBitmap.SetRowsetCacheVersion(base.Id, 0, 2)

	replacement := rs(0, 5, 3)
	m.ReviseRowsets([]types.RowsetMeta{replacement})

	require.Len(t, m.LiveRowsets(), 1)
	require.Empty(t, m.StaleRowsets())
	require.False(t, m.DeleteBitmap.HasRowsetCacheVersion(base.Id))
}

func TestEqualExcludesStaleAndDeleteBitmap(t *testing.T) {
	a := newTestTablet(true)
	b := newTestTablet(true)
	require.NoError(t, a.AddRowset(rs(0, 0, 1)))
	require.NoError(t, b.AddRowset(rs(0, 0, 1)))

	require.True(t, a.Equal(b))

	a.DeleteBitmap.Add(deletebitmap.BitmapKey{RowsetId: types.RowsetId{Lo: 1}}, 5)
	require.True(t, a.Equal(b), "delete bitmap contents must not affect Equal")
}

func TestBaseRowsetDeleteBitmapScore(t *testing.T) {
	m := newTestTablet(true)
	require.Equal(t, float64(0), m.BaseRowsetDeleteBitmapScore(), "no base rowset yet")

	require.NoError(t, m.AddRowset(rs(0, 4, 1)))
	require.NoError(t, m.AddRowset(rs(5, 9, 2)))

	m.DeleteBitmap.Add(deletebitmap.BitmapKey{RowsetId: types.RowsetId{Lo: 1}, SegmentId: 0, Version: 1}, 7)
	m.DeleteBitmap.Add(deletebitmap.BitmapKey{RowsetId: types.RowsetId{Lo: 1}, SegmentId: 0, Version: 1}, 8)
	m.DeleteBitmap.Add(deletebitmap.BitmapKey{RowsetId: types.RowsetId{Lo: 2}, SegmentId: 0, Version: 1}, 9)

	require.Equal(t, float64(2), m.BaseRowsetDeleteBitmapScore(), "must only count the base (version.Start == 0) rowset's entries")
}

func TestVersionCountCrossWith(t *testing.T) {
	m := newTestTablet(false)
	require.NoError(t, m.AddRowset(rs(0, 4, 1)))
	require.NoError(t, m.AddRowset(rs(5, 9, 2)))

	require.Equal(t, 1, m.VersionCountCrossWith(types.Version{Start: 3, End: 3}))
	require.Equal(t, 2, m.VersionCountCrossWith(types.Version{Start: 4, End: 5}))
	require.Equal(t, 0, m.VersionCountCrossWith(types.Version{Start: 100, End: 200}))
}
