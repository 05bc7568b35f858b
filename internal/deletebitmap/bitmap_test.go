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

package deletebitmap

import (
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/types"
)

func rid(lo uint64) types.RowsetId {
	return types.RowsetId{Hi: 0, Mid: 0, Lo: lo, Tag: 1}
}

func TestAddRemoveContains(t *testing.T) {
	d := New()
	k := BitmapKey{RowsetId: rid(1), SegmentId: 0, Version: 5}

	require.False(t, d.Contains(k, 7))
	d.Add(k, 7)
	require.True(t, d.Contains(k, 7))

	d.Remove(k, 7)
	require.False(t, d.Contains(k, 7))
}

func TestRemoveRowsetDropsOnlyThatRowset(t *testing.T) {
	d := New()
	a, b := rid(1), rid(2)
	d.Add(BitmapKey{RowsetId: a, SegmentId: 0, Version: 1}, 1)
	d.Add(BitmapKey{RowsetId: a, SegmentId: 1, Version: 1}, 2)
	d.Add(BitmapKey{RowsetId: b, SegmentId: 0, Version: 1}, 3)

	d.RemoveRowset(a)

	require.False(t, d.Contains(BitmapKey{RowsetId: a, SegmentId: 0, Version: 1}, 1))
	require.False(t, d.Contains(BitmapKey{RowsetId: a, SegmentId: 1, Version: 1}, 2))
	require.True(t, d.Contains(BitmapKey{RowsetId: b, SegmentId: 0, Version: 1}, 3))
}

func TestCardinalityExcludesSentinelSegment(t *testing.T) {
	d := New()
	real := BitmapKey{RowsetId: rid(1), SegmentId: 0, Version: 1}
	sentinel := BitmapKey{RowsetId: rid(1), SegmentId: InvalidSegmentId, Version: 1}

	d.Add(real, 1)
	d.Add(real, 2)
	d.Set(sentinel, roaring.BitmapOf(99))

	require.Equal(t, uint64(2), d.Cardinality())
}

func TestCardinalityForRowsetOnlyCountsThatRowset(t *testing.T) {
	d := New()
	a, b := rid(1), rid(2)
	d.Add(BitmapKey{RowsetId: a, SegmentId: 0, Version: 1}, 1)
	d.Add(BitmapKey{RowsetId: a, SegmentId: 0, Version: 1}, 2)
	d.Add(BitmapKey{RowsetId: a, SegmentId: InvalidSegmentId, Version: 1}, 99)
	d.Add(BitmapKey{RowsetId: b, SegmentId: 0, Version: 1}, 3)

	require.Equal(t, uint64(2), d.CardinalityForRowset(a))
	require.Equal(t, uint64(1), d.CardinalityForRowset(b))
}

func TestSnapshotAtDropsFutureVersions(t *testing.T) {
	d := New()
	d.Add(BitmapKey{RowsetId: rid(1), SegmentId: 0, Version: 1}, 1)
	d.Add(BitmapKey{RowsetId: rid(1), SegmentId: 0, Version: 3}, 2)

	snap := d.SnapshotAt(2)
	require.Equal(t, 1, snap.Len())
}

func TestMergeFromUnionsBitmaps(t *testing.T) {
	dst := New()
	src := New()
	k := BitmapKey{RowsetId: rid(1), SegmentId: 0, Version: 1}
	dst.Add(k, 1)
	src.Add(k, 2)

	dst.MergeFrom(src)

	bm, ok := dst.Get(k)
	require.True(t, ok)
	require.True(t, bm.Contains(1))
	require.True(t, bm.Contains(2))
}

func TestRowsetCacheVersionLifecycle(t *testing.T) {
	d := New()
	id := rid(1)

	require.False(t, d.HasRowsetCacheVersion(id))
	require.Equal(t, int64(0), d.RowsetCacheVersion(id, 0))

	d.SetRowsetCacheVersion(id, 0, 9)
	require.True(t, d.HasRowsetCacheVersion(id))
	require.Equal(t, int64(9), d.RowsetCacheVersion(id, 0))

	d.DropRowsetCacheVersion(id)
	require.False(t, d.HasRowsetCacheVersion(id))
}

func TestTraverseRowsetAndVersionSkipsToNextRowset(t *testing.T) {
	d := New()
	d.Add(BitmapKey{RowsetId: rid(1), SegmentId: 0, Version: 1}, 1)
	d.Add(BitmapKey{RowsetId: rid(1), SegmentId: 1, Version: 1}, 2)
	d.Add(BitmapKey{RowsetId: rid(1), SegmentId: 0, Version: 2}, 3)
	d.Add(BitmapKey{RowsetId: rid(2), SegmentId: 0, Version: 1}, 4)

	var seen []int64
	d.TraverseRowsetAndVersion(func(rowsetId types.RowsetId, version int64) int {
		seen = append(seen, version)
		return 0
	})

	require.Equal(t, []int64{1, 1}, seen)
}
