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
	"testing"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/deletebitmap"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
)

func TestFromTabletMetaRoundTripsThroughFromDescriptor(t *testing.T) {
	schema := &types.Schema{Hash: 7}
	cache := types.NewSchemaCache()
	m := tabletmeta.New(1, 2, 3, 4, 0, "uid-1", schema, false, cache)
	m.CumulativeLayerPoint = 42

	d := FromTabletMeta(m)
	got := FromDescriptor(d, cache)

	assert.Equal(t, m.TableId, got.TableId)
	assert.Equal(t, m.TabletId, got.TabletId)
	assert.Equal(t, m.Uid, got.Uid)
	assert.Equal(t, m.CumulativeLayerPoint, got.CumulativeLayerPoint)
	assert.Nil(t, d.DeleteBitmapEntries, "non-mow tablets never carry bitmap entries")
}

func TestFromTabletMetaExcludesStaleRowsetBitmapEntries(t *testing.T) {
	schema := &types.Schema{Hash: 7}
	cache := types.NewSchemaCache()
	m := tabletmeta.New(1, 2, 3, 4, 0, "uid-1", schema, true, cache)

	liveId := types.RowsetId{Hi: 1, Lo: 1}
	staleId := types.RowsetId{Hi: 1, Lo: 2}
	require.NoError(t, m.AddRowset(types.RowsetMeta{Id: liveId, Version: types.Version{Start: 0, End: 1}}))
	require.NoError(t, m.AddRowset(types.RowsetMeta{Id: staleId, Version: types.Version{Start: 2, End: 2}}))
	// Replace staleId's version with a new rowset so staleId moves from live
	// into stale (sameVersion=false), mirroring a real compaction outcome.
	replacementId := types.RowsetId{Hi: 1, Lo: 3}
	m.ModifyRowsets(
		[]types.RowsetMeta{{Id: replacementId, Version: types.Version{Start: 2, End: 2}}},
		[]types.RowsetMeta{{Id: staleId, Version: types.Version{Start: 2, End: 2}}},
		false,
	)

	merged := deletebitmap.New()
	merged.Set(deletebitmap.BitmapKey{RowsetId: liveId, SegmentId: 0, Version: 2}, roaring.BitmapOf(7))
	merged.Set(deletebitmap.BitmapKey{RowsetId: staleId, SegmentId: 0, Version: 2}, roaring.BitmapOf(7))
	m.ReviseDeleteBitmap(merged)

	d := FromTabletMeta(m)
	for _, e := range d.DeleteBitmapEntries {
		assert.NotEqual(t, staleId.Lo, e.RowsetLo, "stale rowset entries must never be persisted")
	}
	assert.NotEmpty(t, d.DeleteBitmapEntries)
}
