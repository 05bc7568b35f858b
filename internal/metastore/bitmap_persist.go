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
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/cloudtablet/tabletd/internal/deletebitmap"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
	"go.uber.org/zap"
)

// ToBitmapEntries flattens a DeleteBitmap into its persisted form, skipping
// any entry whose rowset id belongs to staleIds — stale rowsets are never
// persisted for merge-on-write tablets (§4.2).
func ToBitmapEntries(bm *deletebitmap.DeleteBitmap, staleIds map[types.RowsetId]struct{}, allIds []types.RowsetId) []BitmapEntry {
	var out []BitmapEntry
	for _, id := range allIds {
		if _, stale := staleIds[id]; stale {
			continue
		}
		snapshot := deletebitmap.New()
		bm.Subset(deletebitmap.RowsetLowerBound(id), deletebitmap.RowsetKeySpaceEnd(id), snapshot)
		snapshot.Each(func(key deletebitmap.BitmapKey, entryBm *roaring.Bitmap) {
			data, err := entryBm.ToBytes()
			if err != nil {
				log.Warn("failed to serialize delete bitmap entry", zap.Error(err))
				return
			}
			rb := key.RowsetId
			out = append(out, BitmapEntry{
				RowsetHi: rb.Hi, RowsetMid: rb.Mid, RowsetLo: rb.Lo, RowsetTag: rb.Tag,
				SegmentId: key.SegmentId, Version: key.Version, Bitmap: data,
			})
		})
	}
	return out
}

func applyBitmapEntry(m *tabletmeta.TabletMeta, e BitmapEntry) {
	bm := roaring.New()
	if _, err := bm.FromBuffer(e.Bitmap); err != nil {
		log.Warn("failed to decode persisted delete bitmap entry", zap.Int64("tabletId", m.TabletId), zap.Error(err))
		return
	}
	key := deletebitmap.BitmapKey{
		RowsetId:  types.RowsetId{Hi: e.RowsetHi, Mid: e.RowsetMid, Lo: e.RowsetLo, Tag: e.RowsetTag},
		SegmentId: e.SegmentId,
		Version:   e.Version,
	}
	m.DeleteBitmap.Set(key, bm)
}
