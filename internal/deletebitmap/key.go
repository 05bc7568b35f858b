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

// Package deletebitmap implements the per-tablet delete-bitmap (C1): a
// concurrent ordered map from (rowset, segment, version) to the set of
// deleted row ordinals at that version, plus an LRU-backed aggregation
// cache for fast "what's deleted as of version v" queries.
package deletebitmap

import (
	"encoding/binary"

	"github.com/cloudtablet/tabletd/internal/types"
)

// InvalidSegmentId is the sentinel segment id marking a per-rowset "this
// rowset has been processed" entry rather than a real per-segment bitmap.
const InvalidSegmentId uint32 = 0xFFFFFFFF

// SegmentId identifies one segment file within a rowset.
type SegmentId = uint32

// BitmapKey totally orders (RowsetId, SegmentId, Version) lexicographically
// in that field order, matching the original engine's ordered-map key so
// that range scans over a rowset's bitmaps, or over all bitmaps up to a
// version, are contiguous.
type BitmapKey struct {
	RowsetId types.RowsetId
	SegmentId SegmentId
	Version   int64
}

// Compare implements the lexicographic order (RowsetId, SegmentId, Version).
func (k BitmapKey) Compare(o BitmapKey) int {
	if c := k.RowsetId.Compare(o.RowsetId); c != 0 {
		return c
	}
	switch {
	case k.SegmentId < o.SegmentId:
		return -1
	case k.SegmentId > o.SegmentId:
		return 1
	}
	switch {
	case k.Version < o.Version:
		return -1
	case k.Version > o.Version:
		return 1
	default:
		return 0
	}
}

// Less is a convenience wrapper around Compare for use with sort.Slice and
// the btree-style ordered containers used by DeleteBitmap.
func (k BitmapKey) Less(o BitmapKey) bool { return k.Compare(o) < 0 }

// cacheKeyLen is tabletId(8) + RowsetId(28) + SegmentId(4) + Version(8).
const cacheKeyLen = 8 + 28 + 4 + 8

// CacheBytes builds the aggregation-cache key as an explicit byte copy of
// each field — never a reinterpretation of the struct's memory layout, to
// avoid padding-byte ambiguity across platforms (§4.1).
func (k BitmapKey) CacheBytes(tabletId int64) [cacheKeyLen]byte {
	var b [cacheKeyLen]byte
	binary.BigEndian.PutUint64(b[0:8], uint64(tabletId))
	rb := k.RowsetId.Bytes()
	copy(b[8:36], rb[:])
	binary.BigEndian.PutUint32(b[36:40], k.SegmentId)
	binary.BigEndian.PutUint64(b[40:48], uint64(k.Version))
	return b
}

// RowsetLowerBound/RowsetUpperBound build the sentinel keys callers use
// to drop or scan an entire rowset's bitmaps, per §4.1's removeRange note:
// start=(id,0,0), end=(id,UINT32_MAX,0).
func RowsetLowerBound(id types.RowsetId) BitmapKey {
	return BitmapKey{RowsetId: id, SegmentId: 0, Version: 0}
}

func RowsetUpperBound(id types.RowsetId) BitmapKey {
	return BitmapKey{RowsetId: id, SegmentId: ^SegmentId(0), Version: 0}
}

// RowsetKeySpaceEnd returns an exclusive upper bound that covers every key
// belonging to id, including its sentinel INVALID_SEGMENT_ID marker —
// unlike RowsetUpperBound, which stops just short of the sentinel so that
// removeRange(id,0,0 .. id,MaxUint32,0) can drop a rowset's real per-segment
// bitmaps while leaving its "processed" marker untouched. Used by whole-
// rowset subset/copy operations (e.g. ReviseDeleteBitmap) that want
// everything.
func RowsetKeySpaceEnd(id types.RowsetId) BitmapKey {
	next := id
	next.Lo++
	if next.Lo == 0 {
		next.Mid++
		if next.Mid == 0 {
			next.Hi++
		}
	}
	return BitmapKey{RowsetId: next, SegmentId: 0, Version: 0}
}
