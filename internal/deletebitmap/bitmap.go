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
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"

	"github.com/cloudtablet/tabletd/internal/types"
)

// entry is the btree item: BitmapKey ordered, roaring.Bitmap payload.
type entry struct {
	key types.RowsetId
	seg SegmentId
	ver int64
	bm  *roaring.Bitmap
}

func (e *entry) bitmapKey() BitmapKey {
	return BitmapKey{RowsetId: e.key, SegmentId: e.seg, Version: e.ver}
}

func (e *entry) Less(than btree.Item) bool {
	o := than.(*entry)
	return e.bitmapKey().Less(o.bitmapKey())
}

func entryAt(k BitmapKey) *entry {
	return &entry{key: k.RowsetId, seg: k.SegmentId, ver: k.Version}
}

// DeleteBitmap is the per-tablet row-deletion index described in §3/§4.1:
// a concurrent ordered map keyed by (RowsetId, SegmentId, Version), plus a
// side map recording, per (rowset, segment), the highest version already
// folded into the aggregation cache.
type DeleteBitmap struct {
	mu   sync.RWMutex
	tree *btree.BTree

	cvMu             sync.RWMutex
	rowsetCacheVersion map[types.RowsetId]map[SegmentId]int64
}

// New constructs an empty DeleteBitmap.
func New() *DeleteBitmap {
	return &DeleteBitmap{
		tree:               btree.New(32),
		rowsetCacheVersion: make(map[types.RowsetId]map[SegmentId]int64),
	}
}

// Add records rowId as deleted at key, creating the bitmap if absent.
func (d *DeleteBitmap) Add(key BitmapKey, rowId uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item := d.tree.Get(entryAt(key))
	if item == nil {
		e := entryAt(key)
		e.bm = roaring.New()
		e.bm.Add(rowId)
		d.tree.ReplaceOrInsert(e)
		return
	}
	item.(*entry).bm.Add(rowId)
}

// Remove clears rowId from key's bitmap, if present. A no-op if key is
// absent or rowId was never recorded.
func (d *DeleteBitmap) Remove(key BitmapKey, rowId uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item := d.tree.Get(entryAt(key))
	if item == nil {
		return
	}
	item.(*entry).bm.Remove(rowId)
}

// RemoveRange deletes every entry with key in [start, end) lexicographically.
func (d *DeleteBitmap) RemoveRange(start, end BitmapKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeRangeLocked(start, end)
}

func (d *DeleteBitmap) removeRangeLocked(start, end BitmapKey) {
	var toDelete []btree.Item
	d.tree.AscendRange(entryAt(start), entryAt(end), func(item btree.Item) bool {
		toDelete = append(toDelete, item)
		return true
	})
	for _, item := range toDelete {
		d.tree.Delete(item)
	}
}

// RemoveRanges deletes every entry whose key falls in any of ranges. Used
// e.g. to drop several rowsets' bitmaps in one call.
func (d *DeleteBitmap) RemoveRanges(ranges []BitmapRange) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, r := range ranges {
		d.removeRangeLocked(r.Start, r.End)
	}
}

// BitmapRange is a half-open [Start, End) key range.
type BitmapRange struct {
	Start, End BitmapKey
}

// RemoveRowset drops every bitmap belonging to id, the merge-on-write
// idiom for "this rowset's deletes no longer matter" (§4.1):
// start=(id,0,0), end=(id,MaxUint32,0).
func (d *DeleteBitmap) RemoveRowset(id types.RowsetId) {
	d.RemoveRange(RowsetLowerBound(id), RowsetUpperBound(id))
}

// Contains reports whether rowId is marked deleted at exactly key (no
// aggregation across versions — use the agg cache for that).
func (d *DeleteBitmap) Contains(key BitmapKey, rowId uint32) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	item := d.tree.Get(entryAt(key))
	if item == nil {
		return false
	}
	return item.(*entry).bm.Contains(rowId)
}

// Set inserts or replaces the bitmap at key. Returns true iff this created
// a new entry (as opposed to overwriting one).
func (d *DeleteBitmap) Set(key BitmapKey, bm *roaring.Bitmap) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := entryAt(key)
	e.bm = bm.Clone()
	prev := d.tree.ReplaceOrInsert(e)
	return prev == nil
}

// Get returns a copy of the bitmap at key and true, or (nil, false) if
// absent.
func (d *DeleteBitmap) Get(key BitmapKey) (*roaring.Bitmap, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	item := d.tree.Get(entryAt(key))
	if item == nil {
		return nil, false
	}
	return item.(*entry).bm.Clone(), true
}

// Subset copies every entry with key in [start, end) into out.
func (d *DeleteBitmap) Subset(start, end BitmapKey, out *DeleteBitmap) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	d.tree.AscendRange(entryAt(start), entryAt(end), func(item btree.Item) bool {
		e := item.(*entry)
		out.Set(e.bitmapKey(), e.bm)
		return true
	})
}

// Merge unions bm into the bitmap at key (creating it if absent).
func (d *DeleteBitmap) Merge(key BitmapKey, bm *roaring.Bitmap) {
	d.mu.Lock()
	defer d.mu.Unlock()

	item := d.tree.Get(entryAt(key))
	if item == nil {
		e := entryAt(key)
		e.bm = bm.Clone()
		d.tree.ReplaceOrInsert(e)
		return
	}
	item.(*entry).bm.Or(bm)
}

// MergeFrom unions every entry of other into d.
func (d *DeleteBitmap) MergeFrom(other *DeleteBitmap) {
	other.mu.RLock()
	defer other.mu.RUnlock()

	other.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		d.Merge(e.bitmapKey(), e.bm)
		return true
	})
}

// Snapshot returns a deep copy of the whole map.
func (d *DeleteBitmap) Snapshot() *DeleteBitmap {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := New()
	d.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		out.Set(e.bitmapKey(), e.bm)
		return true
	})
	return out
}

// SnapshotAt returns Snapshot() with every key whose Version > v dropped.
func (d *DeleteBitmap) SnapshotAt(v int64) *DeleteBitmap {
	snap := d.Snapshot()
	var toDelete []btree.Item
	snap.tree.Ascend(func(item btree.Item) bool {
		if item.(*entry).ver > v {
			toDelete = append(toDelete, item)
		}
		return true
	})
	for _, item := range toDelete {
		snap.tree.Delete(item)
	}
	return snap
}

// Cardinality sums GetCardinality() over every non-sentinel-segment entry.
func (d *DeleteBitmap) Cardinality() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total uint64
	d.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		if e.seg != InvalidSegmentId {
			total += e.bm.GetCardinality()
		}
		return true
	})
	return total
}

// CardinalityForRowset sums GetCardinality() over every non-sentinel-segment
// entry belonging to rowsetId, used to report the base-rowset delete-bitmap
// score metric (§6).
func (d *DeleteBitmap) CardinalityForRowset(rowsetId types.RowsetId) uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total uint64
	lo := entryAt(BitmapKey{RowsetId: rowsetId})
	d.tree.AscendGreaterOrEqual(lo, func(item btree.Item) bool {
		e := item.(*entry)
		if e.key != rowsetId {
			return false
		}
		if e.seg != InvalidSegmentId {
			total += e.bm.GetCardinality()
		}
		return true
	})
	return total
}

// GetSize sums the serialized byte size over every non-sentinel-segment
// entry.
func (d *DeleteBitmap) GetSize() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var total uint64
	d.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		if e.seg != InvalidSegmentId {
			total += e.bm.GetSerializedSizeInBytes()
		}
		return true
	})
	return total
}

// Each visits every (key, bitmap) pair in ascending key order. The bitmap
// passed to fn is a live reference, not a copy; callers that retain it
// across Each must Clone it first.
func (d *DeleteBitmap) Each(fn func(key BitmapKey, bm *roaring.Bitmap)) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	d.tree.Ascend(func(item btree.Item) bool {
		e := item.(*entry)
		fn(e.bitmapKey(), e.bm)
		return true
	})
}

// Len reports the number of entries (including sentinel markers), used by
// tests that assert no stray keys survive a delete.
func (d *DeleteBitmap) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.tree.Len()
}

// TraverseFn is called once per distinct (rowsetId, version) observed by
// TraverseRowsetAndVersion. Returning -2 asks the traversal to continue
// scanning forward within the same rowset at the next version; any other
// return value skips ahead to the next rowset.
type TraverseFn func(rowsetId types.RowsetId, version int64) int

const nextVersionWithinRowset = -2

// TraverseRowsetAndVersion visits one (rowsetId, version) pair per fn
// invocation in ascending key order, using upperBound seeks (max segment id,
// or max version within the current rowset) to skip ahead efficiently
// rather than visiting every per-segment entry.
func (d *DeleteBitmap) TraverseRowsetAndVersion(fn TraverseFn) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	cursor := BitmapKey{}
	for {
		var next *entry
		d.tree.AscendGreaterOrEqual(entryAt(cursor), func(item btree.Item) bool {
			next = item.(*entry)
			return false
		})
		if next == nil {
			return
		}

		action := fn(next.key, next.ver)
		if action == nextVersionWithinRowset {
			cursor = BitmapKey{RowsetId: next.key, SegmentId: next.seg, Version: next.ver + 1}
			continue
		}
		// Skip to the next rowset: seek past the maximum possible
		// (segment, version) pair for the current rowset id.
		cursor = BitmapKey{RowsetId: next.key, SegmentId: ^SegmentId(0), Version: int64(^uint64(0) >> 1)}
		cursor = nextKey(cursor)
	}
}

// nextKey returns the lexicographically-next key after k, used to turn an
// inclusive upper bound into an exclusive AscendGreaterOrEqual seek.
func nextKey(k BitmapKey) BitmapKey {
	if k.Version < int64(^uint64(0)>>1) {
		k.Version++
		return k
	}
	if k.SegmentId < ^SegmentId(0) {
		k.SegmentId++
		k.Version = 0
		return k
	}
	k.RowsetId = types.RowsetId{Hi: k.RowsetId.Hi, Mid: k.RowsetId.Mid, Lo: k.RowsetId.Lo + 1}
	k.SegmentId = 0
	k.Version = 0
	return k
}

// RowsetCacheVersion returns the highest version already materialized into
// the aggregation cache for (rowsetId, segId), or 0 if none.
func (d *DeleteBitmap) RowsetCacheVersion(rowsetId types.RowsetId, segId SegmentId) int64 {
	d.cvMu.RLock()
	defer d.cvMu.RUnlock()

	segs, ok := d.rowsetCacheVersion[rowsetId]
	if !ok {
		return 0
	}
	return segs[segId]
}

// SetRowsetCacheVersion publishes a new cached-aggregate version for
// (rowsetId, segId). Called from getAgg after a successful fold.
func (d *DeleteBitmap) SetRowsetCacheVersion(rowsetId types.RowsetId, segId SegmentId, v int64) {
	d.cvMu.Lock()
	defer d.cvMu.Unlock()

	segs, ok := d.rowsetCacheVersion[rowsetId]
	if !ok {
		segs = make(map[SegmentId]int64)
		d.rowsetCacheVersion[rowsetId] = segs
	}
	segs[segId] = v
}

// DropRowsetCacheVersion removes every cached-aggregate entry for rowsetId,
// called by deleteRowsetByVersion on merge-on-write tablets (§4.2, §8).
func (d *DeleteBitmap) DropRowsetCacheVersion(rowsetId types.RowsetId) {
	d.cvMu.Lock()
	defer d.cvMu.Unlock()
	delete(d.rowsetCacheVersion, rowsetId)
}

// HasRowsetCacheVersion reports whether rowsetId has any cached-aggregate
// entry, used by the property test in §8.
func (d *DeleteBitmap) HasRowsetCacheVersion(rowsetId types.RowsetId) bool {
	d.cvMu.RLock()
	defer d.cvMu.RUnlock()
	_, ok := d.rowsetCacheVersion[rowsetId]
	return ok
}

// ClearRowsetCacheVersion drops every side-map entry; used by
// reviseRowsets on merge-on-write tablets (§4.2).
func (d *DeleteBitmap) ClearRowsetCacheVersion() {
	d.cvMu.Lock()
	defer d.cvMu.Unlock()
	d.rowsetCacheVersion = make(map[types.RowsetId]map[SegmentId]int64)
}
