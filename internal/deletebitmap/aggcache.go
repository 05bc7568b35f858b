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
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/log"
)

// perEntryOverhead approximates the value-struct/book-keeping cost added to
// a cached bitmap's own serialized size, so charge = bitmap bytes + this.
const perEntryOverhead = 64

// aggKey is the LRU key: tabletId ++ BitmapKey, built with CacheBytes so the
// encoding never depends on struct memory layout (§4.1).
type aggKey = [cacheKeyLen]byte

type aggValue struct {
	bm     *roaring.Bitmap
	charge int64
	pins   int32
}

// AggHandle is the guard returned by GetAgg. It must be released (Release)
// once the caller is done reading Bitmap(); failing to do so pins the
// entry in the cache forever, which is exactly the leak the §9 "no leaks"
// test is meant to catch.
type AggHandle struct {
	cache *AggCache
	val   *aggValue
}

func (h *AggHandle) Bitmap() *roaring.Bitmap { return h.val.bm }

func (h *AggHandle) Release() {
	if h == nil {
		return
	}
	atomic.AddInt32(&h.val.pins, -1)
}

// AggCache is the process-wide (or per-tablet, in tests) LRU aggregation
// cache described in §3/§4.1: keyed by (tabletId, rowsetId, segId, v),
// charge = bitmap bytes + overhead, with pinned entries exempt from
// eviction until every outstanding AggHandle is released.
type AggCache struct {
	mu            sync.Mutex
	lru           *lru.Cache[aggKey, *aggValue]
	capacityBytes int64
	usedBytes     int64
}

// NewAggCache builds a cache with the given byte budget. maxEntries bounds
// the underlying LRU's slot count (a generous upper bound independent of
// the byte budget, since golang-lru evicts by count natively); the byte
// budget is enforced on top by evicting oldest-unpinned entries after each
// insert.
func NewAggCache(capacityBytes int64, maxEntries int) *AggCache {
	c := &AggCache{capacityBytes: capacityBytes}
	l, _ := lru.NewWithEvict[aggKey, *aggValue](maxEntries, func(_ aggKey, v *aggValue) {
		atomic.AddInt64(&c.usedBytes, -v.charge)
	})
	c.lru = l
	return c
}

// UsedBytes reports current cache charge.
func (c *AggCache) UsedBytes() int64 { return atomic.LoadInt64(&c.usedBytes) }

func (c *AggCache) get(k aggKey) (*aggValue, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(k)
}

func (c *AggCache) insert(k aggKey, v *aggValue) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(k); ok {
		atomic.AddInt64(&c.usedBytes, -old.charge)
	}
	c.lru.Add(k, v)
	atomic.AddInt64(&c.usedBytes, v.charge)
	c.evictToBudgetLocked()
}

func (c *AggCache) evictToBudgetLocked() {
	for atomic.LoadInt64(&c.usedBytes) > c.capacityBytes {
		evicted := false
		for _, key := range c.lru.Keys() {
			v, ok := c.lru.Peek(key)
			if !ok {
				continue
			}
			if atomic.LoadInt32(&v.pins) > 0 {
				continue // pinned: in use by an outstanding AggHandle
			}
			c.lru.Remove(key) // triggers the evict callback, decrements usedBytes
			evicted = true
			break
		}
		if !evicted {
			return // everything left is pinned; over budget until released
		}
	}
}

// GetAgg resolves the aggregated bitmap for key = (rowsetId, segId, v): the
// union of every bitmap with key (rowsetId, segId, v') for v' <= v. On a
// cache hit at exactly v it returns the cached value directly; otherwise it
// seeds from the nearest older cached aggregate (if any and not newer than
// v) and folds in the remaining per-version bitmaps from bm.
//
// checkCorrectness, when true, additionally recomputes the aggregate from
// scratch (ignoring the cache seed) and panics if it disagrees with the
// cache-assisted result — the §8 correctness-check mode.
func (c *AggCache) GetAgg(bm *DeleteBitmap, tabletId int64, key BitmapKey, checkCorrectness bool) *AggHandle {
	cacheKey := key.CacheBytes(tabletId)

	if v, ok := c.get(cacheKey); ok {
		atomic.AddInt32(&v.pins, 1)
		return &AggHandle{cache: c, val: v}
	}

	start := bm.RowsetCacheVersion(key.RowsetId, key.SegmentId)
	var seed *roaring.Bitmap
	if start > 0 {
		seedKey := BitmapKey{RowsetId: key.RowsetId, SegmentId: key.SegmentId, Version: start}
		if cached, ok := c.get(seedKey.CacheBytes(tabletId)); ok && start <= key.Version {
			seed = cached.bm.Clone()
			start++
		} else {
			start = 0
		}
	}

	agg := foldRange(bm, key, start, seed)

	if checkCorrectness {
		fromScratch := foldRange(bm, key, 0, nil)
		if fromScratch.GetCardinality() != agg.GetCardinality() || !fromScratch.Equals(agg) {
			log.L().Panic("delete bitmap aggregation mismatch",
				zap.Int64("tabletId", tabletId), zap.Uint64("rowsetHi", key.RowsetId.Hi),
				zap.Uint32("seg", key.SegmentId), zap.Int64("version", key.Version))
		}
	}

	v := &aggValue{bm: agg, charge: int64(agg.GetSerializedSizeInBytes()) + perEntryOverhead}
	atomic.AddInt32(&v.pins, 1)
	c.insert(cacheKey, v)

	if !agg.IsEmpty() {
		bm.SetRowsetCacheVersion(key.RowsetId, key.SegmentId, key.Version)
	}

	return &AggHandle{cache: c, val: v}
}

// foldRange unions every bitmap with key (rowsetId, segId, v') for
// start <= v' <= key.Version into seed (or a fresh bitmap if seed is nil),
// reading bm under its shared lock.
func foldRange(bm *DeleteBitmap, key BitmapKey, start int64, seed *roaring.Bitmap) *roaring.Bitmap {
	out := seed
	if out == nil {
		out = roaring.New()
	}

	lo := BitmapKey{RowsetId: key.RowsetId, SegmentId: key.SegmentId, Version: start}
	hi := nextKey(BitmapKey{RowsetId: key.RowsetId, SegmentId: key.SegmentId, Version: key.Version})

	bm.mu.RLock()
	defer bm.mu.RUnlock()

	bm.tree.AscendRange(entryAt(lo), entryAt(hi), func(item btree.Item) bool {
		out.Or(item.(*entry).bm)
		return true
	})
	return out
}
