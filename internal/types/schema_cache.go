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

package types

import "sync"

// Schema is the subset of tablet schema content this core needs to reason
// about: column definitions, indexes, compression, and sort/cluster-key
// configuration. The columnar reader/writer that actually interprets it is
// out of scope (§1) and referenced only by SchemaHash.
type Schema struct {
	Hash        uint64
	Columns     []ColumnMeta
	Indexes     []IndexMeta
	Compression CompressionKind
	SortType    SortKind
	ClusterKeys []int32
}

// ColumnMeta mirrors what create-from-request needs: type, width, and the
// aggregation function used when the column is an aggregate-key column.
type ColumnMeta struct {
	Name          string
	Type          int32
	Length        int32
	IndexLength   int32 // only meaningful for variable-width columns
	AggregationFn string
	IsKey         bool
	Nullable      bool
}

// IndexMeta describes one secondary index attached to the schema.
type IndexMeta struct {
	Name           string
	Kind           IndexKind
	ColumnUniqueId int32
	BloomFilter    bool // derived from the index definition at create time
}

type IndexKind int32

const (
	IndexKindUnknown IndexKind = iota
	IndexKindBitmap
	IndexKindInverted
	IndexKindBloomFilter
	IndexKindNGramBloomFilter
)

type CompressionKind int32

const (
	CompressionUnspecified CompressionKind = iota
	CompressionLZ4Frame                   // default when unspecified
	CompressionZstd
	CompressionSnappy
	CompressionNone
)

type SortKind int32

const (
	SortKindLexical SortKind = iota
	SortKindZOrder
)

// SchemaHandle is a reference-counted interned Schema. Every TabletMeta
// holds one SchemaHandle rather than a private copy, so that tablets
// sharing a schema version share the underlying Schema allocation.
type SchemaHandle struct {
	cache  *SchemaCache
	schema *Schema
}

// Get returns the interned schema. The returned pointer is stable for the
// lifetime of the handle.
func (h *SchemaHandle) Get() *Schema { return h.schema }

// Release drops this handle's reference. A handle must not be used after
// Release. Safe to call multiple times only if the caller tracks that
// itself; the cache does not defend against double-release.
func (h *SchemaHandle) Release() {
	if h == nil || h.cache == nil {
		return
	}
	h.cache.release(h.schema.Hash)
}

// SchemaCache is the process-wide singleton that interns Schema values by
// hash so that tablets sharing a schema version share one allocation. Every
// TabletMeta re-interns on initFromSerialized and releases on destruction.
type SchemaCache struct {
	mu   sync.Mutex
	refs map[uint64]*schemaEntry
}

type schemaEntry struct {
	schema *Schema
	refs   int
}

// NewSchemaCache constructs an empty cache. Production code uses the
// process-wide GlobalSchemaCache; tests construct independent caches to
// avoid cross-test interference.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{refs: make(map[uint64]*schemaEntry)}
}

// GlobalSchemaCache is the process-wide singleton referenced by
// TabletMeta.initFromSerialized, per §4.2 and §9 "global mutable state".
var GlobalSchemaCache = NewSchemaCache()

// Intern returns a SchemaHandle for schema, reusing an existing entry keyed
// by schema.Hash if one is already cached. The caller owns the returned
// handle and must Release it.
func (c *SchemaCache) Intern(schema *Schema) *SchemaHandle {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.refs[schema.Hash]
	if !ok {
		entry = &schemaEntry{schema: schema}
		c.refs[schema.Hash] = entry
	}
	entry.refs++
	return &SchemaHandle{cache: c, schema: entry.schema}
}

func (c *SchemaCache) release(hash uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.refs[hash]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(c.refs, hash)
	}
}

// Size reports the number of distinct schemas currently interned; used by
// tests asserting the cache does not leak entries across tablet lifecycles.
func (c *SchemaCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.refs)
}
