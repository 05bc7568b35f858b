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

import (
	"encoding/binary"
	"fmt"
)

// RowsetId is the opaque 192-bit identifier embedded in every rowset: three
// 64-bit words plus a version tag that disambiguates ids minted by
// different format generations. Totally ordered by (Hi, Mid, Lo, Tag).
type RowsetId struct {
	Hi  uint64
	Mid uint64
	Lo  uint64
	Tag uint32
}

// Compare returns -1, 0, or 1 the way bytes.Compare does, ordering by each
// word in turn. Used everywhere a BitmapKey or rowset list needs a total
// order (lexicographic range scans, sorted live-rowset lists).
func (r RowsetId) Compare(o RowsetId) int {
	switch {
	case r.Hi != o.Hi:
		return cmpUint64(r.Hi, o.Hi)
	case r.Mid != o.Mid:
		return cmpUint64(r.Mid, o.Mid)
	case r.Lo != o.Lo:
		return cmpUint64(r.Lo, o.Lo)
	default:
		return cmpUint64(uint64(r.Tag), uint64(o.Tag))
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func (r RowsetId) String() string {
	return fmt.Sprintf("%016x%016x%016x%08x", r.Hi, r.Mid, r.Lo, r.Tag)
}

// Bytes returns an explicit big-endian byte copy of r's four words, never a
// reinterpretation of the struct's in-memory layout: Go does not pad this
// struct, but every cache-key builder in this module copies fields
// explicitly on principle (see deletebitmap.BitmapKey.CacheBytes) so the
// encoding stays stable if the struct ever grows a padded field.
func (r RowsetId) Bytes() [28]byte {
	var b [28]byte
	binary.BigEndian.PutUint64(b[0:8], r.Hi)
	binary.BigEndian.PutUint64(b[8:16], r.Mid)
	binary.BigEndian.PutUint64(b[16:24], r.Lo)
	binary.BigEndian.PutUint32(b[24:28], r.Tag)
	return b
}

// RowsetMeta is the pointer-free descriptor of one immutable rowset.
// Once published (returned from a successful addRowset/publish) its fields
// never change; compaction replaces rowsets wholesale rather than mutating
// them in place.
type RowsetMeta struct {
	Id            RowsetId
	Version       Version
	NumRows       int64
	SizeBytes     int64
	NumSegments   int32
	SchemaVersion uint64
}

// Equal compares two rowset descriptors field-by-field.
func (r RowsetMeta) Equal(o RowsetMeta) bool {
	return r.Id == o.Id &&
		r.Version == o.Version &&
		r.NumRows == o.NumRows &&
		r.SizeBytes == o.SizeBytes &&
		r.NumSegments == o.NumSegments &&
		r.SchemaVersion == o.SchemaVersion
}
