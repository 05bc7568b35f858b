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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInternSharesSchemaByHash(t *testing.T) {
	cache := NewSchemaCache()
	schema := &Schema{Hash: 42}

	h1 := cache.Intern(schema)
	h2 := cache.Intern(&Schema{Hash: 42})

	require.Same(t, h1.Get(), h2.Get())
	require.Equal(t, 1, cache.Size())
}

func TestReleaseDropsEntryAtZeroRefs(t *testing.T) {
	cache := NewSchemaCache()
	schema := &Schema{Hash: 7}

	h1 := cache.Intern(schema)
	h2 := cache.Intern(schema)
	require.Equal(t, 1, cache.Size())

	h1.Release()
	require.Equal(t, 1, cache.Size())

	h2.Release()
	require.Equal(t, 0, cache.Size())
}

func TestDistinctHashesGetDistinctEntries(t *testing.T) {
	cache := NewSchemaCache()
	cache.Intern(&Schema{Hash: 1})
	cache.Intern(&Schema{Hash: 2})
	require.Equal(t, 2, cache.Size())
}

func TestRowsetIdCompareOrdersByWordThenTag(t *testing.T) {
	a := RowsetId{Hi: 1, Mid: 0, Lo: 0, Tag: 0}
	b := RowsetId{Hi: 1, Mid: 0, Lo: 0, Tag: 1}
	c := RowsetId{Hi: 2, Mid: 0, Lo: 0, Tag: 0}

	require.Equal(t, -1, a.Compare(b))
	require.Equal(t, 1, b.Compare(a))
	require.Equal(t, -1, a.Compare(c))
	require.Equal(t, 0, a.Compare(a))
}

func TestRowsetMetaEqualIsFieldwise(t *testing.T) {
	r1 := RowsetMeta{Id: RowsetId{Lo: 1}, NumRows: 10}
	r2 := r1
	require.True(t, r1.Equal(r2))

	r2.NumRows = 11
	require.False(t, r1.Equal(r2))
}
