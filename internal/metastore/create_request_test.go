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

	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
)

func TestBuildSchemaDerivesBloomFilterFromIndexDefs(t *testing.T) {
	req := &CreateTabletRequest{
		Columns: []ColumnRequest{{Name: "c1", IsKey: true}},
		IndexDefs: []IndexRequest{
			{Name: "idx1", Kind: types.IndexKindBloomFilter, ColumnUniqueId: 0},
		},
	}

	schema := BuildSchema(req, 1)
	require.Len(t, schema.Indexes, 1)
	require.True(t, schema.Indexes[0].BloomFilter)
	require.Equal(t, types.CompressionLZ4Frame, schema.Compression)
}

func TestBuildSchemaRespectsExplicitCompression(t *testing.T) {
	req := &CreateTabletRequest{Compression: types.CompressionZstd}
	schema := BuildSchema(req, 1)
	require.Equal(t, types.CompressionZstd, schema.Compression)
}

func TestToDescriptorThenFromDescriptorRoundTrips(t *testing.T) {
	req := &CreateTabletRequest{
		TableId: 1, PartitionId: 2, TabletId: 3, ReplicaId: 4, Shard: 1, Uid: "uid-1",
		MergeOnWrite: true,
		Binlog:       tabletmeta.BinlogConfig{Enable: true, MaxBytes: 1024},
		TSCompaction: tabletmeta.TimeSeriesCompactionParams{GoalSizeMbytes: 64},
	}
	schema := BuildSchema(req, 42)
	d := ToDescriptor(req, schema)

	m := FromDescriptor(d, types.NewSchemaCache())
	require.Equal(t, req.TabletId, m.TabletId)
	require.Equal(t, tabletmeta.TabletNotReady, m.State)
	require.True(t, m.MergeOnWrite)
	require.Equal(t, int64(1024), m.Binlog.MaxBytes)
	require.Equal(t, int64(64), m.TSCompaction.GoalSizeMbytes)
	require.Equal(t, uint64(42), m.Schema().Hash)
}
