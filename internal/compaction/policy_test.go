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

package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
)

func metaWithRowsets(rowsets ...types.RowsetMeta) *tabletmeta.TabletMeta {
	m := tabletmeta.New(1, 1, 1, 1, 0, "uid", &types.Schema{Hash: 1}, false, types.NewSchemaCache())
	for _, rs := range rowsets {
		_ = m.AddRowset(rs)
	}
	return m
}

func rowset(lo, hi int64, tag uint32, start, end, size int64) types.RowsetMeta {
	return types.RowsetMeta{
		Id:        types.RowsetId{Lo: uint64(lo), Tag: tag},
		Version:   types.Version{Start: start, End: end},
		SizeBytes: size,
	}
}

func TestSizeBasedPolicyNeedsAtLeastTwoCandidates(t *testing.T) {
	m := metaWithRowsets(rowset(1, 0, 0, 0, 0, 100))
	p := SizeBasedPolicy{GoalSizeMbytes: 1}
	_, failure := p.PickInputRowsets(m)
	assert.Equal(t, PrepareNoSuitableVersion, failure)
}

func TestSizeBasedPolicyPicksUntilGoalReached(t *testing.T) {
	m := metaWithRowsets(
		rowset(1, 0, 0, 0, 0, 100),
		rowset(2, 0, 0, 1, 1, 512*1024),
		rowset(3, 0, 0, 2, 2, 512*1024),
		rowset(4, 0, 0, 3, 3, 512*1024),
	)
	p := SizeBasedPolicy{GoalSizeMbytes: 1}
	picked, failure := p.PickInputRowsets(m)
	assert.Equal(t, PrepareOther, failure)
	assert.GreaterOrEqual(t, len(picked), 2)
}

func TestLookupPolicyDefaultsToSizeBased(t *testing.T) {
	p := LookupPolicy("nonexistent", 1)
	assert.Equal(t, "size_based", p.Name())
}
