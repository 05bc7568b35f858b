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
	"github.com/samber/lo"

	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
)

// CumulativePolicy is the pluggable cumulative-compaction strategy named
// in §4.5 "Policy strategy": size-based and time-series variants,
// dispatched by tagged match rather than virtual dispatch (§9 redesign
// note on capability sets).
type CumulativePolicy interface {
	Name() string
	// PickInputRowsets selects the cumulative input set for meta, starting
	// above its cumulative layer point. Returns PrepareNoSuitableVersion
	// when nothing qualifies yet.
	PickInputRowsets(meta *tabletmeta.TabletMeta) ([]types.RowsetMeta, PrepareFailure)
	// Score estimates meta's cumulative-compaction priority for topN
	// candidate selection (§4.4 getTopNTabletsToCompact).
	Score(meta *tabletmeta.TabletMeta) float64
}

// SizeBasedPolicy is the default cumulative policy: accumulate rowsets
// above the cumulative layer point until their combined size crosses
// goalSizeMbytes, or there simply aren't at least two to merge.
type SizeBasedPolicy struct {
	GoalSizeMbytes int64
}

func (p SizeBasedPolicy) Name() string { return "size_based" }

func (p SizeBasedPolicy) PickInputRowsets(meta *tabletmeta.TabletMeta) ([]types.RowsetMeta, PrepareFailure) {
	live := meta.LiveRowsets()
	point := meta.CumulativeLayerPoint

	candidates := lo.Filter(live, func(rs types.RowsetMeta, _ int) bool {
		return rs.Version.Start >= point
	})
	if len(candidates) < 2 {
		return nil, PrepareNoSuitableVersion
	}

	goalBytes := p.GoalSizeMbytes * 1024 * 1024
	if goalBytes <= 0 {
		goalBytes = 1024 * 1024 * 1024
	}

	var picked []types.RowsetMeta
	var total int64
	for _, rs := range candidates {
		picked = append(picked, rs)
		total += rs.SizeBytes
		if total >= goalBytes && len(picked) >= 2 {
			break
		}
	}
	if len(picked) < 2 {
		return nil, PrepareNoSuitableVersion
	}
	return picked, PrepareOther
}

func (p SizeBasedPolicy) Score(meta *tabletmeta.TabletMeta) float64 {
	live := meta.LiveRowsets()
	point := meta.CumulativeLayerPoint
	var score float64
	for _, rs := range live {
		if rs.Version.Start >= point {
			score++
		}
	}
	return score
}

// TimeSeriesPolicy favors merging small, recent rowsets based on two of
// the tablet's TimeSeriesCompactionParams: the file-count threshold (10
// when unset) and the empty-rowset threshold. The level, goal-size and
// time thresholds in those params are not consulted.
type TimeSeriesPolicy struct{}

func (p TimeSeriesPolicy) Name() string { return "time_series" }

func (p TimeSeriesPolicy) PickInputRowsets(meta *tabletmeta.TabletMeta) ([]types.RowsetMeta, PrepareFailure) {
	live := meta.LiveRowsets()
	point := meta.CumulativeLayerPoint
	params := meta.TSCompaction

	candidates := lo.Filter(live, func(rs types.RowsetMeta, _ int) bool {
		return rs.Version.Start >= point
	})

	threshold := params.FileCountThreshold
	if threshold <= 0 {
		threshold = 10
	}
	if int32(len(candidates)) < threshold {
		emptyCount := lo.CountBy(candidates, func(rs types.RowsetMeta) bool { return rs.NumRows == 0 })
		if int32(emptyCount) < params.EmptyRowsetsThreshold {
			return nil, PrepareNoSuitableVersion
		}
	}
	if len(candidates) < 2 {
		return nil, PrepareNoSuitableVersion
	}
	return candidates, PrepareOther
}

func (p TimeSeriesPolicy) Score(meta *tabletmeta.TabletMeta) float64 {
	live := meta.LiveRowsets()
	point := meta.CumulativeLayerPoint
	count := 0
	for _, rs := range live {
		if rs.Version.Start >= point {
			count++
		}
	}
	return float64(count)
}

// LookupPolicy resolves a configured policy name to its CumulativePolicy;
// an unknown name returns the size-based default (§4.5).
func LookupPolicy(name string, goalSizeMbytes int64) CumulativePolicy {
	switch name {
	case "time_series":
		return TimeSeriesPolicy{}
	case "size_based", "":
		return SizeBasedPolicy{GoalSizeMbytes: goalSizeMbytes}
	default:
		return SizeBasedPolicy{GoalSizeMbytes: goalSizeMbytes}
	}
}
