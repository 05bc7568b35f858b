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
	"time"

	"github.com/cloudtablet/tabletd/internal/types"
)

// Status is a compaction handle's terminal or in-flight disposition.
type Status int32

const (
	StatusPending Status = iota
	StatusPreparing
	StatusExecuting
	StatusSucceeded
	StatusFailed
)

// Handle is the per-tablet runtime object tracking one in-flight
// compaction (§4.2 "Compaction handle"): its kind, input rowsets, global
// lease id, start time, and result status. Handles are keyed by tablet id
// in the scheduler's tracking maps rather than holding a reference back to
// the tablet, avoiding the cyclic-reference pattern §9 flags (tablets live
// in tabletmgr.Manager, handles carry only ids).
type Handle struct {
	TabletId  int64
	Kind      Kind
	Input     []types.RowsetMeta
	OutputVer types.Version
	LeaseId   string
	StartTime time.Time
	Status    Status
}

// outputVersion computes the merged output interval for a set of input
// rowsets: [minInput.start, maxInput.end] (§4.6 executeCompact).
func outputVersion(input []types.RowsetMeta) types.Version {
	if len(input) == 0 {
		return types.Version{}
	}
	v := input[0].Version
	for _, rs := range input[1:] {
		if rs.Version.Start < v.Start {
			v.Start = rs.Version.Start
		}
		if rs.Version.End > v.End {
			v.End = rs.Version.End
		}
	}
	return v
}
