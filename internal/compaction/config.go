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

// Config holds the task-producer tuning knobs named in §6.
type Config struct {
	IntervalMs                   int
	CumulativeRoundsPerBaseRound int
	CompactionTaskNumPerFastDisk int
	MaxBaseCompactionTaskNumPerDisk int
	LargeCumuBytesThreshold       int64
	LargeCumuRowsThreshold        int64
	LargeCumuMinThreadNum         int
	MowPublishMaxDiscontinuousVersionNum int
	LeaseIntervalSeconds int

	AutoCompactionDisabled     bool
	ParallelCumuEnabled        bool
	NewTabletCompactionEnabled bool
	CloneOnMissingVersion      bool
}

// DefaultConfig returns a Config holding the same default values the
// paramtable layer applies to the scheduler and publish keys.
func DefaultConfig() Config {
	return Config{
		IntervalMs:                      10000,
		CumulativeRoundsPerBaseRound:     9,
		CompactionTaskNumPerFastDisk:     4,
		MaxBaseCompactionTaskNumPerDisk:  2,
		LargeCumuBytesThreshold:          1024 * 1024 * 1024,
		LargeCumuRowsThreshold:           10_000_000,
		LargeCumuMinThreadNum:            3,
		MowPublishMaxDiscontinuousVersionNum: 20,
		LeaseIntervalSeconds:             10,
	}
}

// clampThreads mirrors §4.5 step 2's formula: clamp(cores·factor, lo, hi).
func clampThreads(cores int, factor float64, lo, hi int) int {
	n := int(float64(cores) * factor)
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}

// cumulativeThreadBounds returns (min, max) cumulative pool thread counts.
func cumulativeThreadBounds(cores int) (int, int) {
	return clampThreads(cores, 0.25, 2, 20), clampThreads(cores, 0.5, 2, 20)
}

// baseThreadBounds returns (min, max) base pool thread counts.
func baseThreadBounds(cores int) (int, int) {
	return clampThreads(cores, 0.1, 1, 10), clampThreads(cores, 0.25, 1, 10)
}
