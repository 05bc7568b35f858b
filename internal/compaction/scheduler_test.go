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

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/metrics"
	"github.com/cloudtablet/tabletd/internal/tabletmgr"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := NewScheduler(DefaultConfig(), tabletmgr.NewManager(), nil, SizeBasedPolicy{GoalSizeMbytes: 1}, nil)
	require.NoError(t, err)
	return s
}

func TestComputeBudgetCappedByExistingSubmissions(t *testing.T) {
	s := newTestScheduler(t)
	s.cfg.CompactionTaskNumPerFastDisk = 4
	s.cfg.MaxBaseCompactionTaskNumPerDisk = 2

	s.submittedBase[1] = nil
	s.submittedBase[2] = nil
	s.submittedCumu[3] = []*Handle{{}}

	n, needPick := s.computeBudget(Base, 20, 10)
	assert.False(t, needPick)
	assert.Equal(t, 0, n)
}

func TestComputeBudgetPositiveWhenSlotsFree(t *testing.T) {
	s := newTestScheduler(t)
	s.cfg.CompactionTaskNumPerFastDisk = 4

	n, needPick := s.computeBudget(Cumulative, 20, 10)
	assert.True(t, needPick)
	assert.Equal(t, 4, n)
}

func TestChooseTypeCyclesThroughCumulativeThenBase(t *testing.T) {
	s := newTestScheduler(t)
	s.cfg.CumulativeRoundsPerBaseRound = 2

	kinds := []Kind{
		s.chooseType(1),
		s.chooseType(2),
		s.chooseType(3),
		s.chooseType(4),
	}
	assert.Equal(t, []Kind{Cumulative, Cumulative, Base, Cumulative}, kinds)
}

func TestRefreshTaskCountMetricsReflectsTrackingMaps(t *testing.T) {
	s := newTestScheduler(t)
	s.submittedBase[1] = nil
	s.submittedBase[2] = nil
	s.submittedCumu[3] = []*Handle{{}, {}}
	s.executingFull[4] = &Handle{}

	s.refreshTaskCountMetrics()

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CompactionTaskPending.WithLabelValues("base")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.CompactionTaskPending.WithLabelValues("cumulative")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.CompactionTaskRunning.WithLabelValues("full")))
}

func TestStopTokenRegisterAndUnregister(t *testing.T) {
	s := newTestScheduler(t)
	s.metaClient = noopMetaClient{}

	require.NoError(t, s.RegisterCompactionStopToken(testContext(), 1, "test"))
	assert.True(t, s.HasStopToken(1))

	require.NoError(t, s.UnregisterCompactionStopToken(testContext(), 1, true))
	assert.False(t, s.HasStopToken(1))
}
