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
	"context"
	"runtime"
	"sync"
	"time"

	cerrors "github.com/cockroachdb/errors"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/metaservice"
	"github.com/cloudtablet/tabletd/internal/metrics"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/tabletmgr"
)

// scoreRefreshInterval is the floor at which tablet-score metrics are
// refreshed even when no scheduling slot is free (§4.5 step 3).
const scoreRefreshInterval = 5 * time.Second

// Scheduler runs the compaction producer loop (C5, §4.5): periodic
// candidate selection under per-tablet/per-disk concurrency budgets, and
// the lease-renewal loop for in-flight compactions (C6, §4.6).
type Scheduler struct {
	cfg        Config
	tabletMgr  *tabletmgr.Manager
	metaClient metaservice.Client
	policy     CumulativePolicy
	compactor  Compactor

	basePool *ants.Pool
	cumuPool *ants.Pool

	compactionMtx    sync.Mutex
	preparingCumu    map[int64]bool
	submittedBase    map[int64]*Handle
	submittedCumu    map[int64][]*Handle
	submittedFull    map[int64]*Handle
	executingBase    map[int64]*Handle
	executingCumu    map[int64][]*Handle
	executingFull    map[int64]*Handle
	activeStopTokens map[int64]string

	delayMtx                    sync.Mutex
	lastCumuNoSuitableVersionMs map[int64]int64
	lastCumuFailureTime         map[int64]time.Time
	lastBaseFailureTime         map[int64]time.Time
	lastFullFailureTime         map[int64]time.Time
	cumuThreadsInUse            int
	smallCumuRunning            int

	lastBaseScoreRefresh time.Time
	lastCumuScoreRefresh time.Time
	roundCounter         atomic.Int64

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewScheduler(cfg Config, tabletMgr *tabletmgr.Manager, metaClient metaservice.Client, policy CumulativePolicy, compactor Compactor) (*Scheduler, error) {
	basePool, err := ants.NewPool(10, ants.WithNonblocking(false))
	if err != nil {
		return nil, errs.Wrap(err, "create base compaction pool")
	}
	cumuPool, err := ants.NewPool(20, ants.WithNonblocking(false))
	if err != nil {
		return nil, errs.Wrap(err, "create cumulative compaction pool")
	}
	return &Scheduler{
		cfg:                         cfg,
		tabletMgr:                   tabletMgr,
		metaClient:                  metaClient,
		policy:                      policy,
		compactor:                   compactor,
		basePool:                    basePool,
		cumuPool:                    cumuPool,
		preparingCumu:               make(map[int64]bool),
		submittedBase:               make(map[int64]*Handle),
		submittedCumu:               make(map[int64][]*Handle),
		submittedFull:               make(map[int64]*Handle),
		executingBase:               make(map[int64]*Handle),
		executingCumu:               make(map[int64][]*Handle),
		executingFull:               make(map[int64]*Handle),
		activeStopTokens:            make(map[int64]string),
		lastCumuNoSuitableVersionMs: make(map[int64]int64),
		lastCumuFailureTime:         make(map[int64]time.Time),
		lastBaseFailureTime:         make(map[int64]time.Time),
		lastFullFailureTime:         make(map[int64]time.Time),
		stop:                        make(chan struct{}),
	}, nil
}

// Start launches the producer loop and the lease-renewal loop (§4.5,
// §4.6 doLease).
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(2)
	go s.runProducerLoop(ctx)
	go s.runLeaseLoop(ctx)
}

func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.basePool.Release()
	s.cumuPool.Release()
}

func (s *Scheduler) runProducerLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runProducerRound(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// runProducerRound implements one iteration of §4.5's model.
func (s *Scheduler) runProducerRound(ctx context.Context) {
	if s.cfg.AutoCompactionDisabled {
		return
	}

	cores := runtime.NumCPU()
	_, cumuMax := cumulativeThreadBounds(cores)
	_, baseMax := baseThreadBounds(cores)
	s.cumuPool.Tune(cumuMax)
	s.basePool.Tune(baseMax)

	round := s.roundCounter.Inc()
	kind := s.chooseType(round)

	n, needPick := s.computeBudget(kind, cumuMax, baseMax)
	filterOut := s.buildFilterOut(kind)

	if !needPick {
		s.refreshScoreMetricOnly(kind)
		return
	}

	var maxScore float64
	candidates := s.tabletMgr.GetTopNTabletsToCompact(n, filterOut, func(meta *tabletmeta.TabletMeta) float64 {
		return s.policy.Score(meta)
	}, &maxScore)
	metrics.CompactionMaxScore.WithLabelValues(kind.String()).Set(maxScore)

	for _, c := range candidates {
		if err := s.submitCompactionTask(ctx, c.TabletId, kind); err != nil && !cerrors.Is(err, errs.ErrCumulativeNoSuitableVersion) {
			log.Error("failed to submit compaction task",
				zap.Int64("tabletId", c.TabletId), zap.String("kind", kind.String()), zap.Error(err))
		}
	}

	s.refreshTaskCountMetrics()
	s.refreshDeleteBitmapScoreMetrics()
}

// chooseType picks Cumulative for cumulative_rounds_per_base_round
// consecutive rounds, then one round of Base (§4.5 step 3).
func (s *Scheduler) chooseType(round int64) Kind {
	r := int64(s.cfg.CumulativeRoundsPerBaseRound)
	if r <= 0 {
		r = 1
	}
	if round%(r+1) == 0 {
		return Base
	}
	return Cumulative
}

func (s *Scheduler) refreshScoreMetricOnly(kind Kind) {
	now := time.Now()
	switch kind {
	case Base:
		if now.Sub(s.lastBaseScoreRefresh) < scoreRefreshInterval {
			return
		}
		s.lastBaseScoreRefresh = now
	default:
		if now.Sub(s.lastCumuScoreRefresh) < scoreRefreshInterval {
			return
		}
		s.lastCumuScoreRefresh = now
	}
	var maxScore float64
	s.tabletMgr.GetTopNTabletsToCompact(1, nil, func(meta *tabletmeta.TabletMeta) float64 {
		return s.policy.Score(meta)
	}, &maxScore)
	metrics.CompactionMaxScore.WithLabelValues(kind.String()).Set(maxScore)
}

// refreshTaskCountMetrics publishes the running/pending compaction task
// gauges (§6) from the scheduler's tracking maps.
func (s *Scheduler) refreshTaskCountMetrics() {
	s.compactionMtx.Lock()
	pendingBase := len(s.submittedBase)
	pendingFull := len(s.submittedFull)
	pendingCumu := 0
	for _, hs := range s.submittedCumu {
		pendingCumu += len(hs)
	}
	runningBase := len(s.executingBase)
	runningFull := len(s.executingFull)
	runningCumu := 0
	for _, hs := range s.executingCumu {
		runningCumu += len(hs)
	}
	s.compactionMtx.Unlock()

	metrics.CompactionTaskPending.WithLabelValues(Base.String()).Set(float64(pendingBase))
	metrics.CompactionTaskPending.WithLabelValues(Full.String()).Set(float64(pendingFull))
	metrics.CompactionTaskPending.WithLabelValues(Cumulative.String()).Set(float64(pendingCumu))
	metrics.CompactionTaskRunning.WithLabelValues(Base.String()).Set(float64(runningBase))
	metrics.CompactionTaskRunning.WithLabelValues(Full.String()).Set(float64(runningFull))
	metrics.CompactionTaskRunning.WithLabelValues(Cumulative.String()).Set(float64(runningCumu))
}

// refreshDeleteBitmapScoreMetrics publishes the node-wide max delete-bitmap
// score gauges (§6).
func (s *Scheduler) refreshDeleteBitmapScoreMetrics() {
	maxTablet, maxBaseRowset := s.tabletMgr.MaxDeleteBitmapScores()
	metrics.MaxTabletDeleteBitmapScore.Set(maxTablet)
	metrics.MaxBaseRowsetDeleteBitmapScore.Set(maxBaseRowset)
}

// computeBudget implements §4.5 step 5.
func (s *Scheduler) computeBudget(kind Kind, cumuMax, baseMax int) (int, bool) {
	s.compactionMtx.Lock()
	defer s.compactionMtx.Unlock()

	threadsPerDisk := s.cfg.CompactionTaskNumPerFastDisk
	if threadsPerDisk <= 0 {
		threadsPerDisk = cumuMax
	}
	sumCumu := 0
	for _, hs := range s.submittedCumu {
		sumCumu += len(hs)
	}
	n := threadsPerDisk - sumCumu - len(s.submittedBase) - len(s.submittedFull)

	if kind == Base {
		maxBasePerDisk := s.cfg.MaxBaseCompactionTaskNumPerDisk
		cap1 := maxBasePerDisk
		cap2 := threadsPerDisk - 1
		capN := cap1
		if cap2 < capN {
			capN = cap2
		}
		limit := capN - len(s.submittedBase)
		if limit < n {
			n = limit
		}
	}

	if n <= 0 {
		return 0, false
	}
	return n, true
}

// buildFilterOut implements §4.5 step 6.
func (s *Scheduler) buildFilterOut(kind Kind) func(tabletId int64) bool {
	s.compactionMtx.Lock()
	defer s.compactionMtx.Unlock()

	switch kind {
	case Base:
		submittedBase := cloneSet(s.submittedBase)
		submittedFull := cloneSet(s.submittedFull)
		return func(tabletId int64) bool {
			if submittedBase[tabletId] || submittedFull[tabletId] {
				return true
			}
			if s.HasStopToken(tabletId) {
				return true
			}
			meta, err := s.tabletMgr.GetTablet(tabletId)
			if err != nil {
				return true
			}
			return meta.State != tabletmeta.TabletRunning
		}
	default:
		preparing := make(map[int64]bool, len(s.preparingCumu))
		for k, v := range s.preparingCumu {
			preparing[k] = v
		}
		submittedCumu := make(map[int64]bool, len(s.submittedCumu))
		for k := range s.submittedCumu {
			submittedCumu[k] = true
		}
		return func(tabletId int64) bool {
			if preparing[tabletId] {
				return true
			}
			if s.HasStopToken(tabletId) {
				return true
			}
			meta, err := s.tabletMgr.GetTablet(tabletId)
			if err != nil {
				return true
			}
			running := meta.State == tabletmeta.TabletRunning
			if !running && !(s.cfg.NewTabletCompactionEnabled && meta.CumulativeLayerPoint != -1) {
				return true
			}
			if !s.cfg.ParallelCumuEnabled && submittedCumu[tabletId] {
				return true
			}
			return false
		}
	}
}

func cloneSet(m map[int64]*Handle) map[int64]bool {
	out := make(map[int64]bool, len(m))
	for k := range m {
		out[k] = true
	}
	return out
}
