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
	"time"

	cerrors "github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/metaservice"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/types"
)

// Compactor streams a set of input rowsets through the external segment
// compactor and returns the merged output rowset (§4.6 executeCompact);
// the columnar merge algorithm itself is out of scope (§1).
type Compactor interface {
	Compact(ctx context.Context, tabletId int64, input []types.RowsetMeta, outputVer types.Version) (types.RowsetMeta, error)
}

// submitCompactionTask implements §4.5's per-type task submission.
func (s *Scheduler) submitCompactionTask(ctx context.Context, tabletId int64, kind Kind) error {
	switch kind {
	case Base:
		return s.submitBase(ctx, tabletId)
	case Full:
		return s.submitFull(ctx, tabletId)
	default:
		return s.submitCumulative(ctx, tabletId)
	}
}

func (s *Scheduler) submitBase(ctx context.Context, tabletId int64) error {
	s.compactionMtx.Lock()
	if _, exists := s.submittedBase[tabletId]; exists {
		s.compactionMtx.Unlock()
		return errs.Wrapf(errs.ErrAlreadyExists, "base compaction already submitted for tablet %d", tabletId)
	}
	s.submittedBase[tabletId] = nil
	s.compactionMtx.Unlock()

	meta, err := s.tabletMgr.GetTablet(tabletId)
	if err != nil {
		s.clearSubmittedBase(tabletId)
		return err
	}

	input, failure := SizeBasedPolicy{}.PickInputRowsets(meta)
	if failure != PrepareOther || len(input) == 0 {
		s.delayMtx.Lock()
		s.lastBaseFailureTime[tabletId] = time.Now()
		s.delayMtx.Unlock()
		s.clearSubmittedBase(tabletId)
		return errs.ErrCumulativeNoSuitableVersion
	}

	handle := &Handle{TabletId: tabletId, Kind: Base, Input: input, OutputVer: outputVersion(input), Status: StatusPreparing}
	s.compactionMtx.Lock()
	s.submittedBase[tabletId] = handle
	s.compactionMtx.Unlock()

	return s.basePool.Submit(func() {
		s.runHandle(ctx, handle)
		s.clearSubmittedBase(tabletId)
	})
}

func (s *Scheduler) clearSubmittedBase(tabletId int64) {
	s.compactionMtx.Lock()
	delete(s.submittedBase, tabletId)
	s.compactionMtx.Unlock()
}

func (s *Scheduler) submitFull(ctx context.Context, tabletId int64) error {
	s.compactionMtx.Lock()
	if _, exists := s.submittedFull[tabletId]; exists {
		s.compactionMtx.Unlock()
		return errs.Wrapf(errs.ErrAlreadyExists, "full compaction already submitted for tablet %d", tabletId)
	}
	s.submittedFull[tabletId] = nil
	s.compactionMtx.Unlock()

	meta, err := s.tabletMgr.GetTablet(tabletId)
	if err != nil {
		s.clearSubmittedFull(tabletId)
		return err
	}
	input := meta.LiveRowsets()
	if len(input) < 2 {
		s.delayMtx.Lock()
		s.lastFullFailureTime[tabletId] = time.Now()
		s.delayMtx.Unlock()
		s.clearSubmittedFull(tabletId)
		return errs.ErrCumulativeNoSuitableVersion
	}

	handle := &Handle{TabletId: tabletId, Kind: Full, Input: input, OutputVer: outputVersion(input), Status: StatusPreparing}
	s.compactionMtx.Lock()
	s.submittedFull[tabletId] = handle
	s.compactionMtx.Unlock()

	return s.basePool.Submit(func() {
		s.runHandle(ctx, handle)
		s.clearSubmittedFull(tabletId)
	})
}

func (s *Scheduler) clearSubmittedFull(tabletId int64) {
	s.compactionMtx.Lock()
	delete(s.submittedFull, tabletId)
	s.compactionMtx.Unlock()
}

func (s *Scheduler) submitCumulative(ctx context.Context, tabletId int64) error {
	s.compactionMtx.Lock()
	if s.preparingCumu[tabletId] {
		s.compactionMtx.Unlock()
		return errs.Wrapf(errs.ErrAlreadyExists, "cumulative compaction already preparing for tablet %d", tabletId)
	}
	s.preparingCumu[tabletId] = true
	s.compactionMtx.Unlock()

	meta, err := s.tabletMgr.GetTablet(tabletId)
	if err != nil {
		s.clearPreparingCumu(tabletId)
		return err
	}

	input, failure := s.policy.PickInputRowsets(meta)
	if failure != PrepareOther || len(input) == 0 {
		s.delayMtx.Lock()
		switch failure {
		case PrepareNoSuitableVersion:
			s.lastCumuNoSuitableVersionMs[tabletId] = time.Now().UnixMilli()
		case PrepareMeetDeleteVersion:
			log.Info("cumulative compaction met a delete version", zap.Int64("tabletId", tabletId))
		default:
			s.lastCumuFailureTime[tabletId] = time.Now()
		}
		s.delayMtx.Unlock()
		s.clearPreparingCumu(tabletId)
		return errs.ErrCumulativeNoSuitableVersion
	}

	handle := &Handle{TabletId: tabletId, Kind: Cumulative, Input: input, OutputVer: outputVersion(input), Status: StatusPreparing}
	s.compactionMtx.Lock()
	delete(s.preparingCumu, tabletId)
	s.submittedCumu[tabletId] = append(s.submittedCumu[tabletId], handle)
	s.compactionMtx.Unlock()

	return s.cumuPool.Submit(func() {
		s.runCumulativeHandle(ctx, handle)
	})
}

func (s *Scheduler) clearPreparingCumu(tabletId int64) {
	s.compactionMtx.Lock()
	delete(s.preparingCumu, tabletId)
	s.compactionMtx.Unlock()
}

// runCumulativeHandle implements the delay/large-task logic in §4.5's
// cumulative submission paragraph.
func (s *Scheduler) runCumulativeHandle(ctx context.Context, handle *Handle) {
	defer s.removeSubmittedCumu(handle)

	s.delayMtx.Lock()
	s.cumuThreadsInUse++
	var totalBytes, totalRows int64
	for _, rs := range handle.Input {
		totalBytes += rs.SizeBytes
		totalRows += rs.NumRows
	}
	large := s.cfg.LargeCumuMinThreadNum > 1 &&
		(totalBytes > s.cfg.LargeCumuBytesThreshold || totalRows > s.cfg.LargeCumuRowsThreshold)

	if !large {
		s.smallCumuRunning++
		s.delayMtx.Unlock()
	} else if s.shouldDelayLargeTask() {
		s.cumuThreadsInUse--
		s.lastCumuFailureTime[handle.TabletId] = time.Now()
		s.delayMtx.Unlock()
		log.Info("delaying large cumulative compaction task", zap.Int64("tabletId", handle.TabletId))
		return
	} else {
		s.delayMtx.Unlock()
	}

	defer func() {
		s.delayMtx.Lock()
		s.cumuThreadsInUse--
		if !large {
			s.smallCumuRunning--
		}
		s.delayMtx.Unlock()
	}()

	s.runHandle(ctx, handle)
}

// shouldDelayLargeTask is a system-configured predicate over in-flight
// counts (§4.5); callers hold delayMtx.
func (s *Scheduler) shouldDelayLargeTask() bool {
	return s.cumuThreadsInUse > s.cfg.LargeCumuMinThreadNum
}

func (s *Scheduler) removeSubmittedCumu(handle *Handle) {
	s.compactionMtx.Lock()
	defer s.compactionMtx.Unlock()
	list := s.submittedCumu[handle.TabletId]
	for i, h := range list {
		if h == handle {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.submittedCumu, handle.TabletId)
		s.delayMtx.Lock()
		s.lastCumuNoSuitableVersionMs[handle.TabletId] = 0
		s.delayMtx.Unlock()
	} else {
		s.submittedCumu[handle.TabletId] = list
	}
}

// runHandle acquires the global lease, installs the handle into the
// relevant "executing" map, executes the merge, then clears tracking
// (§4.6).
func (s *Scheduler) runHandle(ctx context.Context, handle *Handle) {
	leaseId, err := s.requestGlobalLock(ctx, handle)
	if err != nil {
		log.Error("failed to acquire global compaction lock", zap.Int64("tabletId", handle.TabletId), zap.Error(err))
		s.stampFailure(handle)
		return
	}
	handle.LeaseId = leaseId
	handle.StartTime = time.Now()
	handle.Status = StatusExecuting
	s.installExecuting(handle)
	defer s.removeExecuting(handle)

	if err := s.executeCompact(ctx, handle); err != nil {
		log.Error("compaction execution failed",
			zap.Int64("tabletId", handle.TabletId), zap.String("kind", handle.Kind.String()), zap.Error(err))
		handle.Status = StatusFailed
		s.stampFailure(handle)
		return
	}
	handle.Status = StatusSucceeded
}

func (s *Scheduler) stampFailure(handle *Handle) {
	s.delayMtx.Lock()
	defer s.delayMtx.Unlock()
	now := time.Now()
	switch handle.Kind {
	case Base:
		s.lastBaseFailureTime[handle.TabletId] = now
	case Full:
		s.lastFullFailureTime[handle.TabletId] = now
	default:
		s.lastCumuFailureTime[handle.TabletId] = now
	}
}

func (s *Scheduler) installExecuting(handle *Handle) {
	s.compactionMtx.Lock()
	defer s.compactionMtx.Unlock()
	switch handle.Kind {
	case Base:
		s.executingBase[handle.TabletId] = handle
	case Full:
		s.executingFull[handle.TabletId] = handle
	default:
		s.executingCumu[handle.TabletId] = append(s.executingCumu[handle.TabletId], handle)
	}
}

func (s *Scheduler) removeExecuting(handle *Handle) {
	s.compactionMtx.Lock()
	defer s.compactionMtx.Unlock()
	switch handle.Kind {
	case Base:
		delete(s.executingBase, handle.TabletId)
	case Full:
		delete(s.executingFull, handle.TabletId)
	default:
		list := s.executingCumu[handle.TabletId]
		for i, h := range list {
			if h == handle {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(s.executingCumu, handle.TabletId)
		} else {
			s.executingCumu[handle.TabletId] = list
		}
	}
}

// requestGlobalLock is §4.6's requestGlobalLock: an RPC serializing
// concurrent compactions on the same tablet across nodes.
func (s *Scheduler) requestGlobalLock(ctx context.Context, handle *Handle) (string, error) {
	kind := metaservice.KindCumulative
	switch handle.Kind {
	case Base:
		kind = metaservice.KindBase
	case Full:
		kind = metaservice.KindFull
	}
	return s.metaClient.RequestCompactionGlobalLock(ctx, handle.TabletId, kind)
}

// executeCompact is §4.6's executeCompact: run the configured Compactor,
// then atomically replace the input rowsets with the merged output and
// fold the delete bitmap onto the new rowset via ModifyRowsets+
// ReviseDeleteBitmap, both performed under the tablet lock (§5).
func (s *Scheduler) executeCompact(ctx context.Context, handle *Handle) error {
	if s.compactor == nil {
		return cerrors.New("no compactor configured")
	}
	output, err := s.compactor.Compact(ctx, handle.TabletId, handle.Input, handle.OutputVer)
	if err != nil {
		return errs.Wrapf(err, "compact tablet %d", handle.TabletId)
	}

	return s.tabletMgr.WithTabletLock(handle.TabletId, func(meta *tabletmeta.TabletMeta) error {
		meta.ModifyRowsets([]types.RowsetMeta{output}, handle.Input, false)
		meta.ReviseDeleteBitmap(meta.DeleteBitmap)
		return nil
	})
}
