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

	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
)

// runLeaseLoop renews the lease of every executing compaction handle
// every leaseInterval seconds (§4.5 "Lease loop"). Stop tokens carry no
// lease id and are not renewed by this loop.
func (s *Scheduler) runLeaseLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := time.Duration(s.cfg.LeaseIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.doLeaseRound(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) doLeaseRound(ctx context.Context) {
	leaseIds := s.snapshotExecutingLeaseIds()
	for _, leaseId := range leaseIds {
		if err := s.metaClient.LeaseCompaction(ctx, leaseId); err != nil {
			log.Warn("failed to renew compaction lease", zap.String("leaseId", leaseId), zap.Error(err))
		}
	}
}

func (s *Scheduler) snapshotExecutingLeaseIds() []string {
	s.compactionMtx.Lock()
	defer s.compactionMtx.Unlock()
	var ids []string
	if h := s.executingBase; h != nil {
		for _, handle := range h {
			if handle != nil && handle.LeaseId != "" {
				ids = append(ids, handle.LeaseId)
			}
		}
	}
	for _, handle := range s.executingFull {
		if handle != nil && handle.LeaseId != "" {
			ids = append(ids, handle.LeaseId)
		}
	}
	for _, list := range s.executingCumu {
		for _, handle := range list {
			if handle != nil && handle.LeaseId != "" {
				ids = append(ids, handle.LeaseId)
			}
		}
	}
	return ids
}

// RegisterCompactionStopToken reserves a tablet slot and records a stop
// token that halts background compaction on it until revoked (§4.5).
func (s *Scheduler) RegisterCompactionStopToken(ctx context.Context, tabletId int64, initiator string) error {
	s.compactionMtx.Lock()
	if _, exists := s.activeStopTokens[tabletId]; exists {
		s.compactionMtx.Unlock()
		return errs.Wrapf(errs.ErrAlreadyExists, "stop token already active for tablet %d", tabletId)
	}
	s.compactionMtx.Unlock()

	if err := s.metaClient.RegisterCompactionStopToken(ctx, tabletId, initiator); err != nil {
		return errs.Wrapf(err, "register stop token for tablet %d", tabletId)
	}

	s.compactionMtx.Lock()
	s.activeStopTokens[tabletId] = initiator
	s.compactionMtx.Unlock()
	return nil
}

// UnregisterCompactionStopToken removes the local entry and, if
// clearMetaService, also revokes it remotely (§4.5).
func (s *Scheduler) UnregisterCompactionStopToken(ctx context.Context, tabletId int64, clearMetaService bool) error {
	s.compactionMtx.Lock()
	initiator := s.activeStopTokens[tabletId]
	delete(s.activeStopTokens, tabletId)
	s.compactionMtx.Unlock()

	if !clearMetaService {
		return nil
	}
	if err := s.metaClient.UnregisterCompactionStopToken(ctx, tabletId, initiator); err != nil {
		return errs.Wrapf(err, "unregister stop token for tablet %d", tabletId)
	}
	return nil
}

// HasStopToken reports whether tabletId currently has an active stop
// token, used by the filterOut predicates to exclude stopped tablets.
func (s *Scheduler) HasStopToken(tabletId int64) bool {
	s.compactionMtx.Lock()
	defer s.compactionMtx.Unlock()
	_, ok := s.activeStopTokens[tabletId]
	return ok
}
