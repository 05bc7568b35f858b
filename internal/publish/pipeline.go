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

// Package publish implements the publish-version pipeline (C7, §4.7):
// given a transactional version spanning one or more partitions, makes
// each partition's tablets observe it atomically, enforcing merge-on-write
// continuity and handling discontinuous versions.
package publish

import (
	"context"
	"sync"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/metaservice"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/tabletmgr"
	"github.com/cloudtablet/tabletd/internal/types"
)

// Request is one publish-version call (§4.7): a transaction touching one
// or more partitions, each binding a set of tablets to the rowset(s) that
// transaction produced.
type Request struct {
	TxnId      int64
	Partitions []PartitionPublish
	StrictMode bool
}

// PartitionPublish is one partition's slice of a publish request.
type PartitionPublish struct {
	PartitionId   int64
	Version       types.Version
	BaseTabletIds map[int64]struct{}
}

// TxnManager abstracts the transaction manager's tablet→rowset bindings
// (§4.7), treated as an external collaborator per §1.
type TxnManager interface {
	RelatedTabletIds(partitionId int64) []int64
	RowsetFor(partitionId, tabletId int64) (types.RowsetMeta, bool, error)
	BindVersion(tabletId int64, version types.Version, txnId int64) (alreadyBound bool)
	UnbindVersion(tabletId int64, version types.Version)
}

// CloneSubmitter asynchronously submits a clone task for a missing
// version, used when a gap is detected and cloning-on-missing-version is
// enabled (§4.7).
type CloneSubmitter interface {
	SubmitClone(tabletId int64, version int64)
}

// Result is the per-tablet outcome of one publish request.
type Result struct {
	TabletId    int64
	Succeeded   bool
	Errored     bool
	ErrorReason error
}

// Pipeline runs publish-version requests against a tablet manager and
// metadata-service client (§4.7).
type Pipeline struct {
	tabletMgr  *tabletmgr.Manager
	txnMgr     TxnManager
	metaClient metaservice.Client
	cloner     CloneSubmitter
	pool       *ants.Pool

	MaxDiscontinuousVersionNum int64
	GapLoggingThreshold        int64
	CloneOnMissingVersion      bool

	mu                       sync.Mutex
	discontinuousVersionTablets map[int64]int64
}

func NewPipeline(tabletMgr *tabletmgr.Manager, txnMgr TxnManager, metaClient metaservice.Client, cloner CloneSubmitter) (*Pipeline, error) {
	pool, err := ants.NewPool(-1, ants.WithNonblocking(false))
	if err != nil {
		return nil, errs.Wrap(err, "create publish task pool")
	}
	return &Pipeline{
		tabletMgr:                   tabletMgr,
		txnMgr:                      txnMgr,
		metaClient:                  metaClient,
		cloner:                      cloner,
		pool:                        pool,
		MaxDiscontinuousVersionNum:  20,
		GapLoggingThreshold:         1000,
		discontinuousVersionTablets: make(map[int64]int64),
	}, nil
}

func (p *Pipeline) Close() { p.pool.Release() }

// Run implements §4.7's per-request algorithm.
func (p *Pipeline) Run(ctx context.Context, req Request) map[int64]Result {
	results := make(map[int64]Result)
	errorTablets := make(map[int64]error)
	var resultsMu sync.Mutex
	var wg sync.WaitGroup

	for _, part := range req.Partitions {
		relatedIds := p.txnMgr.RelatedTabletIds(part.PartitionId)
		if req.StrictMode && len(relatedIds) == 0 {
			continue
		}

		for _, tabletId := range relatedIds {
			rowset, ok, err := p.txnMgr.RowsetFor(part.PartitionId, tabletId)
			if err != nil {
				resultsMu.Lock()
				errorTablets[tabletId] = errs.Wrap(err, "lookup rowset binding")
				resultsMu.Unlock()
				continue
			}
			if !ok {
				resultsMu.Lock()
				errorTablets[tabletId] = errs.ErrPushRowsetNotFound
				resultsMu.Unlock()
				continue
			}

			meta, err := p.tabletMgr.GetTablet(tabletId)
			if err != nil {
				resultsMu.Lock()
				errorTablets[tabletId] = errs.ErrPushTableNotExist
				resultsMu.Unlock()
				continue
			}

			if err := p.checkContinuity(meta, part, rowset, req.TxnId); err != nil {
				resultsMu.Lock()
				errorTablets[tabletId] = err
				resultsMu.Unlock()
				continue
			}

			tabletId, partitionId, txnId, version := tabletId, part.PartitionId, req.TxnId, part.Version
			wg.Add(1)
			_ = p.pool.Submit(func() {
				defer wg.Done()
				task := &TabletPublishTxnTask{
					PartitionId: partitionId,
					TabletId:    tabletId,
					TxnId:       txnId,
					Version:     version,
					Rowset:      rowset,
					MetaClient:  p.metaClient,
					TabletMgr:   p.tabletMgr,
				}
				if err := task.Run(ctx); err != nil {
					resultsMu.Lock()
					errorTablets[tabletId] = err
					resultsMu.Unlock()
				}
			})
		}
	}

	wg.Wait()

	for _, part := range req.Partitions {
		for _, tabletId := range p.txnMgr.RelatedTabletIds(part.PartitionId) {
			if reason, failed := errorTablets[tabletId]; failed {
				results[tabletId] = Result{TabletId: tabletId, Errored: true, ErrorReason: reason}
				continue
			}
			exists, err := p.checkVersionExists(tabletId, part.Version)
			if err != nil || !exists {
				log.Warn("publish result check failed", zap.Int64("tabletId", tabletId), zap.Error(err))
				results[tabletId] = Result{TabletId: tabletId, Errored: true, ErrorReason: err}
				continue
			}
			results[tabletId] = Result{TabletId: tabletId, Succeeded: true}
		}
	}
	return results
}

// checkContinuity implements the merge-on-write continuity check
// (§4.7 step 2).
func (p *Pipeline) checkContinuity(meta *tabletmeta.TabletMeta, part PartitionPublish, rowset types.RowsetMeta, txnId int64) error {
	maxVersion := meta.MaxVersion()
	state := meta.State

	alreadyBound := p.txnMgr.BindVersion(meta.TabletId, part.Version, txnId)

	if part.Version.Start == maxVersion+1 {
		return nil
	}

	if _, exists := meta.AcquireRowsetByVersion(part.Version); exists {
		if !alreadyBound {
			p.txnMgr.UnbindVersion(meta.TabletId, part.Version)
		}
		return nil
	}

	if state == tabletmeta.TabletNotReady {
		if meta.VersionCountCrossWith(types.Version{Start: 0, End: maxVersion}) < int(maxVersion) {
			return p.handleDiscontinuous(meta, part, txnId)
		}
		return nil
	}

	return p.handleDiscontinuous(meta, part, txnId)
}

func (p *Pipeline) handleDiscontinuous(meta *tabletmeta.TabletMeta, part PartitionPublish, txnId int64) error {
	maxVersion := meta.MaxVersion()
	gap := part.Version.Start - maxVersion - 1

	if p.CloneOnMissingVersion && p.cloner != nil {
		p.cloner.SubmitClone(meta.TabletId, part.Version.Start-1)
	}

	if gap <= p.GapLoggingThreshold {
		log.Info("publish version gap detected",
			zap.Int64("tabletId", meta.TabletId), zap.Int64("maxVersion", maxVersion),
			zap.Int64("requestedStart", part.Version.Start))
	}

	if part.Version.Start > maxVersion+p.MaxDiscontinuousVersionNum {
		p.enqueueAsyncPublish(meta.TabletId, part, txnId)
		return errs.ErrPublishVersionNotContinuous
	}

	p.mu.Lock()
	p.discontinuousVersionTablets[meta.TabletId] = part.Version.Start
	p.mu.Unlock()
	return errs.ErrPublishVersionNotContinuous
}

// DiscontinuousTablets returns the set of tablets the frontend should
// retry publishing for, keyed by the version they're waiting on.
func (p *Pipeline) DiscontinuousTablets() map[int64]int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[int64]int64, len(p.discontinuousVersionTablets))
	for k, v := range p.discontinuousVersionTablets {
		out[k] = v
	}
	return out
}

func (p *Pipeline) enqueueAsyncPublish(tabletId int64, part PartitionPublish, txnId int64) {
	log.Info("deferring publish as async-publish task", zap.Int64("tabletId", tabletId), zap.Int64("version", part.Version.Start))
	task := &AsyncPublishTask{
		PartitionId: part.PartitionId,
		TabletId:    tabletId,
		TxnId:       txnId,
		Version:     part.Version,
		TxnMgr:      p.txnMgr,
		MetaClient:  p.metaClient,
		TabletMgr:   p.tabletMgr,
	}
	_ = p.pool.Submit(func() {
		if err := task.Run(context.Background()); err != nil {
			log.Warn("async publish task failed", zap.Int64("tabletId", tabletId), zap.Error(err))
		}
	})
}

func (p *Pipeline) checkVersionExists(tabletId int64, version types.Version) (bool, error) {
	meta, err := p.tabletMgr.GetTablet(tabletId)
	if err != nil {
		return false, err
	}
	_, exists := meta.AcquireRowsetByVersion(version)
	return exists, nil
}
