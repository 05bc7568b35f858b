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

package publish

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/metaservice"
	"github.com/cloudtablet/tabletd/internal/metrics"
	"github.com/cloudtablet/tabletd/internal/tabletmeta"
	"github.com/cloudtablet/tabletd/internal/tabletmgr"
	"github.com/cloudtablet/tabletd/internal/types"
)

// migrationLockTimeout is the 5s timeout §5 "Cancellation and timeouts"
// names for migration-lock acquisition during a publish task.
const migrationLockTimeout = 5 * time.Second

// TabletPublishTxnTask is the per-tablet publish step (§4.7
// "tabletPublishTxnTask"): calls publishTxn against the metadata service
// then appends the rowset to the tablet's live set.
type TabletPublishTxnTask struct {
	PartitionId int64
	TabletId    int64
	TxnId       int64
	Version     types.Version
	Rowset      types.RowsetMeta

	MetaClient metaservice.Client
	TabletMgr  *tabletmgr.Manager
}

// Run executes the task under the tablet's migration read-lock with a 5s
// timeout, extended by the rowset-update exclusive lock for mow tablets
// (§4.7). The tabletmgr per-tablet lock stands in for both since this
// core has no separate migration-lock concept.
func (t *TabletPublishTxnTask) Run(ctx context.Context) error {
	scheduleStart := time.Now()
	ctx, cancel := context.WithTimeout(ctx, migrationLockTimeout)
	defer cancel()

	metrics.PublishLatencySeconds.WithLabelValues("schedule").Observe(time.Since(scheduleStart).Seconds())

	err := t.TabletMgr.WithTabletLock(t.TabletId, func(meta *tabletmeta.TabletMeta) error {
		saveMetaStart := time.Now()
		_, err := t.MetaClient.PublishTxn(ctx, t.PartitionId, t.TabletId, t.TxnId, t.Version, metaservice.PublishStats{
			ScheduleMs: saveMetaStart.Sub(scheduleStart).Milliseconds(),
		})
		metrics.PublishLatencySeconds.WithLabelValues("save_meta").Observe(time.Since(saveMetaStart).Seconds())
		if err != nil {
			return errs.Wrap(err, "publish txn")
		}

		addIncStart := time.Now()
		if err := meta.AddRowset(t.Rowset); err != nil && err != errs.ErrVersionAlreadyExists {
			return errs.Wrap(err, "add inc rowset")
		}
		metrics.PublishLatencySeconds.WithLabelValues("add_inc_rowset").Observe(time.Since(addIncStart).Seconds())
		log.Debug("published tablet rowset",
			zap.Int64("tabletId", t.TabletId), zap.Int64("txnId", t.TxnId),
			zap.Duration("addIncMs", time.Since(addIncStart)))
		return nil
	})
	if ctx.Err() == context.DeadlineExceeded {
		return errs.ErrTryLockFailed
	}
	return err
}

// AsyncPublishTask is the deferred-publish path used when a version
// arrives too far ahead of the tablet's current max version to treat as
// a simple retry candidate (§4.7 "Async publish"). It re-reads the
// tablet→rowset binding and aborts silently if the binding disappeared
// by the time it runs.
type AsyncPublishTask struct {
	PartitionId int64
	TabletId    int64
	TxnId       int64
	Version     types.Version

	TxnMgr     TxnManager
	MetaClient metaservice.Client
	TabletMgr  *tabletmgr.Manager
}

func (t *AsyncPublishTask) Run(ctx context.Context) error {
	rowset, ok, err := t.TxnMgr.RowsetFor(t.PartitionId, t.TabletId)
	if err != nil {
		return errs.Wrap(err, "re-read rowset binding for async publish")
	}
	if !ok {
		log.Debug("async publish binding gone, aborting", zap.Int64("tabletId", t.TabletId))
		return nil
	}

	task := &TabletPublishTxnTask{
		PartitionId: t.PartitionId,
		TabletId:    t.TabletId,
		TxnId:       t.TxnId,
		Version:     t.Version,
		Rowset:      rowset,
		MetaClient:  t.MetaClient,
		TabletMgr:   t.TabletMgr,
	}
	return task.Run(ctx)
}
