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

// Package metaservice defines the abstract metadata-service RPC surface
// the core drives (§6) and a concrete etcd-backed client. The wire
// encoding of each RPC's request/response is an implementation detail of
// the metadata service itself and out of scope here (§1) — Client exposes
// only the operations the scheduler, publish pipeline, and vault registry
// call.
package metaservice

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/types"
	"github.com/cloudtablet/tabletd/internal/vault"
	"go.uber.org/zap"
)

// CompactionKind mirrors compaction.Kind without importing that package,
// keeping metaservice a leaf dependency.
type CompactionKind int32

const (
	KindBase CompactionKind = iota
	KindCumulative
	KindFull
)

// PublishStats carries the latency breakdown the publish pipeline reports
// alongside publishTxn (§4.7, §6 metrics).
type PublishStats struct {
	ScheduleMs     int64
	SaveMetaMs     int64
	DeleteBitmapMs int64
	PartialUpdateMs int64
	AddIncRowsetMs int64
}

// Guard extends the pending-rowset guard publishTxn installs so path GC
// cannot delete newly-referenced data files before the publish completes
// (§4.7).
type Guard struct {
	TxnId   int64
	Expires time.Time
}

// Client is the metadata-service surface named in §6.
type Client interface {
	GetStorageVaultInfo(ctx context.Context) (descs []vault.Descriptor, enableStorageVault bool, err error)
	PublishTxn(ctx context.Context, partitionId int64, tabletId int64, txnId int64, version types.Version, stats PublishStats) (Guard, error)
	RequestCompactionGlobalLock(ctx context.Context, tabletId int64, kind CompactionKind) (leaseId string, err error)
	LeaseCompaction(ctx context.Context, leaseId string) error
	RegisterCompactionStopToken(ctx context.Context, tabletId int64, initiator string) error
	UnregisterCompactionStopToken(ctx context.Context, tabletId int64, initiator string) error
}

// EtcdClient implements Client against etcd, the coordination store the
// teacher uses for its own metadata-service-adjacent state; RPC payloads
// are JSON-serialized values under a flat key namespace rather than a
// bespoke wire protocol, since the actual metadata-service protocol is
// out of scope (§1).
type EtcdClient struct {
	kv        clientv3.KV
	lease     clientv3.Lease
	keyPrefix string
	retry     backoff.BackOff
}

func NewEtcdClient(cli *clientv3.Client, keyPrefix string) *EtcdClient {
	return &EtcdClient{
		kv:        cli,
		lease:     cli,
		keyPrefix: keyPrefix,
		retry:     backoff.NewExponentialBackOff(),
	}
}

func (c *EtcdClient) withRetry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(c.retry, ctx)
	return backoff.Retry(op, b)
}

// GetStorageVaultInfo decodes each vault descriptor from JSON under the
// /vaults/ key prefix; the enable flag lives at a sibling key. The exact
// on-the-wire vault descriptor format is a metadata-service concern out
// of scope here (§1) — this client's encoding is internal to it.
func (c *EtcdClient) GetStorageVaultInfo(ctx context.Context) ([]vault.Descriptor, bool, error) {
	var resp *clientv3.GetResponse
	err := c.withRetry(ctx, func() error {
		var getErr error
		resp, getErr = c.kv.Get(ctx, c.keyPrefix+"/vaults/", clientv3.WithPrefix())
		return getErr
	})
	if err != nil {
		return nil, false, errs.Wrap(err, "get storage vault info")
	}
	descs := make([]vault.Descriptor, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var d vault.Descriptor
		if unmarshalErr := json.Unmarshal(kv.Value, &d); unmarshalErr != nil {
			log.Warn("skipping malformed storage vault descriptor", zap.ByteString("key", kv.Key), zap.Error(unmarshalErr))
			continue
		}
		descs = append(descs, d)
	}

	enabledResp, err := c.kv.Get(ctx, c.keyPrefix+"/vault-enabled")
	enabled := true
	if err == nil && len(enabledResp.Kvs) > 0 {
		enabled = string(enabledResp.Kvs[0].Value) != "false"
	}
	return descs, enabled, nil
}

func (c *EtcdClient) PublishTxn(ctx context.Context, partitionId, tabletId, txnId int64, version types.Version, stats PublishStats) (Guard, error) {
	key := c.txnKey(partitionId, tabletId, txnId)
	err := c.withRetry(ctx, func() error {
		_, putErr := c.kv.Put(ctx, key, version.String())
		return putErr
	})
	if err != nil {
		return Guard{}, errs.Wrapf(err, "publish txn %d for tablet %d", txnId, tabletId)
	}
	log.Debug("published txn", zap.Int64("txnId", txnId), zap.Int64("tabletId", tabletId), zap.Int64("partitionId", partitionId))
	return Guard{TxnId: txnId, Expires: time.Now().Add(5 * time.Minute)}, nil
}

func (c *EtcdClient) RequestCompactionGlobalLock(ctx context.Context, tabletId int64, kind CompactionKind) (string, error) {
	lease, err := c.lease.Grant(ctx, 30)
	if err != nil {
		return "", errs.Wrapf(err, "grant compaction lease for tablet %d", tabletId)
	}
	key := c.lockKey(tabletId, kind)
	resp, err := c.kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, "", clientv3.WithLease(lease.ID))).
		Commit()
	if err != nil {
		return "", errs.Wrapf(err, "acquire global compaction lock for tablet %d", tabletId)
	}
	if !resp.Succeeded {
		return "", errs.Wrapf(errs.ErrTryLockFailed, "tablet %d already locked for compaction", tabletId)
	}
	return leaseIdString(lease.ID), nil
}

func (c *EtcdClient) LeaseCompaction(ctx context.Context, leaseId string) error {
	id, err := parseLeaseId(leaseId)
	if err != nil {
		return err
	}
	_, err = c.lease.KeepAliveOnce(ctx, id)
	if err != nil {
		return errs.Wrapf(err, "renew compaction lease %s", leaseId)
	}
	return nil
}

func (c *EtcdClient) RegisterCompactionStopToken(ctx context.Context, tabletId int64, initiator string) error {
	key := c.stopTokenKey(tabletId)
	return c.withRetry(ctx, func() error {
		_, err := c.kv.Put(ctx, key, initiator)
		return err
	})
}

func (c *EtcdClient) UnregisterCompactionStopToken(ctx context.Context, tabletId int64, initiator string) error {
	key := c.stopTokenKey(tabletId)
	return c.withRetry(ctx, func() error {
		_, err := c.kv.Delete(ctx, key)
		return err
	})
}

func (c *EtcdClient) txnKey(partitionId, tabletId, txnId int64) string {
	return c.keyPrefix + "/txn/" + itoa(partitionId) + "/" + itoa(tabletId) + "/" + itoa(txnId)
}

func (c *EtcdClient) lockKey(tabletId int64, kind CompactionKind) string {
	return c.keyPrefix + "/compaction-lock/" + itoa(tabletId) + "/" + itoa(int64(kind))
}

func (c *EtcdClient) stopTokenKey(tabletId int64) string {
	return c.keyPrefix + "/stop-token/" + itoa(tabletId)
}
