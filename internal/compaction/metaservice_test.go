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

	"github.com/cloudtablet/tabletd/internal/metaservice"
	"github.com/cloudtablet/tabletd/internal/types"
	"github.com/cloudtablet/tabletd/internal/vault"
)

func testContext() context.Context { return context.Background() }

// noopMetaClient is a metaservice.Client test double that succeeds
// trivially, used where the scheduler needs a non-nil client but the
// test isn't exercising RPC behavior.
type noopMetaClient struct{}

func (noopMetaClient) GetStorageVaultInfo(ctx context.Context) ([]vault.Descriptor, bool, error) {
	return nil, true, nil
}

func (noopMetaClient) PublishTxn(ctx context.Context, partitionId, tabletId, txnId int64, version types.Version, stats metaservice.PublishStats) (metaservice.Guard, error) {
	return metaservice.Guard{TxnId: txnId}, nil
}

func (noopMetaClient) RequestCompactionGlobalLock(ctx context.Context, tabletId int64, kind metaservice.CompactionKind) (string, error) {
	return "lease-1", nil
}

func (noopMetaClient) LeaseCompaction(ctx context.Context, leaseId string) error { return nil }

func (noopMetaClient) RegisterCompactionStopToken(ctx context.Context, tabletId int64, initiator string) error {
	return nil
}

func (noopMetaClient) UnregisterCompactionStopToken(ctx context.Context, tabletId int64, initiator string) error {
	return nil
}
