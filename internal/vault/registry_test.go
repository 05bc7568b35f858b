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

package vault

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	descs []Descriptor
}

func (f *fakeSource) GetStorageVaultInfo(ctx context.Context) ([]Descriptor, bool, error) {
	return f.descs, true, nil
}

type fakeHdfsClient struct{}

func (fakeHdfsClient) Stat(ctx context.Context, path string) (int64, bool, error) {
	return 0, false, nil
}
func (fakeHdfsClient) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	return nil, nil
}
func (fakeHdfsClient) Create(ctx context.Context, path string) (io.WriteCloser, error) {
	return nil, nil
}
func (fakeHdfsClient) Append(ctx context.Context, path string, data []byte) error { return nil }
func (fakeHdfsClient) Close() error                                              { return nil }

func TestRegistryDropsVaultsNoLongerReturned(t *testing.T) {
	r := NewRegistry(&fakeSource{})
	r.mu.Lock()
	r.vaults["stale"] = &HdfsVault{id: "stale", client: fakeHdfsClient{}}
	r.mu.Unlock()

	r.source = &fakeSource{descs: nil}
	require.NoError(t, r.SyncStorageVaults(context.Background()))

	_, err := r.Get("stale")
	assert.Error(t, err)
	assert.Empty(t, r.Ids())
}

func TestRegistryUnknownVaultNotFound(t *testing.T) {
	r := NewRegistry(&fakeSource{})
	_, err := r.Get("missing")
	assert.Error(t, err)
}

func TestRegistryRebuildsHdfsVaultOnRefresh(t *testing.T) {
	r := NewRegistry(&fakeSource{descs: []Descriptor{{Id: "hdfs1", Kind: KindHdfs}}})

	builds := 0
	r.RegisterHdfsBuilder("hdfs1", func(d Descriptor) (Filesystem, error) {
		builds++
		return NewHdfsVault(d.Id, fakeHdfsClient{}), nil
	})

	require.NoError(t, r.SyncStorageVaults(context.Background()))
	first, err := r.Get("hdfs1")
	require.NoError(t, err)
	assert.Equal(t, 1, builds)

	require.NoError(t, r.SyncStorageVaults(context.Background()))
	second, err := r.Get("hdfs1")
	require.NoError(t, err)

	assert.Equal(t, 2, builds, "an existing HDFS vault must be rebuilt on refresh, not left as a no-op")
	assert.NotSame(t, first, second)
}
