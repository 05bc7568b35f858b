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
	"sync"
	"time"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"go.uber.org/zap"
)

// Descriptor is the metadata-service's wire shape for one storage vault
// (§4.3); Registry turns a set of these into live Filesystem handles.
type Descriptor struct {
	Id         string
	Provider   ObjectProvider
	Kind       VaultKind
	PathFormat string
	ObjectCfg  ObjectStoreVaultConfig
}

// Source abstracts the metadata-service RPC the registry polls for the
// current vault set — a named interface per §1's treatment of the
// metadata-service as an external collaborator. The bool result is the
// enableStorageVault flag (§4.3).
type Source interface {
	GetStorageVaultInfo(ctx context.Context) (descs []Descriptor, enableStorageVault bool, err error)
}

// Registry holds the live set of storage vaults, keyed by vault id, and
// refreshes them from Source on a fixed interval (§4.3).
type Registry struct {
	source       Source
	hdfsBuilders map[string]func(Descriptor) (Filesystem, error)

	mu       sync.RWMutex
	vaults   map[string]Filesystem
	pathFmts map[string]string
	latest   string

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRegistry constructs an empty registry. RegisterHdfsBuilder lets callers
// supply how to dial an HdfsClient for a given descriptor id since Registry
// has no opinion on HDFS RPC transport (§1 non-goal).
func NewRegistry(source Source) *Registry {
	return &Registry{
		source:       source,
		hdfsBuilders: make(map[string]func(Descriptor) (Filesystem, error)),
		vaults:       make(map[string]Filesystem),
		pathFmts:     make(map[string]string),
		stop:         make(chan struct{}),
	}
}

// Latest returns the vault id the registry currently treats as default
// when storage-vault routing is disabled cluster-wide (§4.3).
func (r *Registry) Latest() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// PathFormat returns the path-format string registered for vaultId.
func (r *Registry) PathFormat(vaultId string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pathFmts[vaultId]
}

// RegisterHdfsBuilder installs how to construct the Filesystem for a
// specific HDFS vault id; call before Start.
func (r *Registry) RegisterHdfsBuilder(id string, build func(Descriptor) (Filesystem, error)) {
	r.hdfsBuilders[id] = build
}

// Get returns the live Filesystem for vaultId, or ErrNotFound if the
// registry has never synced it.
func (r *Registry) Get(vaultId string) (Filesystem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fs, ok := r.vaults[vaultId]
	if !ok {
		return nil, errs.Wrapf(errs.ErrNotFound, "storage vault %s", vaultId)
	}
	return fs, nil
}

// Ids returns the set of currently known vault ids.
func (r *Registry) Ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.vaults))
	for id := range r.vaults {
		ids = append(ids, id)
	}
	return ids
}

// SyncStorageVaults performs one fetch-and-reconcile pass: new descriptors
// get constructed (with health-check probe on first build, per
// NewObjectStoreVault), existing object-store vaults get their credentials
// reset in place, and vaults no longer returned by Source are dropped
// (§4.3).
func (r *Registry) SyncStorageVaults(ctx context.Context) error {
	descs, enabled, err := r.source.GetStorageVaultInfo(ctx)
	if err != nil {
		return errs.Wrap(err, "fetch storage vault info")
	}

	seen := make(map[string]struct{}, len(descs))
	var lastSeenId string
	for _, d := range descs {
		seen[d.Id] = struct{}{}
		lastSeenId = d.Id
		if err := r.reconcileOne(d); err != nil {
			log.Error("failed to reconcile storage vault", zap.String("vaultId", d.Id), zap.Error(err))
			continue
		}
		r.mu.Lock()
		r.pathFmts[d.Id] = d.PathFormat
		r.mu.Unlock()
	}

	r.mu.Lock()
	for id, fs := range r.vaults {
		if _, ok := seen[id]; !ok {
			fs.Close()
			delete(r.vaults, id)
			delete(r.pathFmts, id)
			log.Info("dropped storage vault no longer present", zap.String("vaultId", id))
		}
	}
	if !enabled && lastSeenId != "" && r.latest != lastSeenId {
		r.latest = lastSeenId
		log.Info("storage vault routing disabled, updated latest vault", zap.String("vaultId", lastSeenId))
	}
	r.mu.Unlock()
	return nil
}

func (r *Registry) reconcileOne(d Descriptor) error {
	r.mu.RLock()
	existing, ok := r.vaults[d.Id]
	r.mu.RUnlock()

	if ok && d.Kind == KindObjectStore {
		if holder, isHolder := existing.(CredentialHolder); isHolder {
			return holder.Reset(d.ObjectCfg.Cred)
		}
		return nil
	}

	// HdfsVault has no in-place credential refresh (principal/keytab are
	// fixed at construction), so an existing HDFS-kind vault is rebuilt
	// from scratch to pick up new parameters, same as a brand-new vault.
	if ok && d.Kind != KindHdfs {
		return nil
	}

	var fs Filesystem
	var err error
	switch d.Kind {
	case KindObjectStore:
		fs, err = NewObjectStoreVault(d.ObjectCfg)
	case KindHdfs:
		build, has := r.hdfsBuilders[d.Id]
		if !has {
			return errs.Wrapf(errs.ErrInitFailed, "no hdfs client builder registered for vault %s", d.Id)
		}
		fs, err = build(d)
	default:
		return errs.Wrapf(errs.ErrInitFailed, "unknown storage vault kind for %s", d.Id)
	}
	if err != nil {
		return err
	}

	if ok {
		existing.Close()
	}

	r.mu.Lock()
	r.vaults[d.Id] = fs
	r.mu.Unlock()
	log.Info("synced storage vault", zap.String("vaultId", d.Id), zap.Bool("rebuilt", ok))
	return nil
}

// Start launches the periodic refresh loop; callers must call Stop to
// release it.
func (r *Registry) Start(ctx context.Context, interval time.Duration) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.SyncStorageVaults(ctx); err != nil {
					log.Error("storage vault refresh failed", zap.Error(err))
				}
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *Registry) Stop() {
	close(r.stop)
	r.wg.Wait()
}
