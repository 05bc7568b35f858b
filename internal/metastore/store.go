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

package metastore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/cloudtablet/tabletd/internal/errs"
)

const metaDirName = "meta"
const metaFileSuffix = ".meta"

// Store persists tablet meta envelopes under a single configured store
// path's "meta" subdirectory, one file per tablet id, matching the
// cluster-id file's "one entry per store path" convention (§6).
type Store struct {
	dir string
}

// NewStore builds a Store rooted at storePath's meta subdirectory.
func NewStore(storePath string) *Store {
	return &Store{dir: filepath.Join(storePath, metaDirName)}
}

func (s *Store) path(tabletId int64) string {
	return filepath.Join(s.dir, strconv.FormatInt(tabletId, 10)+metaFileSuffix)
}

// Save implements the §4.2 save(path) contract: encode with the
// drop-stale-and-retry fallback, then write atomically via a temp-file
// rename so a crash mid-write never leaves a corrupt envelope on disk.
func (s *Store) Save(d *Descriptor) error {
	buf, err := EncodeWithRetry(d, func(dd *Descriptor) {
		dd.DeleteBitmapEntries = nil
	})
	if err != nil {
		return errs.Wrapf(err, "encode tablet %d meta", d.TabletId)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return errs.Wrapf(err, "create meta dir for tablet %d", d.TabletId)
	}

	final := s.path(d.TabletId)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o644); err != nil {
		return errs.Wrapf(err, "write tablet %d meta", d.TabletId)
	}
	if err := os.Rename(tmp, final); err != nil {
		return errs.Wrapf(err, "install tablet %d meta", d.TabletId)
	}
	return nil
}

// Load reads and decodes the persisted Descriptor for tabletId, or
// ErrNotFound if nothing has ever been saved for it.
func (s *Store) Load(tabletId int64) (*Descriptor, error) {
	data, err := os.ReadFile(s.path(tabletId))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.Wrapf(errs.ErrNotFound, "tablet %d meta", tabletId)
		}
		return nil, errs.Wrapf(err, "read tablet %d meta", tabletId)
	}
	return Decode(data)
}

// ListTabletIds enumerates every tablet id with a persisted envelope, used
// at startup to hydrate the tablet manager (§4.2 "hydrated from
// persistence"). An absent meta directory (fresh node) yields an empty
// list rather than an error.
func (s *Store) ListTabletIds() ([]int64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(err, "list meta dir")
	}

	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, metaFileSuffix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimSuffix(name, metaFileSuffix), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// String satisfies fmt.Stringer for log fields.
func (s *Store) String() string {
	return fmt.Sprintf("metastore.Store(%s)", s.dir)
}
