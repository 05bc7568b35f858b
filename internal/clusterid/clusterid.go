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

// Package clusterid implements the startup cluster-id file check (§6): at
// each configured store path, ./cluster_id holds the cluster id as decimal
// text; all configured paths must agree with each other and with the
// statically configured id.
package clusterid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"go.uber.org/zap"
)

const fileName = "cluster_id"

// Check implements §6's startup sequence: read every store path's
// cluster_id file; fail ErrInternal if more than one distinct id is found;
// no-op if none exist and configuredId == -1; otherwise write configuredId
// to any path missing the file, and fail ErrCorruption if a present file
// disagrees with configuredId.
func Check(storePaths []string, configuredId int64) error {
	seen := make(map[int64][]string)
	missing := make([]string, 0, len(storePaths))

	for _, dir := range storePaths {
		id, ok, err := read(dir)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, dir)
			continue
		}
		seen[id] = append(seen[id], dir)
	}

	if len(seen) > 1 {
		log.Error("store paths disagree on cluster id", zap.Any("idToPaths", seen))
		return errs.Wrap(errs.ErrInternal, "cluster id mismatch across store paths")
	}

	if len(seen) == 0 {
		if configuredId == -1 {
			return nil
		}
		return writeAll(missing, configuredId)
	}

	var fileId int64
	for id := range seen {
		fileId = id
	}
	if configuredId != -1 && configuredId != fileId {
		return errs.Wrapf(errs.ErrCorruption, "configured cluster id %d does not match on-disk id %d", configuredId, fileId)
	}
	return writeAll(missing, fileId)
}

func read(dir string) (int64, bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errs.Wrapf(err, "read cluster id file under %s", dir)
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, false, errs.Wrapf(errs.ErrCorruption, "malformed cluster id file under %s: %v", dir, err)
	}
	return id, true, nil
}

func writeAll(dirs []string, id int64) error {
	for _, dir := range dirs {
		path := filepath.Join(dir, fileName)
		if err := os.WriteFile(path, []byte(strconv.FormatInt(id, 10)), 0o644); err != nil {
			return errs.Wrapf(err, "write cluster id file under %s", dir)
		}
		log.Info("wrote cluster id file", zap.String("path", path), zap.Int64("clusterId", id))
	}
	return nil
}
