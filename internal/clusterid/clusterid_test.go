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

package clusterid

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/errs"
)

func TestCheckWritesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Check([]string{dir}, 7))

	data, err := os.ReadFile(filepath.Join(dir, fileName))
	require.NoError(t, err)
	require.Equal(t, "7", string(data))
}

func TestCheckNoopWhenNothingConfiguredOrOnDisk(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Check([]string{dir}, -1))

	_, err := os.Stat(filepath.Join(dir, fileName))
	require.True(t, os.IsNotExist(err))
}

func TestCheckRejectsMismatchWithConfiguredId(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("5"), 0o644))

	err := Check([]string{dir}, 9)
	require.ErrorIs(t, err, errs.ErrCorruption)
}

func TestCheckRejectsDisagreementAcrossPaths(t *testing.T) {
	d1, d2 := t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(d1, fileName), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(d2, fileName), []byte("2"), 0o644))

	err := Check([]string{d1, d2}, -1)
	require.ErrorIs(t, err, errs.ErrInternal)
}

func TestCheckAcceptsMatchingConfiguredId(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte("3"), 0o644))
	require.NoError(t, Check([]string{dir}, 3))
}
