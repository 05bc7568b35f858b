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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/types"
)

func testDescriptor() *Descriptor {
	return &Descriptor{
		TableId:     1,
		PartitionId: 2,
		TabletId:    3,
		ReplicaId:   4,
		Shard:       0,
		Uid:         "uid-1",
		State:       1,
		Schema:      types.Schema{Hash: 1},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	d := testDescriptor()
	buf, err := Encode(d)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, d.TableId, got.TableId)
	require.Equal(t, d.TabletId, got.TabletId)
	require.Equal(t, d.Uid, got.Uid)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	d := testDescriptor()
	buf, err := Encode(d)
	require.NoError(t, err)
	buf[0] ^= 0xFF

	_, err = Decode(buf)
	require.ErrorIs(t, err, errs.ErrCorruption)
}

func TestDecodeRejectsTruncatedBody(t *testing.T) {
	d := testDescriptor()
	buf, err := Encode(d)
	require.NoError(t, err)

	_, err = Decode(buf[:len(buf)-1])
	require.ErrorIs(t, err, errs.ErrCorruption)
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	d := testDescriptor()
	buf, err := Encode(d)
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF

	_, err = Decode(buf)
	require.ErrorIs(t, err, errs.ErrCorruption)
}

func TestEncodeWithRetryKeepsStaleForSmallBody(t *testing.T) {
	d := testDescriptor()
	for i := 0; i < 10; i++ {
		d.DeleteBitmapEntries = append(d.DeleteBitmapEntries, BitmapEntry{Bitmap: make([]byte, 16)})
	}

	dropped := false
	buf, err := EncodeWithRetry(d, func(dd *Descriptor) {
		dropped = true
		dd.DeleteBitmapEntries = nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, buf)
	require.False(t, dropped, "drop callback should not fire for a small body")
}

func TestEncodeWithRetryDropsStaleWhenOverThreshold(t *testing.T) {
	d := testDescriptor()
	d.DeleteBitmapEntries = append(d.DeleteBitmapEntries, BitmapEntry{Bitmap: make([]byte, maxUncompressedMetaBytes+1)})

	dropped := false
	buf, err := EncodeWithRetry(d, func(dd *Descriptor) {
		dropped = true
		dd.DeleteBitmapEntries = nil
	})
	require.NoError(t, err)
	require.True(t, dropped)
	require.Less(t, len(buf), maxUncompressedMetaBytes)
}
