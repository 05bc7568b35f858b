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

// Package metastore implements TabletMeta persistence (§4.2, §6): the
// length-prefixed, checksummed, signature-tagged envelope format, and the
// cloud-mode create-from-request hydration path.
package metastore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"github.com/cloudtablet/tabletd/internal/types"
	"go.uber.org/zap"
)

// envelopeMagic tags the file format so load() can reject foreign files
// before even attempting to decode a body.
const envelopeMagic uint32 = 0x54424d31 // "TBM1"

const envelopeVersion uint16 = 1

// maxUncompressedMetaBytes is the size threshold past which save() drops
// stale rowsets and retries once before giving up (§4.2, §7).
const maxUncompressedMetaBytes = 32 * 1024 * 1024

// header is the fixed-size prefix of the persisted envelope:
// [magic][version][bodyLen][bodyChecksum].
type header struct {
	Magic        uint32
	Version      uint16
	BodyLen      uint32
	BodyChecksum uint32
}

const headerSize = 4 + 2 + 4 + 4

// Descriptor is the identity+schema+binlog+compaction-parameter subset of
// a tablet that cloud mode persists locally. Live/stale RowsetMeta are
// deliberately absent: in cloud mode they live in the metadata service
// (§4.2 "In cloud mode...").
type Descriptor struct {
	TableId     int64
	PartitionId int64
	TabletId    int64
	ReplicaId   int64
	Shard       int32
	Uid         string

	State                int32
	CumulativeLayerPoint  int64
	MergeOnWrite          bool

	Schema types.Schema

	BinlogEnable        bool
	BinlogMaxBytes      int64
	BinlogMaxHistoryNum int32
	BinlogTTLSeconds    int64

	TSGoalSizeMbytes        int64
	TSFileCountThreshold    int32
	TSTimeThresholdSeconds  int64
	TSEmptyRowsetsThreshold int32
	TSLevelThreshold        int32

	// DeleteBitmapEntries holds the mow delete bitmap, excluding any entry
	// whose rowset id belongs to a stale rowset (§4.2 "skipped during
	// emit" — stale rowsets are never persisted for mow tablets).
	DeleteBitmapEntries []BitmapEntry
}

// BitmapEntry is one persisted (key, serialized-bitmap) pair.
type BitmapEntry struct {
	RowsetHi, RowsetMid, RowsetLo uint64
	RowsetTag                     uint32
	SegmentId                     uint32
	Version                       int64
	Bitmap                        []byte
}

// Encode serializes d into the envelope format. partitionId <= 0 is
// accepted (with a warning) rather than rejected, matching the original's
// "warns but still emits" behavior (§8).
func Encode(d *Descriptor) ([]byte, error) {
	if d.PartitionId <= 0 {
		log.Warn("serializing tablet meta with non-positive partition id",
			zap.Int64("tabletId", d.TabletId), zap.Int64("partitionId", d.PartitionId))
	}

	var body bytes.Buffer
	if err := gob.NewEncoder(&body).Encode(d); err != nil {
		return nil, errs.Wrap(err, "encode tablet meta body")
	}
	bodyBytes := body.Bytes()

	h := header{
		Magic:        envelopeMagic,
		Version:      envelopeVersion,
		BodyLen:      uint32(len(bodyBytes)),
		BodyChecksum: crc32.ChecksumIEEE(bodyBytes),
	}

	buf := make([]byte, 0, headerSize+len(bodyBytes))
	buf = appendHeader(buf, h)
	buf = append(buf, bodyBytes...)
	return buf, nil
}

func appendHeader(buf []byte, h header) []byte {
	var tmp [headerSize]byte
	binary.BigEndian.PutUint32(tmp[0:4], h.Magic)
	binary.BigEndian.PutUint16(tmp[4:6], h.Version)
	binary.BigEndian.PutUint32(tmp[6:10], h.BodyLen)
	binary.BigEndian.PutUint32(tmp[10:14], h.BodyChecksum)
	return append(buf, tmp[:]...)
}

// Decode validates magic, then length, then checksum (in that order) and
// returns the first mismatch as errs.ErrCorruption, per §6/SPEC_FULL.
func Decode(buf []byte) (*Descriptor, error) {
	if len(buf) < headerSize {
		return nil, errs.Wrapf(errs.ErrCorruption, "envelope too short: %d bytes", len(buf))
	}
	magic := binary.BigEndian.Uint32(buf[0:4])
	if magic != envelopeMagic {
		return nil, errs.Wrapf(errs.ErrCorruption, "bad magic: %x", magic)
	}
	version := binary.BigEndian.Uint16(buf[4:6])
	if version != envelopeVersion {
		return nil, errs.Wrapf(errs.ErrCorruption, "unsupported envelope version: %d", version)
	}
	bodyLen := binary.BigEndian.Uint32(buf[6:10])
	checksum := binary.BigEndian.Uint32(buf[10:14])

	body := buf[headerSize:]
	if uint32(len(body)) != bodyLen {
		return nil, errs.Wrapf(errs.ErrCorruption, "body length mismatch: want %d got %d", bodyLen, len(body))
	}
	if crc32.ChecksumIEEE(body) != checksum {
		return nil, errs.Wrap(errs.ErrCorruption, "body checksum mismatch")
	}

	var d Descriptor
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&d); err != nil {
		return nil, errs.Wrap(errs.ErrParseProtobuf, err.Error())
	}
	return &d, nil
}

// EncodeWithRetry implements the §4.2/§7 save() contract: if the initial
// encoding exceeds maxUncompressedMetaBytes, or fails outright, dropStale
// is invoked to shed stale rowsets and a single retry is attempted. A
// still-failing retry is fatal (the caller is expected to panic/abort the
// store path per §7).
func EncodeWithRetry(d *Descriptor, dropStale func(*Descriptor)) ([]byte, error) {
	buf, err := Encode(d)
	if err == nil && len(buf) <= maxUncompressedMetaBytes {
		return buf, nil
	}

	if err != nil {
		log.Warn("tablet meta encode failed, retrying without stale rowsets",
			zap.Int64("tabletId", d.TabletId), zap.Error(err))
	} else {
		log.Warn("tablet meta exceeds size threshold, retrying without stale rowsets",
			zap.Int64("tabletId", d.TabletId), zap.Int("size", len(buf)))
	}

	dropStale(d)
	buf, err = Encode(d)
	if err != nil {
		return nil, errs.Wrapf(err, "tablet %d: meta still too large/unencodable after dropping stale rowsets", d.TabletId)
	}
	return buf, nil
}
