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

// Package vault implements the storage-vault registry (C3, §4.3): the set
// of named remote filesystem handles the engine reads/writes rowset and
// delete-bitmap data through, refreshed periodically from the metadata
// service.
package vault

import (
	"context"
	"io"
)

// VaultKind distinguishes the filesystem capability variants named in §3
// and §9's "capability set" rearchitecture note.
type VaultKind int32

const (
	KindUnknown VaultKind = iota
	KindObjectStore
	KindHdfs
)

// FileInfo is the subset of stat metadata callers need from Exists.
type FileInfo struct {
	Exists bool
	Size   int64
}

// Filesystem is the capability object every storage vault exposes (§6):
// existence checks, open/create for read/write, append for log-structured
// writers, and close. Object-store vaults additionally implement
// CredentialHolder.
type Filesystem interface {
	Kind() VaultKind
	Exists(ctx context.Context, path string) (FileInfo, error)
	OpenFile(ctx context.Context, path string) (io.ReadCloser, error)
	CreateFile(ctx context.Context, path string) (io.WriteCloser, error)
	Append(ctx context.Context, path string, data []byte) error
	Close() error
}

// CredentialHolder lets an object-store vault atomically swap credentials
// (e.g. refreshed STS/IAM role tokens) without reconnecting consumers that
// already hold a Filesystem reference (§6).
type CredentialHolder interface {
	Reset(conf CredentialConfig) error
}

// CredentialConfig is the wire shape of one object-store credential: either
// a static access key pair or a role-based credential the health-check
// probe (§4.3) must exercise before first use.
type CredentialConfig struct {
	AccessKey   string
	SecretKey   string
	SessionToken string
	RoleBased   bool
}
