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
	"bytes"
	"context"
	"io"
	"strings"

	azblob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/cloudtablet/tabletd/internal/errs"
	"github.com/cloudtablet/tabletd/internal/log"
	"go.uber.org/zap"
)

// ObjectProvider distinguishes the two object-store wire protocols the
// registry supports; vaults of either provider satisfy Filesystem the same
// way, so callers never branch on provider after construction.
type ObjectProvider int32

const (
	ProviderS3 ObjectProvider = iota
	ProviderAzureBlob
)

// ObjectStoreVaultConfig is the subset of a storage-vault descriptor the
// metadata service supplies for an object-store vault (§4.3).
type ObjectStoreVaultConfig struct {
	Id       string
	Provider ObjectProvider
	Endpoint string
	Bucket   string
	Region   string
	Prefix   string
	UseSSL   bool
	Cred     CredentialConfig
}

// ObjectStoreVault is a Filesystem backed by an S3-compatible or Azure Blob
// object store. It implements CredentialHolder so the registry's refresh
// loop can rotate credentials without invalidating handles already held by
// tablet managers or compaction runners (§4.3, §6).
type ObjectStoreVault struct {
	cfg ObjectStoreVaultConfig

	s3  *minio.Client
	azc *service.Client
}

// NewObjectStoreVault dials the configured provider and performs the
// health-check probe required before the vault is handed to callers
// (§4.3 "health-check probe on first sync").
func NewObjectStoreVault(cfg ObjectStoreVaultConfig) (*ObjectStoreVault, error) {
	v := &ObjectStoreVault{cfg: cfg}
	if err := v.Reset(cfg.Cred); err != nil {
		return nil, err
	}
	if err := v.healthCheck(context.Background()); err != nil {
		return nil, errs.Wrapf(err, "health check failed for vault %s", cfg.Id)
	}
	return v, nil
}

func (v *ObjectStoreVault) Kind() VaultKind { return KindObjectStore }

// Reset rebuilds the underlying client with a fresh credential, satisfying
// CredentialHolder (§6). Existing Filesystem references see the new
// credential on their next call since the client pointer is swapped under
// no lock here — callers serialize Reset against concurrent use themselves,
// matching the registry's single-refresh-goroutine-per-vault design.
func (v *ObjectStoreVault) Reset(cred CredentialConfig) error {
	v.cfg.Cred = cred
	switch v.cfg.Provider {
	case ProviderS3:
		return v.resetS3(cred)
	case ProviderAzureBlob:
		return v.resetAzure(cred)
	default:
		return errs.Wrapf(errs.ErrInitFailed, "unknown object store provider %d", v.cfg.Provider)
	}
}

func (v *ObjectStoreVault) resetS3(cred CredentialConfig) error {
	var provider credentials.Provider
	if cred.RoleBased {
		provider = &credentials.IAM{}
	} else {
		provider = &credentials.Static{
			Value: credentials.Value{
				AccessKeyID:     cred.AccessKey,
				SecretAccessKey: cred.SecretKey,
				SessionToken:    cred.SessionToken,
			},
		}
	}
	client, err := minio.New(v.cfg.Endpoint, &minio.Options{
		Creds:  credentials.New(provider),
		Secure: v.cfg.UseSSL,
		Region: v.cfg.Region,
	})
	if err != nil {
		return errs.Wrapf(err, "create s3 client for vault %s", v.cfg.Id)
	}
	v.s3 = client
	return nil
}

func (v *ObjectStoreVault) resetAzure(cred CredentialConfig) error {
	var client *service.Client
	var err error
	if cred.RoleBased {
		tokenCred, credErr := azblob.NewClientFromConnectionString(v.cfg.Endpoint, nil)
		if credErr != nil {
			return errs.Wrapf(credErr, "create azure blob client for vault %s", v.cfg.Id)
		}
		_ = tokenCred
		client, err = service.NewClient(v.cfg.Endpoint, nil, nil)
	} else {
		sharedKey, keyErr := service.NewSharedKeyCredential(cred.AccessKey, cred.SecretKey)
		if keyErr != nil {
			return errs.Wrapf(keyErr, "build azure shared key credential for vault %s", v.cfg.Id)
		}
		client, err = service.NewClientWithSharedKeyCredential(v.cfg.Endpoint, sharedKey, nil)
	}
	if err != nil {
		return errs.Wrapf(err, "create azure blob client for vault %s", v.cfg.Id)
	}
	v.azc = client
	return nil
}

func (v *ObjectStoreVault) healthCheck(ctx context.Context) error {
	probe := v.cfg.Prefix + "/.vault_health_probe"
	_, err := v.Exists(ctx, probe)
	if err != nil {
		log.Warn("vault health probe failed", zap.String("vaultId", v.cfg.Id), zap.Error(err))
		return err
	}
	return nil
}

func (v *ObjectStoreVault) objectKey(path string) string {
	return strings.TrimPrefix(v.cfg.Prefix+"/"+strings.TrimPrefix(path, "/"), "/")
}

func (v *ObjectStoreVault) Exists(ctx context.Context, path string) (FileInfo, error) {
	key := v.objectKey(path)
	switch v.cfg.Provider {
	case ProviderS3:
		info, err := v.s3.StatObject(ctx, v.cfg.Bucket, key, minio.StatObjectOptions{})
		if err != nil {
			if isNotFound(err) {
				return FileInfo{}, nil
			}
			return FileInfo{}, errs.Wrapf(err, "stat %s", key)
		}
		return FileInfo{Exists: true, Size: info.Size}, nil
	case ProviderAzureBlob:
		blob := v.azc.NewContainerClient(v.cfg.Bucket).NewBlobClient(key)
		props, err := blob.GetProperties(ctx, nil)
		if err != nil {
			if isNotFound(err) {
				return FileInfo{}, nil
			}
			return FileInfo{}, errs.Wrapf(err, "stat %s", key)
		}
		size := int64(0)
		if props.ContentLength != nil {
			size = *props.ContentLength
		}
		return FileInfo{Exists: true, Size: size}, nil
	default:
		return FileInfo{}, errs.ErrInternal
	}
}

func (v *ObjectStoreVault) OpenFile(ctx context.Context, path string) (io.ReadCloser, error) {
	key := v.objectKey(path)
	switch v.cfg.Provider {
	case ProviderS3:
		obj, err := v.s3.GetObject(ctx, v.cfg.Bucket, key, minio.GetObjectOptions{})
		if err != nil {
			return nil, errs.Wrapf(err, "open %s", key)
		}
		return obj, nil
	case ProviderAzureBlob:
		blob := v.azc.NewContainerClient(v.cfg.Bucket).NewBlobClient(key)
		resp, err := blob.DownloadStream(ctx, nil)
		if err != nil {
			return nil, errs.Wrapf(err, "open %s", key)
		}
		return resp.Body, nil
	default:
		return nil, errs.ErrInternal
	}
}

// objectWriter buffers writes and commits a single PUT on Close, matching
// the object-store write model (no partial-object append).
type objectWriter struct {
	vault *ObjectStoreVault
	key   string
	buf   bytes.Buffer
}

func (w *objectWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *objectWriter) Close() error {
	ctx := context.Background()
	switch w.vault.cfg.Provider {
	case ProviderS3:
		_, err := w.vault.s3.PutObject(ctx, w.vault.cfg.Bucket, w.key, bytes.NewReader(w.buf.Bytes()),
			int64(w.buf.Len()), minio.PutObjectOptions{})
		if err != nil {
			return errs.Wrapf(err, "commit %s", w.key)
		}
		return nil
	case ProviderAzureBlob:
		blob := w.vault.azc.NewContainerClient(w.vault.cfg.Bucket).NewBlockBlobClient(w.key)
		_, err := blob.UploadBuffer(ctx, w.buf.Bytes(), nil)
		if err != nil {
			return errs.Wrapf(err, "commit %s", w.key)
		}
		return nil
	default:
		return errs.ErrInternal
	}
}

func (v *ObjectStoreVault) CreateFile(ctx context.Context, path string) (io.WriteCloser, error) {
	return &objectWriter{vault: v, key: v.objectKey(path)}, nil
}

// Append reads the existing object (if any), appends data, and rewrites it
// in place — object stores have no native append, so this trades write
// amplification for the uniform Filesystem interface (§6 binlog writer
// needs this only for small control files, never segment data).
func (v *ObjectStoreVault) Append(ctx context.Context, path string, data []byte) error {
	existing, err := v.readAll(ctx, path)
	if err != nil {
		return err
	}
	w, err := v.CreateFile(ctx, path)
	if err != nil {
		return err
	}
	if _, err := w.Write(existing); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Close()
}

func (v *ObjectStoreVault) readAll(ctx context.Context, path string) ([]byte, error) {
	info, err := v.Exists(ctx, path)
	if err != nil {
		return nil, err
	}
	if !info.Exists {
		return nil, nil
	}
	r, err := v.OpenFile(ctx, path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := make([]byte, 0, info.Size)
	b := bytes.NewBuffer(buf)
	if _, err := io.Copy(b, r); err != nil {
		return nil, errs.Wrapf(err, "read %s for append", path)
	}
	return b.Bytes(), nil
}

func (v *ObjectStoreVault) Close() error { return nil }

func isNotFound(err error) bool {
	if resp, ok := err.(minio.ErrorResponse); ok {
		return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
	}
	return strings.Contains(err.Error(), "BlobNotFound") || strings.Contains(err.Error(), "404")
}
