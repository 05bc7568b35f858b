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

package metaservice

import (
	"strconv"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/cloudtablet/tabletd/internal/errs"
)

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

func leaseIdString(id clientv3.LeaseID) string { return strconv.FormatInt(int64(id), 10) }

func parseLeaseId(s string) (clientv3.LeaseID, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errs.Wrapf(errs.ErrInternal, "malformed lease id %q", s)
	}
	return clientv3.LeaseID(v), nil
}
