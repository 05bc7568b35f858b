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

package compaction

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudtablet/tabletd/internal/types"
)

func TestOutputVersionSpansMinToMax(t *testing.T) {
	input := []types.RowsetMeta{
		{Version: types.Version{Start: 5, End: 7}},
		{Version: types.Version{Start: 1, End: 3}},
		{Version: types.Version{Start: 8, End: 12}},
	}
	v := outputVersion(input)
	assert.Equal(t, int64(1), v.Start)
	assert.Equal(t, int64(12), v.End)
}

func TestOutputVersionEmptyInput(t *testing.T) {
	v := outputVersion(nil)
	assert.Equal(t, types.Version{}, v)
}
