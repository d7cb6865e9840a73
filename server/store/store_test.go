// Copyright 2023 The CubeFS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/xattrdb/common/kvstore"
	"github.com/cubefs/xattrdb/item"
	"github.com/cubefs/xattrdb/util"
)

func TestNewStore(t *testing.T) {
	ctx := context.TODO()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)

	s, err := NewStore(ctx, &Config{Path: path, KVType: kvstore.MemoryKVType})
	require.NoError(t, err)
	defer s.Close()

	require.True(t, s.KVStore().CheckColumns(item.DataCF))
	require.NotNil(t, s.Items())

	_, err = NewStore(ctx, &Config{Path: path, KVType: "unknown"})
	require.Error(t, err)
}
