// Copyright 2023 The Cuber Authors.
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

package rocksdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/xattrdb/common/kvstore"
	"github.com/cubefs/xattrdb/util"
)

type testEg struct {
	engine kvstore.Store
	path   string
}

func newEngine(ctx context.Context, opt *kvstore.Option) (*testEg, error) {
	path, err := util.GenTmpPath()
	if err != nil {
		return nil, err
	}
	if opt == nil {
		opt = new(kvstore.Option)
	}
	opt.CreateIfMissing = true
	opt.Sync = true
	engine, err := kvstore.NewKVStore(ctx, path, kvstore.RocksdbLsmKVType, opt)
	if err != nil {
		return nil, err
	}
	return &testEg{engine: engine, path: path}, nil
}

func (eg *testEg) close() {
	eg.engine.Close()
	os.RemoveAll(eg.path)
}

func Test_openRocksdb(t *testing.T) {
	ctx := context.TODO()
	path, err := util.GenTmpPath()
	require.NoError(t, err)
	defer os.RemoveAll(path)
	opt := new(kvstore.Option)
	opt.CreateIfMissing = true
	opt.BlockSize = 1 << 20
	opt.BlockCache = 1 << 20
	opt.MaxBackgroundCompactions = 8
	opt.KeepLogFileNum = 10000
	opt.MaxLogFileSize = 1 << 30
	opt.ColumnFamily = []CF{"a", "b", "c"}
	opt.CompactionStyle = kvstore.LevelStyle
	eg, err := newRocksdb(ctx, path, opt)
	require.NoError(t, err)
	eg.Close()

	_, err = newRocksdb(ctx, "", opt)
	require.Equal(t, errors.New("path is empty"), err)
	// reopen db
	eg, err = newRocksdb(ctx, path, opt)
	require.NoError(t, err)
	eg.Close()
	// open with wrong cf
	opt.ColumnFamily = []CF{"a", "b"}
	_, err = newRocksdb(ctx, path, opt)
	require.Error(t, err)
}

func (eg *testEg) put(t *testing.T, col CF, kvs ...string) {
	batch := eg.engine.NewWriteBatch()
	defer batch.Close()
	for i := 0; i+1 < len(kvs); i += 2 {
		batch.Put(col, []byte(kvs[i]), []byte(kvs[i+1]))
	}
	require.NoError(t, eg.engine.Write(context.TODO(), batch))
}

func TestInstance_GetRaw(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	eg.put(t, kvstore.DefaultCF, "key1", "value1")
	v, err := eg.engine.GetRaw(ctx, kvstore.DefaultCF, []byte("key1"))
	require.NoError(t, err)
	require.Equal(t, []byte("value1"), v)
	_, err = eg.engine.GetRaw(ctx, kvstore.DefaultCF, []byte("key2"))
	require.Equal(t, kvstore.ErrNotFound, err)
}

func TestInstance_Write(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	col1 := CF("c1")
	require.NoError(t, eg.engine.CreateColumn(col1))
	require.True(t, eg.engine.CheckColumns(col1))

	batch := eg.engine.NewWriteBatch()
	for i := 0; i < 5; i++ {
		batch.Put(col1, []byte(fmt.Sprintf("k%d", i)), []byte(fmt.Sprintf("v%d", i)))
	}
	batch.Delete(col1, []byte("k4"))
	require.NoError(t, eg.engine.Write(ctx, batch))
	batch.Close()

	for i := 0; i < 4; i++ {
		v, err := eg.engine.GetRaw(ctx, col1, []byte(fmt.Sprintf("k%d", i)))
		require.NoError(t, err)
		require.Equal(t, []byte(fmt.Sprintf("v%d", i)), v)
	}
	_, err = eg.engine.GetRaw(ctx, col1, []byte("k4"))
	require.Equal(t, kvstore.ErrNotFound, err)
}

func TestInstance_List(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	eg.put(t, kvstore.DefaultCF, "key1", "value1", "word1", "w1", "key2", "value2", "word2", "w2", "key3", "value3")

	ls := eg.engine.List(ctx, kvstore.DefaultCF, []byte("key"), nil)
	n := 0
	for {
		kg, vg, err := ls.ReadNext()
		require.NoError(t, err)
		if kg == nil {
			break
		}
		n++
		require.Equal(t, []byte(fmt.Sprintf("key%d", n)), kg.Key())
		require.Equal(t, []byte(fmt.Sprintf("value%d", n)), vg.Value())
		kg.Close()
		vg.Close()
	}
	require.Equal(t, 3, n)
	ls.Close()

	ls = eg.engine.List(ctx, kvstore.DefaultCF, []byte("key"), []byte("key2"))
	kg, vg, err := ls.ReadNext()
	require.NoError(t, err)
	require.Equal(t, []byte("key2"), kg.Key())
	kg.Close()
	vg.Close()
	ls.Close()
}

func TestInstance_Stats(t *testing.T) {
	ctx := context.TODO()
	eg, err := newEngine(ctx, nil)
	require.NoError(t, err)
	defer eg.close()

	_, err = eg.engine.Stats(ctx)
	require.NoError(t, err)
}
