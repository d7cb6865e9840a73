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

// Package rocksdb registers the rocksdb engine of kvstore, import it for
// side effects.
package rocksdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"

	rdb "github.com/tecbot/gorocksdb"

	"github.com/cubefs/xattrdb/common/kvstore"
)

type (
	CF = kvstore.CF

	rocksdb struct {
		path      string
		db        *rdb.DB
		opt       *rdb.Options
		readOpt   *rdb.ReadOptions
		writeOpt  *rdb.WriteOptions
		cfHandles map[CF]*rdb.ColumnFamilyHandle
		lock      sync.RWMutex
	}
	listReader struct {
		iterator *rdb.Iterator
		prefix   []byte
		isFirst  bool
	}
	keyGetter struct {
		key *rdb.Slice
	}
	valueGetter struct {
		value *rdb.Slice
	}
	writeBatch struct {
		s     *rocksdb
		batch *rdb.WriteBatch
	}
)

func init() {
	kvstore.Register(kvstore.RocksdbLsmKVType, newRocksdb)
}

func newRocksdb(ctx context.Context, path string, option *kvstore.Option) (kvstore.Store, error) {
	if path == "" {
		return nil, errors.New("path is empty")
	}
	err := os.MkdirAll(path, 0o755)
	if err != nil {
		return nil, err
	}

	dbOpt := genRocksdbOpts(option)

	cfNum := len(option.ColumnFamily) + 1
	cols := make([]CF, 0, cfNum)
	cols = append(cols, kvstore.DefaultCF)
	cols = append(cols, option.ColumnFamily...)

	cfNames := make([]string, 0, cfNum)
	cfOpts := make([]*rdb.Options, 0, cfNum)
	for i := 0; i < cfNum; i++ {
		cfNames = append(cfNames, cols[i].String())
		cfOpts = append(cfOpts, dbOpt)
	}

	db, cfhs, err := rdb.OpenDbColumnFamilies(dbOpt, path, cfNames, cfOpts)
	if err != nil {
		return nil, err
	}

	cfhMap := make(map[CF]*rdb.ColumnFamilyHandle)
	for i, h := range cfhs {
		cfhMap[cols[i]] = h
	}

	wo := rdb.NewDefaultWriteOptions()
	if option.Sync {
		wo.SetSync(option.Sync)
	}
	if option.DisableWal {
		wo.DisableWAL(true)
	}

	return &rocksdb{
		db:        db,
		path:      path,
		opt:       dbOpt,
		readOpt:   rdb.NewDefaultReadOptions(),
		writeOpt:  wo,
		cfHandles: cfhMap,
	}, nil
}

func (kg keyGetter) Key() []byte {
	return kg.key.Data()
}

func (kg keyGetter) Close() {
	kg.key.Free()
}

func (vg *valueGetter) Value() []byte {
	return vg.value.Data()
}

func (vg *valueGetter) Close() {
	vg.value.Free()
}

func (lr *listReader) ReadNext() (key kvstore.KeyGetter, val kvstore.ValueGetter, err error) {
	if !lr.isFirst {
		// move into next kv
		lr.iterator.Next()
	}
	lr.isFirst = false
	if err = lr.iterator.Err(); err != nil {
		return nil, nil, err
	}
	if !lr.iterator.Valid() {
		return nil, nil, nil
	}
	if lr.prefix != nil && !lr.iterator.ValidForPrefix(lr.prefix) {
		return nil, nil, nil
	}
	return keyGetter{key: lr.iterator.Key()}, &valueGetter{value: lr.iterator.Value()}, nil
}

func (lr *listReader) Close() {
	lr.iterator.Close()
}

func (w *writeBatch) Put(col CF, key, value []byte) {
	cf := w.s.getColumnFamily(col)
	w.batch.PutCF(cf, key, value)
}

func (w *writeBatch) Delete(col CF, key []byte) {
	cf := w.s.getColumnFamily(col)
	w.batch.DeleteCF(cf, key)
}

func (w *writeBatch) Close() {
	w.batch.Destroy()
}

func (s *rocksdb) NewWriteBatch() kvstore.WriteBatch {
	return &writeBatch{
		s:     s,
		batch: rdb.NewWriteBatch(),
	}
}

func (s *rocksdb) CreateColumn(col CF) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cfHandles[col] != nil {
		return nil
	}
	h, err := s.db.CreateColumnFamily(s.opt, col.String())
	if err != nil {
		return err
	}
	s.cfHandles[col] = h
	return nil
}

func (s *rocksdb) GetRaw(ctx context.Context, col CF, key []byte) ([]byte, error) {
	cf := s.getColumnFamily(col)
	v, err := s.db.GetCF(s.readOpt, cf, key)
	if err != nil {
		return nil, err
	}
	if !v.Exists() {
		return nil, kvstore.ErrNotFound
	}
	value := make([]byte, v.Size())
	copy(value, v.Data())
	v.Free()
	return value, nil
}

func (s *rocksdb) List(ctx context.Context, col CF, prefix []byte, marker []byte) kvstore.ListReader {
	cf := s.getColumnFamily(col)
	t := s.db.NewIteratorCF(s.readOpt, cf)
	switch {
	case len(marker) > 0:
		t.Seek(marker)
	case prefix != nil:
		t.Seek(prefix)
	default:
		t.SeekToFirst()
	}
	return &listReader{
		iterator: t,
		prefix:   prefix,
		isFirst:  true,
	}
}

func (s *rocksdb) Write(ctx context.Context, batch kvstore.WriteBatch) error {
	return s.db.Write(s.writeOpt, batch.(*writeBatch).batch)
}

func (s *rocksdb) Stats(ctx context.Context) (stats kvstore.Stats, err error) {
	var (
		size                     int64
		totalIndexAndFilterUsage uint64
		totalMemtableUsage       uint64
		keys                     uint64
	)
	files := s.db.GetLiveFilesMetaData()
	for i := range files {
		size += files[i].Size
	}

	s.lock.RLock()
	for _, cf := range s.cfHandles {
		indexAndFilterUsage, _ := strconv.ParseUint(s.db.GetPropertyCF("rocksdb.estimate-table-readers-mem", cf), 10, 64)
		memtableUsage, _ := strconv.ParseUint(s.db.GetPropertyCF("rocksdb.cur-size-all-mem-tables", cf), 10, 64)
		numKeys, _ := strconv.ParseUint(s.db.GetPropertyCF("rocksdb.estimate-num-keys", cf), 10, 64)
		totalIndexAndFilterUsage += indexAndFilterUsage
		totalMemtableUsage += memtableUsage
		keys += numKeys
	}
	s.lock.RUnlock()
	blockCacheUsage, _ := strconv.ParseUint(s.db.GetProperty("rocksdb.block-cache-usage"), 10, 64)
	blockPinnedUsage, _ := strconv.ParseUint(s.db.GetProperty("rocksdb.block-cache-pinned-usage"), 10, 64)
	stats = kvstore.Stats{
		Used: uint64(size),
		Keys: keys,
		MemoryUsage: kvstore.MemoryUsage{
			BlockCacheUsage:     blockCacheUsage,
			IndexAndFilterUsage: totalIndexAndFilterUsage,
			MemtableUsage:       totalMemtableUsage,
			BlockPinnedUsage:    blockPinnedUsage,
			Total:               blockCacheUsage + totalIndexAndFilterUsage + totalMemtableUsage + blockPinnedUsage,
		},
	}
	return
}

func (s *rocksdb) Close() {
	s.writeOpt.Destroy()
	s.readOpt.Destroy()
	s.opt.Destroy()
	for i := range s.cfHandles {
		s.cfHandles[i].Destroy()
	}
	s.db.Close()
}

func (s *rocksdb) getColumnFamily(col CF) *rdb.ColumnFamilyHandle {
	if col == "" {
		col = kvstore.DefaultCF
	}
	s.lock.RLock()
	cf, ok := s.cfHandles[col]
	s.lock.RUnlock()
	if !ok {
		panic(fmt.Sprintf("col:%s not exist", col.String()))
	}
	return cf
}

func (s *rocksdb) CheckColumns(col CF) bool {
	if col == "" {
		return true
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.cfHandles[col]
	return ok
}

func genRocksdbOpts(opt *kvstore.Option) (opts *rdb.Options) {
	opts = rdb.NewDefaultOptions()
	blockBaseOpt := rdb.NewDefaultBlockBasedTableOptions()
	opts.SetCreateIfMissing(opt.CreateIfMissing)
	if opt.BlockSize > 0 {
		blockBaseOpt.SetBlockSize(opt.BlockSize)
	}
	if opt.BlockCache > 0 {
		blockBaseOpt.SetBlockCache(rdb.NewLRUCache(opt.BlockCache))
	}
	opts.SetEnablePipelinedWrite(opt.EnablePipelinedWrite)
	if opt.MaxBackgroundCompactions > 0 {
		opts.SetMaxBackgroundCompactions(opt.MaxBackgroundCompactions)
	}
	if opt.MaxBackgroundFlushes > 0 {
		opts.SetMaxBackgroundFlushes(opt.MaxBackgroundFlushes)
	}
	if opt.MaxOpenFiles > 0 {
		opts.SetMaxOpenFiles(opt.MaxOpenFiles)
	}
	if opt.MaxWriteBufferNumber > 0 {
		opts.SetMaxWriteBufferNumber(opt.MaxWriteBufferNumber)
	}
	if opt.WriteBufferSize > 0 {
		opts.SetWriteBufferSize(opt.WriteBufferSize)
	}
	if opt.TargetFileSizeBase > 0 {
		opts.SetTargetFileSizeBase(opt.TargetFileSizeBase)
	}
	if opt.MaxBytesForLevelBase > 0 {
		opts.SetMaxBytesForLevelBase(opt.MaxBytesForLevelBase)
	}
	if opt.KeepLogFileNum > 0 {
		opts.SetKeepLogFileNum(opt.KeepLogFileNum)
	}
	if opt.MaxLogFileSize > 0 {
		opts.SetMaxLogFileSize(opt.MaxLogFileSize)
	}
	if opt.Level0SlowdownWritesTrigger > 0 {
		opts.SetLevel0SlowdownWritesTrigger(opt.Level0SlowdownWritesTrigger)
	}
	if opt.Level0StopWritesTrigger > 0 {
		opts.SetLevel0StopWritesTrigger(opt.Level0StopWritesTrigger)
	}
	if opt.SoftPendingCompactionBytesLimit > 0 {
		opts.SetSoftPendingCompactionBytesLimit(opt.SoftPendingCompactionBytesLimit)
	}
	if opt.HardPendingCompactionBytesLimit > 0 {
		opts.SetHardPendingCompactionBytesLimit(opt.HardPendingCompactionBytesLimit)
	}
	switch opt.CompactionStyle {
	case kvstore.FIFOStyle:
		opts.SetCompactionStyle(rdb.FIFOCompactionStyle)
	case kvstore.LevelStyle:
		opts.SetCompactionStyle(rdb.LevelCompactionStyle)
	case kvstore.UniversalStyle:
		opts.SetCompactionStyle(rdb.UniversalCompactionStyle)
	default:
	}
	if opt.MaxWalLogSize > 0 {
		opts.SetMaxTotalWalSize(opt.MaxWalLogSize)
	}

	opts.SetStatsDumpPeriodSec(0)
	opts.SetStatsPersistPeriodSec(0)
	opts.SetBlockBasedTableFactory(blockBaseOpt)
	opts.SetCreateIfMissingColumnFamilies(true)
	return
}
