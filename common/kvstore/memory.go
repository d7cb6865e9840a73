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

package kvstore

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/btree"
)

const memoryDegree = 32

type (
	memoryStore struct {
		cols map[CF]*btree.BTree
		lock sync.RWMutex
	}
	memoryItem struct {
		key   []byte
		value []byte
	}
	memoryListReader struct {
		s         *memoryStore
		col       CF
		prefix    []byte
		cursor    []byte
		inclusive bool
	}
	memoryKeyGetter struct {
		key []byte
	}
	memoryValueGetter struct {
		value []byte
	}
	memoryBatchOp struct {
		col    CF
		key    []byte
		value  []byte
		delete bool
	}
	memoryWriteBatch struct {
		ops []memoryBatchOp
	}
)

func (i *memoryItem) Less(than btree.Item) bool {
	return bytes.Compare(i.key, than.(*memoryItem).key) < 0
}

func newMemoryStore(ctx context.Context, path string, option *Option) (Store, error) {
	s := &memoryStore{cols: make(map[CF]*btree.BTree)}
	s.cols[DefaultCF] = btree.New(memoryDegree)
	for _, col := range option.ColumnFamily {
		s.cols[col] = btree.New(memoryDegree)
	}
	return s, nil
}

func (s *memoryStore) CreateColumn(col CF) error {
	s.lock.Lock()
	if s.cols[col] == nil {
		s.cols[col] = btree.New(memoryDegree)
	}
	s.lock.Unlock()
	return nil
}

func (s *memoryStore) CheckColumns(col CF) bool {
	if col == "" {
		return true
	}
	s.lock.RLock()
	defer s.lock.RUnlock()
	_, ok := s.cols[col]
	return ok
}

func (s *memoryStore) GetRaw(ctx context.Context, col CF, key []byte) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	found := s.getColumn(col).Get(&memoryItem{key: key})
	if found == nil {
		return nil, ErrNotFound
	}
	return append([]byte{}, found.(*memoryItem).value...), nil
}

func (s *memoryStore) List(ctx context.Context, col CF, prefix []byte, marker []byte) ListReader {
	s.lock.RLock()
	s.getColumn(col)
	s.lock.RUnlock()

	cursor := prefix
	if len(marker) > 0 {
		cursor = marker
	}
	return &memoryListReader{
		s:         s,
		col:       col,
		prefix:    prefix,
		cursor:    append([]byte(nil), cursor...),
		inclusive: true,
	}
}

func (s *memoryStore) Write(ctx context.Context, batch WriteBatch) error {
	wb := batch.(*memoryWriteBatch)
	s.lock.Lock()
	defer s.lock.Unlock()
	for i := range wb.ops {
		s.getColumn(wb.ops[i].col)
	}
	for i := range wb.ops {
		op := &wb.ops[i]
		tree := s.getColumn(op.col)
		if op.delete {
			tree.Delete(&memoryItem{key: op.key})
			continue
		}
		tree.ReplaceOrInsert(&memoryItem{key: op.key, value: op.value})
	}
	return nil
}

func (s *memoryStore) NewWriteBatch() WriteBatch {
	return &memoryWriteBatch{}
}

func (s *memoryStore) Stats(ctx context.Context) (stats Stats, err error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	for _, tree := range s.cols {
		tree.Ascend(func(i btree.Item) bool {
			it := i.(*memoryItem)
			stats.Used += uint64(len(it.key) + len(it.value))
			stats.Keys++
			return true
		})
	}
	stats.MemoryUsage.MemtableUsage = stats.Used
	stats.MemoryUsage.Total = stats.Used
	return
}

func (s *memoryStore) Close() {
	s.lock.Lock()
	for col := range s.cols {
		s.cols[col].Clear(false)
	}
	s.lock.Unlock()
}

func (s *memoryStore) getColumn(col CF) *btree.BTree {
	if col == "" {
		col = DefaultCF
	}
	tree, ok := s.cols[col]
	if !ok {
		panic(fmt.Sprintf("col:%s not exist", col.String()))
	}
	return tree
}

// ReadNext returns slices owned by the store, they must not be modified
func (lr *memoryListReader) ReadNext() (KeyGetter, ValueGetter, error) {
	lr.s.lock.RLock()
	defer lr.s.lock.RUnlock()

	var found *memoryItem
	lr.s.getColumn(lr.col).AscendGreaterOrEqual(&memoryItem{key: lr.cursor}, func(i btree.Item) bool {
		it := i.(*memoryItem)
		if !lr.inclusive && bytes.Equal(it.key, lr.cursor) {
			return true
		}
		found = it
		return false
	})
	if found == nil {
		return nil, nil, nil
	}
	if lr.prefix != nil && !bytes.HasPrefix(found.key, lr.prefix) {
		return nil, nil, nil
	}
	lr.cursor = found.key
	lr.inclusive = false
	return memoryKeyGetter{key: found.key}, &memoryValueGetter{value: found.value}, nil
}

func (lr *memoryListReader) Close() {}

func (kg memoryKeyGetter) Key() []byte { return kg.key }

func (kg memoryKeyGetter) Close() {}

func (vg *memoryValueGetter) Value() []byte {
	return vg.value
}

func (vg *memoryValueGetter) Close() {}

func (w *memoryWriteBatch) Put(col CF, key, value []byte) {
	w.ops = append(w.ops, memoryBatchOp{
		col:   col,
		key:   append([]byte(nil), key...),
		value: append([]byte{}, value...),
	})
}

func (w *memoryWriteBatch) Delete(col CF, key []byte) {
	w.ops = append(w.ops, memoryBatchOp{col: col, key: append([]byte(nil), key...), delete: true})
}

func (w *memoryWriteBatch) Close() {
	w.ops = nil
}
