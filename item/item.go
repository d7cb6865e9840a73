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

// Package item stores fixed width keys in a column of the kv store.
// Every operation must be covered by a lock token of the key's inode.
// Writes are staged in a transaction hold and reach the kv store when the
// hold is committed, reads given the hold see its staged writes.
package item

import (
	"bytes"
	"context"
	"errors"

	berrors "github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/cubefs/xattrdb/common/kvstore"
	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/lock"
	"github.com/cubefs/xattrdb/proto"
	"github.com/cubefs/xattrdb/trans"
)

const DataCF = kvstore.CF("data")

var (
	ErrNotFound      = errors.New("item not found")
	ErrAlreadyExists = errors.New("item already exists")
	ErrNoHold        = errors.New("item write without transaction hold")
)

type savedItem struct {
	key   proto.Key
	value []byte
}

// SaveList keeps the pre images of deleted items until they are either
// restored or freed
type SaveList struct {
	items []savedItem
}

func (l *SaveList) Len() int {
	return len(l.items)
}

type Store struct {
	kvStore kvstore.Store
	col     kvstore.CF
}

func NewStore(kvStore kvstore.Store) (*Store, error) {
	if !kvStore.CheckColumns(DataCF) {
		if err := kvStore.CreateColumn(DataCF); err != nil {
			return nil, err
		}
	}
	return &Store{kvStore: kvStore, col: DataCF}, nil
}

// Next copies the value of the first item in [key, last] into buf and
// returns its key with the number of bytes copied
func (s *Store) Next(ctx context.Context, key, last proto.Key, buf []byte, lck *lock.Lock, h *trans.Hold) (proto.Key, int, error) {
	if !lck.Covers(key.Ino, lock.ModeRead) || !lck.Covers(last.Ino, lock.ModeRead) {
		return proto.Key{}, 0, apierrors.ErrLockNotCovered
	}
	if last.Less(key) {
		return proto.Key{}, 0, ErrNotFound
	}
	raw, lastRaw := key.Encode(), last.Encode()

	var pendingKey, pendingValue []byte
	h.Ascend(s.col, raw, func(k, v []byte, deleted bool) bool {
		if bytes.Compare(k, lastRaw) > 0 {
			return false
		}
		if deleted {
			return true
		}
		pendingKey, pendingValue = k, v
		return false
	})

	lr := s.kvStore.List(ctx, s.col, nil, raw)
	defer lr.Close()
	for {
		kg, vg, err := lr.ReadNext()
		if err != nil {
			return proto.Key{}, 0, berrors.Info(err, "list next item")
		}
		if kg == nil {
			break
		}
		k := kg.Key()
		if bytes.Compare(k, lastRaw) > 0 || (pendingKey != nil && bytes.Compare(k, pendingKey) >= 0) {
			kg.Close()
			vg.Close()
			break
		}
		// staged writes shadow the stored item
		if _, _, ok := h.Get(s.col, k); ok {
			kg.Close()
			vg.Close()
			continue
		}
		found, err := proto.DecodeKey(k)
		n := copy(buf, vg.Value())
		kg.Close()
		vg.Close()
		if err != nil {
			return proto.Key{}, 0, err
		}
		return found, n, nil
	}

	if pendingKey == nil {
		return proto.Key{}, 0, ErrNotFound
	}
	found, err := proto.DecodeKey(pendingKey)
	if err != nil {
		return proto.Key{}, 0, err
	}
	return found, copy(buf, pendingValue), nil
}

// Lookup returns a copy of the value of key
func (s *Store) Lookup(ctx context.Context, key proto.Key, lck *lock.Lock, h *trans.Hold) ([]byte, error) {
	if !lck.Covers(key.Ino, lock.ModeRead) {
		return nil, apierrors.ErrLockNotCovered
	}
	return s.get(ctx, key.Encode(), h)
}

func (s *Store) get(ctx context.Context, raw []byte, h *trans.Hold) ([]byte, error) {
	if value, deleted, ok := h.Get(s.col, raw); ok {
		if deleted {
			return nil, ErrNotFound
		}
		return append([]byte{}, value...), nil
	}
	value, err := s.kvStore.GetRaw(ctx, s.col, raw)
	if err != nil {
		if err == kvstore.ErrNotFound {
			return nil, ErrNotFound
		}
		return nil, berrors.Info(err, "get item")
	}
	return value, nil
}

func (s *Store) exists(ctx context.Context, raw []byte, h *trans.Hold) (bool, error) {
	_, err := s.get(ctx, raw, h)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) checkWrite(key proto.Key, lck *lock.Lock, h *trans.Hold) error {
	if !lck.Covers(key.Ino, lock.ModeWrite) {
		return apierrors.ErrLockNotCovered
	}
	if h == nil {
		return ErrNoHold
	}
	return nil
}

// Create inserts a new item, value is copied
func (s *Store) Create(ctx context.Context, key proto.Key, value []byte, lck *lock.Lock, h *trans.Hold) error {
	if err := s.checkWrite(key, lck, h); err != nil {
		return err
	}
	raw := key.Encode()
	ok, err := s.exists(ctx, raw, h)
	if err != nil {
		return err
	}
	if ok {
		return ErrAlreadyExists
	}
	return h.Put(s.col, raw, value)
}

// Update overwrites an existing item
func (s *Store) Update(ctx context.Context, key proto.Key, value []byte, lck *lock.Lock, h *trans.Hold) error {
	if err := s.checkWrite(key, lck, h); err != nil {
		return err
	}
	raw := key.Encode()
	ok, err := s.exists(ctx, raw, h)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return h.Put(s.col, raw, value)
}

func (s *Store) Delete(ctx context.Context, key proto.Key, lck *lock.Lock, h *trans.Hold) error {
	if err := s.checkWrite(key, lck, h); err != nil {
		return err
	}
	raw := key.Encode()
	ok, err := s.exists(ctx, raw, h)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return h.Delete(s.col, raw)
}

// DeleteSave deletes key and keeps its value in list
func (s *Store) DeleteSave(ctx context.Context, key proto.Key, list *SaveList, lck *lock.Lock, h *trans.Hold) error {
	if err := s.checkWrite(key, lck, h); err != nil {
		return err
	}
	raw := key.Encode()
	value, err := s.get(ctx, raw, h)
	if err != nil {
		return err
	}
	if err = h.Delete(s.col, raw); err != nil {
		return err
	}
	list.items = append(list.items, savedItem{key: key, value: value})
	return nil
}

// Restore stages every saved item back into h, the list is emptied on
// success
func (s *Store) Restore(ctx context.Context, list *SaveList, lck *lock.Lock, h *trans.Hold) error {
	if len(list.items) == 0 {
		return nil
	}
	for i := range list.items {
		if err := s.checkWrite(list.items[i].key, lck, h); err != nil {
			return err
		}
	}
	for i := range list.items {
		if err := h.Put(s.col, list.items[i].key.Encode(), list.items[i].value); err != nil {
			return err
		}
	}
	list.items = nil
	return nil
}

func (s *Store) FreeSaved(list *SaveList) {
	list.items = nil
}
