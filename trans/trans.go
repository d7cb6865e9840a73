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

package trans

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cubefs/cubefs/blobstore/common/trace"
	"github.com/google/btree"
	"golang.org/x/sync/semaphore"

	"github.com/cubefs/xattrdb/common/kvstore"
	apierrors "github.com/cubefs/xattrdb/errors"
)

const (
	defaultMaxHoldItems = 4096
	defaultMaxHoldBytes = 16 << 20

	pendingDegree = 8
)

var (
	// ErrRetry means the index locks changed after IndexStart, the caller
	// starts over from IndexStart
	ErrRetry = errors.New("index locks changed, retry")
	// ErrHoldDone is returned when a committed or released hold is used
	ErrHoldDone = errors.New("transaction hold already done")
)

type Config struct {
	MaxHoldItems int64 `json:"max_hold_items"`
	MaxHoldBytes int64 `json:"max_hold_bytes"`
}

// Reservation is the worst case number of items and value bytes that a
// hold may dirty
type Reservation struct {
	Items int
	Bytes int
}

type pendingItem struct {
	col     kvstore.CF
	key     []byte
	value   []byte
	deleted bool
}

func (p *pendingItem) Less(than btree.Item) bool {
	o := than.(*pendingItem)
	if p.col != o.col {
		return p.col < o.col
	}
	return bytes.Compare(p.key, o.key) < 0
}

// Hold stages item writes until it is committed as one batch. Items not
// covered by a reservation are refused. A hold is used by one goroutine.
type Hold struct {
	res     Reservation
	index   bool
	done    bool
	pending *btree.BTree
}

// Put stages key with value, value is copied
func (h *Hold) Put(col kvstore.CF, key, value []byte) error {
	return h.stage(&pendingItem{col: col, key: append([]byte(nil), key...), value: append([]byte{}, value...)})
}

// Delete stages the deletion of key
func (h *Hold) Delete(col kvstore.CF, key []byte) error {
	return h.stage(&pendingItem{col: col, key: append([]byte(nil), key...), deleted: true})
}

func (h *Hold) stage(it *pendingItem) error {
	if h.done {
		return ErrHoldDone
	}
	if !h.pending.Has(it) && h.pending.Len() >= h.res.Items {
		return apierrors.ErrResourceExhausted
	}
	h.pending.ReplaceOrInsert(it)
	return nil
}

// Get returns the staged state of key, ok is false when key is untouched
func (h *Hold) Get(col kvstore.CF, key []byte) (value []byte, deleted bool, ok bool) {
	if h == nil {
		return nil, false, false
	}
	found := h.pending.Get(&pendingItem{col: col, key: key})
	if found == nil {
		return nil, false, false
	}
	it := found.(*pendingItem)
	return it.value, it.deleted, true
}

// Ascend calls fn on the staged items of col from key on in order until
// fn returns false
func (h *Hold) Ascend(col kvstore.CF, key []byte, fn func(key, value []byte, deleted bool) bool) {
	if h == nil {
		return
	}
	h.pending.AscendGreaterOrEqual(&pendingItem{col: col, key: key}, func(i btree.Item) bool {
		it := i.(*pendingItem)
		if it.col != col {
			return false
		}
		return fn(it.key, it.value, it.deleted)
	})
}

// Len is the number of staged items
func (h *Hold) Len() int {
	return h.pending.Len()
}

type Stats struct {
	Holders  int64  `json:"holders"`
	Waiting  int64  `json:"waiting"`
	Commits  uint64 `json:"commits"`
	Discards uint64 `json:"discards"`
	IndexSeq uint64 `json:"index_seq"`
}

type Manager struct {
	cfg     Config
	kvStore kvstore.Store
	items   *semaphore.Weighted
	bytes   *semaphore.Weighted

	indexLock sync.Mutex
	indexSeq  uint64

	holders  int64
	waiting  int64
	commits  uint64
	discards uint64
}

func NewManager(cfg Config, kvStore kvstore.Store) *Manager {
	if cfg.MaxHoldItems <= 0 {
		cfg.MaxHoldItems = defaultMaxHoldItems
	}
	if cfg.MaxHoldBytes <= 0 {
		cfg.MaxHoldBytes = defaultMaxHoldBytes
	}
	return &Manager{
		cfg:     cfg,
		kvStore: kvStore,
		items:   semaphore.NewWeighted(cfg.MaxHoldItems),
		bytes:   semaphore.NewWeighted(cfg.MaxHoldBytes),
	}
}

// IndexStart returns the index sequence to pass to TryLockHold
func (m *Manager) IndexStart(ctx context.Context) uint64 {
	m.indexLock.Lock()
	seq := m.indexSeq
	m.indexLock.Unlock()
	return seq
}

// TryLockHold reserves res and locks the index items, it fails with
// ErrRetry if another index hold was released since seq was read
func (m *Manager) TryLockHold(ctx context.Context, seq uint64, res Reservation) (*Hold, error) {
	h, err := m.Hold(ctx, res)
	if err != nil {
		return nil, err
	}
	m.indexLock.Lock()
	cur := m.indexSeq
	m.indexLock.Unlock()
	if cur != seq {
		m.release(h)
		return nil, ErrRetry
	}
	h.index = true
	return h, nil
}

// Hold blocks until res fits into the open transaction
func (m *Manager) Hold(ctx context.Context, res Reservation) (*Hold, error) {
	if int64(res.Items) > m.cfg.MaxHoldItems || int64(res.Bytes) > m.cfg.MaxHoldBytes || res.Items < 0 || res.Bytes < 0 {
		span := trace.SpanFromContextSafe(ctx)
		span.Warnf("reservation %+v exceeds transaction capacity %+v", res, m.cfg)
		return nil, apierrors.ErrResourceExhausted
	}
	atomic.AddInt64(&m.waiting, 1)
	defer atomic.AddInt64(&m.waiting, -1)
	if err := m.items.Acquire(ctx, int64(res.Items)); err != nil {
		return nil, err
	}
	if err := m.bytes.Acquire(ctx, int64(res.Bytes)); err != nil {
		m.items.Release(int64(res.Items))
		return nil, err
	}
	atomic.AddInt64(&m.holders, 1)
	return &Hold{res: res, pending: btree.New(pendingDegree)}, nil
}

// Commit writes the staged items of h in one batch and releases it. On
// failure nothing is written and h stays open for Release.
func (m *Manager) Commit(ctx context.Context, h *Hold) error {
	if h.done {
		return ErrHoldDone
	}
	if h.pending.Len() > 0 {
		batch := m.kvStore.NewWriteBatch()
		defer batch.Close()
		h.pending.Ascend(func(i btree.Item) bool {
			it := i.(*pendingItem)
			if it.deleted {
				batch.Delete(it.col, it.key)
			} else {
				batch.Put(it.col, it.key, it.value)
			}
			return true
		})
		if err := m.kvStore.Write(ctx, batch); err != nil {
			span := trace.SpanFromContextSafe(ctx)
			span.Errorf("commit %d items failed: %s", h.pending.Len(), err)
			return err
		}
	}
	m.release(h)
	atomic.AddUint64(&m.commits, 1)
	return nil
}

// Release drops the staged items of a hold that was not committed
func (m *Manager) Release(ctx context.Context, h *Hold) {
	if h == nil || h.done {
		return
	}
	if h.pending.Len() > 0 {
		span := trace.SpanFromContextSafe(ctx)
		span.Debugf("discard %d staged items", h.pending.Len())
	}
	m.release(h)
	atomic.AddUint64(&m.discards, 1)
}

func (m *Manager) release(h *Hold) {
	h.done = true
	h.pending.Clear(false)
	if h.index {
		m.indexLock.Lock()
		m.indexSeq++
		m.indexLock.Unlock()
	}
	m.bytes.Release(int64(h.res.Bytes))
	m.items.Release(int64(h.res.Items))
	atomic.AddInt64(&m.holders, -1)
}

func (m *Manager) Stats() Stats {
	m.indexLock.Lock()
	seq := m.indexSeq
	m.indexLock.Unlock()
	return Stats{
		Holders:  atomic.LoadInt64(&m.holders),
		Waiting:  atomic.LoadInt64(&m.waiting),
		Commits:  atomic.LoadUint64(&m.commits),
		Discards: atomic.LoadUint64(&m.discards),
		IndexSeq: seq,
	}
}
