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

// Package xattr stores extended attributes of inodes as items. An
// attribute record is split into parts of at most MaxPartSize bytes keyed
// by <ino, name hash, id, part>.
package xattr

import (
	"context"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/inode"
	"github.com/cubefs/xattrdb/item"
	"github.com/cubefs/xattrdb/lock"
	"github.com/cubefs/xattrdb/metrics"
	"github.com/cubefs/xattrdb/proto"
	"github.com/cubefs/xattrdb/trans"
	"github.com/cubefs/xattrdb/util"
	"github.com/cubefs/xattrdb/util/limiter"
)

// set flags
const (
	FlagCreate  = 0x1
	FlagReplace = 0x2
)

const (
	defaultDropBatchItems    = 16
	defaultRetryWarnInterval = 64

	// worst case size of a dirty inode item
	inodeItemBytes = 128
)

// ItemStore is the subset of item.Store used by xattrs. Writes are staged
// in the hold, reads with a hold see its staged writes.
type ItemStore interface {
	Next(ctx context.Context, key, last proto.Key, buf []byte, lck *lock.Lock, h *trans.Hold) (proto.Key, int, error)
	Create(ctx context.Context, key proto.Key, value []byte, lck *lock.Lock, h *trans.Hold) error
	Delete(ctx context.Context, key proto.Key, lck *lock.Lock, h *trans.Hold) error
	DeleteSave(ctx context.Context, key proto.Key, list *item.SaveList, lck *lock.Lock, h *trans.Hold) error
	Restore(ctx context.Context, list *item.SaveList, lck *lock.Lock, h *trans.Hold) error
	FreeSaved(list *item.SaveList)
}

type Config struct {
	DropBatchItems    int `json:"drop_batch_items"`
	RetryWarnInterval int `json:"retry_warn_interval"`

	Items   ItemStore       `json:"-"`
	Locks   *lock.Manager   `json:"-"`
	Trans   *trans.Manager  `json:"-"`
	Inodes  *inode.Manager  `json:"-"`
	Limiter limiter.Limiter `json:"-"`
}

type Manager struct {
	cfg     Config
	items   ItemStore
	locks   *lock.Manager
	trans   *trans.Manager
	inodes  *inode.Manager
	limiter limiter.Limiter
}

func NewManager(cfg *Config) *Manager {
	c := *cfg
	if c.DropBatchItems <= 0 {
		c.DropBatchItems = defaultDropBatchItems
	}
	if c.RetryWarnInterval <= 0 {
		c.RetryWarnInterval = defaultRetryWarnInterval
	}
	if c.Limiter == nil {
		c.Limiter = limiter.NewLimiter(limiter.LimitConfig{})
	}
	return &Manager{
		cfg:     c,
		items:   c.Items,
		locks:   c.Locks,
		trans:   c.Trans,
		inodes:  c.Inodes,
		limiter: c.Limiter,
	}
}

// Get copies the value of name into buf and returns its length. An empty
// buf only returns the length.
func (m *Manager) Get(ctx context.Context, ino uint64, name string, buf []byte) (n int, err error) {
	start := time.Now()
	defer func() { metrics.ObserveXattrOp("get", start, err) }()
	span := trace.SpanFromContextSafe(ctx)

	if unknownPrefix(name) {
		return 0, apierrors.ErrUnsupportedNamespace
	}
	if len(name) > MaxNameLen {
		return 0, apierrors.ErrNoData
	}

	size := len(buf)
	if size > MaxValLen {
		size = MaxValLen
	}
	staging, release, err := m.stage(headerSize + len(name) + size)
	if err != nil {
		return 0, err
	}
	defer release()

	lck, err := m.locks.Lock(ctx, ino, lock.ModeRead, 0)
	if err != nil {
		return 0, err
	}
	defer m.locks.Unlock(lck)
	in, err := m.inodes.Get(ctx, ino, lck)
	if err != nil {
		return 0, err
	}
	in.XattrLock.RLock()
	defer in.XattrLock.RUnlock()

	var key proto.Key
	total, err := m.findNext(ctx, ino, &key, staging, util.StringsToBytes(name), 0, 0, lck)
	if err != nil {
		return 0, err
	}

	hdr := decodeHeader(staging)
	if len(buf) == 0 {
		return hdr.valLen, nil
	}
	if hdr.valLen > len(buf) {
		return 0, apierrors.ErrRangeTooSmall
	}
	full := recordBytes(hdr.nameLen, hdr.valLen)
	if total < full {
		span.Errorf("xattr %s of inode %d has %d of %d record bytes", key, ino, total, full)
		return 0, apierrors.ErrCorrupt
	}
	return copy(buf, staging[headerSize+hdr.nameLen:full]), nil
}

// Value returns a copy of the whole value of name
func (m *Manager) Value(ctx context.Context, ino uint64, name string) ([]byte, error) {
	for {
		size, err := m.Get(ctx, ino, name, nil)
		if err != nil {
			return nil, err
		}
		value := make([]byte, size)
		if size == 0 {
			return value, nil
		}
		n, err := m.Get(ctx, ino, name, value)
		if err == apierrors.ErrRangeTooSmall {
			// grown since probed
			continue
		}
		if err != nil {
			return nil, err
		}
		return value[:n], nil
	}
}

// Set creates or replaces name, flags constrain whether it may already
// exist
func (m *Manager) Set(ctx context.Context, ino uint64, name string, value []byte, flags int) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveXattrOp("set", start, err) }()
	if value == nil {
		value = []byte{}
	}
	return m.setXattr(ctx, ino, name, value, false, flags)
}

// Remove deletes name, it must exist
func (m *Manager) Remove(ctx context.Context, ino uint64, name string) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveXattrOp("remove", start, err) }()
	return m.setXattr(ctx, ino, name, nil, true, FlagReplace)
}

func (m *Manager) stage(n int) ([]byte, func(), error) {
	releaseStaging, err := m.limiter.AcquireStaging(n)
	if err != nil {
		return nil, nil, apierrors.ErrResourceExhausted
	}
	buf := util.GetBuffer(n)
	return buf, func() {
		util.PutBuffer(buf)
		releaseStaging()
	}, nil
}
