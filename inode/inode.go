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

package inode

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/item"
	"github.com/cubefs/xattrdb/lock"
	"github.com/cubefs/xattrdb/proto"
	"github.com/cubefs/xattrdb/trans"
)

// Items is the part of the item store that keeps inode items
type Items interface {
	Lookup(ctx context.Context, key proto.Key, lck *lock.Lock, h *trans.Hold) ([]byte, error)
	Create(ctx context.Context, key proto.Key, value []byte, lck *lock.Lock, h *trans.Hold) error
	Update(ctx context.Context, key proto.Key, value []byte, lck *lock.Lock, h *trans.Hold) error
	Delete(ctx context.Context, key proto.Key, lck *lock.Lock, h *trans.Hold) error
}

// Inode is the cached view of an inode item. XattrLock serializes xattr
// readers against writers of the same inode, the remaining fields are
// guarded by the inode manager.
type Inode struct {
	Ino       uint64
	XattrLock sync.RWMutex

	lock        sync.Mutex
	nextXattrID uint64
	version     uint64
	ctime       int64
}

type inodeItem struct {
	NextXattrID uint64 `json:"next_xattr_id"`
	Version     uint64 `json:"version"`
	Ctime       int64  `json:"ctime"`
}

type Info struct {
	Ino         uint64 `json:"ino"`
	NextXattrID uint64 `json:"next_xattr_id"`
	Version     uint64 `json:"version"`
	Ctime       int64  `json:"ctime"`
}

func (in *Inode) Info() Info {
	in.lock.Lock()
	defer in.lock.Unlock()
	return Info{Ino: in.Ino, NextXattrID: in.nextXattrID, Version: in.version, Ctime: in.ctime}
}

type Manager struct {
	items Items
	now   func() time.Time

	lock   sync.Mutex
	inodes map[uint64]*Inode
}

func NewManager(items Items) *Manager {
	return &Manager{
		items:  items,
		now:    time.Now,
		inodes: make(map[uint64]*Inode),
	}
}

// Create stages the item of a new inode in h, the caller forgets ino if h
// is not committed
func (m *Manager) Create(ctx context.Context, ino uint64, lck *lock.Lock, h *trans.Hold) (*Inode, error) {
	in := &Inode{Ino: ino, ctime: m.now().UnixNano()}
	if err := m.items.Create(ctx, proto.InodeKey(ino), in.encode(), lck, h); err != nil {
		if err == item.ErrAlreadyExists {
			return nil, apierrors.ErrInoExists
		}
		return nil, err
	}

	m.lock.Lock()
	m.inodes[ino] = in
	m.lock.Unlock()
	return in, nil
}

// Get returns the cached inode, loading it under lck on a miss
func (m *Manager) Get(ctx context.Context, ino uint64, lck *lock.Lock) (*Inode, error) {
	m.lock.Lock()
	in, ok := m.inodes[ino]
	m.lock.Unlock()
	if ok {
		return in, nil
	}

	in = &Inode{Ino: ino}
	if err := m.load(ctx, in, lck); err != nil {
		return nil, err
	}

	m.lock.Lock()
	if cached, ok := m.inodes[ino]; ok {
		in = cached
	} else {
		m.inodes[ino] = in
	}
	m.lock.Unlock()
	return in, nil
}

// RefreshInode reloads a cached inode from its item
func (m *Manager) RefreshInode(ctx context.Context, ino uint64, lck *lock.Lock) error {
	m.lock.Lock()
	in, ok := m.inodes[ino]
	m.lock.Unlock()
	if !ok {
		return nil
	}
	err := m.load(ctx, in, lck)
	if err == apierrors.ErrInoDoesNotExist {
		m.Forget(ino)
		return nil
	}
	return err
}

// AllocXattrID returns the next id of ino's monotonic xattr counter, the
// caller holds XattrLock exclusively
func (m *Manager) AllocXattrID(in *Inode) uint64 {
	in.lock.Lock()
	id := in.nextXattrID
	in.nextXattrID++
	in.lock.Unlock()
	return id
}

// Dirty makes sure the inode item can be updated in the current
// transaction
func (m *Manager) Dirty(ctx context.Context, in *Inode, lck *lock.Lock, h *trans.Hold) error {
	if !lck.Covers(in.Ino, lock.ModeWrite) {
		return apierrors.ErrLockNotCovered
	}
	if _, err := m.items.Lookup(ctx, proto.InodeKey(in.Ino), lck, h); err != nil {
		if err == item.ErrNotFound {
			return apierrors.ErrInoDoesNotExist
		}
		return err
	}
	return nil
}

// Touch bumps the change version and ctime, the returned func undoes it
func (m *Manager) Touch(in *Inode) (undo func()) {
	in.lock.Lock()
	version, ctime := in.version, in.ctime
	in.version++
	in.ctime = m.now().UnixNano()
	in.lock.Unlock()
	return func() {
		in.lock.Lock()
		in.version, in.ctime = version, ctime
		in.lock.Unlock()
	}
}

// Update stages the cached fields into the inode item
func (m *Manager) Update(ctx context.Context, in *Inode, lck *lock.Lock, h *trans.Hold) error {
	err := m.items.Update(ctx, proto.InodeKey(in.Ino), in.encode(), lck, h)
	if err == item.ErrNotFound {
		return apierrors.ErrInoDoesNotExist
	}
	return err
}

// Destroy deletes the inode item, its xattrs must already be dropped
func (m *Manager) Destroy(ctx context.Context, ino uint64, lck *lock.Lock, h *trans.Hold) error {
	err := m.items.Delete(ctx, proto.InodeKey(ino), lck, h)
	if err == item.ErrNotFound {
		err = apierrors.ErrInoDoesNotExist
	}
	m.Forget(ino)
	return err
}

func (m *Manager) Forget(ino uint64) {
	m.lock.Lock()
	delete(m.inodes, ino)
	m.lock.Unlock()
}

func (m *Manager) load(ctx context.Context, in *Inode, lck *lock.Lock) error {
	raw, err := m.items.Lookup(ctx, proto.InodeKey(in.Ino), lck, nil)
	if err != nil {
		if err == item.ErrNotFound {
			return apierrors.ErrInoDoesNotExist
		}
		return err
	}
	var it inodeItem
	if err = json.Unmarshal(raw, &it); err != nil {
		span := trace.SpanFromContextSafe(ctx)
		span.Errorf("decode inode %d item failed: %s", in.Ino, err)
		return apierrors.ErrCorrupt
	}
	in.lock.Lock()
	in.nextXattrID, in.version, in.ctime = it.NextXattrID, it.Version, it.Ctime
	in.lock.Unlock()
	return nil
}

func (in *Inode) encode() []byte {
	in.lock.Lock()
	it := inodeItem{NextXattrID: in.nextXattrID, Version: in.version, Ctime: in.ctime}
	in.lock.Unlock()
	raw, _ := json.Marshal(it)
	return raw
}
