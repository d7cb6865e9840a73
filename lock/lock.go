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

// Package lock grants per inode lock tokens. A token covers every item
// of its inode, read mode for lookups and write mode for modification.
package lock

import (
	"context"
	"sync"

	"github.com/cubefs/cubefs/blobstore/common/trace"
)

type Mode int

const (
	ModeRead Mode = iota + 1
	ModeWrite
)

// FlagRefreshInode reloads the cached inode once the lock is granted
const FlagRefreshInode = 1 << 0

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "unknown"
	}
}

// Refresher reloads the cached state of an inode under a granted lock
type Refresher interface {
	RefreshInode(ctx context.Context, ino uint64, lck *Lock) error
}

type Lock struct {
	ino   uint64
	mode  Mode
	entry *lockEntry
}

func (l *Lock) Ino() uint64 {
	return l.ino
}

func (l *Lock) Mode() Mode {
	return l.mode
}

// Covers reports whether l allows access of mode to items of ino
func (l *Lock) Covers(ino uint64, mode Mode) bool {
	if l == nil || l.ino != ino {
		return false
	}
	return mode == ModeRead || l.mode == ModeWrite
}

type lockEntry struct {
	rw   sync.RWMutex
	refs int
}

type Stats struct {
	Inodes int `json:"inodes"`
	Holds  int `json:"holds"`
}

type Manager struct {
	lock      sync.Mutex
	entries   map[uint64]*lockEntry
	refresher Refresher
}

func NewManager(refresher Refresher) *Manager {
	return &Manager{
		entries:   make(map[uint64]*lockEntry),
		refresher: refresher,
	}
}

// Lock blocks until the token of ino is granted in mode
func (m *Manager) Lock(ctx context.Context, ino uint64, mode Mode, flags int) (*Lock, error) {
	m.lock.Lock()
	entry, ok := m.entries[ino]
	if !ok {
		entry = &lockEntry{}
		m.entries[ino] = entry
	}
	entry.refs++
	m.lock.Unlock()

	if mode == ModeWrite {
		entry.rw.Lock()
	} else {
		entry.rw.RLock()
	}
	lck := &Lock{ino: ino, mode: mode, entry: entry}

	if flags&FlagRefreshInode != 0 && m.refresher != nil {
		if err := m.refresher.RefreshInode(ctx, ino, lck); err != nil {
			span := trace.SpanFromContextSafe(ctx)
			span.Warnf("refresh inode %d under %s lock failed: %s", ino, mode, err)
			m.Unlock(lck)
			return nil, err
		}
	}
	return lck, nil
}

func (m *Manager) Unlock(lck *Lock) {
	if lck.mode == ModeWrite {
		lck.entry.rw.Unlock()
	} else {
		lck.entry.rw.RUnlock()
	}

	m.lock.Lock()
	lck.entry.refs--
	if lck.entry.refs == 0 {
		delete(m.entries, lck.ino)
	}
	m.lock.Unlock()
}

func (m *Manager) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()
	st := Stats{Inodes: len(m.entries)}
	for _, entry := range m.entries {
		st.Holds += entry.refs
	}
	return st
}
