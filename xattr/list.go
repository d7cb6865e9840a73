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

package xattr

import (
	"bytes"
	"context"
	"math"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/item"
	"github.com/cubefs/xattrdb/lock"
	"github.com/cubefs/xattrdb/metrics"
	"github.com/cubefs/xattrdb/proto"
	"github.com/cubefs/xattrdb/trans"
)

// List fills buf with the NUL terminated names of all xattrs of ino in
// key order and returns the bytes used. An empty buf only returns the
// size needed.
func (m *Manager) List(ctx context.Context, ino uint64, buf []byte) (total int, err error) {
	start := time.Now()
	defer func() { metrics.ObserveXattrOp("list", start, err) }()

	staging, release, err := m.stage(headerSize + MaxNameLen)
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

	var (
		key      proto.Key
		nameHash uint64
		id       uint64
	)
	for {
		if _, err = m.findNext(ctx, ino, &key, staging, nil, nameHash, id, lck); err != nil {
			if err == apierrors.ErrNoData {
				return total, nil
			}
			return 0, err
		}

		hdr := decodeHeader(staging)
		off := total
		total += hdr.nameLen + 1
		if len(buf) > 0 {
			if total > len(buf) {
				return 0, apierrors.ErrRangeTooSmall
			}
			copy(buf[off:], staging[headerSize:headerSize+hdr.nameLen])
			buf[total-1] = 0
		}

		if key.ID == math.MaxUint64 {
			if key.NameHash >= math.MaxUint32 {
				return total, nil
			}
			nameHash, id = key.NameHash+1, 0
			continue
		}
		nameHash, id = key.NameHash, key.ID+1
	}
}

// Names returns the names of all xattrs of ino
func (m *Manager) Names(ctx context.Context, ino uint64) ([]string, error) {
	for {
		size, err := m.List(ctx, ino, nil)
		if err != nil {
			return nil, err
		}
		names := []string{}
		if size == 0 {
			return names, nil
		}
		buf := make([]byte, size)
		n, err := m.List(ctx, ino, buf)
		if err == apierrors.ErrRangeTooSmall {
			continue
		}
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return names, nil
		}
		for _, name := range bytes.Split(buf[:n-1], []byte{0}) {
			names = append(names, string(name))
		}
		return names, nil
	}
}

// DropAll deletes every xattr item of ino, committing one transaction per
// batch of items. The caller holds the write lock of ino and makes sure
// nothing else uses the inode.
func (m *Manager) DropAll(ctx context.Context, ino uint64, lck *lock.Lock) (err error) {
	start := time.Now()
	defer func() { metrics.ObserveXattrOp("drop", start, err) }()
	span := trace.SpanFromContextSafe(ctx)

	var (
		hold    *trans.Hold
		batch   int
		dropped int
	)
	defer func() {
		m.trans.Release(ctx, hold)
		metrics.XattrDroppedItems.Add(float64(dropped))
		span.Debugf("dropped %d xattr items of inode %d", dropped, ino)
	}()
	commit := func() error {
		if err := m.trans.Commit(ctx, hold); err != nil {
			return err
		}
		dropped += batch
		hold, batch = nil, 0
		return nil
	}

	key, last := xattrKey(ino, 0, 0), lastXattrKey(ino)
	for {
		key, _, err = m.items.Next(ctx, key, last, nil, lck, hold)
		if err == item.ErrNotFound {
			if hold == nil {
				return nil
			}
			return commit()
		}
		if err != nil {
			return err
		}

		if hold == nil {
			if hold, err = m.trans.Hold(ctx, trans.Reservation{Items: m.cfg.DropBatchItems}); err != nil {
				return err
			}
		}
		if err = m.limiter.WaitDrop(ctx, 1); err != nil {
			return err
		}
		if err = m.items.Delete(ctx, key, lck, hold); err != nil {
			return err
		}

		if batch++; batch == m.cfg.DropBatchItems {
			if err = commit(); err != nil {
				return err
			}
		}
	}
}
