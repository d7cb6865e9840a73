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
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/item"
	"github.com/cubefs/xattrdb/lock"
	"github.com/cubefs/xattrdb/metrics"
	"github.com/cubefs/xattrdb/proto"
	"github.com/cubefs/xattrdb/trans"
	"github.com/cubefs/xattrdb/util"
)

// setXattr replaces the parts of name with a record of value, or only
// deletes them when remove is set. All item writes are staged in one hold
// and committed together with the inode item. Deleted parts are saved and
// put back into the hold if anything fails before the commit.
func (m *Manager) setXattr(ctx context.Context, ino uint64, name string, value []byte, remove bool, flags int) (err error) {
	span := trace.SpanFromContextSafe(ctx)

	nameLen := len(name)
	if nameLen > MaxNameLen {
		return apierrors.ErrNameTooLong
	}
	if !remove && len(value) > MaxValLen {
		return apierrors.ErrValueTooLarge
	}
	if flags&^(FlagCreate|FlagReplace) != 0 || flags == FlagCreate|FlagReplace {
		return apierrors.ErrInvalidFlags
	}
	if unknownPrefix(name) {
		return apierrors.ErrUnsupportedNamespace
	}
	if remove {
		value = nil
	}

	bytes := recordBytes(nameLen, len(value))
	buf, release, err := m.stage(bytes)
	if err != nil {
		return err
	}
	defer release()

	lck, err := m.locks.Lock(ctx, ino, lock.ModeWrite, lock.FlagRefreshInode)
	if err != nil {
		return err
	}
	defer m.locks.Unlock(lck)
	in, err := m.inodes.Get(ctx, ino, lck)
	if err != nil {
		return err
	}
	in.XattrLock.Lock()
	defer in.XattrLock.Unlock()

	var oldKey proto.Key
	_, err = m.findNext(ctx, ino, &oldKey, buf[:headerSize+nameLen], util.StringsToBytes(name), 0, 0, lck)
	if err != nil && err != apierrors.ErrNoData {
		return err
	}
	found := err == nil
	switch {
	case !found && flags&FlagReplace != 0:
		return apierrors.ErrNoData
	case found && flags&FlagCreate != 0:
		return apierrors.ErrAlreadyExists
	case !found && remove:
		return nil
	}

	oldParts := 0
	if found {
		hdr := decodeHeader(buf)
		oldParts = nrParts(hdr.nameLen, hdr.valLen)
	}
	newParts := 0
	res := trans.Reservation{Items: oldParts + 1, Bytes: inodeItemBytes}
	var id uint64
	if !remove {
		id = m.inodes.AllocXattrID(in)
		encodeRecord(buf, name, value)
		newParts = nrParts(nameLen, len(value))
		res.Items += newParts
		res.Bytes += bytes
	}

	hold, err := m.holdIndex(ctx, res)
	if err != nil {
		return err
	}
	defer m.trans.Release(ctx, hold)

	if err = m.inodes.Dirty(ctx, in, lck, hold); err != nil {
		return err
	}

	var (
		saved   item.SaveList
		created bool
		newKey  = xattrKey(ino, uint64(hashName(util.StringsToBytes(name))), id)
	)
	defer func() {
		if err == nil {
			m.items.FreeSaved(&saved)
			return
		}
		if created {
			m.deleteParts(ctx, newKey, newParts, nil, lck, hold)
		}
		if saved.Len() > 0 {
			span.Warnf("set xattr %s of inode %d failed, restoring %d items: %s", name, ino, saved.Len(), err)
			metrics.XattrRestores.Inc()
			if rerr := m.items.Restore(ctx, &saved, lck, hold); rerr != nil {
				span.Errorf("restore %d items of inode %d failed: %s", saved.Len(), ino, rerr)
			}
		}
	}()

	if found {
		if err = m.deleteParts(ctx, oldKey, oldParts, &saved, lck, hold); err != nil {
			return err
		}
	}
	if !remove {
		if err = m.createParts(ctx, newKey, buf[:bytes], lck, hold); err != nil {
			return err
		}
		created = true
	}

	undo := m.inodes.Touch(in)
	if err = m.inodes.Update(ctx, in, lck, hold); err == nil {
		err = m.trans.Commit(ctx, hold)
	}
	if err != nil {
		undo()
		return err
	}
	span.Debugf("set xattr %s of inode %d, %d parts replaced by %d", name, ino, oldParts, newParts)
	return nil
}

// holdIndex retries until the hold is granted with an unchanged index
// sequence
func (m *Manager) holdIndex(ctx context.Context, res trans.Reservation) (*trans.Hold, error) {
	for retries := 1; ; retries++ {
		seq := m.trans.IndexStart(ctx)
		hold, err := m.trans.TryLockHold(ctx, seq, res)
		if err != trans.ErrRetry {
			return hold, err
		}
		metrics.TransRetries.Inc()
		if retries%m.cfg.RetryWarnInterval == 0 {
			span := trace.SpanFromContextSafe(ctx)
			span.Warnf("transaction hold %+v retried %d times", res, retries)
		}
		if err = ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// createParts writes rec as parts of key, parts already created are
// deleted again on failure
func (m *Manager) createParts(ctx context.Context, key proto.Key, rec []byte, lck *lock.Lock, hold *trans.Hold) error {
	part := 0
	for off := 0; off < len(rec); part++ {
		end := off + MaxPartSize
		if end > len(rec) {
			end = len(rec)
		}
		pkey, err := partKey(key, part)
		if err == nil {
			err = m.items.Create(ctx, pkey, rec[off:end], lck, hold)
		}
		if err != nil {
			m.deleteParts(ctx, key, part, nil, lck, hold)
			return err
		}
		off = end
	}
	return nil
}

// deleteParts deletes the first parts of key, saving them when saved is
// not nil. Without saved it is a best effort cleanup.
func (m *Manager) deleteParts(ctx context.Context, key proto.Key, parts int, saved *item.SaveList, lck *lock.Lock, hold *trans.Hold) error {
	span := trace.SpanFromContextSafe(ctx)
	for part := 0; part < parts; part++ {
		pkey, err := partKey(key, part)
		if err != nil {
			return err
		}
		if saved != nil {
			if err = m.items.DeleteSave(ctx, pkey, saved, lck, hold); err != nil {
				return err
			}
			continue
		}
		if err = m.items.Delete(ctx, pkey, lck, hold); err != nil {
			span.Errorf("cleanup xattr item %s failed: %s", pkey, err)
		}
	}
	return nil
}
