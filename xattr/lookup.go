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
	"math"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/item"
	"github.com/cubefs/xattrdb/lock"
	"github.com/cubefs/xattrdb/proto"
)

// findNext reads the parts of one xattr into buf until buf is full or the
// last part is read, and returns the bytes read. With a name it finds the
// xattr of that name, walking the ids of colliding hashes. Without a name
// it finds the first xattr at or after <nameHash, id>. key is set to the
// part 0 key of the xattr found.
func (m *Manager) findNext(ctx context.Context, ino uint64, key *proto.Key, buf []byte, name []byte,
	nameHash, id uint64, lck *lock.Lock,
) (int, error) {
	if len(buf) < headerSize+len(name) {
		return 0, apierrors.ErrInvalidArgument
	}
	if len(name) > 0 {
		nameHash = uint64(hashName(name))
		id = 0
	}

	*key = xattrKey(ino, nameHash, id)
	last := lastXattrKey(ino)

	var (
		part     int
		lastPart int
		total    int
	)
	for {
		start := *key
		start.Part = uint8(part)
		found, n, err := m.items.Next(ctx, start, last, buf[total:], lck, nil)
		if err != nil {
			if err != item.ErrNotFound {
				return 0, err
			}
			if part > 0 {
				return 0, m.corrupt(ctx, start, "missing part")
			}
			return 0, apierrors.ErrNoData
		}
		if int(found.Part) != part {
			return 0, m.corrupt(ctx, found, "unexpected part")
		}
		if part > 0 && (found.NameHash != key.NameHash || found.ID != key.ID) {
			return 0, m.corrupt(ctx, found, "part of another xattr")
		}
		*key = found

		if part == 0 {
			if n < headerSize {
				return 0, m.corrupt(ctx, found, "short header")
			}
			hdr := decodeHeader(buf)
			if !hdr.valid() {
				return 0, m.corrupt(ctx, found, "invalid header")
			}
			if headerSize+hdr.nameLen <= len(buf) && n < headerSize+hdr.nameLen {
				return 0, m.corrupt(ctx, found, "short name")
			}

			if len(name) > 0 {
				if found.NameHash != nameHash {
					return 0, apierrors.ErrNoData
				}
				if !namesEqual(name, len(name), buf[headerSize:], hdr.nameLen) {
					if found.ID == math.MaxUint64 {
						return 0, apierrors.ErrNoData
					}
					*key = xattrKey(ino, nameHash, found.ID+1)
					continue
				}
			}
			lastPart = nrParts(hdr.nameLen, hdr.valLen) - 1
		}

		total += n
		if total == len(buf) || part == lastPart {
			return total, nil
		}
		part++
	}
}

func (m *Manager) corrupt(ctx context.Context, key proto.Key, reason string) error {
	span := trace.SpanFromContextSafe(ctx)
	span.Errorf("corrupt xattr item %s: %s", key, reason)
	return apierrors.ErrCorrupt
}
