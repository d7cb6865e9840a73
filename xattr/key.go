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
	"math"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/proto"
)

func xattrKey(ino, nameHash, id uint64) proto.Key {
	return proto.Key{
		Zone:     proto.FSZone,
		Ino:      ino,
		Type:     proto.XattrType,
		NameHash: nameHash,
		ID:       id,
	}
}

// lastXattrKey sorts after every part of every xattr of ino
func lastXattrKey(ino uint64) proto.Key {
	key := xattrKey(ino, math.MaxUint32, math.MaxUint64)
	key.Part = math.MaxUint8
	return key
}

func partKey(key proto.Key, part int) (proto.Key, error) {
	if part < 0 || part > math.MaxUint8 {
		return proto.Key{}, apierrors.ErrInvalidArgument
	}
	key.Part = uint8(part)
	return key, nil
}
