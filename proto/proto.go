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

package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	ReqIdKey = "req-id"

	// FSZone holds every per-inode item.
	FSZone = uint8(1)

	// item types inside FSZone, inode item sorts before its xattrs
	InodeType = uint8(1)
	XattrType = uint8(2)

	KeySize = 1 + 8 + 1 + 8 + 8 + 1
)

var ErrInvalidKey = errors.New("invalid item key")

// Key addresses one item. Encoded keys compare bytewise in the same order
// as Compare orders the fields.
type Key struct {
	Zone     uint8
	Ino      uint64
	Type     uint8
	NameHash uint64
	ID       uint64
	Part     uint8
}

func InodeKey(ino uint64) Key {
	return Key{Zone: FSZone, Ino: ino, Type: InodeType}
}

func (k Key) Encode() []byte {
	raw := make([]byte, KeySize)
	k.EncodeTo(raw)
	return raw
}

// EncodeTo writes the key into raw, raw must be at least KeySize long
func (k Key) EncodeTo(raw []byte) {
	raw[0] = k.Zone
	binary.BigEndian.PutUint64(raw[1:], k.Ino)
	raw[9] = k.Type
	binary.BigEndian.PutUint64(raw[10:], k.NameHash)
	binary.BigEndian.PutUint64(raw[18:], k.ID)
	raw[26] = k.Part
}

func DecodeKey(raw []byte) (Key, error) {
	if len(raw) != KeySize {
		return Key{}, ErrInvalidKey
	}
	return Key{
		Zone:     raw[0],
		Ino:      binary.BigEndian.Uint64(raw[1:]),
		Type:     raw[9],
		NameHash: binary.BigEndian.Uint64(raw[10:]),
		ID:       binary.BigEndian.Uint64(raw[18:]),
		Part:     raw[26],
	}, nil
}

func (k Key) Compare(o Key) int {
	switch {
	case k.Zone != o.Zone:
		return cmpUint64(uint64(k.Zone), uint64(o.Zone))
	case k.Ino != o.Ino:
		return cmpUint64(k.Ino, o.Ino)
	case k.Type != o.Type:
		return cmpUint64(uint64(k.Type), uint64(o.Type))
	case k.NameHash != o.NameHash:
		return cmpUint64(k.NameHash, o.NameHash)
	case k.ID != o.ID:
		return cmpUint64(k.ID, o.ID)
	default:
		return cmpUint64(uint64(k.Part), uint64(o.Part))
	}
}

func (k Key) Less(o Key) bool {
	return k.Compare(o) < 0
}

func (k Key) String() string {
	return fmt.Sprintf("%d.%d.%d.%x.%d.%d", k.Zone, k.Ino, k.Type, k.NameHash, k.ID, k.Part)
}

func cmpUint64(a, b uint64) int {
	if a < b {
		return -1
	}
	return 1
}
