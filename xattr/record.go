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
	"encoding/binary"
	"hash/crc32"
	"strings"
)

const (
	MaxNameLen  = 255
	MaxValLen   = 65535
	MaxPartSize = 4096

	// value length le16, name length u8, 5 pad bytes
	headerSize = 8
)

var (
	castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

	namespaces = []string{"user.", "trusted.", "system.", "security."}
)

// hashName is crc32c seeded with all ones, without the final inversion
func hashName(name []byte) uint32 {
	return ^crc32.Checksum(name, castagnoliTable)
}

func unknownPrefix(name string) bool {
	for _, prefix := range namespaces {
		if strings.HasPrefix(name, prefix) {
			return false
		}
	}
	return true
}

type header struct {
	valLen  int
	nameLen int
}

func decodeHeader(b []byte) header {
	return header{
		valLen:  int(binary.LittleEndian.Uint16(b[0:2])),
		nameLen: int(b[2]),
	}
}

func (h header) encodeTo(b []byte) {
	binary.LittleEndian.PutUint16(b[0:2], uint16(h.valLen))
	b[2] = uint8(h.nameLen)
	for i := 3; i < headerSize; i++ {
		b[i] = 0
	}
}

func (h header) valid() bool {
	return h.nameLen <= MaxNameLen && h.valLen <= MaxValLen
}

func recordBytes(nameLen, valLen int) int {
	return headerSize + nameLen + valLen
}

func nrParts(nameLen, valLen int) int {
	return (recordBytes(nameLen, valLen) + MaxPartSize - 1) / MaxPartSize
}

// encodeRecord lays out header, name and value in buf and returns the
// record length
func encodeRecord(buf []byte, name string, value []byte) int {
	header{valLen: len(value), nameLen: len(name)}.encodeTo(buf)
	n := headerSize
	n += copy(buf[n:], name)
	n += copy(buf[n:], value)
	return n
}

func namesEqual(a []byte, aLen int, b []byte, bLen int) bool {
	return aLen == bLen && bytes.Equal(a[:aLen], b[:bLen])
}
