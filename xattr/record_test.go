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
	"testing"

	"github.com/stretchr/testify/require"

	apierrors "github.com/cubefs/xattrdb/errors"
	"github.com/cubefs/xattrdb/proto"
)

func TestHashName(t *testing.T) {
	// crc32c("123456789") is 0xe3069283 with the final inversion
	require.Equal(t, uint32(0x1cf96d7c), hashName([]byte("123456789")))
	require.Equal(t, uint32(0xffffffff), hashName(nil))
	require.NotEqual(t, hashName([]byte("user.a")), hashName([]byte("user.b")))
}

func TestNrParts(t *testing.T) {
	require.Equal(t, 1, nrParts(1, 0))
	require.Equal(t, 1, nrParts(6, MaxPartSize-headerSize-6))
	require.Equal(t, 2, nrParts(6, MaxPartSize-headerSize-5))
	require.Equal(t, 17, nrParts(MaxNameLen, MaxValLen))
}

func TestRecordEncode(t *testing.T) {
	buf := make([]byte, recordBytes(6, 5))
	for i := range buf {
		buf[i] = 0xff
	}
	n := encodeRecord(buf, "user.a", []byte("hello"))
	require.Equal(t, len(buf), n)
	require.Equal(t, []byte{5, 0, 6, 0, 0, 0, 0, 0}, buf[:headerSize])
	require.Equal(t, "user.ahello", string(buf[headerSize:]))
	require.Equal(t, header{valLen: 5, nameLen: 6}, decodeHeader(buf))
	require.True(t, decodeHeader(buf).valid())

	big := header{valLen: MaxValLen, nameLen: MaxNameLen}
	big.encodeTo(buf)
	require.Equal(t, big, decodeHeader(buf))
}

func TestNamesEqual(t *testing.T) {
	require.True(t, namesEqual([]byte("user.a"), 6, []byte("user.a!!"), 6))
	require.False(t, namesEqual([]byte("user.a"), 6, []byte("user.ab"), 7))
	require.False(t, namesEqual([]byte("user.a"), 6, []byte("user.b"), 6))
}

func TestUnknownPrefix(t *testing.T) {
	for _, name := range []string{"user.a", "trusted.a", "system.posix_acl_access", "security.selinux", "user."} {
		require.False(t, unknownPrefix(name), name)
	}
	for _, name := range []string{"", "user", "foo.bar", "USER.a", "os2.a"} {
		require.True(t, unknownPrefix(name), name)
	}
}

func TestKeys(t *testing.T) {
	first, last := xattrKey(1, 0, 0), lastXattrKey(1)
	require.True(t, proto.InodeKey(1).Less(first))
	require.True(t, first.Less(last))
	require.True(t, last.Less(proto.InodeKey(2)))

	k, err := partKey(first, 16)
	require.NoError(t, err)
	require.Equal(t, uint8(16), k.Part)
	_, err = partKey(first, math.MaxUint8+1)
	require.Equal(t, apierrors.ErrInvalidArgument, err)
}
