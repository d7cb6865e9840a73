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

package trans

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cubefs/xattrdb/common/kvstore"
	apierrors "github.com/cubefs/xattrdb/errors"
)

var errWrite = errors.New("write failed")

type failingKV struct {
	kvstore.Store
	err error
}

func (f *failingKV) Write(ctx context.Context, batch kvstore.WriteBatch) error {
	if f.err != nil {
		return f.err
	}
	return f.Store.Write(ctx, batch)
}

func newKV(t *testing.T) *failingKV {
	kv, err := kvstore.NewKVStore(context.TODO(), "", kvstore.MemoryKVType, &kvstore.Option{})
	require.NoError(t, err)
	t.Cleanup(kv.Close)
	return &failingKV{Store: kv}
}

func TestTrans_TryLockHold(t *testing.T) {
	ctx := context.TODO()
	m := NewManager(Config{}, newKV(t))

	seq := m.IndexStart(ctx)
	h, err := m.TryLockHold(ctx, seq, Reservation{Items: 3, Bytes: 100})
	require.NoError(t, err)
	require.Equal(t, int64(1), m.Stats().Holders)
	require.NoError(t, m.Commit(ctx, h))
	require.Equal(t, seq+1, m.Stats().IndexSeq)

	// stale sequence gives the reservation back without committing
	_, err = m.TryLockHold(ctx, seq, Reservation{Items: 3, Bytes: 100})
	require.Equal(t, ErrRetry, err)
	require.Equal(t, int64(0), m.Stats().Holders)
	require.Equal(t, uint64(1), m.Stats().Commits)
	require.Equal(t, uint64(0), m.Stats().Discards)
	require.Equal(t, seq+1, m.Stats().IndexSeq)

	// plain holds do not advance the index sequence
	seq = m.IndexStart(ctx)
	h, err = m.Hold(ctx, Reservation{Items: 1})
	require.NoError(t, err)
	require.NoError(t, m.Commit(ctx, h))
	h, err = m.TryLockHold(ctx, seq, Reservation{Items: 1})
	require.NoError(t, err)
	m.Release(ctx, h)
	require.Equal(t, uint64(2), m.Stats().Commits)
	require.Equal(t, uint64(1), m.Stats().Discards)
}

func TestTrans_Capacity(t *testing.T) {
	ctx := context.TODO()
	m := NewManager(Config{MaxHoldItems: 4, MaxHoldBytes: 1024}, newKV(t))

	_, err := m.Hold(ctx, Reservation{Items: 5})
	require.Equal(t, apierrors.ErrResourceExhausted, err)
	_, err = m.Hold(ctx, Reservation{Items: 1, Bytes: 2048})
	require.Equal(t, apierrors.ErrResourceExhausted, err)

	h1, err := m.Hold(ctx, Reservation{Items: 3})
	require.NoError(t, err)

	acquired := make(chan *Hold)
	go func() {
		h2, err := m.Hold(ctx, Reservation{Items: 2})
		require.NoError(t, err)
		acquired <- h2
	}()
	require.Eventually(t, func() bool { return m.Stats().Waiting == 1 }, time.Second, time.Millisecond)
	select {
	case <-acquired:
		t.Fatal("hold granted beyond capacity")
	case <-time.After(100 * time.Millisecond):
	}
	m.Release(ctx, h1)
	m.Release(ctx, <-acquired)
	require.Equal(t, int64(0), m.Stats().Waiting)

	cctx, cancel := context.WithCancel(ctx)
	h1, err = m.Hold(ctx, Reservation{Items: 4})
	require.NoError(t, err)
	cancel()
	_, err = m.Hold(cctx, Reservation{Items: 1})
	require.Error(t, err)
	m.Release(ctx, h1)
	require.Equal(t, int64(0), m.Stats().Holders)
}

func TestTrans_Staging(t *testing.T) {
	ctx := context.TODO()
	kv := newKV(t)
	m := NewManager(Config{}, kv)
	col := kvstore.DefaultCF

	h, err := m.Hold(ctx, Reservation{Items: 2})
	require.NoError(t, err)
	value := []byte("v1")
	require.NoError(t, h.Put(col, []byte("a"), value))
	value[0] = 'X'
	require.NoError(t, h.Delete(col, []byte("b")))
	// restaging a key does not take another item
	require.NoError(t, h.Put(col, []byte("b"), []byte("v2")))
	require.Equal(t, apierrors.ErrResourceExhausted, h.Put(col, []byte("c"), nil))
	require.Equal(t, 2, h.Len())

	v, deleted, ok := h.Get(col, []byte("a"))
	require.True(t, ok)
	require.False(t, deleted)
	require.Equal(t, []byte("v1"), v)
	_, _, ok = h.Get(col, []byte("c"))
	require.False(t, ok)
	_, _, ok = h.Get(kvstore.CF("other"), []byte("a"))
	require.False(t, ok)

	var keys []string
	h.Ascend(col, []byte("a\x00"), func(key, value []byte, deleted bool) bool {
		keys = append(keys, string(key))
		return true
	})
	require.Equal(t, []string{"b"}, keys)

	// nothing is visible before commit
	_, err = kv.GetRaw(ctx, col, []byte("a"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)
	require.NoError(t, m.Commit(ctx, h))
	v, err = kv.GetRaw(ctx, col, []byte("b"))
	require.NoError(t, err)
	require.Equal(t, []byte("v2"), v)

	require.Equal(t, ErrHoldDone, h.Put(col, []byte("a"), nil))
	require.Equal(t, ErrHoldDone, m.Commit(ctx, h))
	m.Release(ctx, h)
	require.Equal(t, uint64(0), m.Stats().Discards)

	var nilHold *Hold
	_, _, ok = nilHold.Get(col, []byte("a"))
	require.False(t, ok)
	m.Release(ctx, nilHold)
}

func TestTrans_ReleaseDiscards(t *testing.T) {
	ctx := context.TODO()
	kv := newKV(t)
	m := NewManager(Config{}, kv)
	col := kvstore.DefaultCF

	h, err := m.Hold(ctx, Reservation{Items: 1})
	require.NoError(t, err)
	require.NoError(t, h.Put(col, []byte("a"), []byte("v1")))
	m.Release(ctx, h)
	_, err = kv.GetRaw(ctx, col, []byte("a"))
	require.ErrorIs(t, err, kvstore.ErrNotFound)
	require.Equal(t, uint64(1), m.Stats().Discards)
	require.Equal(t, int64(0), m.Stats().Holders)
}

func TestTrans_CommitFailure(t *testing.T) {
	ctx := context.TODO()
	kv := newKV(t)
	m := NewManager(Config{}, kv)
	col := kvstore.DefaultCF

	seq := m.IndexStart(ctx)
	h, err := m.TryLockHold(ctx, seq, Reservation{Items: 2})
	require.NoError(t, err)
	require.NoError(t, h.Put(col, []byte("a"), []byte("v1")))
	require.NoError(t, h.Put(col, []byte("b"), []byte("v2")))

	kv.err = errWrite
	require.ErrorIs(t, m.Commit(ctx, h), errWrite)
	require.Equal(t, int64(1), m.Stats().Holders)
	require.Equal(t, seq, m.Stats().IndexSeq)

	m.Release(ctx, h)
	kv.err = nil
	for _, k := range []string{"a", "b"} {
		_, err = kv.GetRaw(ctx, col, []byte(k))
		require.ErrorIs(t, err, kvstore.ErrNotFound)
	}
	require.Equal(t, uint64(0), m.Stats().Commits)
	require.Equal(t, seq+1, m.Stats().IndexSeq)
	require.Equal(t, int64(0), m.Stats().Holders)
}
