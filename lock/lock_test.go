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

package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type mockRefresher struct {
	calls int32
	err   error
}

func (r *mockRefresher) RefreshInode(ctx context.Context, ino uint64, lck *Lock) error {
	atomic.AddInt32(&r.calls, 1)
	if !lck.Covers(ino, ModeRead) {
		return errors.New("refresh outside of the lock")
	}
	return r.err
}

func TestLock_Covers(t *testing.T) {
	m := NewManager(nil)
	ctx := context.TODO()

	lck, err := m.Lock(ctx, 1, ModeRead, 0)
	require.NoError(t, err)
	require.True(t, lck.Covers(1, ModeRead))
	require.False(t, lck.Covers(1, ModeWrite))
	require.False(t, lck.Covers(2, ModeRead))
	m.Unlock(lck)

	lck, err = m.Lock(ctx, 1, ModeWrite, 0)
	require.NoError(t, err)
	require.True(t, lck.Covers(1, ModeWrite))
	require.Equal(t, uint64(1), lck.Ino())
	require.Equal(t, ModeWrite, lck.Mode())
	m.Unlock(lck)

	var nilLock *Lock
	require.False(t, nilLock.Covers(1, ModeRead))
	require.Equal(t, Stats{}, m.Stats())
}

func TestLock_SharedReaders(t *testing.T) {
	m := NewManager(nil)
	ctx := context.TODO()

	r1, err := m.Lock(ctx, 1, ModeRead, 0)
	require.NoError(t, err)
	r2, err := m.Lock(ctx, 1, ModeRead, 0)
	require.NoError(t, err)
	require.Equal(t, Stats{Inodes: 1, Holds: 2}, m.Stats())

	granted := make(chan struct{})
	go func() {
		w, err := m.Lock(ctx, 1, ModeWrite, 0)
		require.NoError(t, err)
		close(granted)
		m.Unlock(w)
	}()

	select {
	case <-granted:
		t.Fatal("writer granted while readers hold the lock")
	case <-time.After(100 * time.Millisecond):
	}
	m.Unlock(r1)
	m.Unlock(r2)
	<-granted

	// other inodes are independent
	w1, err := m.Lock(ctx, 1, ModeWrite, 0)
	require.NoError(t, err)
	w2, err := m.Lock(ctx, 2, ModeWrite, 0)
	require.NoError(t, err)
	m.Unlock(w1)
	m.Unlock(w2)
}

func TestLock_Refresh(t *testing.T) {
	r := &mockRefresher{}
	m := NewManager(r)
	ctx := context.TODO()

	lck, err := m.Lock(ctx, 1, ModeWrite, FlagRefreshInode)
	require.NoError(t, err)
	m.Unlock(lck)
	require.Equal(t, int32(1), atomic.LoadInt32(&r.calls))

	lck, err = m.Lock(ctx, 1, ModeWrite, 0)
	require.NoError(t, err)
	m.Unlock(lck)
	require.Equal(t, int32(1), atomic.LoadInt32(&r.calls))

	// failed refresh releases the lock
	r.err = errors.New("refresh failed")
	_, err = m.Lock(ctx, 1, ModeWrite, FlagRefreshInode)
	require.Equal(t, r.err, err)
	require.Equal(t, Stats{}, m.Stats())
}
