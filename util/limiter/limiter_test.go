// Copyright 2023 The Cuber Authors.
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

package limiter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiter_Staging(t *testing.T) {
	l := NewLimiter(LimitConfig{StagingBytes: 100})

	release1, err := l.AcquireStaging(60)
	require.NoError(t, err)
	_, err = l.AcquireStaging(60)
	require.Equal(t, ErrLimitExceeded, err)
	require.Equal(t, 60, l.Status().StagingRunning)

	l.SetStagingBytes(200)
	release2, err := l.AcquireStaging(60)
	require.NoError(t, err)
	require.Equal(t, 120, l.Status().StagingRunning)
	release1()
	release2()
	// releasing twice gives nothing back
	release2()
	require.Equal(t, 0, l.Status().StagingRunning)
	require.Equal(t, 200, l.GetConfig().StagingBytes)
}

func TestLimiter_StagingLimitSetWhileHeld(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	release, err := l.AcquireStaging(100)
	require.NoError(t, err)

	// the bytes were not counted against the new limit
	l.SetStagingBytes(1 << 20)
	release()
	require.Equal(t, 0, l.Status().StagingRunning)

	release, err = l.AcquireStaging(10)
	require.NoError(t, err)
	require.Equal(t, 10, l.Status().StagingRunning)
	release()
	require.Equal(t, 0, l.Status().StagingRunning)
}

func TestLimiter_Unlimited(t *testing.T) {
	l := NewLimiter(LimitConfig{})
	release, err := l.AcquireStaging(1 << 30)
	require.NoError(t, err)
	release()
	require.NoError(t, l.WaitDrop(context.TODO(), 1<<20))
	require.Equal(t, 0, l.Status().DropWait)
}

func TestLimiter_ConcurrentStaging(t *testing.T) {
	l := NewLimiter(LimitConfig{StagingBytes: 1 << 20})
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if release, err := l.AcquireStaging(4096); err == nil {
					release()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 0, l.Status().StagingRunning)
}

func TestLimiter_DropRate(t *testing.T) {
	l := NewLimiter(LimitConfig{DropItemsPerSec: 10})

	now := time.Now()
	// burst is one second worth of items
	require.NoError(t, l.WaitDrop(context.TODO(), 10))
	require.NoError(t, l.WaitDrop(context.TODO(), 5))
	require.True(t, time.Since(now) >= 400*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.WaitDrop(ctx, 10))

	l.SetDropItemsPerSec(1000)
	require.Equal(t, 1000, l.GetConfig().DropItemsPerSec)
}

func TestCountLimit(t *testing.T) {
	l := NewCountLimit(1)
	require.NoError(t, l.Acquire())
	require.Equal(t, ErrLimitExceeded, l.Acquire())
	l.SetLimit(2)
	require.NoError(t, l.Acquire())
	require.Equal(t, 2, l.Running())
	l.Release()
	l.Release()
	require.Equal(t, 0, l.Running())
}
