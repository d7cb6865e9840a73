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
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var ErrLimitExceeded = errors.New("limit exceeded")

type (
	// Limiter admits staging buffers by total bytes and paces item
	// deletion of whole-inode drops. Zero configured limits disable the
	// respective check. The release returned by AcquireStaging gives the
	// bytes back to the limit they were taken from.
	Limiter interface {
		AcquireStaging(n int) (release func(), err error)
		WaitDrop(ctx context.Context, n int) error
		SetStagingBytes(value uint32)
		SetDropItemsPerSec(value int)
		GetConfig() *LimitConfig
		Status() Status
	}
	CountLimit interface {
		Running() int
		Acquire() error
		AcquireN(n int) error
		Release()
		ReleaseN(n int)
		SetLimit(limit uint32)
	}
	LimitConfig struct {
		StagingBytes    int `json:"staging_bytes"`
		DropItemsPerSec int `json:"drop_items_per_sec"`
	}
	Status struct {
		Config         LimitConfig `json:"config"`
		StagingRunning int         `json:"staging_running"`
		DropWait       int         `json:"drop_wait"`
	}
	limiter struct {
		config       LimitConfig
		stagingLimit CountLimit
		dropRate     *rate.Limiter
		lock         sync.RWMutex
	}
)

func NewLimiter(cfg LimitConfig) Limiter {
	limiter := &limiter{}
	if cfg.StagingBytes > 0 {
		limiter.stagingLimit = NewCountLimit(cfg.StagingBytes)
	}
	if cfg.DropItemsPerSec > 0 {
		limiter.dropRate = rate.NewLimiter(rate.Limit(cfg.DropItemsPerSec), cfg.DropItemsPerSec)
	}
	limiter.config = cfg
	return limiter
}

func (lim *limiter) AcquireStaging(n int) (func(), error) {
	lim.lock.RLock()
	l := lim.stagingLimit
	lim.lock.RUnlock()
	if l == nil {
		return func() {}, nil
	}
	if err := l.AcquireN(n); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.ReleaseN(n) }) }, nil
}

func (lim *limiter) WaitDrop(ctx context.Context, n int) error {
	lim.lock.RLock()
	r := lim.dropRate
	lim.lock.RUnlock()
	if r == nil {
		return nil
	}
	return r.WaitN(ctx, n)
}

func (lim *limiter) SetStagingBytes(value uint32) {
	lim.lock.Lock()
	if lim.stagingLimit == nil {
		lim.stagingLimit = NewCountLimit(int(value))
	} else {
		lim.stagingLimit.SetLimit(value)
	}
	lim.config.StagingBytes = int(value)
	lim.lock.Unlock()
}

func (lim *limiter) SetDropItemsPerSec(value int) {
	lim.lock.Lock()
	if lim.dropRate == nil {
		lim.dropRate = rate.NewLimiter(rate.Limit(value), value)
	} else {
		lim.dropRate.SetLimit(rate.Limit(value))
		lim.dropRate.SetBurst(value)
	}
	lim.config.DropItemsPerSec = value
	lim.lock.Unlock()
}

func (lim *limiter) GetConfig() *LimitConfig {
	lim.lock.RLock()
	cfg := lim.config
	lim.lock.RUnlock()
	return &cfg
}

func (lim *limiter) Status() Status {
	lim.lock.RLock()
	defer lim.lock.RUnlock()
	st := Status{
		Config: lim.config,
	}
	if lim.stagingLimit != nil {
		st.StagingRunning = lim.stagingLimit.Running()
	}
	st.DropWait = rateWait(lim.dropRate)
	return st
}

func rateWait(r *rate.Limiter) int {
	if r == nil {
		return 0
	}
	now := time.Now()
	reserve := r.ReserveN(now, int(r.Limit())/2)
	duration := reserve.DelayFrom(now)
	reserve.Cancel()
	return int(duration.Milliseconds())
}

type countLimit struct {
	limit   uint32
	current uint32
}

// NewCountLimit returns limiter with concurrent n
func NewCountLimit(n int) CountLimit {
	return &countLimit{limit: uint32(n)}
}

func (l *countLimit) Running() int {
	return int(atomic.LoadUint32(&l.current))
}

func (l *countLimit) Acquire() error {
	return l.AcquireN(1)
}

func (l *countLimit) AcquireN(n int) error {
	if atomic.AddUint32(&l.current, uint32(n)) > atomic.LoadUint32(&l.limit) {
		atomic.AddUint32(&l.current, ^uint32(n-1))
		return ErrLimitExceeded
	}
	return nil
}

func (l *countLimit) Release() {
	l.ReleaseN(1)
}

func (l *countLimit) ReleaseN(n int) {
	atomic.AddUint32(&l.current, ^uint32(n-1))
}

func (l *countLimit) SetLimit(limit uint32) {
	atomic.StoreUint32(&l.limit, limit)
}
