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

package server

import (
	"context"

	"github.com/cubefs/cubefs/blobstore/common/trace"

	"github.com/cubefs/xattrdb/common/kvstore"
	"github.com/cubefs/xattrdb/inode"
	"github.com/cubefs/xattrdb/lock"
	"github.com/cubefs/xattrdb/server/store"
	"github.com/cubefs/xattrdb/trans"
	"github.com/cubefs/xattrdb/util/limiter"
	"github.com/cubefs/xattrdb/xattr"
)

type Config struct {
	StoreConfig store.Config        `json:"store_config"`
	TransConfig trans.Config        `json:"trans_config"`
	LimitConfig limiter.LimitConfig `json:"limit_config"`
	XattrConfig xattr.Config        `json:"xattr_config"`
}

type Server struct {
	store   *store.Store
	locks   *lock.Manager
	trans   *trans.Manager
	inodes  *inode.Manager
	limiter limiter.Limiter
	xattr   *xattr.Manager
}

type Stats struct {
	KV      kvstore.Stats  `json:"kv"`
	Locks   lock.Stats     `json:"locks"`
	Trans   trans.Stats    `json:"trans"`
	Limiter limiter.Status `json:"limiter"`
}

func NewServer(ctx context.Context, cfg *Config) (*Server, error) {
	st, err := store.NewStore(ctx, &cfg.StoreConfig)
	if err != nil {
		return nil, err
	}

	s := &Server{
		store:   st,
		trans:   trans.NewManager(cfg.TransConfig, st.KVStore()),
		inodes:  inode.NewManager(st.Items()),
		limiter: limiter.NewLimiter(cfg.LimitConfig),
	}
	s.locks = lock.NewManager(s.inodes)

	xattrCfg := cfg.XattrConfig
	xattrCfg.Items = st.Items()
	xattrCfg.Locks = s.locks
	xattrCfg.Trans = s.trans
	xattrCfg.Inodes = s.inodes
	xattrCfg.Limiter = s.limiter
	s.xattr = xattr.NewManager(&xattrCfg)
	return s, nil
}

func (s *Server) Xattr() *xattr.Manager {
	return s.xattr
}

// CreateInode writes an empty inode item so xattrs can be set on it
func (s *Server) CreateInode(ctx context.Context, ino uint64) error {
	lck, err := s.locks.Lock(ctx, ino, lock.ModeWrite, 0)
	if err != nil {
		return err
	}
	defer s.locks.Unlock(lck)

	hold, err := s.trans.Hold(ctx, trans.Reservation{Items: 1, Bytes: 128})
	if err != nil {
		return err
	}
	defer s.trans.Release(ctx, hold)
	if _, err = s.inodes.Create(ctx, ino, lck, hold); err != nil {
		return err
	}
	if err = s.trans.Commit(ctx, hold); err != nil {
		s.inodes.Forget(ino)
		return err
	}
	return nil
}

// DropInode deletes all xattrs of ino and then the inode item
func (s *Server) DropInode(ctx context.Context, ino uint64) error {
	span := trace.SpanFromContextSafe(ctx)
	lck, err := s.locks.Lock(ctx, ino, lock.ModeWrite, lock.FlagRefreshInode)
	if err != nil {
		return err
	}
	defer s.locks.Unlock(lck)

	in, err := s.inodes.Get(ctx, ino, lck)
	if err != nil {
		return err
	}
	in.XattrLock.Lock()
	defer in.XattrLock.Unlock()

	if err = s.xattr.DropAll(ctx, ino, lck); err != nil {
		span.Warnf("drop xattrs of inode %d failed: %s", ino, err)
		return err
	}

	hold, err := s.trans.Hold(ctx, trans.Reservation{Items: 1})
	if err != nil {
		return err
	}
	defer s.trans.Release(ctx, hold)
	if err = s.inodes.Destroy(ctx, ino, lck, hold); err != nil {
		return err
	}
	if err = s.trans.Commit(ctx, hold); err != nil {
		return err
	}
	span.Infof("dropped inode %d", ino)
	return nil
}

func (s *Server) Stats(ctx context.Context) (Stats, error) {
	kvStats, err := s.store.KVStore().Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		KV:      kvStats,
		Locks:   s.locks.Stats(),
		Trans:   s.trans.Stats(),
		Limiter: s.limiter.Status(),
	}, nil
}

func (s *Server) Close() {
	s.store.Close()
}
