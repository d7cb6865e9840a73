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

package store

import (
	"context"
	"os"

	"github.com/cubefs/cubefs/blobstore/util/errors"

	"github.com/cubefs/xattrdb/common/kvstore"
	"github.com/cubefs/xattrdb/item"
)

type Config struct {
	Path     string            `json:"path"`
	KVType   kvstore.LsmKVType `json:"kv_type"`
	KVOption kvstore.Option    `json:"kv_option"`
}

// Store owns the kv engine and the item store on top of it
type Store struct {
	kvStore kvstore.Store
	items   *item.Store
}

func NewStore(ctx context.Context, cfg *Config) (*Store, error) {
	kvType := cfg.KVType
	if kvType == "" {
		kvType = kvstore.RocksdbLsmKVType
	}
	kvStorePath := cfg.Path + "/kv"
	if kvType != kvstore.MemoryKVType {
		if err := os.MkdirAll(kvStorePath, 0o755); err != nil {
			return nil, errors.Info(err, "create kv path", kvStorePath)
		}
	}
	opt := cfg.KVOption
	opt.CreateIfMissing = true
	kvStore, err := kvstore.NewKVStore(ctx, kvStorePath, kvType, &opt)
	if err != nil {
		return nil, errors.Info(err, "open kv store", kvType)
	}

	items, err := item.NewStore(kvStore)
	if err != nil {
		kvStore.Close()
		return nil, err
	}
	return &Store{kvStore: kvStore, items: items}, nil
}

func (s *Store) KVStore() kvstore.Store {
	return s.kvStore
}

func (s *Store) Items() *item.Store {
	return s.items
}

func (s *Store) Close() {
	s.kvStore.Close()
}
