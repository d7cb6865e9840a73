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

package kvstore

import (
	"context"
	"errors"
	"sync"
)

const (
	DefaultCF = CF("default")

	RocksdbLsmKVType = LsmKVType("rocksdb")
	MemoryKVType     = LsmKVType("memory")

	FIFOStyle      = CompactionStyle("fifo")
	LevelStyle     = CompactionStyle("level")
	UniversalStyle = CompactionStyle("universal")
)

var (
	ErrNotFound       = errors.New("key not found")
	ErrKVTypeNotFound = errors.New("kv type not found")
)

type (
	CF              string
	LsmKVType       string
	CompactionStyle string

	// Store is an ordered key value engine split into column families.
	// Keys are compared bytewise.
	Store interface {
		CreateColumn(col CF) error
		CheckColumns(col CF) bool
		GetRaw(ctx context.Context, col CF, key []byte) (value []byte, err error)
		// List iterates keys >= marker, or >= prefix when marker is empty,
		// stopping at the first key without prefix
		List(ctx context.Context, col CF, prefix []byte, marker []byte) ListReader
		// Write applies all operations of batch atomically
		Write(ctx context.Context, batch WriteBatch) error
		NewWriteBatch() (writeBatch WriteBatch)
		Stats(ctx context.Context) (Stats, error)
		Close()
	}
	// ListReader returns nil key and value once iteration is done
	ListReader interface {
		ReadNext() (key KeyGetter, val ValueGetter, err error)
		Close()
	}
	KeyGetter interface {
		Key() []byte
		Close()
	}
	ValueGetter interface {
		Value() []byte
		Close()
	}
	WriteBatch interface {
		Put(col CF, key, value []byte)
		Delete(col CF, key []byte)
		Close()
	}

	Stats struct {
		Used        uint64      `json:"used"`
		Keys        uint64      `json:"keys,omitempty"`
		MemoryUsage MemoryUsage `json:"memory_usage"`
	}
	MemoryUsage struct {
		BlockCacheUsage     uint64 `json:"block_cache_usage"`
		IndexAndFilterUsage uint64 `json:"index_and_filter_usage"`
		MemtableUsage       uint64 `json:"memtable_usage"`
		BlockPinnedUsage    uint64 `json:"block_pinned_usage"`
		Total               uint64 `json:"total"`
	}
	Option struct {
		Sync                            bool            `json:"sync"`
		DisableWal                      bool            `json:"disable_wal"`
		ColumnFamily                    []CF            `json:"column_family"`
		CreateIfMissing                 bool            `json:"create_if_missing"`
		BlockSize                       int             `json:"block_size"`
		BlockCache                      uint64          `json:"block_cache"`
		EnablePipelinedWrite            bool            `json:"enable_pipelined_write"`
		MaxBackgroundCompactions        int             `json:"max_background_compactions"`
		MaxBackgroundFlushes            int             `json:"max_background_flushes"`
		MaxOpenFiles                    int             `json:"max_open_files"`
		MaxWriteBufferNumber            int             `json:"max_write_buffer_number"`
		WriteBufferSize                 int             `json:"write_buffer_size"`
		TargetFileSizeBase              uint64          `json:"target_file_size_base"`
		MaxBytesForLevelBase            uint64          `json:"max_bytes_for_level_base"`
		KeepLogFileNum                  int             `json:"keep_log_file_num"`
		MaxLogFileSize                  int             `json:"max_log_file_size"`
		Level0SlowdownWritesTrigger     int             `json:"level0_slowdown_writes_trigger"`
		Level0StopWritesTrigger         int             `json:"level0_stop_writes_trigger"`
		SoftPendingCompactionBytesLimit uint64          `json:"soft_pending_compaction_bytes_limit"`
		HardPendingCompactionBytesLimit uint64          `json:"hard_pending_compaction_bytes_limit"`
		MaxWalLogSize                   uint64          `json:"max_wal_log_size"`
		CompactionStyle                 CompactionStyle `json:"compaction_style"`
	}

	// Opener creates a store of one engine type
	Opener func(ctx context.Context, path string, option *Option) (Store, error)
)

var (
	openersMu sync.RWMutex
	openers   = map[LsmKVType]Opener{
		MemoryKVType: newMemoryStore,
	}
)

// Register makes an engine available to NewKVStore. Engines with cgo
// dependencies register themselves from their own package.
func Register(lsmType LsmKVType, opener Opener) {
	openersMu.Lock()
	openers[lsmType] = opener
	openersMu.Unlock()
}

func NewKVStore(ctx context.Context, path string, lsmType LsmKVType, option *Option) (Store, error) {
	openersMu.RLock()
	opener, ok := openers[lsmType]
	openersMu.RUnlock()
	if !ok {
		return nil, ErrKVTypeNotFound
	}
	if option == nil {
		option = &Option{}
	}
	return opener(ctx, path, option)
}

func (cf CF) String() string {
	return string(cf)
}
