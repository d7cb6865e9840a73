/*
 *
 * Copyright 2023 CubeFS authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

/*

# XattrDB: extended attributes over an ordered item store

## Data Model

* Inode, inode number(ino) --> inode item, carrying the next xattr id, the change version and ctime

* Xattr, <ino, name hash, id, part> --> one fragment of the attribute record

* Record, an 8 byte header (value length, name length) followed by the name bytes and the value bytes

A record larger than a single part is spread over consecutive part numbers under the same
<ino, name hash, id>. Names with equal hashes are told apart by the id, which is allocated
from the inode's monotonic counter.

## Concurrency

* Cluster lock, per inode, read or write mode, refreshes the cached inode on write

* Xattr rwsem, per inode, keeps readers away from half-replaced records

* Transactions, bounded holds on item and byte capacity, retried while index locks churn

## Building Blocks

* Rocksdb
* Prometheus
* CubeFS blobstore rpc/log/trace

*/

package xattrdb
