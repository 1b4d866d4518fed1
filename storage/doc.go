// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package storage provides the storage abstraction layer for ragjobs.
//
// This package defines repository interfaces that decouple storage implementation
// from business logic. Two backends implement them: storage/badger (embedded,
// the default) and storage/postgres (relational, optional).
//
// # Constructor Return Type Pattern
//
// Public constructors return the Store interface:
//
//	store, err := badger.Open(badger.Options{Dir: path})  // returns storage.Store
//
// Internal constructors (newJobRepository, etc.) may return concrete types since
// they're only used within the implementation package.
//
// # Architecture
//
//   - JobRepository: job lifecycle writes, each one atomic
//   - CollectionRepository: named partitions of the knowledge base
//   - DocumentRepository: document metadata with per-collection content hash uniqueness
//   - BlacklistRepository: revoked tokens purged by the cleanup sweep
//   - ChunkRepository: embedded chunks and brute-force similarity search
//
// # Lifecycle enforcement
//
// Job writes re-check the status machine and the stage vocabulary inside the
// write transaction, so a caller can never persist QUEUED→COMPLETED or move
// progress backwards even when racing another writer.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
