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


// Package storage provides the storage abstraction layer for athena.
//
// This package defines repository interfaces that decouple storage implementation
// from the semantic store and the pipeline. Papers, concepts, links, schema info and
// job checkpoints each have their own repository; all of them share one backend.
//
// # Constructor Return Type Pattern
//
// Public constructors in backend packages return concrete types that satisfy
// these interfaces, checked at compile time:
//
//	var _ storage.PaperRepository = (*PaperRepository)(nil)
//
// Consumers accept the interfaces, so tests can substitute in-memory backends
// or fakes without modification.
//
// # Architecture
//
//   - PaperRepository: fingerprint-keyed papers with revision compare-and-swap
//   - ConceptRepository: sequence-keyed concepts
//   - LinkRepository: paper/concept links indexed in both directions
//   - SchemaRepository: schema version and embedding model id
//   - CheckpointRepository: progress markers for long-running jobs
//   - Cache: byte cache with expiry (Badger TTL entries or Redis)
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	papers := badger.NewPaperRepository(backend)
//
// Use in tests with in-memory storage:
//
//	repos, err := badger.NewMemoryRepositories()
//
// # Serialization
//
// Records are encoded with the MUS serializers in package core; see
// MarshalPaper and friends.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
