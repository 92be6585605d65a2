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


package reembed

import (
	"context"

	"github.com/poiesic/athena/core"
)

const (
	// DefaultBatchSize is the default number of records to fetch in each batch
	DefaultBatchSize = 100
)

// ListFunc returns up to limit records with ids greater than after, in id order.
type ListFunc[T any] func(ctx context.Context, after core.ID, limit int) ([]T, error)

// Iterator pages through a collection in id order.
type Iterator[T any] struct {
	list      ListFunc[T]
	id        func(T) core.ID
	batchSize int
}

// NewIterator creates a new iterator.
// batchSize: number of records to fetch in each batch (defaults when <= 0)
func NewIterator[T any](list ListFunc[T], id func(T) core.ID, batchSize int) *Iterator[T] {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Iterator[T]{list: list, id: id, batchSize: batchSize}
}

// ForEach calls fn for each batch of records after the given id.
// Iteration stops on first error from fn or when all records are processed.
// Context cancellation is checked between batches.
func (it *Iterator[T]) ForEach(ctx context.Context, after core.ID, fn func([]T) error) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := it.list(ctx, after, it.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < it.batchSize {
			return nil
		}
		after = it.id(batch[len(batch)-1])
	}
}

func paperID(p *core.PaperRecord) core.ID     { return p.Id }
func conceptID(c *core.ConceptRecord) core.ID { return c.Id }
