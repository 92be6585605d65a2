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
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
	"github.com/poiesic/athena/storage"
)

// Store is the part of the semantic store the reembedder rewrites.
type Store interface {
	ListPapers(ctx context.Context, after core.ID, limit int) ([]*core.PaperRecord, error)
	ListConcepts(ctx context.Context, after core.ID, limit int) ([]*core.ConceptRecord, error)
	CountPapers(ctx context.Context) (int, error)
	CountConcepts(ctx context.Context) (int, error)
	ReplacePaperVector(ctx context.Context, id core.ID, vector []float32, contentHash core.ID) error
	UpdateConcepts(ctx context.Context, concepts ...*core.ConceptRecord) error
	SaveSchema(ctx context.Context) error
}

// Embedder embeds batches of text under the new model.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string, kind embedding.Kind) ([][]float32, error)
	Model() string
	Dimension() int
}

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of records to process in each batch
	BatchSize int

	// ReportInterval is how often to report progress (number of records)
	ReportInterval int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
	}
}

// Result counts what a run re-embedded.
type Result struct {
	Papers   int
	Concepts int
	Elapsed  time.Duration
}

// Reembedder orchestrates the reembedding of every paper and concept in a store.
type Reembedder struct {
	store       Store
	embedder    Embedder
	checkpoints storage.CheckpointRepository
	config      *Config
	progress    io.Writer
	logger      *slog.Logger
}

// NewReembedder creates a new reembedder.
// checkpoints may be nil, in which case an interrupted run starts over.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(store Store, embedder Embedder, checkpoints storage.CheckpointRepository, config *Config, progress io.Writer) (*Reembedder, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}
	return &Reembedder{
		store:       store,
		embedder:    embedder,
		checkpoints: checkpoints,
		config:      config,
		progress:    progress,
		logger:      slog.Default().With("component", "reembed"),
	}, nil
}

// Run re-embeds all papers, then all concepts, then records the new model in the schema info.
// Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	papers, err := runCollection[*core.PaperRecord](ctx, r, "papers",
		NewIterator[*core.PaperRecord](r.store.ListPapers, paperID, r.config.BatchSize),
		r.store.CountPapers, paperID, r.embedPapers)
	result.Papers = papers
	if err != nil {
		return result, err
	}

	concepts, err := runCollection[*core.ConceptRecord](ctx, r, "concepts",
		NewIterator[*core.ConceptRecord](r.store.ListConcepts, conceptID, r.config.BatchSize),
		r.store.CountConcepts, conceptID, r.embedConcepts)
	result.Concepts = concepts
	if err != nil {
		return result, err
	}

	if err := r.store.SaveSchema(ctx); err != nil {
		return result, fmt.Errorf("recording schema info: %w", err)
	}
	if err := r.resetCheckpoints(ctx); err != nil {
		return result, err
	}

	result.Elapsed = time.Since(start)
	fmt.Fprintf(r.progress, "Reembedding complete. %d papers and %d concepts with %s in %v\n",
		result.Papers, result.Concepts, r.embedder.Model(), result.Elapsed.Round(time.Millisecond))
	return result, nil
}

// runCollection re-embeds one collection, resuming after its checkpoint.
func runCollection[T any](
	ctx context.Context,
	r *Reembedder,
	name string,
	it *Iterator[T],
	count func(context.Context) (int, error),
	id func(T) core.ID,
	embed func(context.Context, []T) (int, error),
) (int, error) {
	total, err := count(ctx)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", name, err)
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No %s to reembed (0 %s)\n", name, name)
		return 0, nil
	}

	checkpoint, err := r.loadCheckpoint(ctx, name)
	if err != nil {
		return 0, err
	}
	if checkpoint.LastID != 0 {
		r.logger.Info("resuming from checkpoint", "collection", name, "after", checkpoint.LastID, "done", checkpoint.Processed)
	}

	fmt.Fprintf(r.progress, "Reembedding %d %s (batch size: %d)\n", total, name, it.batchSize)
	tracker := NewProgressTracker(r.progress, name, total, r.config.ReportInterval)
	tracker.Start(checkpoint.Processed)

	processed := 0
	err = it.ForEach(ctx, checkpoint.LastID, func(batch []T) error {
		n, err := embed(ctx, batch)
		processed += n
		if err != nil {
			return err
		}
		checkpoint.LastID = id(batch[len(batch)-1])
		checkpoint.Processed += len(batch)
		if err := r.saveCheckpoint(ctx, checkpoint); err != nil {
			return err
		}
		tracker.Update(checkpoint.Processed)
		return nil
	})
	if err != nil {
		return processed, err
	}
	tracker.Finish()
	return processed, nil
}

func (r *Reembedder) checkpointName(collection string) string {
	return fmt.Sprintf("reembed:%s:%d:%s", r.embedder.Model(), r.embedder.Dimension(), collection)
}

func (r *Reembedder) loadCheckpoint(ctx context.Context, collection string) (*core.Checkpoint, error) {
	name := r.checkpointName(collection)
	if r.checkpoints == nil {
		return &core.Checkpoint{Name: name}, nil
	}
	cp, err := r.checkpoints.LoadCheckpoint(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint %s: %w", name, err)
	}
	if cp == nil {
		cp = &core.Checkpoint{Name: name}
	}
	return cp, nil
}

func (r *Reembedder) saveCheckpoint(ctx context.Context, cp *core.Checkpoint) error {
	if r.checkpoints == nil {
		return nil
	}
	cp.LastRunAt = time.Now().UTC()
	if err := r.checkpoints.SaveCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("saving checkpoint %s: %w", cp.Name, err)
	}
	return nil
}

// resetCheckpoints forgets both collections' checkpoints so a later forced run starts from the beginning.
func (r *Reembedder) resetCheckpoints(ctx context.Context) error {
	if r.checkpoints == nil {
		return nil
	}
	for _, collection := range []string{"papers", "concepts"} {
		name := r.checkpointName(collection)
		if err := r.checkpoints.DeleteCheckpoint(ctx, name); err != nil {
			return fmt.Errorf("resetting checkpoint %s: %w", name, err)
		}
	}
	return nil
}
