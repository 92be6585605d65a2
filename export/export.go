// Package export publishes stored papers to knowledge bases outside the semantic store.
//
// Exporters run after a paper is stored. Their failures are logged by the caller and never
// roll back the store.
package export

import (
	"context"
	"errors"
	"io"

	"github.com/poiesic/athena/core"
)

// ConceptRef is a concept linked to the exported paper.
type ConceptRef struct {
	Concept    *core.ConceptRecord
	Confidence float32
	// PaperCount is the number of papers linked to the concept, this one included.
	PaperCount int
}

// Exporter publishes a stored paper together with its linked concepts.
type Exporter interface {
	Export(ctx context.Context, paper *core.PaperRecord, concepts []ConceptRef) error
}

// Remover is implemented by exporters that can retract a previously exported paper.
type Remover interface {
	Remove(ctx context.Context, id core.ID) error
}

// Multi fans a paper out to every exporter it holds.
type Multi []Exporter

var (
	_ Exporter  = Multi(nil)
	_ Remover   = Multi(nil)
	_ io.Closer = Multi(nil)
)

// Export calls every exporter, even after a failure, and joins the errors.
func (m Multi) Export(ctx context.Context, paper *core.PaperRecord, concepts []ConceptRef) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, paper, concepts); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Remove retracts the paper from every exporter that supports it.
func (m Multi) Remove(ctx context.Context, id core.ID) error {
	var errs []error
	for _, e := range m {
		if r, ok := e.(Remover); ok {
			if err := r.Remove(ctx, id); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every exporter that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, e := range m {
		if c, ok := e.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
