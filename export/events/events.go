// Package events publishes paper lifecycle events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/export"
)

// Event types.
const (
	TypePaperStored  = "paper.stored"
	TypePaperDeleted = "paper.deleted"
)

// MessageWriter is the subset of *kafka.Writer the exporter needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Concept is a linked concept as carried in an event.
type Concept struct {
	ID         string  `json:"id"`
	Phrase     string  `json:"phrase"`
	Confidence float32 `json:"confidence"`
}

// Event is the JSON payload of every message. Messages are keyed by the paper fingerprint
// so all events for one paper land on the same partition.
type Event struct {
	Type              string    `json:"type"`
	PaperID           string    `json:"paper_id"`
	DOI               string    `json:"doi,omitempty"`
	Title             string    `json:"title,omitempty"`
	Authors           []string  `json:"authors,omitempty"`
	Year              int       `json:"year,omitempty"`
	URL               string    `json:"url,omitempty"`
	Query             string    `json:"query,omitempty"`
	Tags              []string  `json:"tags,omitempty"`
	NeedsReprocessing bool      `json:"needs_reprocessing,omitempty"`
	Concepts          []Concept `json:"concepts,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// Exporter writes one event per stored or deleted paper.
type Exporter struct {
	writer MessageWriter
	now    func() time.Time
	logger *slog.Logger
}

var (
	_ export.Exporter = (*Exporter)(nil)
	_ export.Remover  = (*Exporter)(nil)
)

// NewKafka returns an exporter writing to topic on the given brokers.
func NewKafka(brokers []string, topic string) (*Exporter, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("%w: kafka brokers and topic are required", core.ErrInvalidInput)
	}
	return New(&kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
	}), nil
}

// New returns an exporter over an existing writer.
func New(writer MessageWriter) *Exporter {
	return &Exporter{
		writer: writer,
		now:    time.Now,
		logger: slog.Default().With("component", "event-exporter"),
	}
}

// Export publishes a paper.stored event.
func (e *Exporter) Export(ctx context.Context, paper *core.PaperRecord, concepts []export.ConceptRef) error {
	if paper == nil || paper.Id == 0 {
		return fmt.Errorf("%w: paper with fingerprint required", core.ErrInvalidInput)
	}
	ev := Event{
		Type:              TypePaperStored,
		PaperID:           paper.Id.String(),
		DOI:               paper.DOI,
		Title:             paper.Title,
		Authors:           paper.Authors,
		Year:              paper.Year,
		URL:               paper.SourceURL,
		Query:             paper.Query,
		Tags:              paper.Tags,
		NeedsReprocessing: paper.NeedsReprocessing,
		OccurredAt:        e.now().UTC(),
	}
	for _, ref := range concepts {
		if ref.Concept == nil {
			continue
		}
		ev.Concepts = append(ev.Concepts, Concept{
			ID:         ref.Concept.Id.String(),
			Phrase:     ref.Concept.Phrase,
			Confidence: ref.Confidence,
		})
	}
	return e.publish(ctx, ev)
}

// Remove publishes a paper.deleted event.
func (e *Exporter) Remove(ctx context.Context, id core.ID) error {
	return e.publish(ctx, Event{
		Type:       TypePaperDeleted,
		PaperID:    id.String(),
		OccurredAt: e.now().UTC(),
	})
}

// Close flushes and closes the writer.
func (e *Exporter) Close() error {
	return e.writer.Close()
}

func (e *Exporter) publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.PaperID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: publishing %s for %s: %w", core.ErrTransientProvider, ev.Type, ev.PaperID, err)
	}
	e.logger.Debug("published event", "type", ev.Type, "paper", ev.PaperID)
	return nil
}
