package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// SchemaVersion is the on-disk layout version written alongside the embedding model id.
const SchemaVersion = 1

// ID is a unique identifier for domain entities.
// Papers use content-derived fingerprints, concepts use database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID as fixed-width hex, the form used in file names and logs.
func (id ID) String() string {
	s := strconv.FormatUint(uint64(id), 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}

// ParseID parses the hex form produced by String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}

// PaperRecord is a research paper as persisted in the semantic store.
type PaperRecord struct {
	Id                ID // Fingerprint, immutable once assigned
	DOI               string
	ExternalID        string // Provider id (arXiv id, Exa id, ...)
	Title             string
	Authors           []string
	Abstract          string
	FullText          string // Empty when extraction failed
	SourceURL         string
	PDFURL            string
	Venue             string
	Year              int
	Query             string // Search query that discovered the paper
	Tags              []string
	Summary           string
	NeedsReprocessing bool // Set when summarization was exhausted
	Vector            []float32
	ContentHash       ID // Hash of the text the vector was computed from
	Revision          uint64
	RetrievedAt       time.Time
	InsertedAt        time.Time
	UpdatedAt         time.Time
}

// EmbeddingText returns the text a paper vector is computed from.
func (p *PaperRecord) EmbeddingText() string {
	text := p.Title
	if p.Abstract != "" {
		text += "\n\n" + p.Abstract
	}
	if p.Summary != "" {
		text += "\n\n" + p.Summary
	}
	return text
}

// ConceptRecord is a canonical concept shared across papers.
type ConceptRecord struct {
	Id         ID
	Phrase     string
	Vector     []float32
	InsertedAt time.Time
	UpdatedAt  time.Time
}

// Link relates a paper to a concept with the extractor's confidence.
// Phrase is the wording the paper used; two phrases resolving to one concept give two links.
type Link struct {
	PaperId    ID
	ConceptId  ID
	Phrase     string
	Confidence float32
	CreatedAt  time.Time
}

// SchemaInfo records the layout version and the vector space the store was built with.
type SchemaInfo struct {
	Version        int
	EmbeddingModel string
	Dimension      int
	UpdatedAt      time.Time
}

// ScoredPaper is a paper returned from a similarity query.
type ScoredPaper struct {
	Record *PaperRecord
	Score  float32
}

// ScoredConcept is a concept returned from a similarity query.
type ScoredConcept struct {
	Record *ConceptRecord
	Score  float32
}

// Checkpoint records where a named long-running job left off.
// The watcher keys one per query; re-embedding keys one per collection.
type Checkpoint struct {
	Name      string
	LastID    ID
	Processed int
	LastRunAt time.Time
	UpdatedAt time.Time
}
