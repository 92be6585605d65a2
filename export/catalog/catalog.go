// Package catalog mirrors stored papers and their concepts into a SQLite database
// for ad-hoc querying with ordinary SQL tools.
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/export"
)

// Catalog is a SQLite mirror of the semantic store.
type Catalog struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ export.Exporter = (*Catalog)(nil)
	_ export.Remover  = (*Catalog)(nil)
)

// Open opens or creates the catalog database at path and ensures its schema.
func Open(path string) (*Catalog, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening catalog: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent exports.
	db.SetMaxOpenConns(1)

	c := &Catalog{
		db:     db,
		logger: slog.Default().With("component", "catalog-exporter"),
	}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating catalog schema: %w", err)
	}
	return c, nil
}

// Close releases the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS papers (
			id TEXT PRIMARY KEY,
			doi TEXT,
			external_id TEXT,
			title TEXT NOT NULL,
			authors TEXT,
			abstract TEXT,
			year INTEGER,
			venue TEXT,
			source_url TEXT,
			pdf_url TEXT,
			query TEXT,
			tags TEXT,
			summary TEXT,
			needs_reprocessing INTEGER NOT NULL DEFAULT 0,
			exported_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS concepts (
			id TEXT PRIMARY KEY,
			phrase TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS paper_concepts (
			paper_id TEXT NOT NULL REFERENCES papers(id) ON DELETE CASCADE,
			concept_id TEXT NOT NULL REFERENCES concepts(id),
			confidence REAL NOT NULL,
			PRIMARY KEY (paper_id, concept_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_paper_concepts_concept ON paper_concepts(concept_id)`,
	}
	for _, stmt := range statements {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Export upserts the paper, its concepts and the links between them in one transaction.
// The paper's previous links are replaced.
func (c *Catalog) Export(ctx context.Context, paper *core.PaperRecord, concepts []export.ConceptRef) error {
	if paper == nil || paper.Id == 0 {
		return fmt.Errorf("%w: paper with fingerprint required", core.ErrInvalidInput)
	}
	authors, err := json.Marshal(nonNil(paper.Authors))
	if err != nil {
		return fmt.Errorf("encoding authors: %w", err)
	}
	tags, err := json.Marshal(nonNil(paper.Tags))
	if err != nil {
		return fmt.Errorf("encoding tags: %w", err)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO papers (id, doi, external_id, title, authors, abstract, year, venue, source_url, pdf_url, query, tags, summary, needs_reprocessing, exported_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			doi = excluded.doi, external_id = excluded.external_id, title = excluded.title,
			authors = excluded.authors, abstract = excluded.abstract, year = excluded.year,
			venue = excluded.venue, source_url = excluded.source_url, pdf_url = excluded.pdf_url,
			query = excluded.query, tags = excluded.tags, summary = excluded.summary,
			needs_reprocessing = excluded.needs_reprocessing, exported_at = excluded.exported_at`,
		paper.Id.String(), paper.DOI, paper.ExternalID, paper.Title, string(authors), paper.Abstract,
		paper.Year, paper.Venue, paper.SourceURL, paper.PDFURL, paper.Query, string(tags), paper.Summary,
		paper.NeedsReprocessing, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upserting paper %s: %w", paper.Id, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM paper_concepts WHERE paper_id = ?`, paper.Id.String()); err != nil {
		return fmt.Errorf("clearing links for %s: %w", paper.Id, err)
	}

	conceptStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO concepts (id, phrase) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET phrase = excluded.phrase`)
	if err != nil {
		return fmt.Errorf("preparing concept insert: %w", err)
	}
	defer conceptStmt.Close()

	linkStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO paper_concepts (paper_id, concept_id, confidence) VALUES (?, ?, ?)
		 ON CONFLICT(paper_id, concept_id) DO UPDATE SET confidence = MAX(confidence, excluded.confidence)`)
	if err != nil {
		return fmt.Errorf("preparing link insert: %w", err)
	}
	defer linkStmt.Close()

	for _, ref := range concepts {
		if ref.Concept == nil || ref.Concept.Id == 0 {
			continue
		}
		id := ref.Concept.Id.String()
		if _, err := conceptStmt.ExecContext(ctx, id, ref.Concept.Phrase); err != nil {
			return fmt.Errorf("upserting concept %s: %w", id, err)
		}
		if _, err := linkStmt.ExecContext(ctx, paper.Id.String(), id, ref.Confidence); err != nil {
			return fmt.Errorf("linking concept %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing export of %s: %w", paper.Id, err)
	}
	c.logger.Debug("exported paper", "paper", paper.Id, "concepts", len(concepts))
	return nil
}

// Remove deletes the paper and its links. Concepts are kept since other papers may use them.
func (c *Catalog) Remove(ctx context.Context, id core.ID) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM papers WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("removing paper %s: %w", id, err)
	}
	return nil
}

// PaperCount returns the number of papers in the catalog.
func (c *Catalog) PaperCount(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM papers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting papers: %w", err)
	}
	return n, nil
}

// ConceptPhrases returns the phrases linked to a paper, highest confidence first.
func (c *Catalog) ConceptPhrases(ctx context.Context, id core.ID) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT c.phrase FROM paper_concepts pc JOIN concepts c ON c.id = pc.concept_id
		 WHERE pc.paper_id = ? ORDER BY pc.confidence DESC, c.phrase`, id.String())
	if err != nil {
		return nil, fmt.Errorf("querying concepts for %s: %w", id, err)
	}
	defer rows.Close()

	var phrases []string
	for rows.Next() {
		var phrase string
		if err := rows.Scan(&phrase); err != nil {
			return nil, fmt.Errorf("scanning concept: %w", err)
		}
		phrases = append(phrases, phrase)
	}
	return phrases, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
