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


// Package obsidian writes stored papers as Markdown notes into an Obsidian vault.
package obsidian

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/export"
)

const (
	fallbackFolder = "general"
	fallbackTitle  = "Untitled Paper"
	noSummary      = "No summary available."
	noConcepts     = "No major concepts extracted."
	noInsights     = "No insights recorded."
	insightHeading = "### Analytical Reflection"
)

// Exporter writes one note per paper under the vault root.
type Exporter struct {
	vault  string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Exporter.
type Option func(*Exporter) error

// WithClock overrides the clock used for the note date.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) error {
		if now == nil {
			return fmt.Errorf("%w: clock is nil", core.ErrInvalidInput)
		}
		e.now = now
		return nil
	}
}

// WithLogger sets the exporter's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Exporter) error {
		e.logger = logger
		return nil
	}
}

var _ export.Exporter = (*Exporter)(nil)

// New returns an exporter for the vault at path. The vault directory must exist.
func New(vault string, opts ...Option) (*Exporter, error) {
	info, err := os.Stat(vault)
	if err != nil {
		return nil, fmt.Errorf("%w: vault %q: %w", core.ErrInvalidInput, vault, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: vault %q is not a directory", core.ErrInvalidInput, vault)
	}
	e := &Exporter{
		vault:  vault,
		now:    time.Now,
		logger: slog.Default().With("component", "obsidian-exporter"),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// NotePath returns where the paper's note lives: vault/query/primary-tag/title.md.
// The query folder falls back to the primary tag, and both fall back to "general".
func (e *Exporter) NotePath(paper *core.PaperRecord) string {
	tag := fallbackFolder
	if len(paper.Tags) > 0 && Slugify(paper.Tags[0]) != "" {
		tag = Slugify(paper.Tags[0])
	}
	folder := tag
	if q := Slugify(paper.Query); q != "" {
		folder = q
	}
	name := Slugify(paper.Title)
	if name == "" {
		name = Slugify(fallbackTitle)
	}
	return filepath.Join(e.vault, folder, tag, name+".md")
}

// Export writes the paper's note, replacing any previous version.
func (e *Exporter) Export(ctx context.Context, paper *core.PaperRecord, concepts []export.ConceptRef) error {
	if paper == nil {
		return fmt.Errorf("%w: paper is nil", core.ErrInvalidInput)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	content, err := e.render(paper, concepts)
	if err != nil {
		return err
	}
	path := e.NotePath(paper)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating note folder: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return fmt.Errorf("writing note: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing note: %w", err)
	}
	rel, _ := filepath.Rel(e.vault, path)
	e.logger.Info("exported note", "paper", paper.Id, "note", rel)
	return nil
}

type frontmatter struct {
	Title   string   `yaml:"title"`
	Authors []string `yaml:"authors"`
	Year    string   `yaml:"year"`
	Venue   string   `yaml:"venue"`
	URL     string   `yaml:"url"`
	Tags    []string `yaml:"tags"`
	Date    string   `yaml:"date"`
	Type    string   `yaml:"type"`
	Status  string   `yaml:"status"`
}

func (e *Exporter) render(paper *core.PaperRecord, concepts []export.ConceptRef) ([]byte, error) {
	fm := frontmatter{
		Title:   paper.Title,
		Authors: paper.Authors,
		Venue:   paper.Venue,
		URL:     paper.SourceURL,
		Tags:    make([]string, 0, len(paper.Tags)),
		Date:    e.now().Format(time.DateOnly),
		Type:    "research-paper",
		Status:  "unread",
	}
	if fm.Title == "" {
		fm.Title = fallbackTitle
	}
	if fm.Authors == nil {
		fm.Authors = []string{}
	}
	if paper.Year != 0 {
		fm.Year = fmt.Sprint(paper.Year)
	}
	for _, tag := range paper.Tags {
		if s := Slugify(tag); s != "" {
			fm.Tags = append(fm.Tags, s)
		}
	}
	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("encoding frontmatter: %w", err)
	}

	summary := strings.TrimSpace(paper.Summary)
	if summary == "" {
		summary = noSummary
	}
	insights := section(paper.Summary, insightHeading)
	if insights == "" {
		insights = noInsights
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(header)
	b.WriteString("---\n\n")
	b.WriteString("# Research Paper Notes\n\n")
	b.WriteString("## Summary\n\n")
	b.WriteString(summary)
	b.WriteString("\n\n## Key Insights\n\n")
	b.WriteString(insights)
	b.WriteString("\n\n## Concepts Mentioned\n\n")
	b.WriteString(backlinks(concepts))
	b.WriteString("\n\n## Tasks\n\n")
	b.WriteString("- [ ] Read paper\n")
	b.WriteString("- [ ] Take detailed notes\n")
	b.WriteString("- [ ] Summarize key findings\n")
	b.WriteString("- [ ] Identify potential applications\n")
	return []byte(b.String()), nil
}

func backlinks(concepts []export.ConceptRef) string {
	lines := make([]string, 0, len(concepts))
	for _, ref := range concepts {
		if ref.Concept == nil || strings.TrimSpace(ref.Concept.Phrase) == "" {
			continue
		}
		count := ref.PaperCount
		if count < 1 {
			count = 1
		}
		noun := "papers"
		if count == 1 {
			noun = "paper"
		}
		lines = append(lines, fmt.Sprintf("- [[%s]] (mentioned in %d %s)", ref.Concept.Phrase, count, noun))
	}
	if len(lines) == 0 {
		return noConcepts
	}
	return strings.Join(lines, "\n")
}

// section returns the body under heading up to the next heading of the same level.
func section(markdown, heading string) string {
	idx := strings.Index(markdown, heading)
	if idx < 0 {
		return ""
	}
	body := markdown[idx+len(heading):]
	if end := strings.Index(body, "\n### "); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}
