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


package core

import (
	"fmt"
	"strings"
)

// ValidatePaper validates a PaperRecord according to domain rules.
//
// Validation rules:
//   - Id must be set (fingerprint assigned)
//   - Title or FullText must not be empty
//
// NOT validated (populated by the pipeline):
//   - Vector (can be empty until stored)
//   - Summary (can be empty when summarization failed)
func ValidatePaper(paper *PaperRecord) error {
	if paper == nil {
		return fmt.Errorf("%w: %w: paper is nil", ErrInvalidInput, ErrInvalidPaper)
	}

	if paper.Id == 0 {
		return fmt.Errorf("%w: %w: %w", ErrInvalidInput, ErrInvalidPaper, ErrNoFingerprint)
	}

	if strings.TrimSpace(paper.Title) == "" && strings.TrimSpace(paper.FullText) == "" {
		return fmt.Errorf("%w: %w: %w", ErrInvalidInput, ErrInvalidPaper, ErrEmptyContent)
	}

	return nil
}

// ValidateConcept validates a ConceptRecord according to domain rules.
//
// Validation rules:
//   - Phrase must not be empty
//
// NOT validated:
//   - ID (0 is valid before the store assigns one)
func ValidateConcept(concept *ConceptRecord) error {
	if concept == nil {
		return fmt.Errorf("%w: %w: concept is nil", ErrInvalidInput, ErrInvalidConcept)
	}

	if strings.TrimSpace(concept.Phrase) == "" {
		return fmt.Errorf("%w: %w: %w", ErrInvalidInput, ErrInvalidConcept, ErrEmptyContent)
	}

	return nil
}

// ValidateLink validates a Link according to domain rules.
func ValidateLink(link *Link) error {
	if link == nil {
		return fmt.Errorf("%w: %w: link is nil", ErrInvalidInput, ErrInvalidLink)
	}

	if link.PaperId == 0 || link.ConceptId == 0 {
		return fmt.Errorf("%w: %w: paper and concept ids are required", ErrInvalidInput, ErrInvalidLink)
	}

	if link.Confidence < 0 || link.Confidence > 1 {
		return fmt.Errorf("%w: %w: %w", ErrInvalidInput, ErrInvalidLink, ErrInvalidConfidence)
	}

	return nil
}
