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
	"context"
	"errors"
	"net"
	"syscall"
)

// Error taxonomy shared by every component.
var (
	// ErrInvalidInput indicates a caller or configuration bug. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrTransientProvider indicates a network, timeout or rate-limit failure of an external service.
	ErrTransientProvider = errors.New("transient provider error")

	// ErrEmbeddingUnavailable indicates the embedding provider could not serve a request.
	// Always reported together with ErrTransientProvider.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrPersistentProvider indicates an external call failed after all retries.
	ErrPersistentProvider = errors.New("persistent provider error")

	// ErrStoreConsistency indicates a concurrent write to the same fingerprint was detected.
	ErrStoreConsistency = errors.New("store consistency conflict")

	// ErrEmbeddingDimensionMismatch indicates a vector does not match the configured dimension.
	ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrEmbeddingModelChanged indicates the store was built with a different embedding model.
	ErrEmbeddingModelChanged = errors.New("embedding model changed")

	// ErrStoreUnavailable indicates the semantic store itself failed.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Domain validation errors
var (
	// ErrInvalidPaper indicates a PaperRecord failed validation.
	ErrInvalidPaper = errors.New("invalid paper record")

	// ErrInvalidConcept indicates a ConceptRecord failed validation.
	ErrInvalidConcept = errors.New("invalid concept")

	// ErrInvalidLink indicates a Link failed validation.
	ErrInvalidLink = errors.New("invalid link")

	// ErrEmptyContent indicates a required text field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrNoFingerprint indicates there is nothing to derive a fingerprint from.
	ErrNoFingerprint = errors.New("no identifier, title or text to fingerprint")

	// ErrInvalidConfidence indicates a link confidence outside [0, 1].
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
)

// IsRetryable reports whether err is worth another attempt.
// Invalid input and exhausted retries never are; cancellation of the caller's context never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrPersistentProvider),
		errors.Is(err, ErrEmbeddingDimensionMismatch),
		errors.Is(err, context.Canceled):
		return false
	case errors.Is(err, ErrTransientProvider),
		errors.Is(err, ErrStoreConsistency),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}
