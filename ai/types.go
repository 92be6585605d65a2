package ai

// SummaryOptions selects the model and sampling for one summary request.
type SummaryOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// Summary is a generated summary with its tags.
type Summary struct {
	Text string   `json:"summary"`
	Tags []string `json:"tags"`
}

// ExtractedConcept is a concept phrase found in text.
type ExtractedConcept struct {
	// Phrase is the concept as written, trimmed.
	Phrase string

	// Confidence in [0, 1] that the phrase is a key concept of the text.
	Confidence float32
}
