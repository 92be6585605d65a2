package wikilink

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractConcepts(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"none", "plain text without links", []string{}},
		{"ordered", "We combine [[Deep Q-Learning]] with a [[Transformer]].", []string{"Deep Q-Learning", "Transformer"}},
		{"duplicates", "[[Transformer]] then [[transformer]] and [[Transformer]]", []string{"Transformer"}},
		{"alias", "see [[Markov Decision Process|MDP]] for details", []string{"Markov Decision Process"}},
		{"whitespace", "[[  neural   plasticity ]]", []string{"neural plasticity"}},
		{"empty link", "[[ ]] and [[]]", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			concepts, err := New().ExtractConcepts(context.Background(), tt.text)
			require.NoError(t, err)
			phrases := make([]string, 0, len(concepts))
			for _, c := range concepts {
				assert.InDelta(t, 1.0, c.Confidence, 1e-6)
				phrases = append(phrases, c.Phrase)
			}
			assert.Equal(t, tt.want, phrases)
		})
	}
}
