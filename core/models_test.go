package core

import (
	"testing"
)

func TestIDFromContent(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantSame bool
	}{
		{
			name:     "same content produces same ID",
			content:  "doi:10.1000/xyz123",
			wantSame: true,
		},
		{
			name:     "empty string",
			content:  "",
			wantSame: true,
		},
		{
			name:     "long content",
			content:  "title:attention is all you need|vaswani and a much longer tail that should still hash consistently",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := IDFromContent(tt.content)
			id2 := IDFromContent(tt.content)

			if tt.wantSame && id1 != id2 {
				t.Errorf("IDFromContent() produced different IDs for same content: %d vs %d", id1, id2)
			}
		})
	}
}

func TestIDFromContent_Different(t *testing.T) {
	id1 := IDFromContent("content1")
	id2 := IDFromContent("content2")

	if id1 == id2 {
		t.Errorf("IDFromContent() produced same ID for different content")
	}
}

func TestID_StringRoundTrip(t *testing.T) {
	for _, id := range []ID{1, 0xabc, IDFromContent("arxiv:2401.00001"), ID(^uint64(0))} {
		s := id.String()
		if len(s) != 16 {
			t.Errorf("ID(%d).String() = %q, want 16 characters", id, s)
		}
		parsed, err := ParseID(s)
		if err != nil {
			t.Fatalf("ParseID(%q) error = %v", s, err)
		}
		if parsed != id {
			t.Errorf("ParseID(%q) = %d, want %d", s, parsed, id)
		}
	}

	if _, err := ParseID("not-hex"); err == nil {
		t.Errorf("ParseID() accepted invalid input")
	}
}

func TestPaperRecord_EmbeddingText(t *testing.T) {
	tests := []struct {
		name  string
		paper PaperRecord
		want  string
	}{
		{
			name:  "title only",
			paper: PaperRecord{Title: "Sparse Transformers"},
			want:  "Sparse Transformers",
		},
		{
			name:  "title and abstract",
			paper: PaperRecord{Title: "Sparse Transformers", Abstract: "We study sparsity."},
			want:  "Sparse Transformers\n\nWe study sparsity.",
		},
		{
			name:  "all parts",
			paper: PaperRecord{Title: "T", Abstract: "A", Summary: "S"},
			want:  "T\n\nA\n\nS",
		},
		{
			name:  "summary without abstract",
			paper: PaperRecord{Title: "T", Summary: "S"},
			want:  "T\n\nS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.paper.EmbeddingText(); got != tt.want {
				t.Errorf("EmbeddingText() = %q, want %q", got, tt.want)
			}
		})
	}
}
