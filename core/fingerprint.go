package core

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

var (
	arxivNewStyle = regexp.MustCompile(`^\d{4}\.\d{4,5}$`)
	arxivOldStyle = regexp.MustCompile(`^[a-z\-]+(\.[a-z]{2})?/\d{7}$`)
	arxivVersion  = regexp.MustCompile(`v\d+$`)
)

// arxivDOIPrefix is the DataCite prefix arXiv registers DOIs under.
const arxivDOIPrefix = "10.48550/arxiv."

// NormalizeDOI lower-cases a DOI and strips resolver prefixes.
// Returns "" when s does not look like a DOI.
func NormalizeDOI(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, prefix := range []string{"https://doi.org/", "http://doi.org/", "https://dx.doi.org/", "http://dx.doi.org/", "doi.org/", "doi:"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "10.") || !strings.Contains(s, "/") {
		return ""
	}
	return s
}

// NormalizeArxivID extracts a version-less arXiv identifier from an id or an arxiv.org URL.
// Returns "" when s is not an arXiv reference.
func NormalizeArxivID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if idx := strings.Index(s, "arxiv.org/"); idx >= 0 {
		s = s[idx+len("arxiv.org/"):]
		for _, prefix := range []string{"abs/", "pdf/"} {
			s = strings.TrimPrefix(s, prefix)
		}
		s = strings.TrimSuffix(s, ".pdf")
		if q := strings.IndexAny(s, "?#"); q >= 0 {
			s = s[:q]
		}
	}
	s = strings.TrimPrefix(s, "arxiv:")
	s = arxivVersion.ReplaceAllString(s, "")
	if arxivNewStyle.MatchString(s) || arxivOldStyle.MatchString(s) {
		return s
	}
	return ""
}

// NormalizeText lower-cases s and folds every run of non-alphanumeric characters into one space.
func NormalizeText(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteRune(r)
			space = false
			continue
		}
		space = true
	}
	return b.String()
}

// CanonicalKey returns the identity key a paper's fingerprint is derived from.
//
// Precedence:
//   - DOI (arXiv DataCite DOIs collapse onto the arXiv id)
//   - arXiv id from ExternalID or SourceURL
//   - normalized title plus the first author's surname
//   - full text
func CanonicalKey(p *PaperRecord) (string, error) {
	if p == nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, ErrNoFingerprint)
	}
	if doi := NormalizeDOI(p.DOI); doi != "" {
		if strings.HasPrefix(doi, arxivDOIPrefix) {
			if id := NormalizeArxivID(strings.TrimPrefix(doi, arxivDOIPrefix)); id != "" {
				return "arxiv:" + id, nil
			}
		}
		return "doi:" + doi, nil
	}
	for _, candidate := range []string{p.ExternalID, p.SourceURL} {
		if id := NormalizeArxivID(candidate); id != "" {
			return "arxiv:" + id, nil
		}
	}
	if title := NormalizeText(p.Title); title != "" {
		author := ""
		if len(p.Authors) > 0 {
			words := strings.Fields(NormalizeText(p.Authors[0]))
			if len(words) > 0 {
				author = words[len(words)-1]
			}
		}
		return "title:" + title + "|" + author, nil
	}
	if strings.TrimSpace(p.FullText) != "" {
		return "text:" + strings.TrimSpace(p.FullText), nil
	}
	return "", fmt.Errorf("%w: %w", ErrInvalidInput, ErrNoFingerprint)
}

// Fingerprint derives the paper's identity from its canonical key.
func Fingerprint(p *PaperRecord) (ID, error) {
	key, err := CanonicalKey(p)
	if err != nil {
		return 0, err
	}
	return IDFromContent(key), nil
}
