package search

import (
	"strings"

	"github.com/poiesic/athena/core"
)

// stopWords are ignored when matching a query against a title and abstract.
// Besides function words this covers the filler common in paper titles.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"in": true, "on": true, "for": true, "to": true, "with": true, "by": true,
	"from": true, "at": true, "as": true, "into": true, "over": true, "via": true,
	"is": true, "are": true, "be": true, "we": true, "our": true, "its": true,
	"this": true, "that": true, "using": true, "toward": true, "towards": true,
	"based": true, "novel": true, "new": true, "approach": true, "method": true,
	"paper": true, "study": true,
}

// queryTerms normalizes text with core.NormalizeText and drops stop words.
// Hyphenated and punctuated forms split into their parts, so "Graph-based" yields "graph".
func queryTerms(text string) []string {
	words := strings.Fields(core.NormalizeText(text))
	terms := words[:0]
	for _, word := range words {
		if !stopWords[word] {
			terms = append(terms, word)
		}
	}
	return terms
}

// mentionsAllTerms reports whether every query term occurs in the paper text.
// A query made only of stop words mentions nothing.
func mentionsAllTerms(paperText, query string) bool {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return false
	}
	present := make(map[string]bool)
	for _, word := range queryTerms(paperText) {
		present[word] = true
	}
	for _, term := range terms {
		if !present[term] {
			return false
		}
	}
	return true
}
