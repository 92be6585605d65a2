package embedding

// Kind is the role of an embedded text. Asymmetric models embed documents and
// queries with different prefixes, and the cache keeps kinds apart.
type Kind int

const (
	KindPaper Kind = iota
	KindConcept
	KindQuery
)

func (k Kind) String() string {
	switch k {
	case KindPaper:
		return "paper"
	case KindConcept:
		return "concept"
	case KindQuery:
		return "query"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	return k >= KindPaper && k <= KindQuery
}
