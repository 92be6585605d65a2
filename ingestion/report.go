package ingestion

import (
	"fmt"
	"time"

	"github.com/poiesic/athena/core"
)

// PaperReport is the outcome of one paper in a batch.
type PaperReport struct {
	ID    core.ID // Zero when the search result could not be fingerprinted
	Title string

	Outcome Outcome
	// Stage is the last stage the paper completed.
	Stage Stage
	// Failure is set when Outcome is OutcomeFailed.
	Failure *Failure
	// Partial lists the recoverable failures of a partially stored paper.
	Partial []Failure

	FullText          bool
	NeedsReprocessing bool
	Concepts          int // Links resolved for the paper
}

// BatchReport summarizes one batch. It is returned by value per call and never retained.
type BatchReport struct {
	Query  string
	Index  int // Position of the batch within the call
	Papers []PaperReport

	Stored     int
	Partial    int
	Failed     int
	Incomplete int

	Started  time.Time
	Finished time.Time
}

func (r *BatchReport) add(pr PaperReport) {
	r.Papers = append(r.Papers, pr)
	switch pr.Outcome {
	case OutcomeStored:
		r.Stored++
	case OutcomePartial:
		r.Partial++
	case OutcomeFailed:
		r.Failed++
	case OutcomeIncomplete:
		r.Incomplete++
	default:
		panic(fmt.Sprintf("ingestion: unhandled outcome %v", pr.Outcome))
	}
}

// Total returns the number of papers in the batch.
func (r *BatchReport) Total() int {
	return len(r.Papers)
}

// Failures returns the reports of papers that were not stored.
func (r *BatchReport) Failures() []PaperReport {
	var out []PaperReport
	for _, p := range r.Papers {
		if p.Outcome == OutcomeFailed {
			out = append(out, p)
		}
	}
	return out
}

func (r *BatchReport) String() string {
	return fmt.Sprintf("batch %d: %d stored, %d partial, %d failed, %d incomplete",
		r.Index, r.Stored, r.Partial, r.Failed, r.Incomplete)
}

// Totals adds up a set of batch reports.
func Totals(reports []*BatchReport) (stored, partial, failed, incomplete int) {
	for _, r := range reports {
		stored += r.Stored
		partial += r.Partial
		failed += r.Failed
		incomplete += r.Incomplete
	}
	return stored, partial, failed, incomplete
}
