package ingestion

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobOutcome(t *testing.T) {
	tests := []struct {
		name string
		job  job
		want Outcome
	}{
		{"stored", job{stage: StageStored}, OutcomeStored},
		{"partial", job{stage: StageStored, partial: []Failure{{Stage: StageSummarized}}}, OutcomePartial},
		{"failed", job{stage: StageConceptExtracted, failure: &Failure{Stage: StageStored}}, OutcomeFailed},
		{"incomplete", job{stage: StageSummarized}, OutcomeIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.report().Outcome)
		})
	}
}

func TestBatchReportCounts(t *testing.T) {
	r := &BatchReport{Index: 2}
	for _, o := range []Outcome{OutcomeStored, OutcomeStored, OutcomePartial, OutcomeFailed, OutcomeIncomplete} {
		r.add(PaperReport{Outcome: o})
	}
	assert.Equal(t, 5, r.Total())
	assert.Equal(t, 2, r.Stored)
	assert.Len(t, r.Failures(), 1)
	assert.Equal(t, "batch 2: 2 stored, 1 partial, 1 failed, 1 incomplete", r.String())
	assert.Panics(t, func() { r.add(PaperReport{}) })

	stored, partial, failed, incomplete := Totals([]*BatchReport{r, r})
	assert.Equal(t, []int{4, 2, 2, 2}, []int{stored, partial, failed, incomplete})
}

func TestFailureError(t *testing.T) {
	boom := errors.New("boom")
	f := Failure{Stage: StageSummarized, Reason: "summarization failed", Err: boom}
	assert.Equal(t, "summarized: summarization failed: boom", f.Error())
	assert.ErrorIs(t, f, boom)
	assert.Equal(t, "stored: no links", Failure{Stage: StageStored, Reason: "no links"}.Error())
}

func TestStageAndOutcomeStrings(t *testing.T) {
	assert.Equal(t, "concept-extracted", StageConceptExtracted.String())
	assert.Equal(t, "stage(0)", Stage(0).String())
	assert.Equal(t, "incomplete", OutcomeIncomplete.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
