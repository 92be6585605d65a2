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


package ingestion

import (
	"fmt"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/sources"
)

// Stage is a step of a paper's progress through the pipeline.
type Stage int

const (
	StageFetched Stage = iota + 1
	StageExtracted
	StageSummarized
	StageConceptExtracted
	StageStored
)

func (s Stage) String() string {
	switch s {
	case StageFetched:
		return "fetched"
	case StageExtracted:
		return "extracted"
	case StageSummarized:
		return "summarized"
	case StageConceptExtracted:
		return "concept-extracted"
	case StageStored:
		return "stored"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// Outcome is where a paper ended up when its batch finished.
type Outcome int

const (
	// OutcomeStored means every stage succeeded.
	OutcomeStored Outcome = iota + 1
	// OutcomePartial means the paper was stored but a later-recoverable stage failed.
	OutcomePartial
	// OutcomeFailed means the paper was not stored.
	OutcomeFailed
	// OutcomeIncomplete means the batch was cancelled before the paper was stored.
	OutcomeIncomplete
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return "stored"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	case OutcomeIncomplete:
		return "incomplete"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Failure is a stage that did not succeed and why.
type Failure struct {
	Stage  Stage
	Reason string
	Err    error
}

func (f Failure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Stage, f.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", f.Stage, f.Reason, f.Err)
}

func (f Failure) Unwrap() error {
	return f.Err
}

// job is one paper's transient state inside a batch.
type job struct {
	result sources.Result

	// existing is the stored version of the paper, nil when new.
	existing *core.PaperRecord
	paper    *core.PaperRecord
	stage    Stage
	links    []core.Link
	failure  *Failure
	partial  []Failure
}

func (j *job) fail(stage Stage, reason string, err error) {
	j.failure = &Failure{Stage: stage, Reason: reason, Err: err}
}

func (j *job) degrade(stage Stage, reason string, err error) {
	j.partial = append(j.partial, Failure{Stage: stage, Reason: reason, Err: err})
}

func (j *job) report() PaperReport {
	r := PaperReport{
		Title:    j.result.Title,
		Stage:    j.stage,
		Failure:  j.failure,
		Partial:  j.partial,
		Concepts: len(j.links),
	}
	if j.paper != nil {
		r.ID = j.paper.Id
		r.Title = j.paper.Title
		r.FullText = j.paper.FullText != ""
		r.NeedsReprocessing = j.paper.NeedsReprocessing
	}
	switch {
	case j.failure != nil:
		r.Outcome = OutcomeFailed
	case j.stage != StageStored:
		r.Outcome = OutcomeIncomplete
	case len(j.partial) > 0:
		r.Outcome = OutcomePartial
	default:
		r.Outcome = OutcomeStored
	}
	return r
}
