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


package storage

import (
	"fmt"

	"github.com/poiesic/athena/core"
)

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, core.IDMUS.Size(id))
	core.IDMUS.Marshal(id, buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	id, _, err := core.IDMUS.Unmarshal(data)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return id, nil
}

// MarshalPaper serializes a PaperRecord to bytes.
func MarshalPaper(paper *core.PaperRecord) []byte {
	buf := make([]byte, core.PaperRecordMUS.Size(*paper))
	core.PaperRecordMUS.Marshal(*paper, buf)
	return buf
}

// UnmarshalPaper deserializes a PaperRecord from bytes.
func UnmarshalPaper(data []byte) (*core.PaperRecord, error) {
	paper, _, err := core.PaperRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: paper: %w", ErrSerializationFailed, err)
	}
	return &paper, nil
}

// MarshalConcept serializes a ConceptRecord to bytes.
func MarshalConcept(concept *core.ConceptRecord) []byte {
	buf := make([]byte, core.ConceptRecordMUS.Size(*concept))
	core.ConceptRecordMUS.Marshal(*concept, buf)
	return buf
}

// UnmarshalConcept deserializes a ConceptRecord from bytes.
func UnmarshalConcept(data []byte) (*core.ConceptRecord, error) {
	concept, _, err := core.ConceptRecordMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: concept: %w", ErrSerializationFailed, err)
	}
	return &concept, nil
}

// MarshalLink serializes a Link to bytes.
func MarshalLink(link core.Link) []byte {
	buf := make([]byte, core.LinkMUS.Size(link))
	core.LinkMUS.Marshal(link, buf)
	return buf
}

// UnmarshalLink deserializes a Link from bytes.
func UnmarshalLink(data []byte) (core.Link, error) {
	link, _, err := core.LinkMUS.Unmarshal(data)
	if err != nil {
		return core.Link{}, fmt.Errorf("%w: link: %w", ErrSerializationFailed, err)
	}
	return link, nil
}

// MarshalSchemaInfo serializes SchemaInfo to bytes.
func MarshalSchemaInfo(info *core.SchemaInfo) []byte {
	buf := make([]byte, core.SchemaInfoMUS.Size(*info))
	core.SchemaInfoMUS.Marshal(*info, buf)
	return buf
}

// UnmarshalSchemaInfo deserializes SchemaInfo from bytes.
func UnmarshalSchemaInfo(data []byte) (*core.SchemaInfo, error) {
	info, _, err := core.SchemaInfoMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: schema: %w", ErrSerializationFailed, err)
	}
	return &info, nil
}

// MarshalCheckpoint serializes a Checkpoint to bytes.
func MarshalCheckpoint(checkpoint *core.Checkpoint) []byte {
	buf := make([]byte, core.CheckpointMUS.Size(*checkpoint))
	core.CheckpointMUS.Marshal(*checkpoint, buf)
	return buf
}

// UnmarshalCheckpoint deserializes a Checkpoint from bytes.
func UnmarshalCheckpoint(data []byte) (*core.Checkpoint, error) {
	checkpoint, _, err := core.CheckpointMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: checkpoint: %w", ErrSerializationFailed, err)
	}
	return &checkpoint, nil
}

// MarshalVector serializes an embedding vector to bytes.
func MarshalVector(vector []float32) []byte {
	buf := make([]byte, core.VectorMUS.Size(vector))
	core.VectorMUS.Marshal(vector, buf)
	return buf
}

// UnmarshalVector deserializes an embedding vector from bytes.
func UnmarshalVector(data []byte) ([]float32, error) {
	vector, _, err := core.VectorMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: vector: %w", ErrSerializationFailed, err)
	}
	return vector, nil
}
