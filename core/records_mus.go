package core

import (
	"errors"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the persisted records. Field order is the wire order;
// append new fields at the end and bump SchemaVersion when the layout changes.
var (
	IDMUS            = idMUS{}
	PaperRecordMUS   = paperRecordMUS{}
	ConceptRecordMUS = conceptRecordMUS{}
	LinkMUS          = linkMUS{}
	SchemaInfoMUS    = schemaInfoMUS{}
	CheckpointMUS    = checkpointMUS{}
	VectorMUS        = vectorMUS{}
)

type idMUS struct{}

func (idMUS) Marshal(v ID, bs []byte) int { return varint.Uint64.Marshal(uint64(v), bs) }

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return ID(v), n, err
}

func (idMUS) Size(v ID) int { return varint.Uint64.Size(uint64(v)) }

type paperRecordMUS struct{}

func (paperRecordMUS) Marshal(v PaperRecord, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(v.Id), bs)
	for _, s := range []string{v.DOI, v.ExternalID, v.Title} {
		n += ord.String.Marshal(s, bs[n:])
	}
	n += marshalStrings(v.Authors, bs[n:])
	for _, s := range []string{v.Abstract, v.FullText, v.SourceURL, v.PDFURL, v.Venue} {
		n += ord.String.Marshal(s, bs[n:])
	}
	n += varint.Int.Marshal(v.Year, bs[n:])
	n += ord.String.Marshal(v.Query, bs[n:])
	n += marshalStrings(v.Tags, bs[n:])
	n += ord.String.Marshal(v.Summary, bs[n:])
	n += ord.Bool.Marshal(v.NeedsReprocessing, bs[n:])
	n += marshalVector(v.Vector, bs[n:])
	n += varint.Uint64.Marshal(uint64(v.ContentHash), bs[n:])
	n += varint.Uint64.Marshal(v.Revision, bs[n:])
	for _, t := range []time.Time{v.RetrievedAt, v.InsertedAt, v.UpdatedAt} {
		n += marshalTime(t, bs[n:])
	}
	return n
}

func (paperRecordMUS) Unmarshal(bs []byte) (v PaperRecord, n int, err error) {
	if err = unmarshalID(bs, &n, &v.Id); err != nil {
		return
	}
	for _, dst := range []*string{&v.DOI, &v.ExternalID, &v.Title} {
		if err = unmarshalString(bs, &n, dst); err != nil {
			return
		}
	}
	if err = unmarshalStrings(bs, &n, &v.Authors); err != nil {
		return
	}
	for _, dst := range []*string{&v.Abstract, &v.FullText, &v.SourceURL, &v.PDFURL, &v.Venue} {
		if err = unmarshalString(bs, &n, dst); err != nil {
			return
		}
	}
	if err = unmarshalInt(bs, &n, &v.Year); err != nil {
		return
	}
	if err = unmarshalString(bs, &n, &v.Query); err != nil {
		return
	}
	if err = unmarshalStrings(bs, &n, &v.Tags); err != nil {
		return
	}
	if err = unmarshalString(bs, &n, &v.Summary); err != nil {
		return
	}
	if err = unmarshalBool(bs, &n, &v.NeedsReprocessing); err != nil {
		return
	}
	if err = unmarshalVector(bs, &n, &v.Vector); err != nil {
		return
	}
	if err = unmarshalID(bs, &n, &v.ContentHash); err != nil {
		return
	}
	if err = unmarshalUint64(bs, &n, &v.Revision); err != nil {
		return
	}
	for _, dst := range []*time.Time{&v.RetrievedAt, &v.InsertedAt, &v.UpdatedAt} {
		if err = unmarshalTime(bs, &n, dst); err != nil {
			return
		}
	}
	return
}

func (paperRecordMUS) Size(v PaperRecord) (size int) {
	size = varint.Uint64.Size(uint64(v.Id))
	for _, s := range []string{v.DOI, v.ExternalID, v.Title, v.Abstract, v.FullText, v.SourceURL, v.PDFURL, v.Venue, v.Query, v.Summary} {
		size += ord.String.Size(s)
	}
	size += sizeStrings(v.Authors) + sizeStrings(v.Tags)
	size += varint.Int.Size(v.Year)
	size += ord.Bool.Size(v.NeedsReprocessing)
	size += sizeVector(v.Vector)
	size += varint.Uint64.Size(uint64(v.ContentHash))
	size += varint.Uint64.Size(v.Revision)
	for _, t := range []time.Time{v.RetrievedAt, v.InsertedAt, v.UpdatedAt} {
		size += sizeTime(t)
	}
	return size
}

type conceptRecordMUS struct{}

func (conceptRecordMUS) Marshal(v ConceptRecord, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(v.Id), bs)
	n += ord.String.Marshal(v.Phrase, bs[n:])
	n += marshalVector(v.Vector, bs[n:])
	n += marshalTime(v.InsertedAt, bs[n:])
	n += marshalTime(v.UpdatedAt, bs[n:])
	return n
}

func (conceptRecordMUS) Unmarshal(bs []byte) (v ConceptRecord, n int, err error) {
	if err = unmarshalID(bs, &n, &v.Id); err != nil {
		return
	}
	if err = unmarshalString(bs, &n, &v.Phrase); err != nil {
		return
	}
	if err = unmarshalVector(bs, &n, &v.Vector); err != nil {
		return
	}
	if err = unmarshalTime(bs, &n, &v.InsertedAt); err != nil {
		return
	}
	err = unmarshalTime(bs, &n, &v.UpdatedAt)
	return
}

func (conceptRecordMUS) Size(v ConceptRecord) int {
	return varint.Uint64.Size(uint64(v.Id)) +
		ord.String.Size(v.Phrase) +
		sizeVector(v.Vector) +
		sizeTime(v.InsertedAt) +
		sizeTime(v.UpdatedAt)
}

type linkMUS struct{}

func (linkMUS) Marshal(v Link, bs []byte) (n int) {
	n = varint.Uint64.Marshal(uint64(v.PaperId), bs)
	n += varint.Uint64.Marshal(uint64(v.ConceptId), bs[n:])
	n += ord.String.Marshal(v.Phrase, bs[n:])
	n += raw.Float32.Marshal(v.Confidence, bs[n:])
	n += marshalTime(v.CreatedAt, bs[n:])
	return n
}

func (linkMUS) Unmarshal(bs []byte) (v Link, n int, err error) {
	if err = unmarshalID(bs, &n, &v.PaperId); err != nil {
		return
	}
	if err = unmarshalID(bs, &n, &v.ConceptId); err != nil {
		return
	}
	if err = unmarshalString(bs, &n, &v.Phrase); err != nil {
		return
	}
	if err = unmarshalFloat32(bs, &n, &v.Confidence); err != nil {
		return
	}
	err = unmarshalTime(bs, &n, &v.CreatedAt)
	return
}

func (linkMUS) Size(v Link) int {
	return varint.Uint64.Size(uint64(v.PaperId)) +
		varint.Uint64.Size(uint64(v.ConceptId)) +
		ord.String.Size(v.Phrase) +
		raw.Float32.Size(v.Confidence) +
		sizeTime(v.CreatedAt)
}

type schemaInfoMUS struct{}

func (schemaInfoMUS) Marshal(v SchemaInfo, bs []byte) (n int) {
	n = varint.Int.Marshal(v.Version, bs)
	n += ord.String.Marshal(v.EmbeddingModel, bs[n:])
	n += varint.Int.Marshal(v.Dimension, bs[n:])
	n += marshalTime(v.UpdatedAt, bs[n:])
	return n
}

func (schemaInfoMUS) Unmarshal(bs []byte) (v SchemaInfo, n int, err error) {
	if err = unmarshalInt(bs, &n, &v.Version); err != nil {
		return
	}
	if err = unmarshalString(bs, &n, &v.EmbeddingModel); err != nil {
		return
	}
	if err = unmarshalInt(bs, &n, &v.Dimension); err != nil {
		return
	}
	err = unmarshalTime(bs, &n, &v.UpdatedAt)
	return
}

func (schemaInfoMUS) Size(v SchemaInfo) int {
	return varint.Int.Size(v.Version) +
		ord.String.Size(v.EmbeddingModel) +
		varint.Int.Size(v.Dimension) +
		sizeTime(v.UpdatedAt)
}

type vectorMUS struct{}

func (vectorMUS) Marshal(v []float32, bs []byte) int { return marshalVector(v, bs) }

func (vectorMUS) Unmarshal(bs []byte) (v []float32, n int, err error) {
	err = unmarshalVector(bs, &n, &v)
	return v, n, err
}

func (vectorMUS) Size(v []float32) int { return sizeVector(v) }

type checkpointMUS struct{}

func (checkpointMUS) Marshal(v Checkpoint, bs []byte) (n int) {
	n = ord.String.Marshal(v.Name, bs)
	n += varint.Uint64.Marshal(uint64(v.LastID), bs[n:])
	n += varint.Int.Marshal(v.Processed, bs[n:])
	n += marshalTime(v.LastRunAt, bs[n:])
	n += marshalTime(v.UpdatedAt, bs[n:])
	return n
}

func (checkpointMUS) Unmarshal(bs []byte) (v Checkpoint, n int, err error) {
	if err = unmarshalString(bs, &n, &v.Name); err != nil {
		return
	}
	if err = unmarshalID(bs, &n, &v.LastID); err != nil {
		return
	}
	if err = unmarshalInt(bs, &n, &v.Processed); err != nil {
		return
	}
	if err = unmarshalTime(bs, &n, &v.LastRunAt); err != nil {
		return
	}
	err = unmarshalTime(bs, &n, &v.UpdatedAt)
	return
}

func (checkpointMUS) Size(v Checkpoint) int {
	return ord.String.Size(v.Name) +
		varint.Uint64.Size(uint64(v.LastID)) +
		varint.Int.Size(v.Processed) +
		sizeTime(v.LastRunAt) +
		sizeTime(v.UpdatedAt)
}

// ErrCorruptRecord indicates a slice length prefix that cannot fit the remaining bytes.
var ErrCorruptRecord = errors.New("corrupt record encoding")

// Helpers. Slices are a length prefix followed by their elements.
// Times are UnixNano with 0 standing in for the zero time.

func marshalStrings(v []string, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, s := range v {
		n += ord.String.Marshal(s, bs[n:])
	}
	return n
}

func sizeStrings(v []string) (size int) {
	size = varint.Int.Size(len(v))
	for _, s := range v {
		size += ord.String.Size(s)
	}
	return size
}

func marshalVector(v []float32, bs []byte) (n int) {
	n = varint.Int.Marshal(len(v), bs)
	for _, f := range v {
		n += raw.Float32.Marshal(f, bs[n:])
	}
	return n
}

func sizeVector(v []float32) (size int) {
	size = varint.Int.Size(len(v))
	for _, f := range v {
		size += raw.Float32.Size(f)
	}
	return size
}

func timeValue(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func marshalTime(t time.Time, bs []byte) int { return varint.Int64.Marshal(timeValue(t), bs) }

func sizeTime(t time.Time) int { return varint.Int64.Size(timeValue(t)) }

func unmarshalID(bs []byte, n *int, dst *ID) error {
	v, m, err := varint.Uint64.Unmarshal(bs[*n:])
	*n += m
	if err != nil {
		return err
	}
	*dst = ID(v)
	return nil
}

func unmarshalUint64(bs []byte, n *int, dst *uint64) error {
	v, m, err := varint.Uint64.Unmarshal(bs[*n:])
	*n += m
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalInt(bs []byte, n *int, dst *int) error {
	v, m, err := varint.Int.Unmarshal(bs[*n:])
	*n += m
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalString(bs []byte, n *int, dst *string) error {
	v, m, err := ord.String.Unmarshal(bs[*n:])
	*n += m
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalBool(bs []byte, n *int, dst *bool) error {
	v, m, err := ord.Bool.Unmarshal(bs[*n:])
	*n += m
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalFloat32(bs []byte, n *int, dst *float32) error {
	v, m, err := raw.Float32.Unmarshal(bs[*n:])
	*n += m
	if err != nil {
		return err
	}
	*dst = v
	return nil
}

func unmarshalStrings(bs []byte, n *int, dst *[]string) error {
	var length int
	if err := unmarshalInt(bs, n, &length); err != nil {
		return err
	}
	if length < 0 || length > len(bs)-*n {
		return ErrCorruptRecord
	}
	if length == 0 {
		*dst = nil
		return nil
	}
	out := make([]string, length)
	for i := range out {
		if err := unmarshalString(bs, n, &out[i]); err != nil {
			return err
		}
	}
	*dst = out
	return nil
}

func unmarshalVector(bs []byte, n *int, dst *[]float32) error {
	var length int
	if err := unmarshalInt(bs, n, &length); err != nil {
		return err
	}
	if length < 0 || length > len(bs)-*n {
		return ErrCorruptRecord
	}
	if length == 0 {
		*dst = nil
		return nil
	}
	out := make([]float32, length)
	for i := range out {
		if err := unmarshalFloat32(bs, n, &out[i]); err != nil {
			return err
		}
	}
	*dst = out
	return nil
}

func unmarshalTime(bs []byte, n *int, dst *time.Time) error {
	v, m, err := varint.Int64.Unmarshal(bs[*n:])
	*n += m
	if err != nil {
		return err
	}
	if v == 0 {
		*dst = time.Time{}
		return nil
	}
	*dst = time.Unix(0, v).UTC()
	return nil
}
