package export

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/athena/core"
)

type recordingExporter struct {
	exported []core.ID
	removed  []core.ID
	err      error
	closed   bool
}

func (r *recordingExporter) Export(_ context.Context, paper *core.PaperRecord, _ []ConceptRef) error {
	r.exported = append(r.exported, paper.Id)
	return r.err
}

func (r *recordingExporter) Remove(_ context.Context, id core.ID) error {
	r.removed = append(r.removed, id)
	return r.err
}

func (r *recordingExporter) Close() error {
	r.closed = true
	return nil
}

type exportOnly struct{ calls int }

func (e *exportOnly) Export(context.Context, *core.PaperRecord, []ConceptRef) error {
	e.calls++
	return nil
}

func TestMultiExportContinuesAfterFailure(t *testing.T) {
	boom := errors.New("vault offline")
	first := &recordingExporter{err: boom}
	second := &recordingExporter{}
	m := Multi{first, second}

	err := m.Export(context.Background(), &core.PaperRecord{Id: 7}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []core.ID{7}, first.exported)
	assert.Equal(t, []core.ID{7}, second.exported)
}

func TestMultiRemoveSkipsExportOnly(t *testing.T) {
	plain := &exportOnly{}
	rec := &recordingExporter{}
	m := Multi{plain, rec}

	require.NoError(t, m.Remove(context.Background(), 9))
	assert.Equal(t, []core.ID{9}, rec.removed)
	assert.Zero(t, plain.calls)
}

func TestMultiClose(t *testing.T) {
	rec := &recordingExporter{}
	m := Multi{&exportOnly{}, rec}
	require.NoError(t, m.Close())
	assert.True(t, rec.closed)
}

func TestEmptyMulti(t *testing.T) {
	var m Multi
	assert.NoError(t, m.Export(context.Background(), &core.PaperRecord{Id: 1}, nil))
	assert.NoError(t, m.Remove(context.Background(), 1))
	assert.NoError(t, m.Close())
}
