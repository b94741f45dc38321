package materialize

import (
	"context"
	"testing"

	"github.com/hunddb/hunddb-core/hdberr"
	"github.com/hunddb/hunddb-core/model"
	"github.com/stretchr/testify/require"
)

// Scenario B: Add id=A, Update id=A doc="hi", Delete id=A against an
// empty record segment yields zero live records.
func TestMaterializeScenarioB(t *testing.T) {
	doc := "hi"
	chunk := []model.LogRecord{
		{UserID: "A", Operation: model.OpAdd, Embedding: []float32{1, 0}},
		{UserID: "A", Operation: model.OpUpdate, Document: &doc},
		{UserID: "A", Operation: model.OpDelete},
	}

	result, err := Materialize(context.Background(), nil, chunk)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, model.DeleteExisting, result.Records[0].FinalOperation)
	require.Nil(t, result.Records[0].Embedding)
	require.Nil(t, result.Records[0].Document)
}

func TestMaterializeAddThenUpdateSameOffset(t *testing.T) {
	doc := "hello"
	chunk := []model.LogRecord{
		{UserID: "A", Operation: model.OpAdd, Embedding: []float32{1, 0}},
		{UserID: "A", Operation: model.OpUpdate, Document: &doc},
	}

	result, err := Materialize(context.Background(), nil, chunk)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	require.Equal(t, model.AddNew, rec.FinalOperation)
	require.Equal(t, []float32{1, 0}, rec.Embedding)
	require.Equal(t, "hello", *rec.Document)
}

func TestMaterializeUpdateOnNonexistentDrops(t *testing.T) {
	chunk := []model.LogRecord{
		{UserID: "ghost", Operation: model.OpUpdate, Document: strPtr("x")},
	}
	result, err := Materialize(context.Background(), nil, chunk)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	require.Equal(t, model.Initial, result.Records[0].FinalOperation)
}

func TestMaterializeDeleteOnNonexistentFails(t *testing.T) {
	chunk := []model.LogRecord{
		{UserID: "ghost", Operation: model.OpDelete},
	}
	_, err := Materialize(context.Background(), nil, chunk)
	require.Error(t, err)
	require.Equal(t, hdberr.FailedPrecondition, hdberr.CodeOf(err))
}

func TestMaterializeUpsertAgainstExistingRecord(t *testing.T) {
	reader := &fakeReader{
		byUser: map[string]uint32{"A": 7},
		byOffset: map[uint32]*model.DataRecord{
			7: {
				ID:       "A",
				OffsetID: 7,
				Metadata: model.Metadata{"tag": model.StringValue("old")},
			},
		},
		maxOffset: 7,
	}
	chunk := []model.LogRecord{
		{UserID: "A", Operation: model.OpUpsert, Metadata: model.Metadata{"tag": model.StringValue("new")}},
	}
	result, err := Materialize(context.Background(), reader, chunk)
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	require.Equal(t, uint32(7), rec.OffsetID)
	require.Equal(t, model.UpdateExisting, rec.FinalOperation)
	require.Equal(t, "new", rec.Metadata["tag"].Str)
}

func TestMaterializeSparsePostingsNetOutOnOverlap(t *testing.T) {
	reader := &fakeReader{
		byUser: map[string]uint32{"A": 1},
		byOffset: map[uint32]*model.DataRecord{
			1: {
				ID:       "A",
				OffsetID: 1,
				Metadata: model.Metadata{"sv": model.SparseValue(map[uint32]float32{1: 0.5, 2: 0.5})},
			},
		},
		maxOffset: 1,
	}
	chunk := []model.LogRecord{
		{UserID: "A", Operation: model.OpUpsert, Metadata: model.Metadata{"sv": model.SparseValue(map[uint32]float32{2: 0.9, 3: 0.9})}},
	}
	result, err := Materialize(context.Background(), reader, chunk)
	require.NoError(t, err)

	net := map[uint32]int{}
	for _, p := range result.Postings {
		require.Equal(t, "sv", p.MetadataKey)
		net[p.Dimension] += p.Delta
	}
	require.Equal(t, -1, net[1])
	require.Equal(t, 0, net[2])
	require.Equal(t, 1, net[3])
}

func strPtr(s string) *string { return &s }

type fakeReader struct {
	byUser    map[string]uint32
	byOffset  map[uint32]*model.DataRecord
	maxOffset uint32
}

func (f *fakeReader) LookupOffset(ctx context.Context, userID string) (uint32, bool, error) {
	off, ok := f.byUser[userID]
	return off, ok, nil
}

func (f *fakeReader) GetDataRecord(ctx context.Context, offsetID uint32) (*model.DataRecord, bool, error) {
	rec, ok := f.byOffset[offsetID]
	return rec, ok, nil
}

func (f *fakeReader) MaxExistingOffsetID(ctx context.Context) (uint32, error) {
	return f.maxOffset, nil
}
