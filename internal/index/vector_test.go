package index

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(t *testing.T, v ...float32) []float32 {
	t.Helper()
	out, err := Normalize(v)
	require.NoError(t, err)
	return out
}

func TestVectorIndexAddAssignsRows(t *testing.T) {
	v := NewVectorIndex(2)

	for i := 0; i < 3; i++ {
		row, err := v.Add(unit(t, 1, float32(i)))
		require.NoError(t, err)
		assert.Equal(t, i, row)
	}
	assert.Equal(t, 3, v.Len())

	_, err := v.Add([]float32{1, 0, 0})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Equal(t, 3, v.Len())
}

func TestVectorIndexSearchOrder(t *testing.T) {
	v := NewVectorIndex(2)
	_, _ = v.Add(unit(t, 0, 1))  // row 0, score 0
	_, _ = v.Add(unit(t, 1, 0))  // row 1, score 1
	_, _ = v.Add(unit(t, 1, 1))  // row 2, score ~0.707
	_, _ = v.Add(unit(t, -1, 0)) // row 3, score -1
	_, _ = v.Add(unit(t, 1, 0))  // row 4, ties with row 1

	hits, err := v.Search(unit(t, 1, 0), 10)
	require.NoError(t, err)
	require.Len(t, hits, 5)

	rows := make([]int, len(hits))
	for i, h := range hits {
		rows[i] = h.Row
	}
	assert.Equal(t, []int{1, 4, 2, 0, 3}, rows)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.InDelta(t, math.Sqrt2/2, hits[2].Score, 1e-6)
	assert.InDelta(t, -1.0, hits[4].Score, 1e-6)
}

func TestVectorIndexSearchTopK(t *testing.T) {
	v := NewVectorIndex(2)
	for i := 0; i < 20; i++ {
		_, _ = v.Add(unit(t, float32(i), 20-float32(i)))
	}

	hits, err := v.Search(unit(t, 1, 0), 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 19, hits[0].Row)
	assert.Equal(t, 18, hits[1].Row)
	assert.Equal(t, 17, hits[2].Row)
}

func TestVectorIndexSearchSmallStore(t *testing.T) {
	v := NewVectorIndex(2)

	hits, err := v.Search(unit(t, 1, 0), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, _ = v.Add(unit(t, 1, 0))
	_, _ = v.Add(unit(t, 0, 1))
	hits, err = v.Search(unit(t, 1, 0), 5)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = v.Search(unit(t, 1, 0), 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestVectorIndexSearchDimensionMismatch(t *testing.T) {
	v := NewVectorIndex(2)
	_, _ = v.Add(unit(t, 1, 0))

	_, err := v.Search([]float32{1, 0, 0}, 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestNormalize(t *testing.T) {
	got, err := Normalize([]float32{3, 4})
	require.NoError(t, err)
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)

	_, err = Normalize([]float32{0, 0})
	assert.ErrorIs(t, err, ErrZeroVector)
	_, err = Normalize(nil)
	assert.ErrorIs(t, err, ErrZeroVector)
}

func TestVectorRoundTrip(t *testing.T) {
	v := NewVectorIndex(3)
	_, _ = v.Add(unit(t, 1, 2, 3))
	_, _ = v.Add(unit(t, -1, 0, 1))

	var buf bytes.Buffer
	n, err := v.WriteTo(&buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	got, err := ReadVectors(&buf, 3)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, v.Row(0), got.Row(0))
	assert.Equal(t, v.Row(1), got.Row(1))
}

func TestReadVectorsRejectsWrongDimension(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewVectorIndex(3).WriteTo(&buf)
	require.NoError(t, err)

	_, err = ReadVectors(&buf, 4)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = ReadVectors(bytes.NewReader([]byte("nope")), 3)
	assert.ErrorIs(t, err, ErrCorruptVectors)
}

func TestReadVectorsDropsTornRow(t *testing.T) {
	v := NewVectorIndex(2)
	_, _ = v.Add(unit(t, 1, 0))

	var buf bytes.Buffer
	_, err := v.WriteTo(&buf)
	require.NoError(t, err)
	buf.Write([]byte{0, 0, 0x80}) // 半行

	got, err := ReadVectors(&buf, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Len())
}
