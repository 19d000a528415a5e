package audio

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferAccumulatesWithinLimit(t *testing.T) {
	buf := NewBuffer(5000)
	chunks := [][]byte{
		bytes.Repeat([]byte{1}, 300),
		bytes.Repeat([]byte{2}, 400),
		bytes.Repeat([]byte{3}, 300),
	}

	total := 0
	for _, c := range chunks {
		require.NoError(t, buf.Append(c))
		total += len(c)
		assert.Equal(t, total, buf.Len())
	}
	assert.False(t, buf.IsEmpty())
}

func TestBufferExactlyAtLimit(t *testing.T) {
	buf := NewBuffer(10)
	require.NoError(t, buf.Append(make([]byte, 6)))
	require.NoError(t, buf.Append(make([]byte, 4)))
	assert.Equal(t, 10, buf.Len())
}

func TestBufferOverflowClearsEverything(t *testing.T) {
	buf := NewBuffer(5000)
	require.NoError(t, buf.Append(make([]byte, 3000)))

	err := buf.Append(make([]byte, 2001))
	require.ErrorIs(t, err, ErrBufferOverflow)
	assert.True(t, buf.IsEmpty())
	assert.Equal(t, 0, buf.Len())

	// the next chunk starts clean
	require.NoError(t, buf.Append([]byte{9, 9}))
	assert.Equal(t, 2, buf.Len())
}

func TestBufferSingleOversizedChunk(t *testing.T) {
	buf := NewBuffer(5000)
	err := buf.Append(make([]byte, 6000))
	require.ErrorIs(t, err, ErrBufferOverflow)
	assert.Equal(t, 0, buf.Len())
}

func TestTakeAndClear(t *testing.T) {
	buf := NewBuffer(100)
	require.NoError(t, buf.Append([]byte("abc")))
	require.NoError(t, buf.Append([]byte("def")))

	got := buf.TakeAndClear()
	assert.Equal(t, []byte("abcdef"), got)
	assert.True(t, buf.IsEmpty())

	require.NoError(t, buf.Append([]byte("xyz")))
	assert.Equal(t, []byte("abcdef"), got, "taken bytes must not alias the buffer")
	assert.Equal(t, []byte("xyz"), buf.TakeAndClear())
}

func TestTakeAndClearEmpty(t *testing.T) {
	buf := NewBuffer(100)
	assert.Empty(t, buf.TakeAndClear())
	assert.True(t, buf.IsEmpty())
}
