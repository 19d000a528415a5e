package audio

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeChunk(t *testing.T) {
	payload := []byte("RIFF....WAVEfmt ")
	std := base64.StdEncoding.EncodeToString(payload)
	raw := base64.RawStdEncoding.EncodeToString(payload[:5])

	tests := []struct {
		name  string
		input string
		want  []byte
	}{
		{"standard", std, payload},
		{"data url", "data:audio/webm;codecs=opus;base64," + std, payload},
		{"unpadded", raw, payload[:5]},
		{"surrounding whitespace", "  " + std + "\n", payload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeChunk(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeChunkInvalid(t *testing.T) {
	for _, input := range []string{"not base64!!", "data:audio/webm;base64", "@@@@"} {
		_, err := DecodeChunk(input)
		assert.ErrorIs(t, err, ErrDecode, input)
	}
}

func TestDecodeFailureLeavesBufferIntact(t *testing.T) {
	buf := NewBuffer(100)
	require.NoError(t, buf.Append([]byte("keep")))

	if chunk, err := DecodeChunk("%%%"); err == nil {
		_ = buf.Append(chunk)
	}
	assert.Equal(t, []byte("keep"), buf.TakeAndClear())
}
