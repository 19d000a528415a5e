// Package audio holds the per-connection utterance accumulator and the
// boundary decoding of wire audio payloads.
package audio

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrBufferOverflow is returned by Append when a chunk would push the buffer
// past its limit. The buffer is already empty when the caller sees it.
var ErrBufferOverflow = errors.New("audio buffer limit exceeded")

// Buffer accumulates the audio of one utterance for one connection. It is
// owned by a single session loop and is not safe for concurrent use.
type Buffer struct {
	max  int
	data bytes.Buffer
}

// NewBuffer creates an empty buffer that never holds more than maxBytes.
func NewBuffer(maxBytes int) *Buffer {
	return &Buffer{max: maxBytes}
}

// Append adds chunk to the utterance. When the chunk does not fit, the whole
// utterance is discarded so a truncated recording is never transcribed.
func (b *Buffer) Append(chunk []byte) error {
	if b.data.Len()+len(chunk) > b.max {
		dropped := b.data.Len()
		b.data.Reset()
		return fmt.Errorf("%w: %d buffered + %d incoming > %d bytes", ErrBufferOverflow, dropped, len(chunk), b.max)
	}
	b.data.Write(chunk)
	return nil
}

// TakeAndClear returns the accumulated bytes and leaves the buffer empty.
// The returned slice is not shared with the buffer.
func (b *Buffer) TakeAndClear() []byte {
	out := bytes.Clone(b.data.Bytes())
	b.data.Reset()
	return out
}

// IsEmpty reports whether no audio is buffered.
func (b *Buffer) IsEmpty() bool { return b.data.Len() == 0 }

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return b.data.Len() }

// Max returns the configured limit.
func (b *Buffer) Max() int { return b.max }
