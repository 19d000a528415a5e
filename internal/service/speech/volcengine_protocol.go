package speech

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// Volcengine ASR binary framing: a 4-byte header, an optional sequence
// number, an error code for error frames, then a length-prefixed payload.
const volcProtocolVersion = 0b0001

type volcMsgType uint8

const (
	volcFullClientRequest  volcMsgType = 0b0001
	volcAudioOnlyRequest   volcMsgType = 0b0010
	volcFullServerResponse volcMsgType = 0b1001
	volcServerAck          volcMsgType = 0b1011
	volcErrorMessage       volcMsgType = 0b1111
)

type volcFlags uint8

const (
	volcNoSequence       volcFlags = 0b0000
	volcPositiveSequence volcFlags = 0b0001
	volcLastNoSequence   volcFlags = 0b0010
	volcNegativeSequence volcFlags = 0b0011
)

const (
	volcNoSerialization   uint8 = 0b0000
	volcJSONSerialization uint8 = 0b0001

	volcNoCompression   uint8 = 0b0000
	volcGzipCompression uint8 = 0b0001
)

type volcFrame struct {
	msgType       volcMsgType
	flags         volcFlags
	serialization uint8
	compression   uint8
	sequence      int32
	errorCode     uint32
	payload       []byte
}

func (f *volcFrame) hasSequence() bool {
	return f.flags == volcPositiveSequence || f.flags == volcNegativeSequence
}

func (f *volcFrame) last() bool {
	return f.flags == volcLastNoSequence || f.flags == volcNegativeSequence
}

func (f *volcFrame) encode() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{
		volcProtocolVersion<<4 | 0b0001,
		uint8(f.msgType)<<4 | uint8(f.flags),
		f.serialization<<4 | f.compression,
		0,
	})
	if f.hasSequence() {
		_ = binary.Write(&buf, binary.BigEndian, f.sequence)
	}
	if f.msgType == volcErrorMessage {
		_ = binary.Write(&buf, binary.BigEndian, f.errorCode)
	}
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(f.payload)))
	buf.Write(f.payload)
	return buf.Bytes()
}

func decodeVolcFrame(data []byte) (*volcFrame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	if v := data[0] >> 4; v != volcProtocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", v)
	}

	f := &volcFrame{
		msgType:       volcMsgType(data[1] >> 4),
		flags:         volcFlags(data[1] & 0x0F),
		serialization: data[2] >> 4,
		compression:   data[2] & 0x0F,
	}
	headerSize := int(data[0]&0x0F) * 4
	if headerSize < 4 || len(data) < headerSize {
		return nil, fmt.Errorf("bad header size %d", headerSize)
	}
	r := bytes.NewReader(data[headerSize:])

	if f.hasSequence() {
		if err := binary.Read(r, binary.BigEndian, &f.sequence); err != nil {
			return nil, fmt.Errorf("read sequence: %w", err)
		}
	}
	if f.msgType == volcErrorMessage {
		if err := binary.Read(r, binary.BigEndian, &f.errorCode); err != nil {
			return nil, fmt.Errorf("read error code: %w", err)
		}
	}
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return nil, fmt.Errorf("read payload size: %w", err)
	}
	if int(size) > r.Len() {
		return nil, fmt.Errorf("payload truncated: want %d bytes, have %d", size, r.Len())
	}
	f.payload = make([]byte, size)
	_, _ = io.ReadFull(r, f.payload)

	if f.compression == volcGzipCompression && len(f.payload) > 0 {
		plain, err := gunzip(f.payload)
		if err != nil {
			return nil, err
		}
		f.payload = plain
		f.compression = volcNoCompression
	}
	return f, nil
}

// audioFrame builds the seq-th audio packet. The final packet carries a
// negated sequence number.
func audioFrame(chunk []byte, seq int32, last bool) (*volcFrame, error) {
	payload, err := gzipBytes(chunk)
	if err != nil {
		return nil, err
	}
	f := &volcFrame{
		msgType:       volcAudioOnlyRequest,
		flags:         volcPositiveSequence,
		serialization: volcNoSerialization,
		compression:   volcGzipCompression,
		sequence:      seq,
		payload:       payload,
	}
	if last {
		f.flags = volcNegativeSequence
		f.sequence = -seq
	}
	return f, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
