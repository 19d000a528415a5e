package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrDecode is returned when an audio_chunk payload is not valid base64.
var ErrDecode = errors.New("audio decoding failed")

// DecodeChunk turns a wire payload into raw audio bytes. Browsers that read a
// Blob with FileReader.readAsDataURL produce a "data:<mime>;base64," prefix,
// which is stripped. Unpadded input is accepted.
func DecodeChunk(payload string) ([]byte, error) {
	payload = strings.TrimSpace(payload)
	if strings.HasPrefix(payload, "data:") {
		idx := strings.Index(payload, ",")
		if idx < 0 {
			return nil, fmt.Errorf("%w: malformed data URL", ErrDecode)
		}
		payload = payload[idx+1:]
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err == nil {
		return decoded, nil
	}
	if raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "=")); rawErr == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("%w: %v", ErrDecode, err)
}
