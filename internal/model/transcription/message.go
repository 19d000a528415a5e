package transcription

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Inbound message types.
const (
	TypeAudioChunk      = "audio_chunk"
	TypeAudioEnd        = "audio_end"
	TypePatientInfo     = "patient_info"
	TypePing            = "ping"
	TypeClearTranscript = "clear_transcript"
)

// Outbound message types.
const (
	TypeTranscript         = "transcript"
	TypeError              = "error"
	TypeWarning            = "warning"
	TypePatientInfoUpdated = "patient_info_updated"
	TypePong               = "pong"
	TypeTranscriptCleared  = "transcript_cleared"
	TypeNotice             = "notice"
)

// Inbound is a decoded client frame. Only the fields relevant to Type are set.
type Inbound struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`

	PatientName   *string `json:"patient_name,omitempty"`
	PatientAge    Age     `json:"patient_age"`
	PatientGender *string `json:"patient_gender,omitempty"`
}

// Patient extracts the partial patient descriptor carried by a patient_info frame.
func (m Inbound) Patient() PatientInfo {
	return PatientInfo{Name: m.PatientName, Age: m.PatientAge.Value, Gender: m.PatientGender}
}

// Age is a patient age as sent by clients: a JSON number or a numeric
// string such as a form input produces. Anything else, including null,
// negative and fractional values, leaves Value nil.
type Age struct {
	Value *int
}

// UnmarshalJSON never fails, so a bad age does not reject the whole frame.
func (a *Age) UnmarshalJSON(data []byte) error {
	a.Value = nil
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil
	}
	n := int(f)
	a.Value = &n
	return nil
}

func (a Age) MarshalJSON() ([]byte, error) {
	if a.Value == nil {
		return []byte("null"), nil
	}
	return []byte(strconv.Itoa(*a.Value)), nil
}

// ParseInbound decodes one client frame.
func ParseInbound(raw []byte) (Inbound, error) {
	var msg Inbound
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Inbound{}, err
	}
	return msg, nil
}

// Outbound is a server frame. Fields not used by Type are omitted on the wire.
type Outbound struct {
	Type         string  `json:"type"`
	Text         *string `json:"text,omitempty"`
	SessionID    string  `json:"session_id,omitempty"`
	IsHistorical bool    `json:"is_historical,omitempty"`
	Timestamp    string  `json:"timestamp,omitempty"`
	Message      string  `json:"message,omitempty"`
	Details      string  `json:"details,omitempty"`
}

// Timestamp renders t the way every outbound message carries time.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// TranscriptMessage reports a freshly transcribed utterance.
func TranscriptMessage(sessionID, text string, at time.Time) Outbound {
	return Outbound{Type: TypeTranscript, Text: &text, SessionID: sessionID, Timestamp: Timestamp(at)}
}

// HistoricalTranscriptMessage replays the stored transcript on reconnect.
func HistoricalTranscriptMessage(sessionID, text string) Outbound {
	return Outbound{Type: TypeTranscript, Text: &text, SessionID: sessionID, IsHistorical: true}
}

// ErrorMessage reports a recoverable failure.
func ErrorMessage(message, details string) Outbound {
	return Outbound{Type: TypeError, Message: message, Details: details}
}

// WarningMessage reports a non-failure condition the client should know about.
func WarningMessage(message string) Outbound {
	return Outbound{Type: TypeWarning, Message: message}
}

// PatientInfoUpdatedMessage acknowledges a patient_info frame.
func PatientInfoUpdatedMessage() Outbound {
	return Outbound{Type: TypePatientInfoUpdated, Message: "Patient information updated"}
}

// PongMessage answers a ping.
func PongMessage(at time.Time) Outbound {
	return Outbound{Type: TypePong, Timestamp: Timestamp(at)}
}

// TranscriptClearedMessage acknowledges clear_transcript.
func TranscriptClearedMessage() Outbound {
	return Outbound{Type: TypeTranscriptCleared}
}

// NoticeMessage is an operator broadcast.
func NoticeMessage(text string, at time.Time) Outbound {
	return Outbound{Type: TypeNotice, Message: text, Timestamp: Timestamp(at)}
}
