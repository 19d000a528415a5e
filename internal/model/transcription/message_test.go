package transcription

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInboundPatientAge(t *testing.T) {
	tests := []struct {
		name string
		age  string
		want *int
	}{
		{"number", `45`, intPtr(45)},
		{"numeric string", `"45"`, intPtr(45)},
		{"padded string", `" 7 "`, intPtr(7)},
		{"whole float", `45.0`, intPtr(45)},
		{"fraction", `45.5`, nil},
		{"negative", `-3`, nil},
		{"word", `"forty"`, nil},
		{"empty string", `""`, nil},
		{"null", `null`, nil},
		{"object", `{"years":45}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseInbound([]byte(`{"type":"patient_info","patient_name":"Jane","patient_age":` + tt.age + `}`))
			require.NoError(t, err)
			require.NotNil(t, msg.PatientName)
			assert.Equal(t, "Jane", *msg.PatientName)
			assert.Equal(t, tt.want, msg.Patient().Age)
		})
	}
}

func TestParseInboundWithoutAge(t *testing.T) {
	msg, err := ParseInbound([]byte(`{"type":"patient_info","patient_gender":"female"}`))
	require.NoError(t, err)
	assert.Nil(t, msg.Patient().Age)
}

func TestAgeMarshal(t *testing.T) {
	out, err := json.Marshal(Inbound{Type: TypePatientInfo, PatientAge: Age{Value: intPtr(30)}})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"patient_age":30`)

	out, err = json.Marshal(Inbound{Type: TypePing})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"patient_age":null`)
}

func intPtr(v int) *int { return &v }
