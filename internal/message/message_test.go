package message_test

import (
	"encoding/json"
	"testing"

	"github.com/MrWong99/holdscribe/internal/message"
)

func TestClone_CopiesAudio(t *testing.T) {
	t.Parallel()

	orig := message.Ready("s1", []byte{1, 2, 3})
	cp := orig.Clone()
	cp.Audio[0] = 99
	if orig.Audio[0] != 1 {
		t.Error("Clone aliases the audio payload")
	}

	empty := message.Message{Type: message.StartSession}.Clone()
	if empty.Audio != nil {
		t.Error("Clone allocated audio for a message without one")
	}
}

func TestType_Terminal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		typ  message.Type
		want bool
	}{
		{message.CaptureReady, true},
		{message.CaptureFailed, true},
		{message.Result, true},
		{message.ResultFailed, true},
		{message.SessionResult, true},
		{message.SessionError, true},
		{message.Progress, false},
		{message.CaptureStarted, false},
		{message.EngineReady, false},
		{message.SessionState, false},
		{message.StartSession, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.typ), func(t *testing.T) {
			t.Parallel()
			if got := tc.typ.Terminal(); got != tc.want {
				t.Errorf("Terminal() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMessage_WireFormat(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(message.Message{Type: message.SessionError, Reason: message.Timeout})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"type":"SESSION_ERROR","reason":"Timeout"}`
	if string(data) != want {
		t.Errorf("got %s, want %s", data, want)
	}

	var in message.Message
	if err := json.Unmarshal([]byte(`{"type":"START_SESSION"}`), &in); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if in.Type != message.StartSession || !in.Type.FromSurface() {
		t.Errorf("decoded %+v, want surface START_SESSION", in)
	}
}

func TestReason_Description(t *testing.T) {
	t.Parallel()
	if got := message.NoSpeechDetected.Description(); got != "No speech detected" {
		t.Errorf("Description = %q", got)
	}
	if got := message.Reason("Other").Description(); got != "Other" {
		t.Errorf("unknown reason Description = %q", got)
	}
}
