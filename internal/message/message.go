// Package message defines the control messages exchanged between the
// holdscribe actors and the surfaces that drive them.
//
// Every message is a plain value. Actors never share a Message's backing
// arrays: [Message.Clone] is applied on every cross-actor send so the audio
// payload is copied rather than aliased.
package message

// Type tags a [Message].
type Type string

// Message types. The string values are the wire names used by surfaces.
const (
	// Surface → coordinator.
	StartSession Type = "START_SESSION"
	EndSession   Type = "END_SESSION"
	TestMic      Type = "TEST_MIC"

	// Capture sandbox → coordinator.
	CaptureStarted Type = "CAPTURE_STARTED"
	CaptureReady   Type = "CAPTURE_READY"
	CaptureFailed  Type = "CAPTURE_FAILED"

	// Coordinator → engine host.
	Submit Type = "SUBMIT"

	// Engine host → coordinator.
	Progress     Type = "PROGRESS"
	EngineReady  Type = "ENGINE_READY"
	Result       Type = "RESULT"
	ResultFailed Type = "RESULT_FAILED"

	// Coordinator → surface.
	SessionState    Type = "SESSION_STATE"
	SessionResult   Type = "SESSION_RESULT"
	SessionError    Type = "SESSION_ERROR"
	OpenMicSettings Type = "OPEN_MIC_SETTINGS"
)

// Terminal reports whether t ends the lifecycle of a stage: a capture, a
// transcription request or a whole session.
func (t Type) Terminal() bool {
	switch t {
	case CaptureReady, CaptureFailed, Result, ResultFailed, SessionResult, SessionError:
		return true
	}
	return false
}

// FromSurface reports whether a surface may send t.
func (t Type) FromSurface() bool {
	return t == StartSession || t == EndSession || t == TestMic
}

// Reason classifies a failure. Reasons are surfaced verbatim.
type Reason string

// Failure reasons.
const (
	DeviceDenied      Reason = "DeviceDenied"
	DeviceUnavailable Reason = "DeviceUnavailable"
	EngineInitFailed  Reason = "EngineInitFailed"
	DecodeFailed      Reason = "DecodeFailed"
	NoSpeechDetected  Reason = "NoSpeechDetected"
	Timeout           Reason = "Timeout"
	EngineReset       Reason = "EngineReset"
)

// Description returns a short user-facing explanation of r.
func (r Reason) Description() string {
	switch r {
	case DeviceDenied:
		return "Microphone permission denied"
	case DeviceUnavailable:
		return "No microphone available"
	case EngineInitFailed:
		return "Transcription engine failed to start"
	case DecodeFailed:
		return "Could not decode the recording"
	case NoSpeechDetected:
		return "No speech detected"
	case Timeout:
		return "Transcription timed out"
	case EngineReset:
		return "Settings changed during transcription"
	default:
		return string(r)
	}
}

// State is a session state as reported to surfaces.
type State string

// Session states.
const (
	Idle           State = "Idle"
	Capturing      State = "Capturing"
	AwaitingEngine State = "AwaitingEngine"
	Transcribing   State = "Transcribing"
	Completed      State = "Completed"
	Failed         State = "Failed"
)

// Message is a tagged control message. Fields not meaningful for Type are
// left zero and omitted on the wire.
type Message struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	RequestID string `json:"requestId,omitempty"`
	Audio     []byte `json:"audio,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Text      string `json:"text,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
	Percent   int    `json:"percent,omitempty"`
	State     State  `json:"state,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Audio != nil {
		m.Audio = append([]byte(nil), m.Audio...)
	}
	return m
}

// Constructors for the messages actors emit.

func Started(sessionID string) Message {
	return Message{Type: CaptureStarted, SessionID: sessionID}
}

func Ready(sessionID string, audio []byte) Message {
	return Message{Type: CaptureReady, SessionID: sessionID, Audio: audio}
}

func CaptureFailure(sessionID string, reason Reason) Message {
	return Message{Type: CaptureFailed, SessionID: sessionID, Reason: reason}
}

func Submission(requestID string, audio []byte, locale string) Message {
	return Message{Type: Submit, RequestID: requestID, Audio: audio, Locale: locale}
}

func Progressed(requestID string, percent int) Message {
	return Message{Type: Progress, RequestID: requestID, Percent: percent}
}

func Transcribed(requestID, text string) Message {
	return Message{Type: Result, RequestID: requestID, Text: text}
}

func TranscriptionFailure(requestID string, reason Reason) Message {
	return Message{Type: ResultFailed, RequestID: requestID, Reason: reason}
}
