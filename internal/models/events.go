package models

// ClipEvent is published for every clip a session receives.
type ClipEvent struct {
	EventType    string `json:"eventType"`
	SessionId    string `json:"sessionId"`
	ClipIndex    int    `json:"clipIndex"`
	OutputFolder string `json:"outputFolder"`
	MediaPath    string `json:"mediaPath"`
	Clip         Clip   `json:"clip"`
	EventTime    string `json:"eventTime"`
}

// SessionStatusEvent is published once when a session reaches a terminal state.
type SessionStatusEvent struct {
	EventType      string               `json:"eventType"`
	SessionId      string               `json:"sessionId"`
	Source         string               `json:"source,omitempty"`
	State          string               `json:"state"`
	Message        string               `json:"message,omitempty"`
	Error          string               `json:"error,omitempty"`
	ClipCount      int                  `json:"clipCount"`
	DecodeErrors   int                  `json:"decodeErrors"`
	RunningSummary RunningSummary       `json:"runningSummary"`
	FakeDetection  *FakeDetectionResult `json:"fakeDetectionResult,omitempty"`
	EventTime      string               `json:"eventTime"`
}

// Event type names carried in ClipEvent and SessionStatusEvent.
const (
	EventTypeClipReady     = "video.analysis.clip_ready"
	EventTypeSessionStatus = "video.analysis.session_status"
)
