// Package types holds the domain shapes shared across the station core:
// frames and corners produced by the camera/detector, the project and its
// conversation, and the event envelope broadcast to the browser.
package types

import "time"

// Frame is an immutable snapshot of one camera tick. It is shared by
// reference between the camera loop, the detector and the HTTP streams, so
// callers must never mutate Pixels in place.
type Frame struct {
	Timestamp time.Time
	Width     int
	Height    int
	// Pixels holds an encoded JPEG, ready to be written straight to an HTTP
	// response or MJPEG part.
	Pixels []byte
}

// Point is a float image coordinate.
type Point struct {
	X float64
	Y float64
}

// Corners is the ordered (TL, TR, BR, BL) quadruple of the canvas's outer
// border, in image coordinates. A zero-value Corners (all points equal) is
// never stored; detector callers use a *Corners and treat nil as "no
// detection yet".
type Corners struct {
	TL, TR, BR, BL Point
}

// CanvasSpec are the fixed physical constants of the printed canvas.
// Ratio invariant: InnerSideMM/OuterSideMM == 140.0/180.0.
var CanvasSpec = struct {
	OuterSideMM  float64
	BorderMM     float64
	InnerSideMM  float64
	OutputRaster int
}{
	OuterSideMM:  180,
	BorderMM:     20,
	InnerSideMM:  140,
	OutputRaster: 720,
}

// VisionResult is the structured output of the vision stage.
type VisionResult struct {
	ProjectTitle       string   `json:"project_title"`
	VisualComponents   []string `json:"visual_components"`
	UserIntentAnalysis string   `json:"user_intent_analysis"`
}

// SolutionResult is the structured output of the solution stage. ImagePrompt
// is the sole input to the preview stage and must be non-empty.
type SolutionResult struct {
	ProjectName       string   `json:"project_name"`
	TargetUser        string   `json:"target_user"`
	Difficulty        string   `json:"difficulty"`
	CoreIdea          string   `json:"core_idea"`
	Materials         []string `json:"materials"`
	Steps             []string `json:"steps"`
	LearningOutcomes  []string `json:"learning_outcomes"`
	ImagePrompt       string   `json:"image_prompt"`
}

// TurnRole and TurnType close the Conversation/SessionLog turn tag sets.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
)

type TurnType string

const (
	TurnText  TurnType = "text"
	TurnImage TurnType = "image"
)

// Turn is one entry of the Conversation or the persisted session log.
// Content is either free text or, for TurnImage, a reference to the image:
// in the session log a path relative to the log's directory; in the
// in-memory Conversation the source path, the remote URL, or "canvas" for
// the captured canvas.
type Turn struct {
	Role    TurnRole `json:"role"`
	Type    TurnType `json:"type"`
	Content string   `json:"content"`
}

// Project is the triple produced by one capture and mutated by chat turns.
type Project struct {
	ID             string
	CreatedAt      time.Time
	VisionResult   *VisionResult
	SolutionResult *SolutionResult
	PreviewURL     string
	Conversation   []Turn
}

// Mode is the Supervisor's coarse state, governing button semantics.
type Mode string

const (
	ModeIdle       Mode = "idle"
	ModeProcessing Mode = "processing"
	ModeResult     Mode = "result"
	ModeVoice      Mode = "voice"
)

// EventState is drawn from a closed tag set; clients must tolerate unknown
// values (forward compatibility), so this is a plain string, not an enum
// guarded at the JSON boundary.
type EventState string

const (
	EventReady           EventState = "ready"
	EventProcessing      EventState = "processing"
	EventVoiceRecording  EventState = "voice_recording"
	EventVoiceProcessing EventState = "voice_processing"
	EventVoiceUser       EventState = "voice_user"
	EventVoiceResponse   EventState = "voice_response"
	EventVoiceError      EventState = "voice_error"
	EventComplete        EventState = "complete"
	EventError           EventState = "error"
	EventControl         EventState = "control"
)

// Event is the envelope broadcast over the event bus and mirrored to SSE.
type Event struct {
	State     EventState `json:"state"`
	Message   string     `json:"message"`
	Data      any        `json:"data,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// CompleteResult is the Data payload of a "complete" event and the body of
// GET /api/result.
type CompleteResult struct {
	Vision     *VisionResult   `json:"vision"`
	Solution   *SolutionResult `json:"solution"`
	PreviewURL string          `json:"preview_url"`
	Timestamp  time.Time       `json:"timestamp"`
}
