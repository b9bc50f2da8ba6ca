package websocket

import (
	"github.com/stemsi/exstem-engine/internal/model"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionSelect  Action = "select"  // single choice: pick label
	ActionToggle  Action = "toggle"  // multiple choice: flip label
	ActionInteger Action = "integer" // integer: set value
	ActionClear   Action = "clear"
	ActionVisit   Action = "visit"
	ActionTrack   Action = "track" // cumulative seconds on q_id
	ActionExit    Action = "exit"  // integrity signal from the browser
	ActionSubmit  Action = "submit"
	ActionPing    Action = "ping"
)

// RequestPayload carries every client action; unused fields are omitted.
type RequestPayload struct {
	Action  Action `json:"action"`
	QID     string `json:"q_id,omitempty"`
	Label   string `json:"label,omitempty"`
	Value   string `json:"value,omitempty"`
	Seconds int    `json:"seconds,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventState        Event = "state"
	EventTick         Event = "tick"
	EventSaved        Event = "saved"
	EventExitRecorded Event = "exit_recorded"
	EventSubmitted    Event = "submitted"
	EventError        Event = "error"
	EventPong         Event = "pong"
)

// StateResponse is sent once on connect with the rehydrated session.
type StateResponse struct {
	Event   Event                 `json:"event"`
	Session *model.AttemptSession `json:"session"`
}

type TickResponse struct {
	Event            Event `json:"event"`
	RemainingSeconds int   `json:"remaining_seconds"`
}

type SavedResponse struct {
	Event    Event  `json:"event"`
	Revision uint64 `json:"revision"`
}

type ExitRecordedResponse struct {
	Event     Event `json:"event"`
	ExitCount int   `json:"exit_count"`
	MaxExits  int   `json:"max_exits"`
}

type SubmittedResponse struct {
	Event  Event              `json:"event"`
	Result *model.ScoreResult `json:"result"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Code  string `json:"code,omitempty"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
