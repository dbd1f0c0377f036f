package domain

// Phase is the lifecycle position of one Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseListening
	PhaseSpeaking
	PhaseClosed
	PhaseErrored
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseListening:
		return "listening"
	case PhaseSpeaking:
		return "speaking"
	case PhaseClosed:
		return "closed"
	case PhaseErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Terminal is true for Closed and Errored. A terminal session is never reopened.
func (p Phase) Terminal() bool {
	return p == PhaseClosed || p == PhaseErrored
}

// Open is true while the transport is up and audio may flow.
func (p Phase) Open() bool {
	return p == PhaseListening || p == PhaseSpeaking
}

// Status is the coarse state shown to the user.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusListening  Status = "listening"
	StatusSpeaking   Status = "speaking"
)

// Expression is the avatar face tag.
type Expression string

const (
	ExpressionNeutral   Expression = "neutral"
	ExpressionListening Expression = "listening"
	ExpressionThinking  Expression = "thinking"
	ExpressionSmiling   Expression = "smiling"
	ExpressionSad       Expression = "sad"
	ExpressionSurprised Expression = "surprised"
	ExpressionScanning  Expression = "scanning"
)

// Indicator bundles everything the display surface renders for a status change.
type Indicator struct {
	Status     Status     `json:"status"`
	Expression Expression `json:"expression"`
	Hardware   string     `json:"hardware"`
}
