package domain

import "time"

// Role of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type TranscriptEntry struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ToolName is one of the functions the remote model may call.
type ToolName string

const (
	ToolSwitchMode       ToolName = "switchMode"
	ToolSaveOperatorName ToolName = "saveOperatorName"
	ToolPlaySong         ToolName = "playSong"
)

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string
	Name ToolName
	Args map[string]any
}

// ToolResponse answers the ToolCall with the same ID and Name.
type ToolResponse struct {
	ID       string
	Name     ToolName
	Response map[string]any
}

// ToolSpec declares a callable tool. Every tool takes a single required
// string argument, restricted to Enum when that is set.
type ToolSpec struct {
	Name        ToolName
	Description string
	Arg         string
	Enum        []string
}

// ToolSpecs returns the fixed tool set declared at connect time.
func ToolSpecs() []ToolSpec {
	return []ToolSpec{
		{Name: ToolSwitchMode, Description: "Switch the assistant into another mode.", Arg: "targetMode", Enum: modeNames()},
		{Name: ToolSaveOperatorName, Description: "Remember the operator's name.", Arg: "newName"},
		{Name: ToolPlaySong, Description: "Search for a song and start playing it.", Arg: "songName"},
	}
}

// ServerMessage is one inbound transport message. Any subset of the fields
// may be set and each is handled on its own.
type ServerMessage struct {
	ToolCalls        []ToolCall
	Audio            *AudioChunk
	Interrupted      bool
	TurnComplete     bool
	InputTranscript  string
	OutputTranscript string

	// GoAway announces that the endpoint will drop the link after TimeLeft.
	// TimeLeft is zero when the endpoint did not say.
	GoAway   bool
	TimeLeft time.Duration
}

// SessionConfig is sent to the endpoint when the transport opens.
type SessionConfig struct {
	Model             string
	Voice             string
	SystemInstruction string
	Tools             []ToolSpec
	Transcription     bool
}

func modeNames() []string {
	modes := Modes()
	names := make([]string, len(modes))
	for i, m := range modes {
		names[i] = string(m)
	}
	return names
}
