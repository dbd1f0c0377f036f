package gemini

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"robobuddy/internal/domain"
)

// Outbound envelopes of the BidiGenerateContent protocol. Exactly one field
// is set per message.
type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ToolResponse  *toolResponse  `json:"toolResponse,omitempty"`
}

type setupMessage struct {
	Model                    string                          `json:"model"`
	GenerationConfig         generationConfig                `json:"generationConfig"`
	SystemInstruction        *genai.Content                  `json:"systemInstruction,omitempty"`
	Tools                    []*genai.Tool                   `json:"tools,omitempty"`
	InputAudioTranscription  *genai.AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *genai.AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []genai.Modality    `json:"responseModalities"`
	SpeechConfig       *genai.SpeechConfig `json:"speechConfig,omitempty"`
}

type realtimeInput struct {
	Audio *genai.Blob `json:"audio"`
}

type toolResponse struct {
	FunctionResponses []*genai.FunctionResponse `json:"functionResponses"`
}

// Inbound envelope. Inline audio stays a base64 string so a malformed
// chunk can be dropped on its own instead of failing the whole message.
type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *struct {
		FunctionCalls []*genai.FunctionCall `json:"functionCalls"`
	} `json:"toolCall,omitempty"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn *struct {
		Parts []struct {
			Text       string      `json:"text,omitempty"`
			InlineData *inlineData `json:"inlineData,omitempty"`
		} `json:"parts"`
	} `json:"modelTurn,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type transcription struct {
	Text string `json:"text"`
}

func modelName(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

func newSetupMessage(cfg domain.SessionConfig) *clientMessage {
	setup := &setupMessage{
		Model: modelName(cfg.Model),
		GenerationConfig: generationConfig{
			ResponseModalities: []genai.Modality{genai.ModalityAudio},
		},
	}

	if cfg.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.SystemInstruction != "" {
		setup.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: cfg.SystemInstruction}},
		}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(cfg.Tools))
		for _, spec := range cfg.Tools {
			decls = append(decls, functionDeclaration(spec))
		}
		setup.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if cfg.Transcription {
		setup.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
		setup.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}

	return &clientMessage{Setup: setup}
}

func functionDeclaration(spec domain.ToolSpec) *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name:        string(spec.Name),
		Description: spec.Description,
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				spec.Arg: {Type: genai.TypeString, Enum: spec.Enum},
			},
			Required: []string{spec.Arg},
		},
	}
}

func newAudioMessage(blob domain.Blob) *clientMessage {
	return &clientMessage{
		RealtimeInput: &realtimeInput{
			Audio: &genai.Blob{Data: blob.Data, MIMEType: blob.MIMEType},
		},
	}
}

func newToolResponseMessage(responses []domain.ToolResponse) *clientMessage {
	out := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     string(r.Name),
			Response: r.Response,
		})
	}
	return &clientMessage{ToolResponse: &toolResponse{FunctionResponses: out}}
}

// decodeServerMessage maps one inbound frame. It returns nil for frames
// that carry nothing the session handles.
func decodeServerMessage(data []byte) (*domain.ServerMessage, error) {
	var raw serverMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding server message: %w", err)
	}

	msg := &domain.ServerMessage{}
	empty := true

	if raw.ToolCall != nil && len(raw.ToolCall.FunctionCalls) > 0 {
		for _, fc := range raw.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			msg.ToolCalls = append(msg.ToolCalls, domain.ToolCall{
				ID:   fc.ID,
				Name: domain.ToolName(fc.Name),
				Args: fc.Args,
			})
		}
		empty = len(msg.ToolCalls) == 0
	}

	if sc := raw.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/") {
					msg.Audio = &domain.AudioChunk{Data: p.InlineData.Data, MIMEType: p.InlineData.MIMEType}
					break
				}
			}
		}
		if sc.InputTranscription != nil {
			msg.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			msg.OutputTranscript = sc.OutputTranscription.Text
		}
		msg.Interrupted = sc.Interrupted
		msg.TurnComplete = sc.TurnComplete

		if msg.Audio != nil || msg.Interrupted || msg.TurnComplete || msg.InputTranscript != "" || msg.OutputTranscript != "" {
			empty = false
		}
	}

	if raw.GoAway != nil {
		msg.GoAway = true
		if d, err := time.ParseDuration(raw.GoAway.TimeLeft); err == nil {
			msg.TimeLeft = d
		}
		empty = false
	}

	if empty {
		return nil, nil
	}
	return msg, nil
}
