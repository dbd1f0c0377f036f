//go:build !portaudio
// +build !portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"robobuddy/internal/application"
)

// Microphone stub when portaudio is not available
type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Acquire(_ context.Context, _, _ int) (application.CaptureStream, error) {
	return nil, fmt.Errorf("microphone not available: rebuild with -tags portaudio")
}

var _ application.CaptureDevice = (*Microphone)(nil)
