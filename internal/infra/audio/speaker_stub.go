//go:build !portaudio
// +build !portaudio

package audio

import (
	"fmt"
	"log/slog"
)

// Speaker stub when portaudio is not available
type Speaker struct {
	*Timeline
}

func OpenSpeaker(_ int, _ *slog.Logger) (*Speaker, error) {
	return nil, fmt.Errorf("speaker output not available: rebuild with -tags portaudio")
}

func (s *Speaker) Close() error {
	return nil
}
