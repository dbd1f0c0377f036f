//go:build portaudio
// +build portaudio

package audio

import (
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
)

// Speaker plays a Timeline through the default output device.
type Speaker struct {
	*Timeline
	stream *portaudio.Stream
	logger *slog.Logger
}

func OpenSpeaker(sampleRate int, logger *slog.Logger) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	tl := NewTimeline(sampleRate)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), 0, tl.Render)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting output stream: %w", err)
	}

	logger.Info("speaker started", "sampleRate", sampleRate)
	return &Speaker{Timeline: tl, stream: stream, logger: logger}, nil
}

func (s *Speaker) Close() error {
	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("stopping output stream: %w", err)
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing output stream: %w", err)
	}
	portaudio.Terminate()
	return firstErr
}
