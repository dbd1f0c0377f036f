//go:build portaudio
// +build portaudio

package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"robobuddy/internal/application"
)

const micQueueDepth = 32

// Microphone opens the default input device.
type Microphone struct {
	logger *slog.Logger
}

func NewMicrophone(logger *slog.Logger) *Microphone {
	return &Microphone{logger: logger}
}

func (m *Microphone) Acquire(ctx context.Context, sampleRate, blockSize int) (application.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}

	s := &micStream{
		blocks: make(chan []float32, micQueueDepth),
		logger: m.logger,
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(sampleRate), blockSize, s.callback)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("opening input stream: %w", err)
	}
	s.stream = stream

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("starting input stream: %w", err)
	}

	m.logger.Info("microphone started", "sampleRate", sampleRate, "blockSize", blockSize)
	return s, nil
}

type micStream struct {
	stream *portaudio.Stream
	logger *slog.Logger

	mu     sync.Mutex
	blocks chan []float32
	closed bool

	tap       atomic.Pointer[func([]float32)]
	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// callback runs on the audio thread and must not block.
func (s *micStream) callback(in []float32) {
	if s.tap.Load() == nil {
		return
	}
	block := make([]float32, len(in))
	copy(block, in)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.blocks <- block:
	default:
		s.logger.Debug("capture queue full, block dropped")
	}
}

func (s *micStream) Start(onBlock func([]float32)) error {
	s.tap.Store(&onBlock)
	s.startOnce.Do(func() {
		go s.drain()
	})
	return nil
}

func (s *micStream) drain() {
	for block := range s.blocks {
		if fn := s.tap.Load(); fn != nil {
			(*fn)(block)
		}
	}
}

func (s *micStream) Stop() error {
	s.tap.Store(nil)
	return nil
}

func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		s.tap.Store(nil)
		if err := s.stream.Stop(); err != nil {
			s.closeErr = fmt.Errorf("stopping input stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("closing input stream: %w", err)
		}

		s.mu.Lock()
		s.closed = true
		close(s.blocks)
		s.mu.Unlock()

		portaudio.Terminate()
		s.logger.Info("microphone released")
	})
	return s.closeErr
}

var _ application.CaptureDevice = (*Microphone)(nil)
