package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

// FileCapture replays a recording as if it were the microphone, paced at
// one block per block duration. Accepts 16-bit mono WAV or raw s16le PCM.
type FileCapture struct {
	path string
	loop bool
}

func NewFileCapture(path string, loop bool) *FileCapture {
	return &FileCapture{path: path, loop: loop}
}

func (f *FileCapture) Acquire(ctx context.Context, sampleRate, blockSize int) (application.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if blockSize <= 0 {
		return nil, fmt.Errorf("invalid block size %d", blockSize)
	}

	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("reading capture file: %w", err)
	}
	pcm, err := pcmPayload(data, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.path, err)
	}

	buf := domain.ToAudioBuffer(pcm, sampleRate, 1)
	return &fileStream{
		samples:  buf.Samples,
		block:    blockSize,
		interval: time.Duration(blockSize) * time.Second / time.Duration(sampleRate),
		loop:     f.loop,
		quit:     make(chan struct{}),
	}, nil
}

type fileStream struct {
	samples  []float32
	block    int
	interval time.Duration
	loop     bool

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
}

func (s *fileStream) Start(onBlock func([]float32)) error {
	s.startOnce.Do(func() {
		go s.run(onBlock)
	})
	return nil
}

func (s *fileStream) run(onBlock func([]float32)) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	pos := 0
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
		}

		if pos+s.block > len(s.samples) {
			if !s.loop || len(s.samples) < s.block {
				return
			}
			pos = 0
		}
		block := make([]float32, s.block)
		copy(block, s.samples[pos:pos+s.block])
		pos += s.block

		select {
		case <-s.quit:
			return
		default:
		}
		onBlock(block)
	}
}

func (s *fileStream) Stop() error {
	s.stopOnce.Do(func() {
		close(s.quit)
	})
	return nil
}

func (s *fileStream) Close() error {
	return s.Stop()
}

// pcmPayload strips a WAV container if present.
func pcmPayload(data []byte, sampleRate int) ([]byte, error) {
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return data, nil
	}

	var sawFormat bool
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := data[off+8:]
		if size > len(body) {
			size = len(body)
		}
		body = body[:size]

		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, errors.New("truncated fmt chunk")
			}
			format := binary.LittleEndian.Uint16(body[0:2])
			channels := binary.LittleEndian.Uint16(body[2:4])
			rate := binary.LittleEndian.Uint32(body[4:8])
			bits := binary.LittleEndian.Uint16(body[14:16])
			if format != 1 || channels != 1 || bits != 16 {
				return nil, fmt.Errorf("unsupported wav format (format=%d channels=%d bits=%d), need 16-bit mono PCM", format, channels, bits)
			}
			if int(rate) != sampleRate {
				return nil, fmt.Errorf("wav rate %d, need %d", rate, sampleRate)
			}
			sawFormat = true
		case "data":
			if !sawFormat {
				return nil, errors.New("data chunk before fmt chunk")
			}
			return body, nil
		}

		off += 8 + size + size%2
	}
	return nil, errors.New("wav has no data chunk")
}

var _ application.CaptureDevice = (*FileCapture)(nil)
