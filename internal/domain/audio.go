package domain

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

const (
	// CaptureSampleRate is the microphone rate the live endpoint expects.
	CaptureSampleRate = 16000
	// PlaybackSampleRate is the rate of synthesized speech sent back by the endpoint.
	PlaybackSampleRate = 24000
	PlaybackChannels   = 1

	// SilenceThreshold is the magnitude a block must exceed somewhere to be sent.
	SilenceThreshold = 0.01
)

// AudioFrame is one block of raw captured samples in [-1, 1].
type AudioFrame struct {
	Samples    []float32
	SampleRate int
}

// Blob is an encoded frame together with the format tag the transport declares.
type Blob struct {
	Data     []byte
	MIMEType string
}

// AudioChunk is base64 PCM as received from the transport.
type AudioChunk struct {
	Data     string
	MIMEType string
}

// AudioBuffer is decoded, playable audio. Samples are interleaved by channel.
type AudioBuffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b *AudioBuffer) Frames() int {
	if b == nil {
		return 0
	}
	if b.Channels <= 1 {
		return len(b.Samples)
	}
	return len(b.Samples) / b.Channels
}

// Duration is Frames / SampleRate.
func (b *AudioBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(b.Frames()) * time.Second / time.Duration(b.SampleRate)
}

// PCMMIMEType is the format tag for 16-bit linear PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// EncodePCM converts samples to 16-bit signed little-endian PCM. Negative
// samples scale by 0x8000, the rest by 0x7FFF. Input outside [-1, 1] is not
// clamped.
func EncodePCM(frame AudioFrame) Blob {
	data := make([]byte, 2*len(frame.Samples))
	for i, s := range frame.Samples {
		var v float64
		if s < 0 {
			v = float64(s) * 0x8000
		} else {
			v = float64(s) * 0x7FFF
		}
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(math.Round(v))))
	}
	return Blob{Data: data, MIMEType: PCMMIMEType(frame.SampleRate)}
}

// DecodeBase64 decodes a standard base64 payload.
func DecodeBase64(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return raw, nil
}

// ToAudioBuffer interprets raw as 16-bit signed little-endian PCM. A trailing
// odd byte is ignored and an empty input yields a zero-duration buffer.
func ToAudioBuffer(raw []byte, sampleRate, channels int) *AudioBuffer {
	if channels <= 0 {
		channels = 1
	}
	n := len(raw) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(raw[2*i:]))) / 32768
	}
	return &AudioBuffer{Samples: samples, SampleRate: sampleRate, Channels: channels}
}
