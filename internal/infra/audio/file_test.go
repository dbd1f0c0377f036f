package audio_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"

	"robobuddy/internal/infra/audio"
)

func writeWav(t *testing.T, path string, samples []int16, sampleRate int) {
	t.Helper()
	var buf bytes.Buffer

	dataSize := len(samples) * 2
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, int32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, int32(16))
	binary.Write(&buf, binary.LittleEndian, int16(1))
	binary.Write(&buf, binary.LittleEndian, int16(1))
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, int32(sampleRate*2))
	binary.Write(&buf, binary.LittleEndian, int16(2))
	binary.Write(&buf, binary.LittleEndian, int16(16))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, int32(dataSize))
	for _, s := range samples {
		binary.Write(&buf, binary.LittleEndian, s)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("writing wav: %v", err)
	}
}

func TestFileCapture_ReplaysWavInBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hello.wav")
	samples := make([]int16, 250)
	for i := range samples {
		samples[i] = 16384
	}
	writeWav(t, path, samples, 16000)

	stream, err := audio.NewFileCapture(path, false).Acquire(context.Background(), 16000, 100)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer stream.Close()

	blocks := make(chan []float32, 4)
	if err := stream.Start(func(b []float32) { blocks <- b }); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case b := <-blocks:
			if len(b) != 100 {
				t.Fatalf("block %d length: got %d, want 100", i, len(b))
			}
			if b[0] != 0.5 {
				t.Errorf("block %d sample: got %v, want 0.5", i, b[0])
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for block %d", i)
		}
	}

	select {
	case <-blocks:
		t.Error("partial trailing block delivered")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFileCapture_StopHaltsDelivery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.pcm")
	if err := os.WriteFile(path, make([]byte, 3200), 0644); err != nil {
		t.Fatal(err)
	}

	stream, err := audio.NewFileCapture(path, true).Acquire(context.Background(), 16000, 16)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	blocks := make(chan []float32, 1024)
	stream.Start(func(b []float32) { blocks <- b })

	select {
	case <-blocks:
	case <-time.After(time.Second):
		t.Fatal("no block before stop")
	}

	if err := stream.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	for len(blocks) > 0 {
		<-blocks
	}
	select {
	case <-blocks:
		t.Error("block delivered after stop")
	case <-time.After(30 * time.Millisecond):
	}

	if err := stream.Close(); err != nil {
		t.Errorf("close after stop: %v", err)
	}
}

func TestFileCapture_Errors(t *testing.T) {
	dir := t.TempDir()

	wrongRate := filepath.Join(dir, "wrong.wav")
	writeWav(t, wrongRate, make([]int16, 10), 8000)

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "nope.wav")},
		{"wrong rate", wrongRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := audio.NewFileCapture(tt.path, false).Acquire(context.Background(), 16000, 100)
			if err == nil {
				t.Error("expected error")
			}
		})
	}
}
