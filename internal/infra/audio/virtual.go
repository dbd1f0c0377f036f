package audio

import (
	"fmt"
	"sync/atomic"
	"time"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

// VirtualOutput keeps the playback schedule on the wall clock without a
// sound device, for headless runs.
type VirtualOutput struct {
	rate  int
	start time.Time
}

func NewVirtualOutput(sampleRate int) *VirtualOutput {
	return &VirtualOutput{rate: sampleRate, start: time.Now()}
}

func (o *VirtualOutput) Now() time.Duration {
	return time.Since(o.start)
}

func (o *VirtualOutput) Play(buf *domain.AudioBuffer, at time.Duration, onEnded func()) (application.Voice, error) {
	if buf.SampleRate != o.rate {
		return nil, fmt.Errorf("buffer rate %d does not match output rate %d", buf.SampleRate, o.rate)
	}

	wait := at + buf.Duration() - o.Now()
	if wait < 0 {
		wait = 0
	}

	v := &virtualVoice{}
	v.timer = time.AfterFunc(wait, func() {
		if v.done.CompareAndSwap(false, true) && onEnded != nil {
			onEnded()
		}
	})
	return v, nil
}

type virtualVoice struct {
	timer *time.Timer
	done  atomic.Bool
}

func (v *virtualVoice) Stop() {
	if v.done.CompareAndSwap(false, true) {
		v.timer.Stop()
	}
}

var _ application.AudioOutput = (*VirtualOutput)(nil)
