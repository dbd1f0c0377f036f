package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

// Timeline mixes scheduled mono buffers against a sample clock that only
// advances when Render is called. The speaker stream drives it from its
// callback; tests drive it by hand.
type Timeline struct {
	rate int

	mu     sync.Mutex
	pos    int64
	voices map[*timelineVoice]struct{}
}

type timelineVoice struct {
	tl      *Timeline
	samples []float32
	start   int64
	onEnded func()
}

func NewTimeline(sampleRate int) *Timeline {
	return &Timeline{
		rate:   sampleRate,
		voices: make(map[*timelineVoice]struct{}),
	}
}

// Now is the time of the next sample to be rendered.
func (t *Timeline) Now() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return samplesToDuration(t.pos, t.rate)
}

func (t *Timeline) Play(buf *domain.AudioBuffer, at time.Duration, onEnded func()) (application.Voice, error) {
	if buf.SampleRate != t.rate {
		return nil, fmt.Errorf("buffer rate %d does not match output rate %d", buf.SampleRate, t.rate)
	}
	if buf.Channels > 1 {
		return nil, fmt.Errorf("output is mono, buffer has %d channels", buf.Channels)
	}

	v := &timelineVoice{
		tl:      t,
		samples: buf.Samples,
		start:   durationToSamples(at, t.rate),
		onEnded: onEnded,
	}

	t.mu.Lock()
	if v.start < t.pos {
		v.start = t.pos
	}
	t.voices[v] = struct{}{}
	t.mu.Unlock()

	return v, nil
}

// Stop removes the voice without firing its end callback.
func (v *timelineVoice) Stop() {
	v.tl.mu.Lock()
	delete(v.tl.voices, v)
	v.tl.mu.Unlock()
}

// Render fills out with the next len(out) samples and advances the clock.
// End callbacks of voices that finished run on a separate goroutine.
func (t *Timeline) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	t.mu.Lock()
	from := t.pos
	to := from + int64(len(out))

	var ended []func()
	for v := range t.voices {
		vEnd := v.start + int64(len(v.samples))
		lo := max(v.start, from)
		hi := min(vEnd, to)
		for i := lo; i < hi; i++ {
			out[i-from] += v.samples[i-v.start]
		}
		if vEnd <= to {
			delete(t.voices, v)
			if v.onEnded != nil {
				ended = append(ended, v.onEnded)
			}
		}
	}
	t.pos = to
	t.mu.Unlock()

	for i, s := range out {
		if s > 1 {
			out[i] = 1
		} else if s < -1 {
			out[i] = -1
		}
	}

	if len(ended) > 0 {
		go func() {
			for _, fn := range ended {
				fn()
			}
		}()
	}
}

// Active is the number of voices not yet finished or stopped.
func (t *Timeline) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.voices)
}

func durationToSamples(d time.Duration, rate int) int64 {
	return int64(math.Round(d.Seconds() * float64(rate)))
}

func samplesToDuration(n int64, rate int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(rate)
}

var _ application.AudioOutput = (*Timeline)(nil)
