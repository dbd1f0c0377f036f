package application

import (
	"fmt"
	"time"

	"robobuddy/internal/domain"
)

// PlaybackHandle describes one scheduled buffer.
type PlaybackHandle struct {
	ID       uint64
	StartAt  time.Duration
	Duration time.Duration
}

// PlaybackScheduler queues decoded buffers for gapless sequential playback
// and tracks the set that is still playing. It is not safe for concurrent
// use; Session serializes access.
type PlaybackScheduler struct {
	out       AudioOutput
	ended     func(id uint64)
	nextStart time.Duration
	active    map[uint64]Voice
	seq       uint64
}

// NewPlaybackScheduler creates a scheduler. ended is called, from the
// output's goroutine, with the ID of every buffer that finishes on its own.
func NewPlaybackScheduler(out AudioOutput, ended func(id uint64)) *PlaybackScheduler {
	return &PlaybackScheduler{
		out:    out,
		ended:  ended,
		active: make(map[uint64]Voice),
	}
}

// Schedule plays buf at max(nextStart, now) and advances nextStart by its
// duration, so buffers never overlap and never start in the past.
func (p *PlaybackScheduler) Schedule(buf *domain.AudioBuffer) (PlaybackHandle, error) {
	startAt := p.nextStart
	if now := p.out.Now(); now > startAt {
		startAt = now
	}

	p.seq++
	id := p.seq
	voice, err := p.out.Play(buf, startAt, func() {
		if p.ended != nil {
			p.ended(id)
		}
	})
	if err != nil {
		return PlaybackHandle{}, fmt.Errorf("scheduling buffer: %w", err)
	}

	dur := buf.Duration()
	p.nextStart = startAt + dur
	p.active[id] = voice

	return PlaybackHandle{ID: id, StartAt: startAt, Duration: dur}, nil
}

// Finish removes a naturally completed buffer. It reports true when that
// removal emptied the active set.
func (p *PlaybackScheduler) Finish(id uint64) bool {
	if _, ok := p.active[id]; !ok {
		return false
	}
	delete(p.active, id)
	return len(p.active) == 0
}

// Interrupt stops every active buffer, clears the set and resets the clock
// so the next buffer starts relative to now. It returns how many were stopped.
func (p *PlaybackScheduler) Interrupt() int {
	n := len(p.active)
	for id, v := range p.active {
		delete(p.active, id)
		stopVoice(v)
	}
	p.nextStart = 0
	return n
}

func (p *PlaybackScheduler) Active() int {
	return len(p.active)
}

func (p *PlaybackScheduler) NextStart() time.Duration {
	return p.nextStart
}

func stopVoice(v Voice) {
	defer func() { _ = recover() }()
	v.Stop()
}
