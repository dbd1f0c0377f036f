package application

import "robobuddy/internal/domain"

// Frame drop reasons reported to Metrics.
const (
	DropSilence = "silence"
	DropClosed  = "closed"
)

// HasSignal reports whether any sample's magnitude exceeds threshold.
func HasSignal(samples []float32, threshold float32) bool {
	for _, s := range samples {
		if s > threshold || s < -threshold {
			return true
		}
	}
	return false
}

// CapturePipeline gates captured blocks on amplitude, encodes the ones that
// carry signal and hands them to sink. It is a bandwidth gate, not echo
// cancellation.
type CapturePipeline struct {
	sampleRate int
	threshold  float32
	sink       func(domain.Blob)
	metrics    Metrics
}

func NewCapturePipeline(sampleRate int, threshold float32, sink func(domain.Blob), metrics Metrics) *CapturePipeline {
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &CapturePipeline{
		sampleRate: sampleRate,
		threshold:  threshold,
		sink:       sink,
		metrics:    metrics,
	}
}

// Process handles one block and reports whether it was forwarded.
func (c *CapturePipeline) Process(samples []float32) bool {
	if !HasSignal(samples, c.threshold) {
		c.metrics.FrameDropped(DropSilence)
		return false
	}
	c.sink(domain.EncodePCM(domain.AudioFrame{Samples: samples, SampleRate: c.sampleRate}))
	return true
}
