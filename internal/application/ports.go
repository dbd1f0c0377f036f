package application

import (
	"context"
	"time"

	"robobuddy/internal/domain"
)

// Transport is one open bidirectional connection to the live endpoint.
// Implementations must never call back into the handler synchronously from
// Close, SendAudio or SendToolResponses.
type Transport interface {
	// Serve starts delivering inbound events to h. It does not block.
	Serve(h TransportHandler)
	SendAudio(blob domain.Blob) error
	// SendToolResponses writes every response of one batch in a single message.
	SendToolResponses(responses []domain.ToolResponse) error
	Close() error
}

// TransportHandler receives inbound transport events.
type TransportHandler interface {
	HandleMessage(msg *domain.ServerMessage)
	HandleError(err error)
	HandleClose(reason string)
}

// TransportDialer opens a Transport. It returns once the endpoint has
// acknowledged the session config.
type TransportDialer interface {
	Dial(ctx context.Context, credential string, cfg domain.SessionConfig) (Transport, error)
}

// CaptureDevice grants exclusive access to a microphone.
type CaptureDevice interface {
	Acquire(ctx context.Context, sampleRate, blockSize int) (CaptureStream, error)
}

// CaptureStream delivers blocks of samples in capture order. Stop detaches
// the tap and Close releases the device; neither waits for an in-progress
// onBlock call to return.
type CaptureStream interface {
	Start(onBlock func(samples []float32)) error
	Stop() error
	Close() error
}

// AudioOutput plays buffers against a monotonic output clock.
type AudioOutput interface {
	Now() time.Duration
	// Play schedules buf at the given output time. onEnded fires once, from
	// another goroutine, when the buffer finishes on its own. It does not
	// fire for a stopped voice.
	Play(buf *domain.AudioBuffer, at time.Duration, onEnded func()) (Voice, error)
}

// Voice is one scheduled buffer.
type Voice interface {
	Stop()
}

// CredentialProvider resolves the API key at the moment it is needed.
type CredentialProvider interface {
	HasCredential(ctx context.Context) bool
	Credential(ctx context.Context) (string, error)
	Select(ctx context.Context, key string) error
}

// Display is the presentation surface. Calls must be cheap and must not
// re-enter the session.
type Display interface {
	Show(ind domain.Indicator)
	ShowMode(mode domain.Mode)
	ShowSong(song string)
	// ShowFault shows the outcome of the last attempt; nil clears it.
	ShowFault(fault *domain.Fault)
}

type TranscriptSink interface {
	Append(entry domain.TranscriptEntry)
}

// ProfileStore persists the operator profile. Update applies fn to the
// stored profile and writes the result as one atomic read-modify-write; an
// error from fn aborts the write.
type ProfileStore interface {
	Load(ctx context.Context) (domain.Profile, error)
	Update(ctx context.Context, fn func(p *domain.Profile) error) (domain.Profile, error)
}

// MediaLauncher opens the media panel for a song.
type MediaLauncher interface {
	Play(ctx context.Context, song string) error
	Close() error
}

// Summarizer condenses a finished conversation into the profile summary.
type Summarizer interface {
	Summarize(ctx context.Context, previous string, transcript []domain.TranscriptEntry) (string, error)
}

// Metrics counts what flows through a session.
type Metrics interface {
	FrameSent()
	FrameDropped(reason string)
	ChunkScheduled()
	DecodeFailed()
	ToolCalled(name string, recognized bool)
	SessionEnded(outcome string)
}

type NoopMetrics struct{}

func (NoopMetrics) FrameSent()              {}
func (NoopMetrics) FrameDropped(string)     {}
func (NoopMetrics) ChunkScheduled()         {}
func (NoopMetrics) DecodeFailed()           {}
func (NoopMetrics) ToolCalled(string, bool) {}
func (NoopMetrics) SessionEnded(string)     {}

type noopDisplay struct{}

func (noopDisplay) Show(domain.Indicator)   {}
func (noopDisplay) ShowMode(domain.Mode)    {}
func (noopDisplay) ShowSong(string)         {}
func (noopDisplay) ShowFault(*domain.Fault) {}

type noopTranscript struct{}

func (noopTranscript) Append(domain.TranscriptEntry) {}
