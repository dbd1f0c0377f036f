package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"robobuddy/internal/domain"
)

// Hardware status strings shown on the display surface.
const (
	HardwareConnecting = "Igniting Synapses..."
	HardwareOnline     = "RoboBuddy Online"
	HardwareLinkFault  = "Neural Link Fault"
	HardwareSyncFailed = "Sync Failed"
	HardwareDormant    = "Partner Dormant"
)

type CaptureOptions struct {
	BlockSize int
	Threshold float32
}

type SessionDeps struct {
	Dialer     TransportDialer
	Capture    CaptureDevice
	Output     AudioOutput
	Dispatcher *Dispatcher
	Display    Display
	Transcript TranscriptSink
	Metrics    Metrics
	Logger     *slog.Logger
}

// Session is one bidirectional voice session. Every inbound event takes the
// session lock and is ignored once the phase is terminal. A Session is
// never reopened.
type Session struct {
	id         string
	dialer     TransportDialer
	capture    CaptureDevice
	dispatcher *Dispatcher
	display    Display
	sink       TranscriptSink
	metrics    Metrics
	logger     *slog.Logger
	opts       CaptureOptions

	mu          sync.Mutex
	phase       domain.Phase
	err         error
	closeReason string
	ctx         context.Context
	cancel      context.CancelFunc
	mic         CaptureStream
	transport   Transport
	playback    *PlaybackScheduler
	pipeline    *CapturePipeline
	userText    strings.Builder
	botText     strings.Builder
	transcript  []domain.TranscriptEntry
	done        chan struct{}
}

func NewSession(deps SessionDeps, opts CaptureOptions) *Session {
	if deps.Display == nil {
		deps.Display = noopDisplay{}
	}
	if deps.Transcript == nil {
		deps.Transcript = noopTranscript{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if opts.Threshold <= 0 {
		opts.Threshold = domain.SilenceThreshold
	}

	id := uuid.NewString()
	s := &Session{
		id:         id,
		dialer:     deps.Dialer,
		capture:    deps.Capture,
		dispatcher: deps.Dispatcher,
		display:    deps.Display,
		sink:       deps.Transcript,
		metrics:    deps.Metrics,
		logger:     deps.Logger.With("session_id", id),
		opts:       opts,
		phase:      domain.PhaseIdle,
		done:       make(chan struct{}),
	}
	s.playback = NewPlaybackScheduler(deps.Output, s.onPlaybackEnded)
	s.pipeline = NewCapturePipeline(domain.CaptureSampleRate, opts.Threshold, s.sendFrame, deps.Metrics)
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Phase() domain.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Err is the error that ended the session, nil for a clean close.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CloseReason is the reason the remote end gave when it closed the link.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeReason
}

// Done is closed once the session reaches Closed or Errored.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Transcript returns the entries flushed so far.
func (s *Session) Transcript() []domain.TranscriptEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TranscriptEntry, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Open acquires the microphone, dials the transport and starts streaming.
// It returns ErrSessionClosed if Close ran while the connect was in flight.
func (s *Session) Open(ctx context.Context, credential string, cfg domain.SessionConfig) error {
	s.mu.Lock()
	if s.phase != domain.PhaseIdle {
		phase := s.phase
		s.mu.Unlock()
		if phase.Terminal() {
			return domain.ErrSessionClosed
		}
		return fmt.Errorf("opening session in phase %s", phase)
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	connectCtx := s.ctx
	s.phase = domain.PhaseConnecting
	s.display.Show(domain.Indicator{
		Status:     domain.StatusConnecting,
		Expression: domain.ExpressionScanning,
		Hardware:   HardwareConnecting,
	})
	s.mu.Unlock()

	s.logger.Info("acquiring microphone", "block_size", s.opts.BlockSize)
	mic, err := s.capture.Acquire(connectCtx, domain.CaptureSampleRate, s.opts.BlockSize)
	if err != nil {
		return s.abortConnect(&domain.DeviceError{Err: err})
	}

	s.mu.Lock()
	if s.phase.Terminal() {
		s.mu.Unlock()
		_ = mic.Close()
		return domain.ErrSessionClosed
	}
	s.mic = mic
	s.mu.Unlock()

	s.logger.Info("dialing live endpoint", "model", cfg.Model, "voice", cfg.Voice)
	t, err := s.dialer.Dial(connectCtx, credential, cfg)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		if t != nil {
			_ = t.Close()
		}
		return domain.ErrSessionClosed
	}
	if err != nil {
		connectErr := &domain.TransportConnectError{Err: err}
		s.failLocked(connectErr, HardwareSyncFailed)
		return connectErr
	}

	s.transport = t
	s.phase = domain.PhaseListening
	s.display.Show(domain.Indicator{
		Status:     domain.StatusListening,
		Expression: domain.ExpressionListening,
		Hardware:   HardwareOnline,
	})
	s.logger.Info("session open")

	t.Serve(s)
	if err := s.mic.Start(s.captureBlock); err != nil {
		deviceErr := &domain.DeviceError{Err: err}
		s.failLocked(deviceErr, HardwareSyncFailed)
		return deviceErr
	}
	return nil
}

func (s *Session) abortConnect(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.Terminal() {
		return domain.ErrSessionClosed
	}
	s.failLocked(err, HardwareSyncFailed)
	return err
}

func (s *Session) captureBlock(samples []float32) {
	s.pipeline.Process(samples)
}

// sendFrame forwards one encoded block. Blocks that arrive before the
// transport is open or after teardown began are discarded.
func (s *Session) sendFrame(blob domain.Blob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.Open() || s.transport == nil {
		s.metrics.FrameDropped(DropClosed)
		return
	}
	if err := s.transport.SendAudio(blob); err != nil {
		s.failLocked(&domain.TransportRuntimeError{Err: err}, HardwareLinkFault)
		return
	}
	s.metrics.FrameSent()
}

// HandleMessage processes every field present on msg: transcription, the
// tool-call batch, the audio chunk, the interruption flag and turn
// completion, in that order.
func (s *Session) HandleMessage(msg *domain.ServerMessage) {
	if msg == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.phase.Open() {
		return
	}

	if msg.InputTranscript != "" {
		s.userText.WriteString(msg.InputTranscript)
	}
	if msg.OutputTranscript != "" {
		s.flushUserLocked()
		s.botText.WriteString(msg.OutputTranscript)
	}

	if len(msg.ToolCalls) > 0 && s.dispatcher != nil {
		responses := s.dispatcher.Dispatch(s.ctx, msg.ToolCalls)
		if len(responses) > 0 {
			if err := s.transport.SendToolResponses(responses); err != nil {
				s.failLocked(&domain.TransportRuntimeError{Err: err}, HardwareLinkFault)
				return
			}
		}
	}

	if msg.Audio != nil {
		s.playLocked(msg.Audio)
	}

	if msg.Interrupted {
		s.interruptLocked()
	}

	if msg.GoAway {
		s.logger.Warn("endpoint will close the link", "time_left", msg.TimeLeft)
	}

	if msg.TurnComplete {
		s.flushTranscriptLocked()
	}
}

func (s *Session) playLocked(chunk *domain.AudioChunk) {
	raw, err := domain.DecodeBase64(chunk.Data)
	if err != nil {
		s.metrics.DecodeFailed()
		s.logger.Warn("dropping audio chunk", "error", err)
		return
	}

	buf := domain.ToAudioBuffer(raw, domain.PlaybackSampleRate, domain.PlaybackChannels)
	if buf.Frames() == 0 {
		return
	}

	if _, err := s.playback.Schedule(buf); err != nil {
		s.logger.Warn("dropping audio chunk", "error", err)
		return
	}
	s.metrics.ChunkScheduled()

	if s.phase != domain.PhaseSpeaking {
		s.phase = domain.PhaseSpeaking
		s.display.Show(domain.Indicator{
			Status:     domain.StatusSpeaking,
			Expression: domain.ExpressionSmiling,
			Hardware:   HardwareOnline,
		})
	}
}

func (s *Session) interruptLocked() {
	stopped := s.playback.Interrupt()
	s.flushTranscriptLocked()
	s.logger.Debug("playback interrupted", "stopped", stopped)

	s.phase = domain.PhaseListening
	s.display.Show(domain.Indicator{
		Status:     domain.StatusListening,
		Expression: domain.ExpressionListening,
		Hardware:   HardwareOnline,
	})
}

func (s *Session) onPlaybackEnded(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return
	}
	if s.playback.Finish(id) && s.phase == domain.PhaseSpeaking {
		s.phase = domain.PhaseListening
		s.display.Show(domain.Indicator{
			Status:     domain.StatusListening,
			Expression: domain.ExpressionNeutral,
			Hardware:   HardwareOnline,
		})
	}
}

// HandleError tears the session down after a transport failure.
func (s *Session) HandleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return
	}
	s.failLocked(&domain.TransportRuntimeError{Err: err}, HardwareLinkFault)
}

// HandleClose tears the session down after the remote end closed the link.
func (s *Session) HandleClose(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return
	}

	hardware := HardwareDormant
	if reason != "" {
		hardware = "Terminated: " + reason
	}
	s.closeReason = reason
	s.finishLocked(domain.PhaseClosed, hardware)
	s.logger.Info("session closed by remote", "reason", reason)
}

// Close releases every resource. It is safe to call in any phase and more
// than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase.Terminal() {
		return nil
	}
	err := s.finishLocked(domain.PhaseClosed, HardwareDormant)
	s.logger.Info("session stopped")
	return err
}

func (s *Session) failLocked(err error, hardware string) {
	s.err = err
	s.logger.Error("session failed", "error", err)
	if releaseErr := s.finishLocked(domain.PhaseErrored, hardware); releaseErr != nil {
		s.logger.Warn("releasing session resources", "error", releaseErr)
	}
}

func (s *Session) finishLocked(phase domain.Phase, hardware string) error {
	s.phase = phase
	err := s.teardownLocked()

	expression := domain.ExpressionNeutral
	if phase == domain.PhaseErrored {
		expression = domain.ExpressionSad
	}
	s.display.Show(domain.Indicator{
		Status:     domain.StatusIdle,
		Expression: expression,
		Hardware:   hardware,
	})
	close(s.done)
	return err
}

// teardownLocked attempts every release independently.
func (s *Session) teardownLocked() error {
	var errs []error

	s.flushTranscriptLocked()

	if s.cancel != nil {
		s.cancel()
	}
	if s.mic != nil {
		mic := s.mic
		s.mic = nil
		release(&errs, "microphone tap", mic.Stop)
		release(&errs, "microphone", mic.Close)
	}
	if s.transport != nil {
		t := s.transport
		s.transport = nil
		release(&errs, "transport", t.Close)
	}
	release(&errs, "playback", func() error {
		s.playback.Interrupt()
		return nil
	})

	return errors.Join(errs...)
}

func release(errs *[]error, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			*errs = append(*errs, fmt.Errorf("releasing %s: panic: %v", name, r))
		}
	}()
	if err := fn(); err != nil {
		*errs = append(*errs, fmt.Errorf("releasing %s: %w", name, err))
	}
}

func (s *Session) flushUserLocked() {
	if s.userText.Len() == 0 {
		return
	}
	s.appendLocked(domain.TranscriptEntry{Role: domain.RoleUser, Content: s.userText.String()})
	s.userText.Reset()
}

func (s *Session) flushTranscriptLocked() {
	s.flushUserLocked()
	if s.botText.Len() == 0 {
		return
	}
	s.appendLocked(domain.TranscriptEntry{Role: domain.RoleAssistant, Content: s.botText.String()})
	s.botText.Reset()
}

func (s *Session) appendLocked(entry domain.TranscriptEntry) {
	entry.Content = strings.TrimSpace(entry.Content)
	if entry.Content == "" {
		return
	}
	s.transcript = append(s.transcript, entry)
	s.sink.Append(entry)
}
