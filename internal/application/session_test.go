package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

type sessionHarness struct {
	session  *application.Session
	dialer   *fakeDialer
	capture  *fakeCapture
	output   *fakeOutput
	display  *recordingDisplay
	profiles *memProfiles
	media    *fakeMedia
	persona  *application.Persona
	metrics  *countingMetrics
}

func newSessionHarness() *sessionHarness {
	h := &sessionHarness{
		dialer:   &fakeDialer{},
		capture:  &fakeCapture{},
		output:   &fakeOutput{now: time.Second},
		display:  &recordingDisplay{},
		profiles: newMemProfiles(),
		media:    &fakeMedia{},
		persona:  application.NewPersona("", "", ""),
		metrics:  newCountingMetrics(),
	}
	logger := discardLogger()
	h.session = application.NewSession(application.SessionDeps{
		Dialer:     h.dialer,
		Capture:    h.capture,
		Output:     h.output,
		Dispatcher: application.NewDispatcher(h.persona, h.profiles, h.media, h.display, h.metrics, logger),
		Display:    h.display,
		Metrics:    h.metrics,
		Logger:     logger,
	}, application.CaptureOptions{BlockSize: 256})
	return h
}

func (h *sessionHarness) open(t *testing.T) *fakeTransport {
	t.Helper()
	if err := h.session.Open(context.Background(), "key-1", domain.SessionConfig{Model: "m"}); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return h.dialer.Last()
}

func loud() []float32  { return []float32{0, 0.02, 0} }
func quiet() []float32 { return []float32{0.005, -0.009, 0} }

func TestSession_OpenStreamsNonSilentBlocks(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	if h.session.Phase() != domain.PhaseListening {
		t.Fatalf("phase: got %s, want listening", h.session.Phase())
	}
	if tr.Handler() == nil {
		t.Fatal("transport not served")
	}
	if got := h.display.Last().Hardware; got != application.HardwareOnline {
		t.Errorf("hardware: got %q", got)
	}

	mic := h.capture.Last()
	mic.Emit(quiet())
	mic.Emit(loud())
	mic.Emit(loud())

	if tr.AudioSent() != 2 {
		t.Errorf("frames sent: got %d, want 2", tr.AudioSent())
	}
	if h.metrics.Dropped(application.DropSilence) != 1 {
		t.Errorf("silence drops: got %d, want 1", h.metrics.Dropped(application.DropSilence))
	}
}

func TestSession_PlaybackIsSequentialAndDrains(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	tr.Handler().HandleMessage(&domain.ServerMessage{Audio: pcmChunk(2400)})
	tr.Handler().HandleMessage(&domain.ServerMessage{Audio: pcmChunk(4800)})

	if h.session.Phase() != domain.PhaseSpeaking {
		t.Fatalf("phase: got %s, want speaking", h.session.Phase())
	}

	plays := h.output.Plays()
	if len(plays) != 2 {
		t.Fatalf("plays: got %d, want 2", len(plays))
	}
	if plays[0].at != time.Second {
		t.Errorf("first start: got %v, want 1s", plays[0].at)
	}
	if plays[1].at != time.Second+100*time.Millisecond {
		t.Errorf("second start: got %v, want 1.1s", plays[1].at)
	}

	h.output.End(0)
	if h.session.Phase() != domain.PhaseSpeaking {
		t.Errorf("phase after first end: got %s, want speaking", h.session.Phase())
	}
	h.output.End(1)
	if h.session.Phase() != domain.PhaseListening {
		t.Errorf("phase after drain: got %s, want listening", h.session.Phase())
	}
	if got := h.display.Last().Expression; got != domain.ExpressionNeutral {
		t.Errorf("expression after drain: got %q", got)
	}
}

func TestSession_InterruptClearsPlayback(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	for i := 0; i < 3; i++ {
		tr.Handler().HandleMessage(&domain.ServerMessage{Audio: pcmChunk(24000)})
	}
	tr.Handler().HandleMessage(&domain.ServerMessage{Interrupted: true})

	for i, p := range h.output.Plays() {
		if !p.voice.Stopped() {
			t.Errorf("voice %d not stopped", i)
		}
	}
	if h.session.Phase() != domain.PhaseListening {
		t.Errorf("phase: got %s, want listening", h.session.Phase())
	}

	h.output.SetNow(1500 * time.Millisecond)
	tr.Handler().HandleMessage(&domain.ServerMessage{Audio: pcmChunk(2400)})

	plays := h.output.Plays()
	if got := plays[len(plays)-1].at; got != 1500*time.Millisecond {
		t.Errorf("start after interrupt: got %v, want 1.5s", got)
	}
}

func TestSession_DecodeErrorDropsOnlyThatChunk(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	tr.Handler().HandleMessage(&domain.ServerMessage{Audio: &domain.AudioChunk{Data: "%%%"}})
	if h.session.Phase() != domain.PhaseListening {
		t.Fatalf("phase: got %s, want listening", h.session.Phase())
	}
	if h.metrics.Decodes() != 1 {
		t.Errorf("decode failures: got %d, want 1", h.metrics.Decodes())
	}

	tr.Handler().HandleMessage(&domain.ServerMessage{Audio: pcmChunk(240)})
	if len(h.output.Plays()) != 1 {
		t.Errorf("plays: got %d, want 1", len(h.output.Plays()))
	}
}

func TestSession_EmptyChunkDoesNotStartSpeaking(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	tr.Handler().HandleMessage(&domain.ServerMessage{Audio: &domain.AudioChunk{Data: ""}})

	if h.session.Phase() != domain.PhaseListening {
		t.Errorf("phase: got %s, want listening", h.session.Phase())
	}
	if len(h.output.Plays()) != 0 {
		t.Errorf("plays: got %d, want 0", len(h.output.Plays()))
	}
}

func TestSession_ToolBatchFlushedOnce(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	tr.Handler().HandleMessage(&domain.ServerMessage{
		ToolCalls: []domain.ToolCall{
			{ID: "a", Name: domain.ToolSwitchMode, Args: map[string]any{"targetMode": "Kitchen"}},
			{ID: "b", Name: "launchRocket", Args: map[string]any{}},
			{ID: "c", Name: domain.ToolSaveOperatorName, Args: map[string]any{"newName": "Arjun"}},
		},
		Audio: pcmChunk(240),
	})

	batches := tr.ToolBatches()
	if len(batches) != 1 {
		t.Fatalf("batches: got %d, want 1", len(batches))
	}
	if len(batches[0]) != 2 {
		t.Fatalf("responses: got %d, want 2", len(batches[0]))
	}
	if batches[0][0].ID != "a" || batches[0][1].ID != "c" {
		t.Errorf("order: got %s,%s want a,c", batches[0][0].ID, batches[0][1].ID)
	}
	if len(h.output.Plays()) != 1 {
		t.Errorf("audio in the same message was not played")
	}
	if h.profiles.Get().Name != "Arjun" {
		t.Errorf("profile name: got %q", h.profiles.Get().Name)
	}
}

func TestSession_FramesAfterCloseAreDiscarded(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)
	mic := h.capture.Last()

	if err := h.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	mic.Emit(loud())

	if tr.AudioSent() != 0 {
		t.Errorf("frames sent after close: %d", tr.AudioSent())
	}
	if h.metrics.Dropped(application.DropClosed) != 1 {
		t.Errorf("closed drops: got %d, want 1", h.metrics.Dropped(application.DropClosed))
	}
	if mic.Closed() != 1 || tr.Closed() != 1 {
		t.Errorf("released: mic %d, transport %d", mic.Closed(), tr.Closed())
	}

	if err := h.session.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if mic.Closed() != 1 || tr.Closed() != 1 {
		t.Errorf("second Close released again")
	}

	select {
	case <-h.session.Done():
	default:
		t.Error("Done not closed")
	}
}

func TestSession_CloseDuringConnect(t *testing.T) {
	h := newSessionHarness()
	h.dialer.gate = make(chan struct{})
	h.dialer.entered = make(chan struct{}, 1)

	errc := make(chan error, 1)
	go func() {
		errc <- h.session.Open(context.Background(), "key-1", domain.SessionConfig{})
	}()
	<-h.dialer.entered

	if err := h.session.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := <-errc
	if !errors.Is(err, domain.ErrSessionClosed) {
		t.Fatalf("Open: got %v, want ErrSessionClosed", err)
	}
	if h.capture.Last().Closed() != 1 {
		t.Error("microphone left open")
	}
	if tr := h.dialer.Last(); tr != nil && tr.Closed() != 1 {
		t.Error("late transport left open")
	}
	if h.session.Phase() != domain.PhaseClosed {
		t.Errorf("phase: got %s, want closed", h.session.Phase())
	}
}

func TestSession_DeviceError(t *testing.T) {
	h := newSessionHarness()
	h.capture.err = errors.New("permission denied")

	err := h.session.Open(context.Background(), "key-1", domain.SessionConfig{})

	var deviceErr *domain.DeviceError
	if !errors.As(err, &deviceErr) {
		t.Fatalf("Open: got %v, want DeviceError", err)
	}
	if len(h.dialer.Dials()) != 0 {
		t.Error("dialed without a microphone")
	}
	if h.session.Phase() != domain.PhaseErrored {
		t.Errorf("phase: got %s, want errored", h.session.Phase())
	}
	if got := h.display.Last().Hardware; got != application.HardwareSyncFailed {
		t.Errorf("hardware: got %q", got)
	}
}

func TestSession_ConnectError(t *testing.T) {
	h := newSessionHarness()
	h.dialer.err = errors.New("API key not valid")

	err := h.session.Open(context.Background(), "key-1", domain.SessionConfig{})

	var connectErr *domain.TransportConnectError
	if !errors.As(err, &connectErr) {
		t.Fatalf("Open: got %v, want TransportConnectError", err)
	}
	if !domain.NeedsCredential(h.session.Err()) {
		t.Error("credential pattern not detected")
	}
	if h.capture.Last().Closed() != 1 {
		t.Error("microphone left open")
	}
}

func TestSession_RuntimeErrorTearsDown(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)
	tr.Handler().HandleMessage(&domain.ServerMessage{Audio: pcmChunk(240)})

	tr.Handler().HandleError(errors.New("websocket: close 1011 (internal server error)"))

	if h.session.Phase() != domain.PhaseErrored {
		t.Fatalf("phase: got %s, want errored", h.session.Phase())
	}
	var runtimeErr *domain.TransportRuntimeError
	if !errors.As(h.session.Err(), &runtimeErr) {
		t.Errorf("Err: got %T, want TransportRuntimeError", h.session.Err())
	}
	if domain.NeedsCredential(h.session.Err()) {
		t.Error("unrelated error flagged as credential failure")
	}
	if tr.Closed() != 1 || h.capture.Last().Closed() != 1 {
		t.Error("resources left open")
	}
	if !h.output.Plays()[0].voice.Stopped() {
		t.Error("playback left running")
	}
	if got := h.display.Last().Hardware; got != application.HardwareLinkFault {
		t.Errorf("hardware: got %q", got)
	}
}

func TestSession_SendFailureIsRuntimeError(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)
	tr.mu.Lock()
	tr.sendErr = errBoom
	tr.mu.Unlock()

	h.capture.Last().Emit(loud())

	if h.session.Phase() != domain.PhaseErrored {
		t.Fatalf("phase: got %s, want errored", h.session.Phase())
	}
	if !errors.Is(h.session.Err(), errBoom) {
		t.Errorf("Err: got %v", h.session.Err())
	}
}

func TestSession_RemoteClose(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	tr.Handler().HandleClose("quota exhausted")

	if h.session.Phase() != domain.PhaseClosed {
		t.Fatalf("phase: got %s, want closed", h.session.Phase())
	}
	if h.session.Err() != nil {
		t.Errorf("Err: got %v, want nil", h.session.Err())
	}
	if got := h.display.Last().Hardware; got != "Terminated: quota exhausted" {
		t.Errorf("hardware: got %q", got)
	}

	tr.Handler().HandleError(errors.New("late"))
	if h.session.Phase() != domain.PhaseClosed {
		t.Error("terminal session changed phase")
	}
}

func TestSession_GoAwayKeepsLinkUntilClose(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)

	tr.Handler().HandleMessage(&domain.ServerMessage{GoAway: true, TimeLeft: 5 * time.Second})

	if !h.session.Phase().Open() {
		t.Fatalf("phase after go away: got %s", h.session.Phase())
	}
	if h.session.Err() != nil {
		t.Errorf("Err: got %v", h.session.Err())
	}

	tr.Handler().HandleClose("")
	if h.session.Phase() != domain.PhaseClosed {
		t.Errorf("phase: got %s, want closed", h.session.Phase())
	}
}

func TestSession_TeardownReleasesEverythingDespiteFailures(t *testing.T) {
	h := newSessionHarness()
	h.capture.next = &fakeMic{stopPanic: true, closeErr: errors.New("device busy")}
	tr := h.open(t)
	tr.mu.Lock()
	tr.closePanic = true
	tr.mu.Unlock()

	err := h.session.Close()
	if err == nil {
		t.Fatal("expected joined release error")
	}
	if h.capture.Last().Closed() != 1 {
		t.Error("microphone close skipped after tap panic")
	}
	if tr.Closed() != 1 {
		t.Error("transport close skipped")
	}
	if h.session.Phase() != domain.PhaseClosed {
		t.Errorf("phase: got %s, want closed", h.session.Phase())
	}
}

func TestSession_Transcript(t *testing.T) {
	h := newSessionHarness()
	tr := h.open(t)
	hd := tr.Handler()

	hd.HandleMessage(&domain.ServerMessage{InputTranscript: "kya haal "})
	hd.HandleMessage(&domain.ServerMessage{InputTranscript: "hai"})
	hd.HandleMessage(&domain.ServerMessage{OutputTranscript: "Sab badhiya, "})
	hd.HandleMessage(&domain.ServerMessage{OutputTranscript: "bhai!"})
	hd.HandleMessage(&domain.ServerMessage{TurnComplete: true})

	want := []domain.TranscriptEntry{
		{Role: domain.RoleUser, Content: "kya haal hai"},
		{Role: domain.RoleAssistant, Content: "Sab badhiya, bhai!"},
	}
	got := h.session.Transcript()
	if len(got) != len(want) {
		t.Fatalf("entries: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSession_OpenTwice(t *testing.T) {
	h := newSessionHarness()
	h.open(t)

	if err := h.session.Open(context.Background(), "key-1", domain.SessionConfig{}); err == nil {
		t.Error("second Open on a live session succeeded")
	}
	_ = h.session.Close()
	if err := h.session.Open(context.Background(), "key-1", domain.SessionConfig{}); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Open after close: got %v, want ErrSessionClosed", err)
	}
}
