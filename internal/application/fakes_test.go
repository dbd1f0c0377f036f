package application_test

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// pcmChunk returns a base64 payload of n silent 16-bit samples.
func pcmChunk(n int) *domain.AudioChunk {
	return &domain.AudioChunk{
		Data:     base64.StdEncoding.EncodeToString(make([]byte, 2*n)),
		MIMEType: domain.PCMMIMEType(domain.PlaybackSampleRate),
	}
}

// --- transport ---

type fakeTransport struct {
	mu         sync.Mutex
	handler    application.TransportHandler
	audio      []domain.Blob
	toolBatch  [][]domain.ToolResponse
	closed     int
	sendErr    error
	closePanic bool
}

func (f *fakeTransport) Serve(h application.TransportHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

func (f *fakeTransport) SendAudio(blob domain.Blob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.audio = append(f.audio, blob)
	return nil
}

func (f *fakeTransport) SendToolResponses(responses []domain.ToolResponse) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.toolBatch = append(f.toolBatch, responses)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed++
	panicking := f.closePanic
	f.mu.Unlock()
	if panicking {
		panic("socket already gone")
	}
	return nil
}

func (f *fakeTransport) Handler() application.TransportHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeTransport) AudioSent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.audio)
}

func (f *fakeTransport) ToolBatches() [][]domain.ToolResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]domain.ToolResponse(nil), f.toolBatch...)
}

func (f *fakeTransport) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type dialRecord struct {
	credential string
	cfg        domain.SessionConfig
}

type fakeDialer struct {
	mu         sync.Mutex
	dials      []dialRecord
	transports []*fakeTransport
	err        error
	gate       chan struct{}
	entered    chan struct{}
}

func (f *fakeDialer) Dial(ctx context.Context, credential string, cfg domain.SessionConfig) (application.Transport, error) {
	f.mu.Lock()
	f.dials = append(f.dials, dialRecord{credential: credential, cfg: cfg})
	gate, entered, err := f.gate, f.entered, f.err
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	if err != nil {
		return nil, err
	}

	t := &fakeTransport{}
	f.mu.Lock()
	f.transports = append(f.transports, t)
	f.mu.Unlock()
	return t, nil
}

func (f *fakeDialer) Dials() []dialRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dialRecord(nil), f.dials...)
}

func (f *fakeDialer) Last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

func (f *fakeDialer) SetErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// --- capture ---

type fakeMic struct {
	mu        sync.Mutex
	onBlock   func([]float32)
	stopped   int
	closed    int
	stopPanic bool
	closeErr  error
}

func (m *fakeMic) Start(onBlock func([]float32)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onBlock = onBlock
	return nil
}

func (m *fakeMic) Stop() error {
	m.mu.Lock()
	m.stopped++
	panicking := m.stopPanic
	m.mu.Unlock()
	if panicking {
		panic("tap detached twice")
	}
	return nil
}

func (m *fakeMic) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed++
	return m.closeErr
}

// Emit delivers a block the way a capture callback would, even after the
// stream was stopped.
func (m *fakeMic) Emit(samples []float32) {
	m.mu.Lock()
	fn := m.onBlock
	m.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (m *fakeMic) Closed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

type fakeCapture struct {
	mu   sync.Mutex
	err  error
	mics []*fakeMic
	next *fakeMic
}

func (f *fakeCapture) Acquire(_ context.Context, _, _ int) (application.CaptureStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	m := f.next
	if m == nil {
		m = &fakeMic{}
	}
	f.next = nil
	f.mics = append(f.mics, m)
	return m, nil
}

func (f *fakeCapture) Last() *fakeMic {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.mics) == 0 {
		return nil
	}
	return f.mics[len(f.mics)-1]
}

// --- output ---

type playRecord struct {
	at      time.Duration
	dur     time.Duration
	onEnded func()
	voice   *fakeVoice
}

type fakeVoice struct {
	mu      sync.Mutex
	stopped bool
}

func (v *fakeVoice) Stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

func (v *fakeVoice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

type fakeOutput struct {
	mu    sync.Mutex
	now   time.Duration
	plays []playRecord
}

func (o *fakeOutput) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) SetNow(d time.Duration) {
	o.mu.Lock()
	o.now = d
	o.mu.Unlock()
}

func (o *fakeOutput) Play(buf *domain.AudioBuffer, at time.Duration, onEnded func()) (application.Voice, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	v := &fakeVoice{}
	o.plays = append(o.plays, playRecord{at: at, dur: buf.Duration(), onEnded: onEnded, voice: v})
	return v, nil
}

func (o *fakeOutput) Plays() []playRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]playRecord(nil), o.plays...)
}

// End finishes play i naturally.
func (o *fakeOutput) End(i int) {
	o.mu.Lock()
	fn := o.plays[i].onEnded
	o.mu.Unlock()
	fn()
}

// --- collaborators ---

type fakeCredentials struct {
	mu       sync.Mutex
	key      string
	selected []string
}

func (f *fakeCredentials) HasCredential(_ context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.key != ""
}

func (f *fakeCredentials) Credential(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.key == "" {
		return "", domain.ErrNeedsCredential
	}
	return f.key, nil
}

func (f *fakeCredentials) Select(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.key = key
	f.selected = append(f.selected, key)
	return nil
}

func (f *fakeCredentials) Set(key string) {
	f.mu.Lock()
	f.key = key
	f.mu.Unlock()
}

type memProfiles struct {
	mu      sync.Mutex
	profile domain.Profile
	saves   int
	loadErr error
}

func newMemProfiles() *memProfiles {
	return &memProfiles{profile: domain.DefaultProfile()}
}

func (m *memProfiles) Load(_ context.Context) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.Profile{}, m.loadErr
	}
	return m.profile, nil
}

func (m *memProfiles) Update(_ context.Context, fn func(p *domain.Profile) error) (domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return domain.Profile{}, m.loadErr
	}
	p := m.profile
	if err := fn(&p); err != nil {
		return domain.Profile{}, err
	}
	m.profile = p
	m.saves++
	return p, nil
}

func (m *memProfiles) Get() domain.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profile
}

type fakeMedia struct {
	mu     sync.Mutex
	played []string
	closed int
	err    error
}

func (f *fakeMedia) Play(_ context.Context, song string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.played = append(f.played, song)
	return nil
}

func (f *fakeMedia) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type recordingDisplay struct {
	mu         sync.Mutex
	indicators []domain.Indicator
	modes      []domain.Mode
	songs      []string
	fault      *domain.Fault
}

func (d *recordingDisplay) Show(ind domain.Indicator) {
	d.mu.Lock()
	d.indicators = append(d.indicators, ind)
	d.mu.Unlock()
}

func (d *recordingDisplay) ShowMode(mode domain.Mode) {
	d.mu.Lock()
	d.modes = append(d.modes, mode)
	d.mu.Unlock()
}

func (d *recordingDisplay) ShowSong(song string) {
	d.mu.Lock()
	d.songs = append(d.songs, song)
	d.mu.Unlock()
}

func (d *recordingDisplay) ShowFault(f *domain.Fault) {
	d.mu.Lock()
	d.fault = f
	d.mu.Unlock()
}

func (d *recordingDisplay) Last() domain.Indicator {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.indicators) == 0 {
		return domain.Indicator{}
	}
	return d.indicators[len(d.indicators)-1]
}

func (d *recordingDisplay) Fault() *domain.Fault {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fault
}

// fakeSummarizer blocks on release when it is set, after signalling entered.
type fakeSummarizer struct {
	mu       sync.Mutex
	previous string
	entries  []domain.TranscriptEntry

	entered chan struct{}
	release chan struct{}
}

func (f *fakeSummarizer) Summarize(ctx context.Context, previous string, transcript []domain.TranscriptEntry) (string, error) {
	f.mu.Lock()
	f.previous = previous
	f.entries = transcript
	entered, release := f.entered, f.release
	f.mu.Unlock()

	if release != nil {
		close(entered)
		select {
		case <-release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "Talked about cricket.", nil
}

type countingMetrics struct {
	application.NoopMetrics
	mu       sync.Mutex
	sent     int
	dropped  map[string]int
	decodes  int
	outcomes []string
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{dropped: make(map[string]int)}
}

func (m *countingMetrics) FrameSent() {
	m.mu.Lock()
	m.sent++
	m.mu.Unlock()
}

func (m *countingMetrics) FrameDropped(reason string) {
	m.mu.Lock()
	m.dropped[reason]++
	m.mu.Unlock()
}

func (m *countingMetrics) DecodeFailed() {
	m.mu.Lock()
	m.decodes++
	m.mu.Unlock()
}

func (m *countingMetrics) SessionEnded(outcome string) {
	m.mu.Lock()
	m.outcomes = append(m.outcomes, outcome)
	m.mu.Unlock()
}

func (m *countingMetrics) Dropped(reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[reason]
}

func (m *countingMetrics) Decodes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decodes
}

var errBoom = errors.New("boom")
