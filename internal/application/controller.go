package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"robobuddy/internal/domain"
)

const defaultSummaryTimeout = 30 * time.Second

type ControllerDeps struct {
	Dialer      TransportDialer
	Capture     CaptureDevice
	Output      AudioOutput
	Credentials CredentialProvider
	Profiles    ProfileStore
	Media       MediaLauncher
	Display     Display
	Transcript  TranscriptSink
	Notifier    Notifier
	Summarizer  Summarizer
	Metrics     Metrics
	Logger      *slog.Logger
}

type ControllerOptions struct {
	Model          string
	Voice          string
	Transcription  bool
	Capture        CaptureOptions
	SummaryTimeout time.Duration
}

// Outcome describes how a session ended.
type Outcome struct {
	SessionID       string
	Phase           domain.Phase
	Err             error
	Reason          string
	NeedsCredential bool
}

// Label is the metrics label for the outcome.
func (o Outcome) Label() string {
	switch {
	case o.NeedsCredential:
		return "needs_credential"
	case o.Err != nil:
		return "errored"
	default:
		return "closed"
	}
}

// ControllerStatus is a snapshot for the control surface.
type ControllerStatus struct {
	Phase           string      `json:"phase"`
	SessionID       string      `json:"sessionId,omitempty"`
	Mode            domain.Mode `json:"mode"`
	Vibe            domain.Vibe `json:"vibe"`
	NeedsCredential bool        `json:"needsCredential"`
	LastError       string      `json:"lastError,omitempty"`
	CanRetry        bool        `json:"canRetry"`
}

// ProfileUpdate carries the fields to change; nil fields are left alone.
type ProfileUpdate struct {
	Name          *string `json:"name"`
	PreferredMode *string `json:"preferredMode"`
	Summary       *string `json:"summary"`
}

// Controller is the start/stop/retry surface. At most one session exists at
// a time. Lock order is controller, then session.
type Controller struct {
	deps       ControllerDeps
	opts       ControllerOptions
	persona    *Persona
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu              sync.Mutex
	current         *Session
	generation      uint64
	needsCredential bool
	badCredential   string
	lastErr         error
	ended           chan Outcome
}

func NewController(deps ControllerDeps, persona *Persona, opts ControllerOptions) *Controller {
	if deps.Display == nil {
		deps.Display = noopDisplay{}
	}
	if deps.Metrics == nil {
		deps.Metrics = NoopMetrics{}
	}
	if deps.Notifier == nil {
		deps.Notifier = &NoopNotifier{}
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = defaultSummaryTimeout
	}

	return &Controller{
		deps:       deps,
		opts:       opts,
		persona:    persona,
		dispatcher: NewDispatcher(persona, deps.Profiles, deps.Media, deps.Display, deps.Metrics, deps.Logger),
		logger:     deps.Logger,
		ended:      make(chan Outcome, 8),
	}
}

// Start opens a new session. It is a no-op while another one is connecting
// or live. The credential is resolved at call time.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()

	if c.current != nil && !c.current.Phase().Terminal() {
		c.mu.Unlock()
		c.logger.Debug("start ignored, session already pending")
		return nil
	}

	if !c.deps.Credentials.HasCredential(ctx) {
		c.needsCredential = true
		c.mu.Unlock()
		c.deps.Display.ShowFault(&domain.Fault{Message: "no API key configured", NeedsCredential: true})
		return domain.ErrNeedsCredential
	}
	credential, err := c.deps.Credentials.Credential(ctx)
	if err != nil {
		c.needsCredential = true
		c.mu.Unlock()
		return fmt.Errorf("resolving credential: %w", errors.Join(domain.ErrNeedsCredential, err))
	}
	if c.needsCredential && credential == c.badCredential {
		c.mu.Unlock()
		return domain.ErrNeedsCredential
	}
	c.needsCredential = false
	c.badCredential = ""

	profile, err := c.deps.Profiles.Load(ctx)
	if err != nil {
		c.logger.Warn("loading profile, using defaults", "error", err)
		profile = domain.DefaultProfile()
	}

	cfg := domain.SessionConfig{
		Model:             c.opts.Model,
		Voice:             c.opts.Voice,
		SystemInstruction: c.persona.Instruction(profile),
		Tools:             domain.ToolSpecs(),
		Transcription:     c.opts.Transcription,
	}

	sess := NewSession(SessionDeps{
		Dialer:     c.deps.Dialer,
		Capture:    c.deps.Capture,
		Output:     c.deps.Output,
		Dispatcher: c.dispatcher,
		Display:    c.deps.Display,
		Transcript: c.deps.Transcript,
		Metrics:    c.deps.Metrics,
		Logger:     c.logger,
	}, c.opts.Capture)

	c.generation++
	gen := c.generation
	c.current = sess
	c.lastErr = nil
	c.mu.Unlock()

	c.deps.Display.ShowFault(nil)
	c.logger.Info("starting session", "session_id", sess.ID(), "operator", profile.Name, "mode", c.persona.Mode())

	go c.watch(sess, gen, credential)

	if err := sess.Open(ctx, credential, cfg); err != nil {
		if errors.Is(err, domain.ErrSessionClosed) {
			return nil
		}
		return fmt.Errorf("opening session: %w", err)
	}
	return nil
}

// Stop closes the current session, if any. It is idempotent.
func (c *Controller) Stop() error {
	c.mu.Lock()
	sess := c.current
	c.current = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}
	if err := sess.Close(); err != nil {
		return fmt.Errorf("closing session: %w", err)
	}
	return nil
}

// Retry stops whatever is running and starts a fresh session.
func (c *Controller) Retry(ctx context.Context) error {
	if err := c.Stop(); err != nil {
		c.logger.Warn("stopping before retry", "error", err)
	}
	return c.Start(ctx)
}

// SelectCredential stores a user-chosen key, clears the needs-credential
// block and starts a session with it.
func (c *Controller) SelectCredential(ctx context.Context, key string) error {
	if err := c.deps.Credentials.Select(ctx, key); err != nil {
		return fmt.Errorf("selecting credential: %w", err)
	}

	c.mu.Lock()
	c.needsCredential = false
	c.badCredential = ""
	c.mu.Unlock()

	c.deps.Display.ShowFault(nil)
	return c.Start(ctx)
}

func (c *Controller) Status() ControllerStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := ControllerStatus{
		Phase:           domain.PhaseIdle.String(),
		Mode:            c.persona.Mode(),
		Vibe:            c.persona.Vibe(),
		NeedsCredential: c.needsCredential,
		CanRetry:        c.lastErr != nil || c.needsCredential,
	}
	if c.current != nil {
		if phase := c.current.Phase(); !phase.Terminal() {
			st.Phase = phase.String()
			st.SessionID = c.current.ID()
		}
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	return st
}

// Transcript returns the entries of the current session.
func (c *Controller) Transcript() []domain.TranscriptEntry {
	c.mu.Lock()
	sess := c.current
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return sess.Transcript()
}

// Ended delivers the outcome of every finished session. Outcomes are
// dropped when nobody reads them.
func (c *Controller) Ended() <-chan Outcome {
	return c.ended
}

func (c *Controller) UpdateProfile(ctx context.Context, upd ProfileUpdate) (domain.Profile, error) {
	var mode domain.Mode
	if upd.PreferredMode != nil {
		m, ok := domain.ParseMode(*upd.PreferredMode)
		if !ok {
			return domain.Profile{}, fmt.Errorf("unknown mode %q", *upd.PreferredMode)
		}
		mode = m
	}

	profile, err := c.deps.Profiles.Update(ctx, func(p *domain.Profile) error {
		if mode != "" {
			p.PreferredMode = mode
		}
		if upd.Name != nil {
			p.Name = *upd.Name
		}
		if upd.Summary != nil {
			p.Summary = *upd.Summary
		}
		return nil
	})
	if err != nil {
		return domain.Profile{}, fmt.Errorf("saving profile: %w", err)
	}

	if mode != "" {
		c.persona.SetMode(mode)
		c.deps.Display.ShowMode(mode)
	}
	c.logger.Info("profile updated", "name", profile.Name, "mode", profile.PreferredMode)
	return profile, nil
}

// CloseSong closes the media panel and returns to companion mode.
func (c *Controller) CloseSong(_ context.Context) error {
	if c.deps.Media != nil {
		if err := c.deps.Media.Close(); err != nil {
			return fmt.Errorf("closing media: %w", err)
		}
	}
	c.persona.SetMode(domain.ModeCompanion)
	c.deps.Display.ShowSong("")
	c.deps.Display.ShowMode(domain.ModeCompanion)
	return nil
}

func (c *Controller) watch(sess *Session, gen uint64, credential string) {
	<-sess.Done()

	err := sess.Err()
	outcome := Outcome{
		SessionID:       sess.ID(),
		Phase:           sess.Phase(),
		Err:             err,
		Reason:          sess.CloseReason(),
		NeedsCredential: domain.NeedsCredential(err),
	}

	c.mu.Lock()
	if c.current == sess {
		c.current = nil
	}
	latest := gen == c.generation
	if latest {
		c.lastErr = err
		if outcome.NeedsCredential {
			c.needsCredential = true
			c.badCredential = credential
		}
	}
	c.mu.Unlock()

	c.deps.Metrics.SessionEnded(outcome.Label())

	if err != nil {
		c.logger.Error("session ended with error", "session_id", outcome.SessionID, "error", err, "needs_credential", outcome.NeedsCredential)
		if latest {
			c.deps.Display.ShowFault(&domain.Fault{Message: err.Error(), NeedsCredential: outcome.NeedsCredential})
		}
		if notifyErr := c.deps.Notifier.Notify(context.Background(), fmt.Sprintf("RoboBuddy link fault: %s", err.Error())); notifyErr != nil {
			c.logger.Error("notifying fault", "error", notifyErr)
		}
	} else {
		c.logger.Info("session ended", "session_id", outcome.SessionID, "reason", outcome.Reason)
	}

	c.refreshSummary(sess.Transcript())

	select {
	case c.ended <- outcome:
	default:
	}
}

func (c *Controller) refreshSummary(transcript []domain.TranscriptEntry) {
	if c.deps.Summarizer == nil || len(transcript) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.SummaryTimeout)
	defer cancel()

	profile, err := c.deps.Profiles.Load(ctx)
	if err != nil {
		c.logger.Warn("loading profile for summary", "error", err)
		return
	}
	summary, err := c.deps.Summarizer.Summarize(ctx, profile.Summary, transcript)
	if err != nil {
		c.logger.Warn("summarizing conversation", "error", err)
		return
	}

	today := time.Now().Format(time.DateOnly)
	if _, err := c.deps.Profiles.Update(ctx, func(p *domain.Profile) error {
		p.Summary = summary
		p.LastCheckInDate = &today
		return nil
	}); err != nil {
		c.logger.Warn("saving summary", "error", err)
		return
	}
	c.logger.Info("profile summary refreshed")
}
