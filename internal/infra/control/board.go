package control

import (
	"log/slog"
	"sync"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

const defaultTranscriptLimit = 200

// Board is the in-memory display surface behind the control API. It also
// keeps the tail of the running transcript.
type Board struct {
	logger *slog.Logger
	limit  int

	mu         sync.Mutex
	indicator  domain.Indicator
	mode       domain.Mode
	song       string
	fault      *domain.Fault
	transcript []domain.TranscriptEntry
}

type BoardState struct {
	Status     domain.Status     `json:"status"`
	Expression domain.Expression `json:"expression"`
	Hardware   string            `json:"hardware"`
	Mode       domain.Mode       `json:"mode"`
	Song       string            `json:"song,omitempty"`
	Fault      *FaultView        `json:"fault,omitempty"`
}

type FaultView struct {
	Message         string `json:"message"`
	NeedsCredential bool   `json:"needsCredential"`
}

func NewBoard(transcriptLimit int, logger *slog.Logger) *Board {
	if transcriptLimit <= 0 {
		transcriptLimit = defaultTranscriptLimit
	}
	return &Board{
		logger: logger,
		limit:  transcriptLimit,
		indicator: domain.Indicator{
			Status:     domain.StatusIdle,
			Expression: domain.ExpressionNeutral,
		},
		mode: domain.ModeCompanion,
	}
}

func (b *Board) Show(ind domain.Indicator) {
	b.mu.Lock()
	b.indicator = ind
	b.mu.Unlock()
	b.logger.Debug("indicator", "status", ind.Status, "expression", ind.Expression, "hardware", ind.Hardware)
}

func (b *Board) ShowMode(mode domain.Mode) {
	b.mu.Lock()
	b.mode = mode
	b.mu.Unlock()
	b.logger.Info("mode changed", "mode", mode)
}

func (b *Board) ShowSong(song string) {
	b.mu.Lock()
	b.song = song
	b.mu.Unlock()
}

func (b *Board) ShowFault(fault *domain.Fault) {
	b.mu.Lock()
	b.fault = fault
	b.mu.Unlock()
	if fault != nil {
		b.logger.Warn("fault", "message", fault.Message, "needsCredential", fault.NeedsCredential)
	}
}

func (b *Board) Append(entry domain.TranscriptEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcript = append(b.transcript, entry)
	if over := len(b.transcript) - b.limit; over > 0 {
		b.transcript = append([]domain.TranscriptEntry(nil), b.transcript[over:]...)
	}
}

func (b *Board) State() BoardState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := BoardState{
		Status:     b.indicator.Status,
		Expression: b.indicator.Expression,
		Hardware:   b.indicator.Hardware,
		Mode:       b.mode,
		Song:       b.song,
	}
	if b.fault != nil {
		st.Fault = &FaultView{Message: b.fault.Message, NeedsCredential: b.fault.NeedsCredential}
	}
	return st
}

func (b *Board) Transcript() []domain.TranscriptEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.TranscriptEntry, len(b.transcript))
	copy(out, b.transcript)
	return out
}

var (
	_ application.Display        = (*Board)(nil)
	_ application.TranscriptSink = (*Board)(nil)
)
