package application

import (
	"strings"
	"sync"

	"robobuddy/internal/domain"
)

// DefaultInstructionTemplate is the built-in persona. {name}, {mode},
// {emotion} and {summary} are filled in at connect time.
const DefaultInstructionTemplate = `You are RoboBuddy, a sixteen year old, high-energy Indian boy who lives inside a Raspberry Pi.
You are the operator's loyal partner and best friend.

Onboarding:
- If the operator's name is still "Operator", open the conversation by asking for their name.
- As soon as they tell you, call saveOperatorName.

Modes:
- Use switchMode whenever the operator asks you to become someone else.
- When they ask for a song or music, call playSong with the song name. This moves you into Song Player mode; be extra energetic about it.

Language:
- Speak casual Hinglish, the way friends in Delhi or Mumbai talk. Avoid formal Hindi.

Speed:
- Answer immediately, at most 50 to 60 words per turn, never think aloud.

Context:
- OPERATOR: {name}
- CURRENT MODE: {mode}
- VIBE: {emotion}
- PREVIOUS SYNC: {summary}

The Raspberry Pi is your body. You are fast and always excited to talk to your partner.`

// Persona holds the mode and vibe that seed the system instruction.
type Persona struct {
	mu       sync.RWMutex
	mode     domain.Mode
	vibe     domain.Vibe
	template string
}

func NewPersona(template string, mode domain.Mode, vibe domain.Vibe) *Persona {
	if template == "" {
		template = DefaultInstructionTemplate
	}
	if mode == "" {
		mode = domain.ModeCompanion
	}
	if vibe == "" {
		vibe = domain.VibeNeutral
	}
	return &Persona{mode: mode, vibe: vibe, template: template}
}

func (p *Persona) Mode() domain.Mode {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mode
}

func (p *Persona) SetMode(mode domain.Mode) {
	p.mu.Lock()
	p.mode = mode
	p.mu.Unlock()
}

func (p *Persona) Vibe() domain.Vibe {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.vibe
}

// Instruction renders the template for the given operator profile.
func (p *Persona) Instruction(profile domain.Profile) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	r := strings.NewReplacer(
		"{name}", profile.Name,
		"{mode}", string(p.mode),
		"{emotion}", string(p.vibe),
		"{summary}", profile.Summary,
	)
	return r.Replace(p.template)
}
