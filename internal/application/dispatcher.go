package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"robobuddy/internal/domain"
)

// Dispatcher executes the local side effects of tool calls and builds the
// correlated responses.
type Dispatcher struct {
	persona  *Persona
	profiles ProfileStore
	media    MediaLauncher
	display  Display
	metrics  Metrics
	logger   *slog.Logger
}

func NewDispatcher(
	persona *Persona,
	profiles ProfileStore,
	media MediaLauncher,
	display Display,
	metrics Metrics,
	logger *slog.Logger,
) *Dispatcher {
	if display == nil {
		display = noopDisplay{}
	}
	if metrics == nil {
		metrics = NoopMetrics{}
	}
	return &Dispatcher{
		persona:  persona,
		profiles: profiles,
		media:    media,
		display:  display,
		metrics:  metrics,
		logger:   logger,
	}
}

// Dispatch handles one batch in order. Calls with unknown names are skipped;
// every other call yields exactly one response.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []domain.ToolCall) []domain.ToolResponse {
	responses := make([]domain.ToolResponse, 0, len(calls))

	for _, call := range calls {
		var result map[string]any

		switch call.Name {
		case domain.ToolSwitchMode:
			result = d.switchMode(call)
		case domain.ToolSaveOperatorName:
			result = d.saveOperatorName(ctx, call)
		case domain.ToolPlaySong:
			result = d.playSong(ctx, call)
		default:
			d.logger.Warn("unknown tool call, skipping", "name", call.Name, "id", call.ID)
			d.metrics.ToolCalled(string(call.Name), false)
			continue
		}

		d.metrics.ToolCalled(string(call.Name), true)
		responses = append(responses, domain.ToolResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: result,
		})
	}

	return responses
}

func (d *Dispatcher) switchMode(call domain.ToolCall) map[string]any {
	target, err := stringArg(call, "targetMode")
	if err != nil {
		return errorResult(err)
	}
	mode, ok := domain.ParseMode(target)
	if !ok {
		return errorResult(fmt.Errorf("unknown mode %q", target))
	}

	d.persona.SetMode(mode)
	d.display.ShowMode(mode)
	d.logger.Info("mode switched", "mode", mode)

	return map[string]any{"status": "switched", "mode": string(d.persona.Mode())}
}

func (d *Dispatcher) saveOperatorName(ctx context.Context, call domain.ToolCall) map[string]any {
	name, err := stringArg(call, "newName")
	if err != nil {
		return errorResult(err)
	}

	if _, err := d.profiles.Update(ctx, func(p *domain.Profile) error {
		p.Name = name
		return nil
	}); err != nil {
		return errorResult(fmt.Errorf("saving profile: %w", err))
	}
	d.logger.Info("operator name saved", "name", name)

	return map[string]any{"status": "success", "message": "Memory updated!"}
}

func (d *Dispatcher) playSong(ctx context.Context, call domain.ToolCall) map[string]any {
	song, err := stringArg(call, "songName")
	if err != nil {
		return errorResult(err)
	}

	d.persona.SetMode(domain.ModeSongPlayer)
	d.display.ShowMode(domain.ModeSongPlayer)
	d.display.ShowSong(song)

	if d.media != nil {
		if err := d.media.Play(ctx, song); err != nil {
			d.logger.Error("launching media", "song", song, "error", err)
			return errorResult(fmt.Errorf("launching media: %w", err))
		}
	}
	d.logger.Info("playing song", "song", song)

	return map[string]any{"status": "playing", "song": song}
}

func stringArg(call domain.ToolCall, key string) (string, error) {
	v, ok := call.Args[key]
	if !ok {
		return "", fmt.Errorf("missing argument %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", key)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("argument %q is empty", key)
	}
	return s, nil
}

func errorResult(err error) map[string]any {
	return map[string]any{"status": "error", "message": err.Error()}
}
