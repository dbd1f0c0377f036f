package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"

	"robobuddy/internal/application"
)

// Launcher runs an external player for a song. Each argument of the command
// template has {song} and {query} substituted; {query} is URL-escaped.
// At most one player runs at a time.
type Launcher struct {
	command []string
	logger  *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	current string
}

func NewLauncher(command []string, logger *slog.Logger) *Launcher {
	return &Launcher{command: command, logger: logger}
}

func (l *Launcher) Play(_ context.Context, song string) error {
	if len(l.command) == 0 {
		return errors.New("no media command configured")
	}

	args := make([]string, len(l.command))
	r := strings.NewReplacer("{song}", song, "{query}", url.QueryEscape(song))
	for i, a := range l.command {
		args[i] = r.Replace(a)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.stopLocked()

	// The player outlives the tool call, so no request context here.
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting media command: %w", err)
	}
	l.cmd = cmd
	l.current = song
	l.logger.Info("media started", "song", song, "pid", cmd.Process.Pid)

	go func() {
		err := cmd.Wait()
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.cmd == cmd {
			l.cmd = nil
			l.current = ""
		}
		if err != nil {
			l.logger.Debug("media command exited", "song", song, "error", err)
		}
	}()
	return nil
}

// Current is the song being played, or "" when nothing runs.
func (l *Launcher) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

func (l *Launcher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stopLocked()
}

func (l *Launcher) stopLocked() error {
	if l.cmd == nil || l.cmd.Process == nil {
		return nil
	}
	cmd := l.cmd
	l.cmd = nil
	l.current = ""
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stopping media command: %w", err)
	}
	return nil
}

var _ application.MediaLauncher = (*Launcher)(nil)
