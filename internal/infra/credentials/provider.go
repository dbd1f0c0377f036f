package credentials

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

// Provider resolves the API key on every call so a key added to the
// environment file while the process runs is picked up by the next attempt.
// Lookup order: a key selected at runtime, the process environment, the
// dotenv file, then the configured fallback.
type Provider struct {
	envVars    []string
	dotenvPath string
	fallback   string

	mu       sync.RWMutex
	selected string
}

func NewProvider(envVars []string, dotenvPath, fallback string) *Provider {
	return &Provider{
		envVars:    envVars,
		dotenvPath: dotenvPath,
		fallback:   fallback,
	}
}

func (p *Provider) HasCredential(ctx context.Context) bool {
	_, err := p.Credential(ctx)
	return err == nil
}

func (p *Provider) Credential(_ context.Context) (string, error) {
	p.mu.RLock()
	selected := p.selected
	p.mu.RUnlock()
	if usable(selected) {
		return selected, nil
	}

	for _, name := range p.envVars {
		if v := os.Getenv(name); usable(v) {
			return strings.TrimSpace(v), nil
		}
	}

	if p.dotenvPath != "" {
		if env, err := godotenv.Read(p.dotenvPath); err == nil {
			for _, name := range p.envVars {
				if v := env[name]; usable(v) {
					return strings.TrimSpace(v), nil
				}
			}
		}
	}

	if usable(p.fallback) {
		return strings.TrimSpace(p.fallback), nil
	}
	return "", domain.ErrNeedsCredential
}

// Select pins key for the rest of the process lifetime.
func (p *Provider) Select(_ context.Context, key string) error {
	key = strings.TrimSpace(key)
	if !usable(key) {
		return errors.New("credential is empty or a placeholder")
	}
	p.mu.Lock()
	p.selected = key
	p.mu.Unlock()
	return nil
}

func usable(v string) bool {
	v = strings.TrimSpace(v)
	return v != "" && !strings.Contains(v, "PLACEHOLDER")
}

var _ application.CredentialProvider = (*Provider)(nil)
