package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"robobuddy/internal/application"
	"robobuddy/internal/domain"
)

// FileStore keeps the operator profile in a single JSON file. Writes go
// through a temp file and a rename so a crash never leaves a torn file.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load returns the default profile when the file does not exist yet.
func (s *FileStore) Load(_ context.Context) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Update holds the store lock across read, fn and write, so concurrent
// updates to different fields never overwrite each other.
func (s *FileStore) Update(_ context.Context, fn func(p *domain.Profile) error) (domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.read()
	if err != nil {
		return domain.Profile{}, err
	}
	if err := fn(&p); err != nil {
		return domain.Profile{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.write(p); err != nil {
		return domain.Profile{}, err
	}
	return p, nil
}

func (s *FileStore) read() (domain.Profile, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.DefaultProfile(), nil
	}
	if err != nil {
		return domain.DefaultProfile(), fmt.Errorf("reading profile: %w", err)
	}

	p := domain.DefaultProfile()
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.DefaultProfile(), fmt.Errorf("parsing profile: %w", err)
	}
	if p.Name == "" {
		p.Name = domain.DefaultOperatorName
	}
	if _, ok := domain.ParseMode(string(p.PreferredMode)); !ok {
		p.PreferredMode = domain.ModeCompanion
	}
	return p, nil
}

func (s *FileStore) write(p domain.Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating profile dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".profile-*.json")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing profile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing profile: %w", err)
	}
	return nil
}

var _ application.ProfileStore = (*FileStore)(nil)
