package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/Mugen-Finance/token-lists/internal/model"
	"github.com/Mugen-Finance/token-lists/internal/storage"
)

// ErrPersistence wraps every failure to read or write the registry file.
var ErrPersistence = errors.New("registry persistence")

// FileStore keeps the registry as a JSON array in a single file.
type FileStore struct {
	Path   string
	Logger *zap.Logger
}

// Load reads the registry. It returns the raw file text next to the parsed
// registry; a missing file yields an empty registry.
func (s *FileStore) Load() (string, *Registry, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	stat, err := os.Stat(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			reg, _ := New(nil)
			return "", reg, nil
		}
		return "", nil, fmt.Errorf("%w: stat %s: %w", ErrPersistence, s.Path, err)
	}
	if stat.IsDir() {
		return "", nil, fmt.Errorf("%w: %s is a directory", ErrPersistence, s.Path)
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return "", nil, fmt.Errorf("%w: read %s: %w", ErrPersistence, s.Path, err)
	}

	var entries []model.TokenMetadata
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return "", nil, fmt.Errorf("%w: parse %s: %w", ErrPersistence, s.Path, err)
		}
	}

	reg, dropped := New(entries)
	if dropped > 0 {
		logger.Warn("registry contains duplicate addresses", zap.String("path", s.Path), zap.Int("dropped", dropped))
	}
	return string(data), reg, nil
}

// Persist replaces the registry file with the full registry. Readers see
// either the previous file or the new one, never a partial write.
func (s *FileStore) Persist(reg *Registry) error {
	data, err := json.Marshal(reg.Entries())
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrPersistence, err)
	}
	if err := storage.WriteFileAtomic(s.Path, data); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
