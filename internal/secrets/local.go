package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// localStore stores credentials as individual files under a directory,
// each file named "<credential>.secret" with mode 0600. Intended for
// development and single-host deployments, mirroring the teacher's
// LocalKeyStore.
type localStore struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func newLocalStore(dir string, logger *slog.Logger) (*localStore, error) {
	if dir == "" {
		dir = "./secrets"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating secrets directory: %w", err)
	}
	logger.Info("using local secrets store", "path", dir)
	return &localStore{dir: dir, logger: logger, cache: make(map[string]string)}, nil
}

func (s *localStore) Get(_ context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, true, nil
	}
	s.mu.RUnlock()

	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	s.mu.Lock()
	s.cache[name] = string(data)
	s.mu.Unlock()
	return string(data), true, nil
}

func (s *localStore) Set(_ context.Context, name, value string) error {
	if err := os.WriteFile(s.path(name), []byte(value), 0o600); err != nil {
		return fmt.Errorf("writing secret %s: %w", name, err)
	}
	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()
	return nil
}

func (s *localStore) Close() error {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
	return nil
}

func (s *localStore) path(name string) string {
	return filepath.Join(s.dir, name+".secret")
}
