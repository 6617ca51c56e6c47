package secrets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/1Password/connect-sdk-go/connect"
	"github.com/1Password/connect-sdk-go/onepassword"
)

// onePasswordStore stores each credential as a 1Password item (one
// CONCEALED field named "value") in a fixed vault, via the Connect API.
// Adapted from OnePasswordKeyStore in secrets_onepassword.go.
type onePasswordStore struct {
	client  connect.Client
	vaultID string
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
}

func newOnePasswordStore(host, token, vaultID string, logger *slog.Logger) (*onePasswordStore, error) {
	client := connect.NewClientWithUserAgent(host, token, "edgecompress")
	return &onePasswordStore{
		client:  client,
		vaultID: vaultID,
		logger:  logger,
		cache:   make(map[string]string),
	}, nil
}

func (s *onePasswordStore) Get(ctx context.Context, name string) (string, bool, error) {
	s.mu.RLock()
	if v, ok := s.cache[name]; ok {
		s.mu.RUnlock()
		return v, true, nil
	}
	s.mu.RUnlock()

	items, err := s.client.GetItemsByTitle(name, s.vaultID)
	if err != nil {
		if isNotFoundError(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("listing items: %w", err)
	}
	if len(items) == 0 {
		return "", false, nil
	}

	item, err := s.client.GetItem(items[0].ID, s.vaultID)
	if err != nil {
		return "", false, fmt.Errorf("getting item: %w", err)
	}

	for _, f := range item.Fields {
		if f.ID == "value" {
			s.mu.Lock()
			s.cache[name] = f.Value
			s.mu.Unlock()
			return f.Value, true, nil
		}
	}
	return "", false, nil
}

func (s *onePasswordStore) Set(ctx context.Context, name, value string) error {
	items, err := s.client.GetItemsByTitle(name, s.vaultID)
	if err != nil && !isNotFoundError(err) {
		return fmt.Errorf("finding item: %w", err)
	}

	item := &onepassword.Item{
		Title:    name,
		Category: onepassword.Password,
		Vault:    onepassword.ItemVault{ID: s.vaultID},
		Fields: []*onepassword.ItemField{
			{ID: "value", Label: "value", Type: "CONCEALED", Value: value},
		},
	}

	if len(items) == 0 {
		if _, err := s.client.CreateItem(item, s.vaultID); err != nil {
			return fmt.Errorf("creating item: %w", err)
		}
	} else {
		item.ID = items[0].ID
		if _, err := s.client.UpdateItem(item, s.vaultID); err != nil {
			return fmt.Errorf("updating item: %w", err)
		}
	}

	s.mu.Lock()
	s.cache[name] = value
	s.mu.Unlock()
	return nil
}

func (s *onePasswordStore) Close() error {
	s.mu.Lock()
	s.cache = make(map[string]string)
	s.mu.Unlock()
	return nil
}

func isNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "not found") || strings.Contains(msg, "404") || strings.Contains(msg, "no items")
}
