// Package auth manages the access/refresh token pair: persistence in
// the local store, expiry inspection, and exchange against the backend
// refresh endpoint.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/marchuk/docdeck/internal/storage"
)

const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"

	// expirySkew refreshes proactively when the access token is about
	// to lapse, instead of eating a guaranteed 401 round trip.
	expirySkew = 30 * time.Second
)

// ErrNotLoggedIn is returned when no credentials are stored.
var ErrNotLoggedIn = errors.New("not logged in")

// CredentialStore persists the token pair.
type CredentialStore interface {
	SetCredential(key, value string) error
	GetCredential(key string) (string, error)
	DeleteCredential(key string) error
}

// Manager implements backend.TokenSource over a credential store and
// the backend's refresh endpoint. It uses its own plain HTTP client so
// refreshes never recurse through the retrying client they serve.
type Manager struct {
	mu         sync.Mutex
	store      CredentialStore
	refreshURL string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewManager creates a Manager refreshing against baseURL.
func NewManager(store CredentialStore, baseURL string) *Manager {
	return &Manager{
		store:      store,
		refreshURL: baseURL + "/auth/refresh",
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default(),
	}
}

// Login stores a freshly obtained token pair.
func (m *Manager) Login(accessToken, refreshToken string) error {
	if err := m.store.SetCredential(keyAccessToken, accessToken); err != nil {
		return fmt.Errorf("storing access token: %w", err)
	}
	if err := m.store.SetCredential(keyRefreshToken, refreshToken); err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return nil
}

// Logout clears stored credentials.
func (m *Manager) Logout() error {
	if err := m.store.DeleteCredential(keyAccessToken); err != nil {
		return err
	}
	return m.store.DeleteCredential(keyRefreshToken)
}

// Token returns the current access token, refreshing proactively when
// it is expired or about to expire. Returns "" when not logged in so
// unauthenticated endpoints still work.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, err := m.store.GetCredential(keyAccessToken)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	if expiringSoon(token) {
		m.logger.Debug("access token expiring, refreshing proactively")
		refreshed, err := m.refreshLocked(ctx)
		if err != nil {
			// Let the request proceed with the stale token; the 401
			// path gets one more refresh attempt with full context.
			m.logger.Warn("proactive token refresh failed", "error", err)
			return token, nil
		}
		return refreshed, nil
	}
	return token, nil
}

// Refresh exchanges the refresh token for a new access token.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	refreshToken, err := m.store.GetCredential(keyRefreshToken)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrNotLoggedIn
	}
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.refreshURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refreshing token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("refresh rejected with status %d", resp.StatusCode)
	}

	var result struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decoding refresh response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("refresh response missing access token")
	}

	if err := m.store.SetCredential(keyAccessToken, result.AccessToken); err != nil {
		return "", fmt.Errorf("storing refreshed access token: %w", err)
	}
	if result.RefreshToken != "" {
		if err := m.store.SetCredential(keyRefreshToken, result.RefreshToken); err != nil {
			return "", fmt.Errorf("storing rotated refresh token: %w", err)
		}
	}
	return result.AccessToken, nil
}

// expiringSoon peeks at the JWT exp claim without verifying the
// signature (verification is the backend's job). Opaque tokens are
// assumed valid until the backend says otherwise.
func expiringSoon(token string) bool {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < expirySkew
}

// MemoryStore is an in-memory CredentialStore for tests.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) SetCredential(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) GetCredential(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) DeleteCredential(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}
