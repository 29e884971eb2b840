// Package auth supplies bearer tokens to the messaging core. Token
// issuance (login) happens in the marketplace's web layer; this package
// only holds and refreshes what it is given.
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
)

var ErrNoToken = errors.New("no access token available")

// TokenSource yields the bearer token for outgoing requests and the
// transport handshake.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed token, typically injected from the environment.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// RefreshingSource exchanges a refresh token for fresh access tokens when
// the current one nears expiry. Refreshes are single-flight: concurrent
// callers wait on the mutex and reuse the renewed token.
type RefreshingSource struct {
	baseURL      string
	client       *http.Client
	refreshToken string

	mu      sync.Mutex
	access  string
	expires time.Time
	now     func() time.Time
}

// Leeway before the recorded expiry at which a refresh is triggered.
const refreshLeeway = 30 * time.Second

func NewRefreshingSource(baseURL, accessToken, refreshToken string, expires time.Time) *RefreshingSource {
	return &RefreshingSource{
		baseURL:      baseURL,
		client:       &http.Client{Timeout: 10 * time.Second},
		refreshToken: refreshToken,
		access:       accessToken,
		expires:      expires,
		now:          time.Now,
	}
}

func (s *RefreshingSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access != "" && (s.expires.IsZero() || s.now().Add(refreshLeeway).Before(s.expires)) {
		return s.access, nil
	}
	if s.refreshToken == "" {
		if s.access == "" {
			return "", ErrNoToken
		}
		return s.access, nil
	}

	if err := s.refresh(ctx); err != nil {
		// A stale token beats no token: the server will reject it and the
		// connection error path takes over from there.
		if s.access != "" {
			slog.Warn("token refresh failed, using previous token", "error", err)
			return s.access, nil
		}
		return "", err
	}
	return s.access, nil
}

func (s *RefreshingSource) refresh(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{"refreshToken": s.refreshToken})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/users/refresh", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("refresh token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("refresh token: unexpected status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
		ExpiresIn    int64  `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode refresh response: %w", err)
	}
	if payload.AccessToken == "" {
		return errors.New("refresh response missing access token")
	}

	s.access = payload.AccessToken
	if payload.RefreshToken != "" {
		s.refreshToken = payload.RefreshToken
	}
	if payload.ExpiresIn > 0 {
		s.expires = s.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	} else {
		s.expires = time.Time{}
	}

	return nil
}
