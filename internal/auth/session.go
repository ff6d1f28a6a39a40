// Package auth holds the signed-in identity for the agent process.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/carpool-sync/internal/models"
)

// UserKey is the store key the identity blob lives under.
const UserKey = "user"

var (
	ErrUnauthenticated = errors.New("auth: not signed in")
	ErrForbidden       = errors.New("auth: wrong role")
	ErrInvalidIdentity = errors.New("auth: invalid identity")
)

// Listener is told about every login and logout. ok is false on logout.
type Listener func(id models.Identity, ok bool)

// Session is the only holder of the current identity. Views receive it
// explicitly instead of reading storage themselves.
type Session struct {
	store Store
	now   func() time.Time

	mu        sync.RWMutex
	current   *models.Identity
	expiresAt time.Time
	listeners []Listener
}

func NewSession(store Store) *Session {
	return &Session{store: store, now: time.Now}
}

// Restore loads a previously persisted identity, if any.
func (s *Session) Restore(ctx context.Context) error {
	b, err := s.store.Get(ctx, UserKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	var id models.Identity
	if err := json.Unmarshal(b, &id); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	if err := validate(id); err != nil {
		return fmt.Errorf("restore session: %w", err)
	}
	s.mu.Lock()
	s.current = &id
	s.expiresAt = tokenExpiry(id.Token)
	s.mu.Unlock()
	return nil
}

func validate(id models.Identity) error {
	if id.UserID <= 0 {
		return fmt.Errorf("%w: missing user id", ErrInvalidIdentity)
	}
	if id.Role != models.RoleDriver && id.Role != models.RoleRider {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, id.Role)
	}
	return nil
}

// tokenExpiry reads exp without verifying the signature; the backend is the
// verifier. Opaque tokens never expire locally.
func tokenExpiry(token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

// Login replaces the identity as a whole and persists it.
func (s *Session) Login(ctx context.Context, id models.Identity) error {
	if err := validate(id); err != nil {
		return err
	}
	exp := tokenExpiry(id.Token)
	if !exp.IsZero() && !s.now().Before(exp) {
		return fmt.Errorf("%w: token expired", ErrInvalidIdentity)
	}
	b, err := json.Marshal(id)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, UserKey, b); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	s.mu.Lock()
	s.current = &id
	s.expiresAt = exp
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		l(id, true)
	}
	return nil
}

// Logout clears the persisted identity first. When that fails the session
// stays signed in so memory and storage still agree.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.store.Delete(ctx, UserKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	s.mu.Lock()
	prev := s.current
	s.current = nil
	s.expiresAt = time.Time{}
	ls := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()
	if prev != nil {
		for _, l := range ls {
			l(*prev, false)
		}
	}
	return nil
}

// Current returns the signed-in identity. An expired token reads as
// signed out.
func (s *Session) Current() (models.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return models.Identity{}, false
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return models.Identity{}, false
	}
	return *s.current, true
}

func (s *Session) Require(role models.Role) (models.Identity, error) {
	id, ok := s.Current()
	if !ok {
		return models.Identity{}, ErrUnauthenticated
	}
	if role != "" && id.Role != role {
		return models.Identity{}, fmt.Errorf("%w: need %s, have %s", ErrForbidden, role, id.Role)
	}
	return id, nil
}

// Token satisfies api.TokenSource.
func (s *Session) Token() string {
	id, ok := s.Current()
	if !ok {
		return ""
	}
	return id.Token
}

func (s *Session) OnChange(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}
