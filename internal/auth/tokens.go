package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"vireworkplace/attendance/internal/markers"
)

var (
	ErrSessionExpired = errors.New("session_expired")
	ErrMissingToken   = errors.New("missing_token")
)

// StorageKeys are the places the web client has kept the access token over
// time, local storage first and session storage after.
var StorageKeys = []string{
	"authToken",
	"token",
	"accessToken",
	"session:authToken",
	"session:token",
	"session:accessToken",
}

// Location is one place a bearer token may live.
type Location interface {
	Load(ctx context.Context) (string, bool, error)
	Clear(ctx context.Context) error
}

// MemoryLocation holds the token of the current in-process auth context.
type MemoryLocation struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryLocation(token string) *MemoryLocation {
	return &MemoryLocation{token: strings.TrimSpace(token)}
}

func (m *MemoryLocation) Set(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = strings.TrimSpace(token)
}

func (m *MemoryLocation) Load(context.Context) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, m.token != "", nil
}

func (m *MemoryLocation) Clear(context.Context) error {
	m.Set("")
	return nil
}

// StorageLocation reads a token kept under key in a storage adapter.
type StorageLocation struct {
	storage markers.Storage
	key     string
}

func NewStorageLocation(storage markers.Storage, key string) StorageLocation {
	return StorageLocation{storage: storage, key: key}
}

func (s StorageLocation) Load(ctx context.Context) (string, bool, error) {
	value, ok, err := s.storage.Get(ctx, s.key)
	if err != nil || !ok {
		return "", false, err
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	return value, value != "", nil
}

func (s StorageLocation) Clear(ctx context.Context) error {
	return s.storage.Delete(ctx, s.key)
}

// Tokens resolves the bearer token from an ordered list of locations.
type Tokens struct {
	locations []Location
	now       func() time.Time
}

func NewTokens(locations ...Location) *Tokens {
	return &Tokens{locations: locations, now: time.Now}
}

// NewDefaultTokens checks memory first and then every known storage key.
func NewDefaultTokens(memory *MemoryLocation, storage markers.Storage) *Tokens {
	locations := []Location{memory}
	if storage != nil {
		for _, key := range StorageKeys {
			locations = append(locations, NewStorageLocation(storage, key))
		}
	}
	return NewTokens(locations...)
}

// Token returns the first non-expired token found. Expired tokens are
// skipped so the caller fails before reaching the network.
func (t *Tokens) Token(ctx context.Context) (string, error) {
	sawExpired := false
	for _, loc := range t.locations {
		token, ok, err := loc.Load(ctx)
		if err != nil {
			return "", err
		}
		if !ok {
			continue
		}
		claims, err := Inspect(token)
		if err == nil && claims.Expired(t.now()) {
			sawExpired = true
			continue
		}
		return token, nil
	}
	if sawExpired {
		return "", ErrSessionExpired
	}
	return "", ErrMissingToken
}

// Clear wipes every location; used when the server rejects the token.
func (t *Tokens) Clear(ctx context.Context) error {
	var errs []error
	for _, loc := range t.locations {
		if err := loc.Clear(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Claims struct {
	UserID string `json:"id"`
	Role   string `json:"role"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// UserKey prefers the explicit user id claim over "sub".
func (c *Claims) UserKey() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.RegisteredClaims.Subject
}

func (c *Claims) Expired(now time.Time) bool {
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Before(c.ExpiresAt.Time)
}

// Inspect decodes the claims of a JWT without verifying its signature. The
// backend remains the only verifier; this is used for routing and to detect
// expiry early.
func Inspect(token string) (*Claims, error) {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(token, claims)
	if err != nil {
		return nil, err
	}
	return claims, nil
}
