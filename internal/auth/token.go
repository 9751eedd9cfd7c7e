package auth

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Checker reports whether the caller currently holds a usable access token.
type Checker interface {
	Authenticated() bool
}

// TokenService keeps the access token issued by the login flow in a file.
type TokenService struct {
	path  string
	now   func() time.Time
	mu    sync.RWMutex
	token string
}

// NewTokenService creates a token service backed by path. A non-empty
// override token takes precedence over the file.
func NewTokenService(path, override string) *TokenService {
	t := &TokenService{path: path, now: time.Now}
	if override != "" {
		t.token = strings.TrimSpace(override)
		return t
	}
	_ = t.reload()
	return t
}

func (t *TokenService) reload() error {
	if t.path == "" {
		return nil
	}
	data, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	t.mu.Lock()
	t.token = strings.TrimSpace(string(data))
	t.mu.Unlock()
	return nil
}

// Token returns the current token, or "" when logged out
func (t *TokenService) Token() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token
}

// Authenticated reports whether a token is present and, if it is a JWT
// carrying an exp claim, not yet expired. Signatures are the server's concern.
func (t *TokenService) Authenticated() bool {
	token := t.Token()
	if token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		// opaque token
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return t.now().Before(exp.Time)
}

// Store persists token to the token file.
func (t *TokenService) Store(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token must not be empty")
	}
	if t.path != "" {
		if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
			return fmt.Errorf("failed to create token directory: %w", err)
		}
		if err := os.WriteFile(t.path, []byte(token), 0o600); err != nil {
			return fmt.Errorf("failed to write token: %w", err)
		}
	}
	t.mu.Lock()
	t.token = token
	t.mu.Unlock()
	return nil
}

// Forget removes the token file. Idempotent.
func (t *TokenService) Forget() error {
	if t.path != "" {
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove token: %w", err)
		}
	}
	t.mu.Lock()
	t.token = ""
	t.mu.Unlock()
	return nil
}

// AddHeaders adds the bearer token to an outgoing request
func (t *TokenService) AddHeaders(req *http.Request) {
	if token := t.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}
