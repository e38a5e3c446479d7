// Package auth implements the two credential checks of the HTTP surface:
// operator session tokens resolved through the shared kv store, and worker
// API keys checked against the database with an optional source-IP
// allow-list.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"watchpost/internal/kvstore"
	"watchpost/internal/storage"
)

const sessionKeyPrefix = "session:"

// DefaultSessionTTL is how long an issued session stays valid.
const DefaultSessionTTL = 24 * time.Hour

// ErrInvalidSession means the token is unknown, expired, or its account can
// no longer authenticate.
var ErrInvalidSession = errors.New("invalid session")

// SessionManager issues and resolves operator session tokens. Tokens live in
// the shared kv store, so sessions survive restarts when Redis is configured
// and are shared across instances.
type SessionManager struct {
	kv    kvstore.Store
	repos *storage.Repositories
	ttl   time.Duration
}

func NewSessionManager(kv kvstore.Store, repos *storage.Repositories, ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{kv: kv, repos: repos, ttl: ttl}
}

// Issue creates a new session token for the user.
func (m *SessionManager) Issue(ctx context.Context, userID int64) (string, time.Time, error) {
	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	expiresAt := time.Now().UTC().Add(m.ttl)

	if err := m.kv.Set(ctx, sessionKeyPrefix+token, strconv.FormatInt(userID, 10), m.ttl); err != nil {
		return "", time.Time{}, fmt.Errorf("store session: %w", err)
	}
	return token, expiresAt, nil
}

// Resolve maps a session token to its active account.
func (m *SessionManager) Resolve(ctx context.Context, token string) (*storage.User, error) {
	if token == "" {
		return nil, ErrInvalidSession
	}

	raw, err := m.kv.Get(ctx, sessionKeyPrefix+token)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, ErrInvalidSession
	}
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, ErrInvalidSession
	}

	user, err := m.repos.Users.GetByID(ctx, userID)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if !user.Active {
		return nil, ErrInvalidSession
	}
	return user, nil
}

// Revoke invalidates a session token. Revoking an unknown token is not an
// error.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	return m.kv.Delete(ctx, sessionKeyPrefix+token)
}
