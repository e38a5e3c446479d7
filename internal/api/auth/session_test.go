package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"watchpost/internal/kvstore"
	"watchpost/internal/storage"
)

func newSessionFixture(t *testing.T) (*SessionManager, *storage.User) {
	t.Helper()

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	user := &storage.User{Username: "session_user", Active: true}
	if err := user.Validate(); err != nil {
		t.Fatalf("validate user: %v", err)
	}
	if _, err := store.Repos.Users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	return NewSessionManager(kvstore.NewMemoryStore(), store.Repos, time.Minute), user
}

func TestSessionLifecycle(t *testing.T) {
	sessions, user := newSessionFixture(t)
	ctx := context.Background()

	token, expiresAt, err := sessions.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if token == "" {
		t.Fatal("empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Error("expiry not in the future")
	}

	resolved, err := sessions.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != user.ID {
		t.Errorf("resolved user %d, want %d", resolved.ID, user.ID)
	}

	if err := sessions.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := sessions.Resolve(ctx, token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("resolve revoked = %v, want ErrInvalidSession", err)
	}
}

func TestSessionRejectsUnknownToken(t *testing.T) {
	sessions, _ := newSessionFixture(t)

	if _, err := sessions.Resolve(context.Background(), "bogus"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("resolve bogus = %v, want ErrInvalidSession", err)
	}
	if _, err := sessions.Resolve(context.Background(), ""); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("resolve empty = %v, want ErrInvalidSession", err)
	}
}

func TestSessionRejectsDisabledAccount(t *testing.T) {
	sessions, user := newSessionFixture(t)
	ctx := context.Background()

	token, _, err := sessions.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	user.Active = false
	if err := sessions.repos.Users.Update(ctx, user); err != nil {
		t.Fatalf("deactivate user: %v", err)
	}

	if _, err := sessions.Resolve(ctx, token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("resolve for disabled account = %v, want ErrInvalidSession", err)
	}
}
