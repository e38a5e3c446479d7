package storage

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRepositoryRoundtrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user := &User{Username: "roundtrip", Active: true}
	if err := user.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}

	id, err := store.Repos.Users.Create(ctx, user)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == 0 || user.ID != id {
		t.Fatalf("generated id not written back: id=%d user.ID=%d", id, user.ID)
	}

	loaded, err := store.Repos.Users.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.Username != "roundtrip" || !loaded.Active {
		t.Errorf("loaded = {%q, %v}, want {roundtrip, true}", loaded.Username, loaded.Active)
	}
	if loaded.PasswordHash != nil {
		t.Error("password hash should be NULL by default")
	}

	loaded.Active = false
	if err := store.Repos.Users.Update(ctx, loaded); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := store.Repos.Users.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Active {
		t.Error("update did not persist")
	}

	if err := store.Repos.Users.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Repos.Users.GetByID(ctx, id); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("get deleted = %v, want sql.ErrNoRows", err)
	}
}

func TestRepositoryUniqueConstraint(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	first := &User{Username: "duplicate", Active: true}
	if err := first.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := store.Repos.Users.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	second := &User{Username: "duplicate", Active: true}
	if err := second.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := store.Repos.Users.Create(ctx, second); err == nil {
		t.Error("duplicate username should violate the unique constraint")
	}
}

func TestSelectBuilder(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user := &User{Username: "owner", Active: true}
	if err := user.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := store.Repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	names := []string{"alpha", "bravo", "charlie", "delta"}
	for _, name := range names {
		crawler := &Crawler{UserID: user.ID, Name: name, Status: CrawlerStatusOffline}
		if _, err := store.Repos.Crawlers.Create(ctx, crawler); err != nil {
			t.Fatalf("create crawler %s: %v", name, err)
		}
	}

	t.Run("where and order", func(t *testing.T) {
		crawlers, err := store.Repos.Crawlers.Select().
			Where("user_id = ?", user.ID).
			OrderBy("name DESC").
			Execute(ctx)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if len(crawlers) != 4 {
			t.Fatalf("rows = %d, want 4", len(crawlers))
		}
		if crawlers[0].Name != "delta" {
			t.Errorf("first row = %q, want delta", crawlers[0].Name)
		}
	})

	t.Run("limit and offset", func(t *testing.T) {
		crawlers, err := store.Repos.Crawlers.Select().
			Where("user_id = ?", user.ID).
			OrderBy("name ASC").
			Limit(2).
			Offset(1).
			Execute(ctx)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		if len(crawlers) != 2 || crawlers[0].Name != "bravo" || crawlers[1].Name != "charlie" {
			t.Errorf("page = %v, want [bravo charlie]", crawlerNames(crawlers))
		}
	})

	t.Run("count", func(t *testing.T) {
		n, err := store.Repos.Crawlers.Count(ctx, "user_id = ?", user.ID)
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 4 {
			t.Errorf("count = %d, want 4", n)
		}
	})

	t.Run("first on empty result", func(t *testing.T) {
		_, err := store.Repos.Crawlers.First(ctx, "name = ?", "nonexistent")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("err = %v, want sql.ErrNoRows", err)
		}
	})
}

func TestNullableColumnsRoundtrip(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user := &User{Username: "nullable", Active: true}
	if _, err := store.Repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	maxLines := int64(500)
	payload := `{"depth":3}`
	crawler := &Crawler{
		UserID:           user.ID,
		Name:             "nullable-fields",
		Status:           CrawlerStatusOffline,
		LogMaxLines:      &maxLines,
		HeartbeatPayload: &payload,
	}
	if _, err := store.Repos.Crawlers.Create(ctx, crawler); err != nil {
		t.Fatalf("create crawler: %v", err)
	}

	loaded, err := store.Repos.Crawlers.GetByID(ctx, crawler.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.LogMaxLines == nil || *loaded.LogMaxLines != 500 {
		t.Errorf("log_max_lines = %v, want 500", loaded.LogMaxLines)
	}
	if loaded.HeartbeatPayload == nil || *loaded.HeartbeatPayload != payload {
		t.Errorf("heartbeat_payload = %v, want %q", loaded.HeartbeatPayload, payload)
	}
	if loaded.LogMaxBytes != nil || loaded.GroupID != nil || loaded.LastHeartbeat != nil {
		t.Error("unset nullable columns should load as nil")
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	user := &User{Username: "txuser", Active: true}
	if _, err := store.Repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	failure := errors.New("forced failure")
	err := store.WithTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO crawlers (user_id, name, status, is_public, created_at) VALUES (?, 'tx-crawler', 'offline', 0, CURRENT_TIMESTAMP)",
			user.ID); err != nil {
			return err
		}
		return failure
	})
	if !errors.Is(err, failure) {
		t.Fatalf("err = %v, want forced failure", err)
	}

	n, err := store.Repos.Crawlers.Count(ctx, "name = ?", "tx-crawler")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Error("transaction was not rolled back")
	}
}

func crawlerNames(crawlers []Crawler) []string {
	names := make([]string, len(crawlers))
	for i := range crawlers {
		names[i] = crawlers[i].Name
	}
	return names
}
