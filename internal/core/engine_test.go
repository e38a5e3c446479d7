package core

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"watchpost/internal/config"
	"watchpost/internal/kvstore"
	"watchpost/internal/storage"
)

func newTestEngine(t *testing.T) (*Engine, *storage.Storage) {
	t.Helper()

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Logs: config.LogsConfig{
			TrimChunkLines: 1000,
		},
		Stats: config.StatsConfig{
			CacheTTLSeconds: 60,
		},
	}

	return NewEngine(cfg, store, kvstore.NewMemoryStore()), store
}

func seedCrawler(t *testing.T, store *storage.Storage) (*storage.User, *storage.APIKey, *storage.Crawler) {
	t.Helper()
	ctx := context.Background()

	user := &storage.User{Username: "tester", Active: true}
	if err := user.Validate(); err != nil {
		t.Fatalf("validate user: %v", err)
	}
	if _, err := store.Repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	key := &storage.APIKey{UserID: user.ID, Name: "worker key", Active: true}
	if err := key.Validate(); err != nil {
		t.Fatalf("validate key: %v", err)
	}
	if _, err := store.Repos.APIKeys.Create(ctx, key); err != nil {
		t.Fatalf("create key: %v", err)
	}

	crawler := &storage.Crawler{
		UserID:   user.ID,
		APIKeyID: &key.ID,
		Name:     "news-fetcher",
		Status:   storage.CrawlerStatusOffline,
	}
	if err := crawler.Validate(); err != nil {
		t.Fatalf("validate crawler: %v", err)
	}
	if _, err := store.Repos.Crawlers.Create(ctx, crawler); err != nil {
		t.Fatalf("create crawler: %v", err)
	}

	return user, key, crawler
}

func TestRecordHeartbeat(t *testing.T) {
	engine, store := newTestEngine(t)
	_, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	run, err := engine.StartRun(ctx, crawler, "10.0.0.5")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}

	status, err := engine.RecordHeartbeat(ctx, crawler, &key.ID, HeartbeatInput{
		Payload:    map[string]interface{}{"queue": 42.0},
		SourceIP:   "10.0.0.5",
		DeviceName: "box-1",
	})
	if err != nil {
		t.Fatalf("record heartbeat: %v", err)
	}
	if status != storage.CrawlerStatusOnline {
		t.Errorf("stored status = %q, want online", status)
	}

	// Crawler row updated
	reloaded, err := store.Repos.Crawlers.GetByID(ctx, crawler.ID)
	if err != nil {
		t.Fatalf("reload crawler: %v", err)
	}
	if reloaded.Status != storage.CrawlerStatusOnline {
		t.Errorf("crawler status = %q, want online", reloaded.Status)
	}
	if reloaded.LastHeartbeat == nil {
		t.Error("last_heartbeat not set")
	}
	if reloaded.HeartbeatPayload == nil || *reloaded.HeartbeatPayload == "" {
		t.Error("heartbeat payload not stored")
	}
	if reloaded.StatusChangedAt == nil {
		t.Error("status_changed_at not stamped on transition")
	}

	// Heartbeat event appended
	events, err := store.Repos.Heartbeats.Where(ctx, "crawler_id = ?", crawler.ID)
	if err != nil {
		t.Fatalf("list heartbeats: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("heartbeat events = %d, want 1", len(events))
	}
	if events[0].APIKeyID == nil || *events[0].APIKeyID != key.ID {
		t.Error("heartbeat event not linked to the api key")
	}

	// Open run mirrored
	mirrored, err := store.Repos.CrawlerRuns.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("reload run: %v", err)
	}
	if mirrored.LastHeartbeat == nil {
		t.Error("open run did not mirror the heartbeat")
	}
}

func TestRecordHeartbeatStatusHint(t *testing.T) {
	engine, store := newTestEngine(t)
	_, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	// An explicit valid hint wins
	status, err := engine.RecordHeartbeat(ctx, crawler, &key.ID, HeartbeatInput{Status: storage.CrawlerStatusWarning})
	if err != nil {
		t.Fatalf("record heartbeat: %v", err)
	}
	if status != storage.CrawlerStatusWarning {
		t.Errorf("status = %q, want warning", status)
	}

	// An unknown hint is ignored and falls back to online
	status, err = engine.RecordHeartbeat(ctx, crawler, &key.ID, HeartbeatInput{Status: "sleeping"})
	if err != nil {
		t.Fatalf("record heartbeat: %v", err)
	}
	if status != storage.CrawlerStatusOnline {
		t.Errorf("status = %q, want online", status)
	}
}

func TestNextCommands(t *testing.T) {
	engine, store := newTestEngine(t)
	user, _, crawler := seedCrawler(t, store)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		cmd := &storage.CrawlerCommand{
			CrawlerID: crawler.ID,
			IssuedBy:  &user.ID,
			Command:   "restart",
		}
		if err := engine.IssueCommand(ctx, cmd); err != nil {
			t.Fatalf("issue command %d: %v", i, err)
		}
	}

	// An expired command must never be delivered
	expired := time.Now().UTC().Add(-time.Minute)
	stale := &storage.CrawlerCommand{
		CrawlerID: crawler.ID,
		Command:   "stale",
		ExpiresAt: &expired,
	}
	if err := engine.IssueCommand(ctx, stale); err != nil {
		t.Fatalf("issue stale command: %v", err)
	}

	first, err := engine.NextCommands(ctx, crawler.ID)
	if err != nil {
		t.Fatalf("first poll: %v", err)
	}
	if len(first) != CommandBatchSize {
		t.Fatalf("first poll delivered %d commands, want %d", len(first), CommandBatchSize)
	}
	for i, cmd := range first {
		if cmd.Status != storage.CommandStatusAccepted {
			t.Errorf("command %d status = %q, want accepted", cmd.ID, cmd.Status)
		}
		if i > 0 && cmd.ID <= first[i-1].ID {
			t.Errorf("delivery out of FIFO order: %d after %d", cmd.ID, first[i-1].ID)
		}
	}

	second, err := engine.NextCommands(ctx, crawler.ID)
	if err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("second poll delivered %d commands, want 2", len(second))
	}
	for _, cmd := range second {
		if cmd.Command == "stale" {
			t.Error("expired command was delivered")
		}
	}

	third, err := engine.NextCommands(ctx, crawler.ID)
	if err != nil {
		t.Fatalf("third poll: %v", err)
	}
	if len(third) != 0 {
		t.Errorf("third poll delivered %d commands, want 0", len(third))
	}
}

func TestAckCommand(t *testing.T) {
	engine, store := newTestEngine(t)
	_, _, crawler := seedCrawler(t, store)
	ctx := context.Background()

	cmd := &storage.CrawlerCommand{CrawlerID: crawler.ID, Command: "flush"}
	if err := engine.IssueCommand(ctx, cmd); err != nil {
		t.Fatalf("issue command: %v", err)
	}

	t.Run("done alias normalizes to success", func(t *testing.T) {
		acked, err := engine.AckCommand(ctx, crawler.ID, cmd.ID, "done", map[string]interface{}{"flushed": 12.0})
		if err != nil {
			t.Fatalf("ack: %v", err)
		}
		if acked.Status != storage.CommandStatusSuccess {
			t.Errorf("status = %q, want success", acked.Status)
		}
		if acked.ProcessedAt == nil {
			t.Error("processed_at not stamped")
		}
		if acked.Result == nil {
			t.Error("result not stored")
		}
	})

	t.Run("repeated ack overwrites", func(t *testing.T) {
		acked, err := engine.AckCommand(ctx, crawler.ID, cmd.ID, storage.CommandStatusFailed, nil)
		if err != nil {
			t.Fatalf("re-ack: %v", err)
		}
		if acked.Status != storage.CommandStatusFailed {
			t.Errorf("status = %q, want failed", acked.Status)
		}
	})

	t.Run("empty status means success", func(t *testing.T) {
		acked, err := engine.AckCommand(ctx, crawler.ID, cmd.ID, "", nil)
		if err != nil {
			t.Fatalf("ack: %v", err)
		}
		if acked.Status != storage.CommandStatusSuccess {
			t.Errorf("status = %q, want success", acked.Status)
		}
	})

	t.Run("invalid status rejected", func(t *testing.T) {
		if _, err := engine.AckCommand(ctx, crawler.ID, cmd.ID, "exploded", nil); err == nil {
			t.Error("expected error for invalid ack status")
		}
	})

	t.Run("unknown command", func(t *testing.T) {
		if _, err := engine.AckCommand(ctx, crawler.ID, 99999, "", nil); !errors.Is(err, sql.ErrNoRows) {
			t.Errorf("err = %v, want sql.ErrNoRows", err)
		}
	})
}

func TestFinishRun(t *testing.T) {
	engine, store := newTestEngine(t)
	_, _, crawler := seedCrawler(t, store)
	ctx := context.Background()

	run, err := engine.StartRun(ctx, crawler, "")
	if err != nil {
		t.Fatalf("start run: %v", err)
	}
	if run.Status != storage.RunStatusRunning {
		t.Fatalf("new run status = %q, want running", run.Status)
	}

	finished, err := engine.FinishRun(ctx, crawler.ID, run.ID, storage.RunStatusFailed)
	if err != nil {
		t.Fatalf("finish run: %v", err)
	}
	if finished.Status != storage.RunStatusFailed || finished.EndedAt == nil {
		t.Errorf("finished run = {%q, %v}, want failed with ended_at", finished.Status, finished.EndedAt)
	}

	// Retried finish reports stay idempotent and may change the outcome
	finished, err = engine.FinishRun(ctx, crawler.ID, run.ID, "")
	if err != nil {
		t.Fatalf("re-finish run: %v", err)
	}
	if finished.Status != storage.RunStatusSuccess {
		t.Errorf("re-finished status = %q, want success", finished.Status)
	}

	if _, err := engine.FinishRun(ctx, crawler.ID, run.ID, "running"); err == nil {
		t.Error("expected error for non-terminal run status")
	}
}

func TestIngestLog(t *testing.T) {
	engine, store := newTestEngine(t)
	user, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	entry, err := engine.IngestLog(ctx, crawler, user, &key.ID, LogInput{
		Level:   "warn",
		Message: "queue depth above soft limit",
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if entry.Level != LevelWarning || entry.LevelCode != 30 {
		t.Errorf("resolved level = (%q, %d), want (WARNING, 30)", entry.Level, entry.LevelCode)
	}

	if _, err := engine.IngestLog(ctx, crawler, user, &key.ID, LogInput{Level: "info"}); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestEnforceLogLimitsLineCap(t *testing.T) {
	engine, store := newTestEngine(t)
	user, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	maxLines := int64(3)
	crawler.LogMaxLines = &maxLines

	for i := 0; i < 5; i++ {
		if _, err := engine.IngestLog(ctx, crawler, user, &key.ID, LogInput{
			Message: "line " + string(rune('a'+i)),
		}); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	usage, err := engine.CrawlerLogUsage(ctx, crawler.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Lines != maxLines {
		t.Fatalf("retained lines = %d, want %d", usage.Lines, maxLines)
	}

	// The oldest lines go first
	remaining, err := store.Repos.LogEntries.Select().
		Where("crawler_id = ?", crawler.ID).
		OrderBy("id ASC").
		Execute(ctx)
	if err != nil {
		t.Fatalf("list remaining: %v", err)
	}
	if remaining[0].Message != "line c" {
		t.Errorf("oldest retained = %q, want %q", remaining[0].Message, "line c")
	}
}

func TestEnforceLogLimitsUserQuota(t *testing.T) {
	engine, store := newTestEngine(t)
	user, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	quota := int64(40)
	user.LogQuotaBytes = &quota

	for i := 0; i < 6; i++ {
		if _, err := engine.IngestLog(ctx, crawler, user, &key.ID, LogInput{
			Message: "0123456789", // 10 bytes each
		}); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	usage, err := engine.UserLogUsage(ctx, user.ID)
	if err != nil {
		t.Fatalf("usage: %v", err)
	}
	if usage.Bytes > quota {
		t.Errorf("retained bytes = %d, exceeds quota %d", usage.Bytes, quota)
	}
}

func TestPurgeCrawlerLogs(t *testing.T) {
	engine, store := newTestEngine(t)
	user, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := engine.IngestLog(ctx, crawler, user, &key.ID, LogInput{Message: "m"}); err != nil {
			t.Fatalf("ingest %d: %v", i, err)
		}
	}

	deleted, err := engine.PurgeCrawlerLogs(ctx, crawler.ID)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if deleted != 4 {
		t.Errorf("deleted = %d, want 4", deleted)
	}

	usage, _ := engine.CrawlerLogUsage(ctx, crawler.ID)
	if usage.Lines != 0 {
		t.Errorf("lines after purge = %d, want 0", usage.Lines)
	}
}

func TestResolveConfigPrecedence(t *testing.T) {
	engine, store := newTestEngine(t)
	user, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	group := &storage.CrawlerGroup{UserID: user.ID, Name: "eu fleet"}
	if err := group.Validate(); err != nil {
		t.Fatalf("validate group: %v", err)
	}
	if _, err := store.Repos.CrawlerGroups.Create(ctx, group); err != nil {
		t.Fatalf("create group: %v", err)
	}
	crawler.GroupID = &group.ID
	if err := store.Repos.Crawlers.Update(ctx, crawler); err != nil {
		t.Fatalf("update crawler: %v", err)
	}

	makeAssignment := func(targetType string, targetID int64, content string) *storage.ConfigAssignment {
		a := &storage.ConfigAssignment{
			UserID:     user.ID,
			Name:       targetType + " config",
			TargetType: targetType,
			TargetID:   targetID,
			Format:     storage.ConfigFormatJSON,
			Content:    content,
			IsActive:   true,
		}
		if err := a.Validate(); err != nil {
			t.Fatalf("validate %s assignment: %v", targetType, err)
		}
		if _, err := store.Repos.ConfigAssignments.Create(ctx, a); err != nil {
			t.Fatalf("create %s assignment: %v", targetType, err)
		}
		return a
	}

	groupCfg := makeAssignment(storage.TargetTypeGroup, group.ID, `{"scope":"group"}`)
	keyCfg := makeAssignment(storage.TargetTypeAPIKey, key.ID, `{"scope":"key"}`)
	crawlerCfg := makeAssignment(storage.TargetTypeCrawler, crawler.ID, `{"scope":"crawler"}`)

	resolve := func() *EffectiveConfig {
		t.Helper()
		eff, err := engine.ResolveConfig(ctx, crawler)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		return eff
	}

	// Crawler-level wins
	if eff := resolve(); !eff.HasConfig || eff.AssignmentID != crawlerCfg.ID {
		t.Errorf("resolved assignment %d, want crawler-level %d", eff.AssignmentID, crawlerCfg.ID)
	}

	// Deactivating the crawler assignment falls through to the api key
	crawlerCfg.IsActive = false
	if err := store.Repos.ConfigAssignments.Update(ctx, crawlerCfg); err != nil {
		t.Fatalf("deactivate crawler assignment: %v", err)
	}
	if eff := resolve(); !eff.HasConfig || eff.AssignmentID != keyCfg.ID {
		t.Errorf("resolved assignment %d, want key-level %d", eff.AssignmentID, keyCfg.ID)
	}

	// Then to the group
	if err := store.Repos.ConfigAssignments.Delete(ctx, keyCfg.ID); err != nil {
		t.Fatalf("delete key assignment: %v", err)
	}
	if eff := resolve(); !eff.HasConfig || eff.AssignmentID != groupCfg.ID {
		t.Errorf("resolved assignment %d, want group-level %d", eff.AssignmentID, groupCfg.ID)
	}

	// No assignment left: explicit sentinel, not an error
	if err := store.Repos.ConfigAssignments.Delete(ctx, groupCfg.ID); err != nil {
		t.Fatalf("delete group assignment: %v", err)
	}
	if eff := resolve(); eff.HasConfig {
		t.Error("expected the no-config sentinel")
	}
}

func TestApplyAssignmentUpdateVersioning(t *testing.T) {
	engine, store := newTestEngine(t)
	user, _, crawler := seedCrawler(t, store)
	ctx := context.Background()

	assignment := &storage.ConfigAssignment{
		UserID:     user.ID,
		Name:       "fetch config",
		TargetType: storage.TargetTypeCrawler,
		TargetID:   crawler.ID,
		Format:     storage.ConfigFormatJSON,
		Content:    `{"interval":60}`,
		IsActive:   true,
	}
	if err := assignment.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := store.Repos.ConfigAssignments.Create(ctx, assignment); err != nil {
		t.Fatalf("create: %v", err)
	}
	if assignment.Version != 1 {
		t.Fatalf("initial version = %d, want 1", assignment.Version)
	}

	// Metadata-only edits leave the version alone
	name := "renamed"
	if err := engine.ApplyAssignmentUpdate(ctx, assignment, &name, nil, nil, nil, nil); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if assignment.Version != 1 {
		t.Errorf("version after rename = %d, want 1", assignment.Version)
	}

	// Identical content is not a change
	same := `{"interval":60}`
	if err := engine.ApplyAssignmentUpdate(ctx, assignment, nil, nil, nil, &same, nil); err != nil {
		t.Fatalf("same content: %v", err)
	}
	if assignment.Version != 1 {
		t.Errorf("version after identical content = %d, want 1", assignment.Version)
	}

	// Real content change bumps
	changed := `{"interval":30}`
	if err := engine.ApplyAssignmentUpdate(ctx, assignment, nil, nil, nil, &changed, nil); err != nil {
		t.Fatalf("content change: %v", err)
	}
	if assignment.Version != 2 {
		t.Errorf("version after content change = %d, want 2", assignment.Version)
	}

	reloaded, err := store.Repos.ConfigAssignments.GetByID(ctx, assignment.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Version != 2 || reloaded.Content != changed {
		t.Errorf("persisted = {v%d, %s}, want {v2, %s}", reloaded.Version, reloaded.Content, changed)
	}
}

func TestDeleteCrawlerRemovesChildren(t *testing.T) {
	engine, store := newTestEngine(t)
	user, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	if _, err := engine.StartRun(ctx, crawler, "10.0.0.5"); err != nil {
		t.Fatalf("start run: %v", err)
	}
	if _, err := engine.RecordHeartbeat(ctx, crawler, &key.ID, HeartbeatInput{SourceIP: "10.0.0.5"}); err != nil {
		t.Fatalf("record heartbeat: %v", err)
	}
	if _, err := engine.IngestLog(ctx, crawler, user, &key.ID, LogInput{Message: "about to vanish"}); err != nil {
		t.Fatalf("ingest log: %v", err)
	}
	if err := engine.IssueCommand(ctx, &storage.CrawlerCommand{CrawlerID: crawler.ID, Command: "restart"}); err != nil {
		t.Fatalf("issue command: %v", err)
	}

	// quick_links carries no crawler foreign key, so the link must go
	// through the explicit delete procedure
	link := &storage.QuickLink{
		TargetType: storage.TargetTypeCrawler,
		CrawlerID:  &crawler.ID,
		AllowLogs:  true,
		IsActive:   true,
		CreatedBy:  user.ID,
	}
	if err := link.Validate(); err != nil {
		t.Fatalf("validate link: %v", err)
	}
	if _, err := store.Repos.QuickLinks.Create(ctx, link); err != nil {
		t.Fatalf("create link: %v", err)
	}

	if err := engine.DeleteCrawler(ctx, crawler); err != nil {
		t.Fatalf("delete crawler: %v", err)
	}

	if _, err := store.Repos.Crawlers.GetByID(ctx, crawler.ID); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("crawler lookup = %v, want sql.ErrNoRows", err)
	}

	for name, count := range map[string]func() (int64, error){
		"runs":       func() (int64, error) { return store.Repos.CrawlerRuns.Count(ctx, "crawler_id = ?", crawler.ID) },
		"heartbeats": func() (int64, error) { return store.Repos.Heartbeats.Count(ctx, "crawler_id = ?", crawler.ID) },
		"logs":       func() (int64, error) { return store.Repos.LogEntries.Count(ctx, "crawler_id = ?", crawler.ID) },
		"commands":   func() (int64, error) { return store.Repos.Commands.Count(ctx, "crawler_id = ?", crawler.ID) },
		"links":      func() (int64, error) { return store.Repos.QuickLinks.Count(ctx, "crawler_id = ?", crawler.ID) },
	} {
		n, err := count()
		if err != nil {
			t.Fatalf("count %s: %v", name, err)
		}
		if n != 0 {
			t.Errorf("%s left behind after delete: %d rows", name, n)
		}
	}
}

func TestLogStats(t *testing.T) {
	engine, store := newTestEngine(t)
	user, key, crawler := seedCrawler(t, store)
	ctx := context.Background()

	ingest := func(level, message string) {
		t.Helper()
		if _, err := engine.IngestLog(ctx, crawler, user, &key.ID, LogInput{Level: level, Message: message}); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}
	ingest("info", "fetch ok")
	ingest("info", "fetch ok")
	ingest("error", "fetch failed: timeout")

	t.Run("totals and caching", func(t *testing.T) {
		req := StatsRequest{CrawlerID: crawler.ID}
		result, err := engine.LogStats(ctx, req)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if result.Total != 3 {
			t.Errorf("total = %d, want 3", result.Total)
		}
		if result.Cached {
			t.Error("first computation must not report cached")
		}
		if len(result.Buckets) != 24 {
			t.Errorf("buckets = %d, want 24", len(result.Buckets))
		}

		again, err := engine.LogStats(ctx, req)
		if err != nil {
			t.Fatalf("cached stats: %v", err)
		}
		if !again.Cached {
			t.Error("second identical query should come from the cache")
		}
		if again.Total != 3 {
			t.Errorf("cached total = %d, want 3", again.Total)
		}
	})

	t.Run("severity filter", func(t *testing.T) {
		result, err := engine.LogStats(ctx, StatsRequest{CrawlerID: crawler.ID, MinLevel: "error"})
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if result.Total != 1 {
			t.Errorf("total = %d, want 1", result.Total)
		}
	})

	t.Run("keyword filter", func(t *testing.T) {
		result, err := engine.LogStats(ctx, StatsRequest{CrawlerID: crawler.ID, Keyword: "failed"})
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if result.Total != 1 {
			t.Errorf("total = %d, want 1", result.Total)
		}
	})

	t.Run("regex filter", func(t *testing.T) {
		result, err := engine.LogStats(ctx, StatsRequest{CrawlerID: crawler.ID, Regex: "^fetch f"})
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		if result.Total != 1 {
			t.Errorf("total = %d, want 1", result.Total)
		}
	})

	t.Run("invalid regex degrades to substring", func(t *testing.T) {
		result, err := engine.LogStats(ctx, StatsRequest{CrawlerID: crawler.ID, Regex: "failed: ["})
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		// "failed: [" is not a substring of any message
		if result.Total != 0 {
			t.Errorf("total = %d, want 0", result.Total)
		}
	})
}

func TestLogStatsEdgesSpanMatchedRows(t *testing.T) {
	engine, store := newTestEngine(t)
	_, _, crawler := seedCrawler(t, store)
	ctx := context.Background()

	now := time.Now().UTC()
	first := now.Add(-30 * time.Minute)
	last := now.Add(-10 * time.Minute)
	for _, ts := range []time.Time{first, last} {
		entry := &storage.LogEntry{
			CrawlerID: crawler.ID,
			Level:     LevelInfo,
			LevelCode: 20,
			Message:   "fetch ok",
			TS:        ts,
		}
		if _, err := store.Repos.LogEntries.Create(ctx, entry); err != nil {
			t.Fatalf("create entry: %v", err)
		}
	}

	result, err := engine.LogStats(ctx, StatsRequest{CrawlerID: crawler.ID})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if result.Total != 2 {
		t.Fatalf("total = %d, want 2", result.Total)
	}

	// The grid is anchored to the first and last matching rows, not the
	// 24h lookback window.
	if got := result.Buckets[0].Start; !withinSecond(got, first) {
		t.Errorf("first edge = %v, want %v", got, first)
	}
	if got := result.Buckets[len(result.Buckets)-1].End; !withinSecond(got, last) {
		t.Errorf("last edge = %v, want %v", got, last)
	}
	if !withinSecond(result.From, first) || !withinSecond(result.To, last) {
		t.Errorf("bounds = [%v, %v], want [%v, %v]", result.From, result.To, first, last)
	}

	// Both rows land inside the grid
	var counted int64
	for _, bucket := range result.Buckets {
		counted += bucket.Count
	}
	if counted != 2 {
		t.Errorf("bucket counts sum to %d, want 2", counted)
	}
}

func TestLogStatsNoMatches(t *testing.T) {
	engine, store := newTestEngine(t)
	_, _, crawler := seedCrawler(t, store)
	ctx := context.Background()

	result, err := engine.LogStats(ctx, StatsRequest{CrawlerID: crawler.ID})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if result.Total != 0 || result.Scanned != 0 {
		t.Errorf("result = {total %d, scanned %d}, want zeros", result.Total, result.Scanned)
	}
	if len(result.Buckets) != 0 {
		t.Errorf("buckets = %d, want none for an empty match set", len(result.Buckets))
	}
}

// withinSecond absorbs driver-level timestamp rounding.
func withinSecond(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= time.Second
}
