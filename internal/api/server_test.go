package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"watchpost/internal/api/auth"
	"watchpost/internal/config"
	"watchpost/internal/core"
	"watchpost/internal/kvstore"
	"watchpost/internal/storage"
)

// envelope mirrors the standard response wrapper for decoding in tests.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestServer(t *testing.T) (http.Handler, *storage.Storage) {
	t.Helper()

	store, err := storage.NewInMemory()
	if err != nil {
		t.Fatalf("open in-memory storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cfg := &config.Config{
		Server: config.ServerConfig{Addr: "127.0.0.1:0"},
		Logs: config.LogsConfig{
			TrimChunkLines:     1000,
			QueryRatePerSecond: 100,
		},
	}

	kv := kvstore.NewMemoryStore()
	engine := core.NewEngine(cfg, store, kv)
	return NewServer(cfg, engine, store, kv).Router(), store
}

func seedAccount(t *testing.T, store *storage.Storage, password string) (*storage.User, *storage.APIKey) {
	t.Helper()
	ctx := context.Background()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	hashed := string(hash)

	user := &storage.User{Username: "operator", PasswordHash: &hashed, Active: true}
	if err := user.Validate(); err != nil {
		t.Fatalf("validate user: %v", err)
	}
	if _, err := store.Repos.Users.Create(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	key := &storage.APIKey{UserID: user.ID, Name: "edge key", Active: true}
	if err := key.Validate(); err != nil {
		t.Fatalf("validate key: %v", err)
	}
	if _, err := store.Repos.APIKeys.Create(ctx, key); err != nil {
		t.Fatalf("create key: %v", err)
	}

	return user, key
}

func doRequest(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) (int, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if len(rec.Body.Bytes()) > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, env
}

func TestPing(t *testing.T) {
	router, _ := newTestServer(t)

	code, env := doRequest(t, router, http.MethodGet, "/api/ping", nil, nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("ping = (%d, %v), want (200, success)", code, env.Success)
	}
}

func TestWorkerAuthRequired(t *testing.T) {
	router, _ := newTestServer(t)

	code, env := doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{"name": "edge-1"}, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("register without key = %d, want 401", code)
	}
	if env.Error == nil || env.Error.Code != "UNAUTHORIZED" {
		t.Errorf("error envelope = %+v, want UNAUTHORIZED", env.Error)
	}

	code, _ = doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{"name": "edge-1"},
		map[string]string{auth.APIKeyHeader: "not-a-real-key"})
	if code != http.StatusUnauthorized {
		t.Fatalf("register with bogus key = %d, want 401", code)
	}
}

func TestOperatorAuthRequired(t *testing.T) {
	router, _ := newTestServer(t)

	code, _ := doRequest(t, router, http.MethodGet, "/api/v1/crawlers", nil, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("list without session = %d, want 401", code)
	}
}

func TestLogin(t *testing.T) {
	router, store := newTestServer(t)
	seedAccount(t, store, "hunter22")

	t.Run("wrong password", func(t *testing.T) {
		code, _ := doRequest(t, router, http.MethodPost, "/api/auth/login",
			map[string]string{"username": "operator", "password": "wrongpass"}, nil)
		if code != http.StatusUnauthorized {
			t.Fatalf("login = %d, want 401", code)
		}
	})

	t.Run("unknown account", func(t *testing.T) {
		code, _ := doRequest(t, router, http.MethodPost, "/api/auth/login",
			map[string]string{"username": "nobody", "password": "hunter22"}, nil)
		if code != http.StatusUnauthorized {
			t.Fatalf("login = %d, want 401", code)
		}
	})

	t.Run("valid credentials", func(t *testing.T) {
		code, env := doRequest(t, router, http.MethodPost, "/api/auth/login",
			map[string]string{"username": "operator", "password": "hunter22"}, nil)
		if code != http.StatusOK || !env.Success {
			t.Fatalf("login = (%d, %v), want (200, success)", code, env.Success)
		}

		var login struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal(env.Data, &login); err != nil {
			t.Fatalf("decode login: %v", err)
		}
		if login.Token == "" {
			t.Fatal("empty session token")
		}

		// The token resolves back to the account
		code, env = doRequest(t, router, http.MethodGet, "/api/auth/me", nil,
			map[string]string{auth.SessionHeader: login.Token})
		if code != http.StatusOK {
			t.Fatalf("me = %d, want 200", code)
		}
	})
}

func TestWorkerOperatorFlow(t *testing.T) {
	router, store := newTestServer(t)
	_, key := seedAccount(t, store, "hunter22")

	workerHeaders := map[string]string{auth.APIKeyHeader: key.Key}

	// Worker registers
	code, env := doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{"name": "edge-1"}, workerHeaders)
	if code != http.StatusCreated {
		t.Fatalf("register = %d, want 201", code)
	}
	var registered struct {
		CrawlerID int64 `json:"crawler_id"`
		Created   bool  `json:"created"`
	}
	if err := json.Unmarshal(env.Data, &registered); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if !registered.Created || registered.CrawlerID == 0 {
		t.Fatalf("register data = %+v, want a fresh crawler", registered)
	}

	// Repeat registration is idempotent
	code, env = doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{"name": "edge-1"}, workerHeaders)
	if code != http.StatusOK {
		t.Fatalf("re-register = %d, want 200", code)
	}
	var again struct {
		CrawlerID int64 `json:"crawler_id"`
		Created   bool  `json:"created"`
	}
	if err := json.Unmarshal(env.Data, &again); err != nil {
		t.Fatalf("decode re-register: %v", err)
	}
	if again.Created || again.CrawlerID != registered.CrawlerID {
		t.Fatalf("re-register data = %+v, want the existing crawler", again)
	}

	// Worker heartbeats
	code, env = doRequest(t, router, http.MethodPost, "/api/worker/heartbeat",
		map[string]interface{}{"payload": map[string]interface{}{"queue": 3}}, workerHeaders)
	if code != http.StatusOK {
		t.Fatalf("heartbeat = %d, want 200", code)
	}
	var hb struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &hb); err != nil {
		t.Fatalf("decode heartbeat: %v", err)
	}
	if hb.Status != storage.CrawlerStatusOnline {
		t.Errorf("heartbeat status = %q, want online", hb.Status)
	}

	// No config assigned yet: explicit sentinel
	code, env = doRequest(t, router, http.MethodGet, "/api/worker/config", nil, workerHeaders)
	if code != http.StatusOK {
		t.Fatalf("config = %d, want 200", code)
	}
	var effective struct {
		HasConfig bool `json:"has_config"`
	}
	if err := json.Unmarshal(env.Data, &effective); err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if effective.HasConfig {
		t.Error("expected the no-config sentinel")
	}

	// Operator logs in and sees the crawler online
	code, env = doRequest(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "operator", "password": "hunter22"}, nil)
	if code != http.StatusOK {
		t.Fatalf("login = %d, want 200", code)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	operatorHeaders := map[string]string{auth.SessionHeader: login.Token}

	code, env = doRequest(t, router, http.MethodGet, "/api/v1/crawlers", nil, operatorHeaders)
	if code != http.StatusOK {
		t.Fatalf("list crawlers = %d, want 200", code)
	}
	var crawlers []struct {
		ID     int64  `json:"id"`
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &crawlers); err != nil {
		t.Fatalf("decode crawlers: %v", err)
	}
	if len(crawlers) != 1 || crawlers[0].ID != registered.CrawlerID {
		t.Fatalf("crawlers = %+v, want the registered one", crawlers)
	}
	if crawlers[0].Status != storage.CrawlerStatusOnline {
		t.Errorf("listed status = %q, want online", crawlers[0].Status)
	}

	// Operator queues a command
	code, env = doRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/v1/crawlers/%d/commands", registered.CrawlerID),
		map[string]interface{}{"command": "restart"}, operatorHeaders)
	if code != http.StatusCreated {
		t.Fatalf("issue command = %d, want 201", code)
	}

	// Worker polls and receives it marked accepted
	code, env = doRequest(t, router, http.MethodGet, "/api/worker/commands/next", nil, workerHeaders)
	if code != http.StatusOK {
		t.Fatalf("poll commands = %d, want 200", code)
	}
	var commands []struct {
		ID      int64  `json:"id"`
		Command string `json:"command"`
		Status  string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &commands); err != nil {
		t.Fatalf("decode commands: %v", err)
	}
	if len(commands) != 1 || commands[0].Command != "restart" {
		t.Fatalf("commands = %+v, want the queued restart", commands)
	}
	if commands[0].Status != storage.CommandStatusAccepted {
		t.Errorf("delivered status = %q, want accepted", commands[0].Status)
	}

	// A second poll delivers nothing
	code, env = doRequest(t, router, http.MethodGet, "/api/worker/commands/next", nil, workerHeaders)
	if code != http.StatusOK {
		t.Fatalf("second poll = %d, want 200", code)
	}
	var empty []json.RawMessage
	if err := json.Unmarshal(env.Data, &empty); err != nil {
		t.Fatalf("decode second poll: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("second poll delivered %d commands, want 0", len(empty))
	}

	// Worker acknowledges with the legacy alias
	code, env = doRequest(t, router, http.MethodPost,
		fmt.Sprintf("/api/worker/commands/%d/ack", commands[0].ID),
		map[string]string{"status": "done"}, workerHeaders)
	if code != http.StatusOK {
		t.Fatalf("ack = %d, want 200", code)
	}
	var acked struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &acked); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if acked.Status != storage.CommandStatusSuccess {
		t.Errorf("ack status = %q, want success", acked.Status)
	}

	// Worker ships logs
	code, env = doRequest(t, router, http.MethodPost, "/api/worker/logs",
		map[string]interface{}{"lines": []map[string]string{
			{"level": "info", "message": "batch started"},
			{"level": "warn", "message": "slow response from upstream"},
		}}, workerHeaders)
	if code != http.StatusCreated {
		t.Fatalf("ingest logs = %d, want 201", code)
	}

	// Operator reads them back
	code, env = doRequest(t, router, http.MethodGet,
		fmt.Sprintf("/api/v1/crawlers/%d/logs", registered.CrawlerID), nil, operatorHeaders)
	if code != http.StatusOK {
		t.Fatalf("read logs = %d, want 200", code)
	}
	var logLines []struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(env.Data, &logLines); err != nil {
		t.Fatalf("decode logs: %v", err)
	}
	if len(logLines) != 2 {
		t.Fatalf("log lines = %d, want 2", len(logLines))
	}
}

// loginOperator authenticates the seeded account and returns the session
// header for operator requests.
func loginOperator(t *testing.T, router http.Handler, password string) map[string]string {
	t.Helper()

	code, env := doRequest(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "operator", "password": password}, nil)
	if code != http.StatusOK {
		t.Fatalf("login = %d, want 200", code)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return map[string]string{auth.SessionHeader: login.Token}
}

func TestRegisterWithoutName(t *testing.T) {
	router, store := newTestServer(t)
	_, key := seedAccount(t, store, "hunter22")
	workerHeaders := map[string]string{auth.APIKeyHeader: key.Key}

	// The name is optional; first registration gets a generated default
	code, env := doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{}, workerHeaders)
	if code != http.StatusCreated {
		t.Fatalf("register = %d, want 201", code)
	}
	var registered struct {
		CrawlerID int64  `json:"crawler_id"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(env.Data, &registered); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if registered.Name != "crawler-1" {
		t.Errorf("generated name = %q, want crawler-1", registered.Name)
	}

	// A nameless repeat registration keeps the existing name
	code, env = doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{}, workerHeaders)
	if code != http.StatusOK {
		t.Fatalf("re-register = %d, want 200", code)
	}
	var again struct {
		CrawlerID int64  `json:"crawler_id"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(env.Data, &again); err != nil {
		t.Fatalf("decode re-register: %v", err)
	}
	if again.CrawlerID != registered.CrawlerID || again.Name != "crawler-1" {
		t.Errorf("re-register = %+v, want the existing crawler-1", again)
	}
}

func TestNeverReportedCrawlerListsOffline(t *testing.T) {
	router, store := newTestServer(t)
	_, key := seedAccount(t, store, "hunter22")

	code, _ := doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{"name": "silent-1"},
		map[string]string{auth.APIKeyHeader: key.Key})
	if code != http.StatusCreated {
		t.Fatalf("register = %d, want 201", code)
	}

	operatorHeaders := loginOperator(t, router, "hunter22")

	// A crawler that has never sent a heartbeat is offline, so the offline
	// filter must include it
	code, env := doRequest(t, router, http.MethodGet, "/api/v1/crawlers?status=offline", nil, operatorHeaders)
	if code != http.StatusOK {
		t.Fatalf("list offline = %d, want 200", code)
	}
	var offline []struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &offline); err != nil {
		t.Fatalf("decode offline list: %v", err)
	}
	if len(offline) != 1 || offline[0].Name != "silent-1" {
		t.Fatalf("offline list = %+v, want the never-reported crawler", offline)
	}
	if offline[0].Status != storage.CrawlerStatusOffline {
		t.Errorf("derived status = %q, want offline", offline[0].Status)
	}

	code, env = doRequest(t, router, http.MethodGet, "/api/v1/crawlers?status=online", nil, operatorHeaders)
	if code != http.StatusOK {
		t.Fatalf("list online = %d, want 200", code)
	}
	var online []json.RawMessage
	if err := json.Unmarshal(env.Data, &online); err != nil {
		t.Fatalf("decode online list: %v", err)
	}
	if len(online) != 0 {
		t.Errorf("online list has %d crawlers, want 0", len(online))
	}
}

func TestOperatorLogFilters(t *testing.T) {
	router, store := newTestServer(t)
	_, key := seedAccount(t, store, "hunter22")
	workerHeaders := map[string]string{auth.APIKeyHeader: key.Key}

	code, env := doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{"name": "edge-1"}, workerHeaders)
	if code != http.StatusCreated {
		t.Fatalf("register = %d, want 201", code)
	}
	var registered struct {
		CrawlerID int64 `json:"crawler_id"`
	}
	if err := json.Unmarshal(env.Data, &registered); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	code, _ = doRequest(t, router, http.MethodPost, "/api/worker/logs",
		map[string]interface{}{"lines": []map[string]string{
			{"level": "info", "message": "fetch ok", "device_name": "edge-a"},
			{"level": "error", "message": "fetch failed: connection reset", "device_name": "edge-b"},
		}}, workerHeaders)
	if code != http.StatusCreated {
		t.Fatalf("ingest logs = %d, want 201", code)
	}

	operatorHeaders := loginOperator(t, router, "hunter22")

	countLogs := func(t *testing.T, path string) int {
		t.Helper()
		code, env := doRequest(t, router, http.MethodGet, path, nil, operatorHeaders)
		if code != http.StatusOK {
			t.Fatalf("GET %s = %d, want 200", path, code)
		}
		var lines []json.RawMessage
		if err := json.Unmarshal(env.Data, &lines); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
		return len(lines)
	}

	crawlerLogs := fmt.Sprintf("/api/v1/crawlers/%d/logs", registered.CrawlerID)

	t.Run("cross-crawler listing", func(t *testing.T) {
		if n := countLogs(t, "/api/v1/logs"); n != 2 {
			t.Errorf("account-wide logs = %d, want 2", n)
		}
	})

	t.Run("level range", func(t *testing.T) {
		if n := countLogs(t, "/api/v1/logs?min_level=error"); n != 1 {
			t.Errorf("min_level=error = %d, want 1", n)
		}
		if n := countLogs(t, crawlerLogs+"?max_level=info"); n != 1 {
			t.Errorf("max_level=info = %d, want 1", n)
		}
	})

	t.Run("keyword", func(t *testing.T) {
		if n := countLogs(t, crawlerLogs+"?q=connection+reset"); n != 1 {
			t.Errorf("keyword = %d, want 1", n)
		}
	})

	t.Run("regex with substring degradation", func(t *testing.T) {
		if n := countLogs(t, "/api/v1/logs?q=%5Efetch+f&regex=true"); n != 1 {
			t.Errorf("regex ^fetch f = %d, want 1", n)
		}
		// An invalid pattern degrades to substring matching
		if n := countLogs(t, "/api/v1/logs?q=failed%3A+%5B&regex=true"); n != 0 {
			t.Errorf("invalid regex = %d, want 0", n)
		}
	})

	t.Run("device and ip", func(t *testing.T) {
		if n := countLogs(t, "/api/v1/logs?device=edge-a"); n != 1 {
			t.Errorf("device filter = %d, want 1", n)
		}
	})

	t.Run("crawler ids scope", func(t *testing.T) {
		if n := countLogs(t, fmt.Sprintf("/api/v1/logs?crawler_ids=%d", registered.CrawlerID)); n != 2 {
			t.Errorf("crawler_ids own = %d, want 2", n)
		}
		if n := countLogs(t, "/api/v1/logs?crawler_ids=999999"); n != 0 {
			t.Errorf("crawler_ids foreign = %d, want 0", n)
		}
	})

	t.Run("malformed date range", func(t *testing.T) {
		code, _ := doRequest(t, router, http.MethodGet, crawlerLogs+"?from=yesterday", nil, operatorHeaders)
		if code != http.StatusBadRequest {
			t.Errorf("invalid from = %d, want 400", code)
		}
	})

	t.Run("account usage", func(t *testing.T) {
		code, env := doRequest(t, router, http.MethodGet, "/api/v1/logs/usage", nil, operatorHeaders)
		if code != http.StatusOK {
			t.Fatalf("usage = %d, want 200", code)
		}
		var usage struct {
			Lines int64 `json:"lines"`
		}
		if err := json.Unmarshal(env.Data, &usage); err != nil {
			t.Fatalf("decode usage: %v", err)
		}
		if usage.Lines != 2 {
			t.Errorf("account lines = %d, want 2", usage.Lines)
		}
	})
}

func TestInactiveAPIKeyRejected(t *testing.T) {
	router, store := newTestServer(t)
	_, key := seedAccount(t, store, "hunter22")

	key.Active = false
	if err := store.Repos.APIKeys.Update(context.Background(), key); err != nil {
		t.Fatalf("deactivate key: %v", err)
	}

	code, _ := doRequest(t, router, http.MethodPost, "/api/worker/register",
		map[string]string{"name": "edge-1"},
		map[string]string{auth.APIKeyHeader: key.Key})
	if code != http.StatusUnauthorized {
		t.Fatalf("register with inactive key = %d, want 401", code)
	}
}
