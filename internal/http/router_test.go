package http_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"taskminder/internal/auth"
	"taskminder/internal/clock"
	"taskminder/internal/config"
	httpx "taskminder/internal/http"
	"taskminder/internal/jobs"
	"taskminder/internal/logger"
	"taskminder/internal/metrics"
	"taskminder/internal/reminder"
	"taskminder/internal/task"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

type api struct {
	t     *testing.T
	srv   *httptest.Server
	store *jobs.MemStore
	clock *clock.Fake
}

func newAPI(t *testing.T) *api {
	t.Helper()
	dsn := fmt.Sprintf("file:router%d?mode=memory&cache=shared", dbSeq.Add(1))
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := gdb.AutoMigrate(&auth.User{}, &task.Task{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	c := clock.NewFake(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	store := jobs.NewMemStore(c, 0)
	m := metrics.New()
	svc := &task.Service{
		DB:       gdb,
		Hooks:    &reminder.Scheduler{Store: store, Clock: c, Location: time.UTC, Metrics: m},
		Policy:   config.PolicyDegraded,
		Location: time.UTC,
	}

	h := httpx.NewRouter(config.Config{}, httpx.Deps{
		DB:      gdb,
		JWT:     auth.NewJWT("test-secret", time.Hour),
		Tasks:   svc,
		Metrics: m,
		Log:     logger.Nop(),
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, store: store, clock: c}
}

func (a *api) do(method, path, token string, body any) (*http.Response, []byte) {
	a.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, rd)
	if err != nil {
		a.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		a.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp, buf.Bytes()
}

func (a *api) register(name, email string) string {
	a.t.Helper()
	resp, body := a.do("POST", "/auth/register", "", map[string]string{
		"name": name, "email": email, "password": "correct-horse",
	})
	if resp.StatusCode != http.StatusCreated {
		a.t.Fatalf("register: status %d body %s", resp.StatusCode, body)
	}
	var out struct{ Token string }
	_ = json.Unmarshal(body, &out)
	return out.Token
}

func (a *api) createTask(token, desc, date, hhmm string) (int, map[string]any) {
	a.t.Helper()
	resp, body := a.do("POST", "/tasks", token, map[string]string{
		"description": desc, "deadline_date": date, "deadline_time": hhmm,
	})
	var out map[string]any
	_ = json.Unmarshal(body, &out)
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	a := newAPI(t)
	resp, body := a.do("GET", "/health", "", nil)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("health: %d %q", resp.StatusCode, body)
	}
}

func TestAuthFlow(t *testing.T) {
	a := newAPI(t)
	token := a.register("Alice", "Alice@Example.com")

	resp, _ := a.do("POST", "/auth/register", "", map[string]string{
		"name": "Other", "email": "alice@example.com", "password": "correct-horse",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: got %d, want 409", resp.StatusCode)
	}

	resp, _ = a.do("POST", "/auth/register", "", map[string]string{"name": "x", "email": "not-an-email", "password": "correct-horse"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad email: got %d, want 400", resp.StatusCode)
	}

	resp, _ = a.do("POST", "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: got %d, want 401", resp.StatusCode)
	}
	resp, _ = a.do("POST", "/auth/login", "", map[string]string{"email": "alice@example.com", "password": "correct-horse"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: got %d", resp.StatusCode)
	}

	resp, body := a.do("GET", "/me", token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"email":"alice@example.com"`) {
		t.Fatalf("me: %d %s", resp.StatusCode, body)
	}

	resp, _ = a.do("GET", "/me", "garbage", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d, want 401", resp.StatusCode)
	}
}

func TestTaskLifecycleSchedulesReminder(t *testing.T) {
	a := newAPI(t)
	token := a.register("Alice", "alice@example.com")

	status, created := a.createTask(token, "Write report", "2026-10-20", "10:00")
	if status != http.StatusCreated {
		t.Fatalf("create: status %d body %v", status, created)
	}
	id := uint64(created["id"].(float64))
	path := fmt.Sprintf("/tasks/%d", id)

	resp, body := a.do("GET", path+"/reminder", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reminder: %d %s", resp.StatusCode, body)
	}
	var rem struct {
		Recipient string    `json:"recipient"`
		Subject   string    `json:"subject"`
		FireAt    time.Time `json:"fire_at"`
	}
	_ = json.Unmarshal(body, &rem)
	if rem.Recipient != "alice@example.com" || rem.Subject != "Write report Pending" {
		t.Fatalf("reminder payload: %+v", rem)
	}
	if want := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC); !rem.FireAt.Equal(want) {
		t.Fatalf("fire_at: got %v want %v", rem.FireAt, want)
	}

	resp, _ = a.do("PUT", path, token, map[string]string{
		"description": "Write report", "deadline_date": "2026-10-21", "deadline_time": "8:30",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: %d", resp.StatusCode)
	}
	if a.store.Len() != 1 {
		t.Fatalf("after update: %d jobs, want 1", a.store.Len())
	}

	resp, _ = a.do("PATCH", path+"/complete", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete: %d", resp.StatusCode)
	}
	resp, _ = a.do("GET", path+"/reminder", token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("reminder after complete: got %d, want 404", resp.StatusCode)
	}

	resp, _ = a.do("DELETE", path, token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d", resp.StatusCode)
	}
	resp, _ = a.do("GET", path, token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: got %d, want 404", resp.StatusCode)
	}
}

func TestTaskValidationAndOwnership(t *testing.T) {
	a := newAPI(t)
	alice := a.register("Alice", "alice@example.com")
	bob := a.register("Bob", "bob@example.com")

	if status, _ := a.createTask(alice, "x", "2026-10-20", "25:00"); status != http.StatusBadRequest {
		t.Fatalf("bad time: got %d, want 400", status)
	}
	if status, _ := a.createTask(alice, "x", "20/10/2026", "10:00"); status != http.StatusBadRequest {
		t.Fatalf("bad date: got %d, want 400", status)
	}
	if status, _ := a.createTask(alice, "", "2026-10-20", "10:00"); status != http.StatusBadRequest {
		t.Fatalf("empty description: got %d, want 400", status)
	}

	status, created := a.createTask(alice, "Past", "2026-10-18", "10:00")
	if status != http.StatusCreated {
		t.Fatalf("past deadline: got %d, want 201", status)
	}
	path := fmt.Sprintf("/tasks/%d", uint64(created["id"].(float64)))
	if a.store.Len() != 0 {
		t.Fatalf("past deadline scheduled %d jobs", a.store.Len())
	}

	if resp, _ := a.do("GET", path, bob, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("bob get: got %d, want 404", resp.StatusCode)
	}
	if resp, _ := a.do("DELETE", path, bob, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bob delete: got %d, want 403", resp.StatusCode)
	}
	if resp, _ := a.do("GET", "/tasks/abc", alice, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id: got %d, want 400", resp.StatusCode)
	}
	if resp, _ := a.do("GET", "/tasks", "", nil); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: got %d, want 401", resp.StatusCode)
	}

	resp, body := a.do("GET", "/tasks", bob, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"items":[]`) {
		t.Fatalf("bob list: %d %s", resp.StatusCode, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	a := newAPI(t)
	token := a.register("Alice", "alice@example.com")
	a.createTask(token, "Ship", "2026-10-20", "10:00")

	resp, body := a.do("GET", "/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "taskminder_reminders_scheduled_total 1") {
		t.Fatalf("scheduled counter missing from metrics output")
	}
}
