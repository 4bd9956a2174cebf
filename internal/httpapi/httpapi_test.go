package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coursemail-engine/internal/config"
	"coursemail-engine/internal/domain"
	"coursemail-engine/internal/events"
	"coursemail-engine/internal/materialize"
	"coursemail-engine/internal/store"
	"coursemail-engine/internal/watcher"
)

type fakeWatcher struct {
	busy     bool
	triggers int
	res      materialize.Result
	err      error
}

func (f *fakeWatcher) Status() watcher.Status {
	return watcher.Status{AccountID: "acct", State: watcher.Idle, Running: true}
}

func (f *fakeWatcher) Trigger() bool {
	if f.busy {
		return false
	}
	f.triggers++
	return true
}

func (f *fakeWatcher) CheckNow(context.Context) (materialize.Result, bool, error) {
	if f.busy {
		return materialize.Result{}, false, nil
	}
	return f.res, true, f.err
}

func newTestServer(t *testing.T, w Watcher) (http.Handler, *store.DB, *events.Hub) {
	t.Helper()
	db, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	hub := events.NewHub()
	return Handler(Deps{AccountID: "acct", Store: db, Watcher: w, Hub: hub}), db, hub
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	req.RemoteAddr = "127.0.0.1:40000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndStatus(t *testing.T) {
	h, _, _ := newTestServer(t, &fakeWatcher{})

	rec := do(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)

	rec = do(h, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "acct", st["accountId"])
	assert.Equal(t, "idle", st["state"])
}

func TestCheckTriggersWatcher(t *testing.T) {
	fw := &fakeWatcher{}
	h, _, _ := newTestServer(t, fw)

	rec := do(h, http.MethodPost, "/check", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, fw.triggers)

	fw.busy = true
	rec = do(h, http.MethodPost, "/check", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")
	assert.Equal(t, 1, fw.triggers)

	rec = do(h, http.MethodGet, "/check", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "method_not_allowed")
}

func TestCheckWait(t *testing.T) {
	fw := &fakeWatcher{res: materialize.Result{Processed: 3, Created: 2, Duplicates: 1}}
	h, _, _ := newTestServer(t, fw)

	rec := do(h, http.MethodPost, "/check?wait=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"created":2`)

	fw.err = errors.New("imap dial: connection: refused")
	rec = do(h, http.MethodPost, "/check?wait=true", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "pass_failed")
}

func TestCoursesAndAssignments(t *testing.T) {
	h, db, hub := newTestServer(t, &fakeWatcher{})
	sub := hub.Subscribe()

	rec := do(h, http.MethodPost, "/courses", `{"name":"資料結構"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var c domain.Course
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &c))
	assert.Equal(t, "資料結構", c.Name)
	assert.Contains(t, <-sub, `"type":"course_added"`)

	rec = do(h, http.MethodPost, "/courses", `{"name":" "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(h, http.MethodPost, "/courses", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/courses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var courses []domain.Course
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &courses))
	assert.Len(t, courses, 1)

	rec = do(h, http.MethodGet, "/assignments", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	_, err := db.InsertAssignment(context.Background(), domain.Assignment{
		AccountID: "acct", Title: "作業一", DueDate: c.CreatedAt, CourseID: &c.ID, SourceID: "s1",
	})
	require.NoError(t, err)

	rec = do(h, http.MethodGet, "/assignments?status=pending&limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Assignment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "作業一", list[0].Title)
	require.NotNil(t, list[0].CourseID)
	assert.Equal(t, c.ID, *list[0].CourseID)
}

func TestCheckpointIsLoopbackOnly(t *testing.T) {
	h, _, _ := newTestServer(t, &fakeWatcher{})

	req := httptest.NewRequest(http.MethodPost, "/db/checkpoint", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/db/checkpoint", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestServer(t, &fakeWatcher{})
	rec := do(h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRecoverMiddleware(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), RequestID, Recover(testLogger()))

	rec := do(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "internal_error")
}

func TestCorsPreflight(t *testing.T) {
	h, _, _ := newTestServer(t, &fakeWatcher{})
	req := httptest.NewRequest(http.MethodOptions, "/courses", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestConfigAndSecrets(t *testing.T) {
	dir := t.TempDir()
	path, err := config.EnsureUserConfig(dir, filepath.Join(dir, "none.yml"))
	require.NoError(t, err)

	cfg := config.Defaults()
	cfg.Account.ID = "acct"
	cfg.Account.Username = "114921039"
	var cfgVal atomic.Value
	cfgVal.Store(cfg)

	var storedKey, storedPw string
	db, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	h := Handler(Deps{
		AccountID:   "acct",
		Store:       db,
		CfgVal:      &cfgVal,
		UserCfgPath: path,
		LoadCfg:     func() (config.Config, error) { return config.Load(path) },
		SetPassword: func(k, pw string) error { storedKey, storedPw = k, pw; return nil },
	})

	rec := do(h, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "mail.nccu.edu.tw")

	rec = do(h, http.MethodPost, "/config/validate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "account.id is required")

	rec = do(h, http.MethodGet, "/config/validate", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	invalid := config.Defaults()
	b, _ := json.Marshal(invalid)
	rec = do(h, http.MethodPost, "/config/validate", string(b))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "account.id is required")

	rec = do(h, http.MethodPost, "/config/validate", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	bad := config.Defaults()
	b, _ = json.Marshal(bad)
	rec = do(h, http.MethodPut, "/config", string(b))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "account.id is required")

	good := config.Defaults()
	good.Account.ID = "acct"
	good.Watch.IntervalMinutes = 15
	b, _ = json.Marshal(good)
	rec = do(h, http.MethodPut, "/config", string(b))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 15, cfgVal.Load().(config.Config).Watch.IntervalMinutes)

	// the stored config no longer has a username
	rec = do(h, http.MethodPost, "/secrets/imap", `{"password":"pw"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	cfgVal.Store(cfg)
	req := httptest.NewRequest(http.MethodPost, "/secrets/imap", strings.NewReader(`{"password":"pw"}`))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code, "remote callers cannot set the password")

	rec = do(h, http.MethodPost, "/secrets/imap", `{"password":"pw"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "coursemail:imap:114921039@mail.nccu.edu.tw", storedKey)
	assert.Equal(t, "pw", storedPw)
}
