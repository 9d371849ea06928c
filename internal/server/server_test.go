package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dukerupert/famcal/internal/database"
	"github.com/dukerupert/famcal/internal/model"
	"github.com/dukerupert/famcal/internal/offline"
	"github.com/dukerupert/famcal/internal/remote"
	"github.com/dukerupert/famcal/internal/store"
	ws "github.com/dukerupert/famcal/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	handler http.Handler
	conn    *remote.Switch
	remote  *remote.MemoryStore
}

func newTestServer(t *testing.T, online bool) *testServer {
	t.Helper()
	db, err := database.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := ws.NewHub(logger)
	ts := &testServer{conn: remote.NewSwitch(online), remote: remote.NewMemoryStore()}
	adapter := offline.New(offline.Config{
		Local:    store.NewLocalStore(db),
		Queue:    store.NewQueueStore(db),
		Remote:   ts.remote,
		Conn:     ts.conn,
		Notifier: hub,
		Logger:   logger,
	})
	ts.handler = New(adapter, hub, logger).Router()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-User-ID", "u1")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") && rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env.Data
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t, true)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIRequiresUser(t *testing.T) {
	ts := newTestServer(t, true)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/sync/status", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCalendarFlowOnline(t *testing.T) {
	ts := newTestServer(t, true)

	rec, data := ts.do(t, "POST", "/api/families", `{"name":"Smiths"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fam := decode[model.Family](t, data)
	require.False(t, model.IsLocalID(fam.ID))
	assert.Equal(t, "u1", fam.CreatedBy)

	rec, data = ts.do(t, "POST", "/api/families/"+fam.ID+"/tags", `{"name":"Health","color":"#ff0000"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	tag := decode[model.Tag](t, data)

	rec, data = ts.do(t, "POST", "/api/families/"+fam.ID+"/events/recurring",
		`{"title":"Gym","date":"2024-01-01","time":"07:00","recurrence_rule":{"frequency":"weekly","interval":1,"days_of_week":[1],"unlimited":true}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	gym := decode[model.Event](t, data)

	rec, _ = ts.do(t, "PUT", "/api/events/"+gym.ID+"/tags", `{"tag_ids":["`+tag.ID+`"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, data = ts.do(t, "GET", "/api/families/"+fam.ID+"/events?start=2024-01-01&end=2024-01-21", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	events := decode[[]model.Event](t, data)
	require.Len(t, events, 3)
	assert.Equal(t, []string{tag.ID}, events[0].Tags)

	occurrence := model.InstanceID(gym.ID, "2024-01-08")
	rec, _ = ts.do(t, "DELETE", "/api/events/"+occurrence, "")
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec, data = ts.do(t, "GET", "/api/events/"+gym.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"2024-01-08"}, decode[model.Event](t, data).RecurrenceExceptions)

	req := httptest.NewRequest("GET", "/api/families/"+fam.ID+"/calendar.ics", nil)
	req.Header.Set("X-User-ID", "u1")
	ics := httptest.NewRecorder()
	ts.handler.ServeHTTP(ics, req)
	require.Equal(t, http.StatusOK, ics.Code, ics.Body.String())
	assert.Equal(t, "text/calendar; charset=utf-8", ics.Header().Get("Content-Type"))
	body := ics.Body.String()
	assert.Contains(t, body, "RRULE:FREQ=WEEKLY")
	assert.Contains(t, body, "EXDATE:20240108T070000Z")
	assert.Contains(t, body, "CATEGORIES:Health")
}

func TestValidationAndNotFound(t *testing.T) {
	ts := newTestServer(t, true)

	rec, _ := ts.do(t, "POST", "/api/families/f1/events", `{"date":"2024-13-40"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var env struct {
		Problems []string `json:"problems"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.NotEmpty(t, env.Problems)

	rec, _ = ts.do(t, "GET", "/api/events/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, "GET", "/api/families/f1/calendar.ics?tz=Mars/Olympus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOfflineQueueThenSync(t *testing.T) {
	ts := newTestServer(t, false)
	const family = "2b7c1c1e-5a43-4d0e-9d6a-1f0c9f1d2e11"

	rec, data := ts.do(t, "POST", "/api/families/"+family+"/events", `{"title":"Swim","date":"2024-01-03"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.True(t, model.IsLocalID(decode[model.Event](t, data).ID))

	rec, data = ts.do(t, "GET", "/api/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decode[map[string]any](t, data)["pending"])

	ts.conn.Set(true)
	rec, data = ts.do(t, "POST", "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[offline.SyncReport](t, data)
	assert.Equal(t, 1, report.Replayed)
	assert.Equal(t, 1, ts.remote.Len(model.RecordEvents))

	rec, data = ts.do(t, "GET", "/api/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode[map[string]any](t, data)["pending"])
}

func TestMigrateLocalFamily(t *testing.T) {
	ts := newTestServer(t, false)

	rec, data := ts.do(t, "POST", "/api/families", `{"name":"Offline"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	fam := decode[model.Family](t, data)
	require.True(t, model.IsLocalID(fam.ID))

	rec, _ = ts.do(t, "POST", "/api/families/"+fam.ID+"/migrate", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	ts.conn.Set(true)
	rec, data = ts.do(t, "POST", "/api/families/"+fam.ID+"/migrate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[map[string]string](t, data)
	assert.False(t, model.IsLocalID(out["id"]))
	assert.Equal(t, fam.ID, out["previous_id"])
	assert.Equal(t, 1, ts.remote.Len(model.RecordFamilies))
}

func TestBulkEndpointsAreRateLimited(t *testing.T) {
	ts := newTestServer(t, false)
	for i := 0; i < bulkLimit; i++ {
		rec, _ := ts.do(t, "POST", "/api/sync", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec, _ := ts.do(t, "POST", "/api/sync", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}
