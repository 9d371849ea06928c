package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientInsertSendsBearerAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/events", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var ev model.Event
		require.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		assert.Equal(t, "Swim", ev.Title)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(ev)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL + "/", Token: "tok"})
	raw, err := c.Insert(context.Background(), model.RecordEvents, model.Event{ID: "e1", Title: "Swim", Date: "2026-04-01"})
	require.NoError(t, err)

	var got model.Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "e1", got.ID)
}

func TestClientListEncodesQuery(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "fam1", q.Get("owner_collection_id"))
		assert.Equal(t, "2026-01-01", q.Get("date_gte"))
		assert.Equal(t, "2026-01-31", q.Get("date_lte"))
		assert.Equal(t, "false", q.Get("is_recurring"))
		assert.Empty(t, q.Get("event_id"))
		io.WriteString(w, `[{"id":"a"},{"id":"b"}]`)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	out, err := c.List(context.Background(), model.RecordEvents, Query{
		OwnerCollectionID: "fam1",
		DateGTE:           "2026-01-01",
		DateLTE:           "2026-01-31",
		IsRecurring:       Bool(false),
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestClientNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	_, err := c.Get(context.Background(), model.RecordTags, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "row level security", http.StatusForbidden)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	err := c.Delete(context.Background(), model.RecordEvents, "e1")
	require.Error(t, err)
	assert.True(t, IsStatus(err, http.StatusForbidden))
	assert.Contains(t, err.Error(), "row level security")
}

func TestClientUnreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	c := NewClient(Config{BaseURL: url, Timeout: time.Second})
	_, err := c.Replace(context.Background(), model.RecordEvents, "e1", model.Event{ID: "e1"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrRemoteUnavailable))
}

func TestClientInsertBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/event_tags/batch", r.URL.Path)
		var recs []model.TagAssignment
		require.NoError(t, json.NewDecoder(r.Body).Decode(&recs))
		json.NewEncoder(w).Encode(recs)
	}))
	defer server.Close()

	c := NewClient(Config{BaseURL: server.URL})
	out, err := c.InsertBatch(context.Background(), model.RecordEventTags, []any{
		model.TagAssignment{ID: "a1", EventID: "e1", TagID: "t1"},
		model.TagAssignment{ID: "a2", EventID: "e1", TagID: "t2"},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestProbe(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	p := NewProbe(server.URL, time.Second)
	assert.True(t, p.Online(context.Background()))

	healthy.Store(false)
	assert.False(t, p.Online(context.Background()))
}
