package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/dukerupert/famcal/internal/model"
	"github.com/google/uuid"
)

// Op names a remote store operation, for failure injection.
type Op string

const (
	OpInsert  Op = "insert"
	OpReplace Op = "replace"
	OpDelete  Op = "delete"
	OpGet     Op = "get"
	OpList    Op = "list"
)

// ErrInjected is returned by MemoryStore when a failure hook fires.
var ErrInjected = errors.New("remote: injected failure")

// MemoryStore is an in-process remote store with the same surface as Client.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[model.RecordType]*table

	failAfter int
	failOn    func(op Op, table model.RecordType, id string) error
}

type table struct {
	order []string
	docs  map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:    make(map[model.RecordType]*table),
		failAfter: -1,
	}
}

// FailAfter lets the next n inserts succeed and fails every insert after
// that. A negative n disables the hook.
func (m *MemoryStore) FailAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
}

// FailOn installs a hook consulted before every operation. A non-nil return
// value fails the call.
func (m *MemoryStore) FailOn(fn func(op Op, table model.RecordType, id string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn = fn
}

// Len returns the number of records in a table.
func (m *MemoryStore) Len(t model.RecordType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tb, ok := m.tables[t]; ok {
		return len(tb.order)
	}
	return 0
}

func (m *MemoryStore) Insert(_ context.Context, t model.RecordType, rec any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := toDoc(rec)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", t, err)
	}
	return m.insertLocked(t, doc)
}

// InsertBatch stores every record or none of them.
func (m *MemoryStore) InsertBatch(_ context.Context, t model.RecordType, recs []any) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		doc, err := toDoc(rec)
		if err != nil {
			return nil, fmt.Errorf("batch insert %s: %w", t, err)
		}
		if err := m.checkLocked(OpInsert, t, stringField(doc, "id")); err != nil {
			return nil, fmt.Errorf("batch insert %s: %w", t, err)
		}
		docs = append(docs, doc)
	}

	out := make([]json.RawMessage, 0, len(docs))
	for _, doc := range docs {
		raw, err := m.storeLocked(t, doc)
		if err != nil {
			return nil, fmt.Errorf("batch insert %s: %w", t, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (m *MemoryStore) insertLocked(t model.RecordType, doc map[string]any) (json.RawMessage, error) {
	if err := m.checkLocked(OpInsert, t, stringField(doc, "id")); err != nil {
		return nil, fmt.Errorf("insert %s: %w", t, err)
	}
	raw, err := m.storeLocked(t, doc)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", t, err)
	}
	return raw, nil
}

func (m *MemoryStore) storeLocked(t model.RecordType, doc map[string]any) (json.RawMessage, error) {
	id := stringField(doc, "id")
	if id == "" {
		id = uuid.NewString()
		doc["id"] = id
	}
	tb := m.table(t)
	if _, exists := tb.docs[id]; exists {
		return nil, &StatusError{Code: http.StatusConflict, Body: "duplicate id " + id}
	}
	tb.order = append(tb.order, id)
	tb.docs[id] = doc
	return json.Marshal(doc)
}

func (m *MemoryStore) Replace(_ context.Context, t model.RecordType, id string, rec any) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(OpReplace, t, id); err != nil {
		return nil, fmt.Errorf("replace %s: %w", t, err)
	}
	tb := m.table(t)
	if _, ok := tb.docs[id]; !ok {
		return nil, fmt.Errorf("replace %s: %w", t, ErrNotFound)
	}
	doc, err := toDoc(rec)
	if err != nil {
		return nil, fmt.Errorf("replace %s: %w", t, err)
	}
	doc["id"] = id
	tb.docs[id] = doc
	return json.Marshal(doc)
}

func (m *MemoryStore) Delete(_ context.Context, t model.RecordType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(OpDelete, t, id); err != nil {
		return fmt.Errorf("delete %s: %w", t, err)
	}
	tb := m.table(t)
	if _, ok := tb.docs[id]; !ok {
		return fmt.Errorf("delete %s: %w", t, ErrNotFound)
	}
	delete(tb.docs, id)
	for i, v := range tb.order {
		if v == id {
			tb.order = append(tb.order[:i], tb.order[i+1:]...)
			break
		}
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, t model.RecordType, id string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(OpGet, t, id); err != nil {
		return nil, fmt.Errorf("get %s: %w", t, err)
	}
	doc, ok := m.table(t).docs[id]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", t, ErrNotFound)
	}
	return json.Marshal(doc)
}

func (m *MemoryStore) List(_ context.Context, t model.RecordType, q Query) ([]json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkLocked(OpList, t, ""); err != nil {
		return nil, fmt.Errorf("list %s: %w", t, err)
	}
	tb := m.table(t)
	out := []json.RawMessage{}
	for _, id := range tb.order {
		doc := tb.docs[id]
		if !q.match(doc) {
			continue
		}
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", t, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (m *MemoryStore) checkLocked(op Op, t model.RecordType, id string) error {
	if m.failOn != nil {
		if err := m.failOn(op, t, id); err != nil {
			return err
		}
	}
	if op != OpInsert || m.failAfter < 0 {
		return nil
	}
	if m.failAfter == 0 {
		return ErrInjected
	}
	m.failAfter--
	return nil
}

func (m *MemoryStore) table(t model.RecordType) *table {
	tb, ok := m.tables[t]
	if !ok {
		tb = &table{docs: make(map[string]map[string]any)}
		m.tables[t] = tb
	}
	return tb
}

func toDoc(rec any) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal record: %w", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if doc == nil {
		return nil, errors.New("record is not an object")
	}
	return doc, nil
}
