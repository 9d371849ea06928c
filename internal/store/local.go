package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/dukerupert/famcal/internal/model"
)

// LocalStore is the on-device record store: JSON documents grouped into
// collections, with secondary indexes for foreign-key lookups.
type LocalStore struct {
	db *sql.DB
}

func NewLocalStore(db *sql.DB) *LocalStore {
	return &LocalStore{db: db}
}

// Reader is the read side of the local store.
type Reader interface {
	Get(ctx context.Context, collection model.RecordType, id string) (json.RawMessage, error)
	GetAll(ctx context.Context, collection model.RecordType) ([]json.RawMessage, error)
	GetAllByIndex(ctx context.Context, collection model.RecordType, index, value string) ([]json.RawMessage, error)
}

// Get returns the stored payload, or nil if the record does not exist.
func (s *LocalStore) Get(ctx context.Context, collection model.RecordType, id string) (json.RawMessage, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM records WHERE collection = ? AND id = ?`,
		string(collection), id,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s record: %w", collection, err)
	}
	return json.RawMessage(payload), nil
}

func (s *LocalStore) GetAll(ctx context.Context, collection model.RecordType) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM records WHERE collection = ? ORDER BY id ASC`,
		string(collection),
	)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", collection, err)
	}
	return scanPayloads(rows)
}

func (s *LocalStore) GetAllByIndex(ctx context.Context, collection model.RecordType, index, value string) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT r.payload
		 FROM records r
		 JOIN record_indexes i ON i.collection = r.collection AND i.id = r.id
		 WHERE r.collection = ? AND i.name = ? AND i.value = ?
		 ORDER BY r.id ASC`,
		string(collection), index, value,
	)
	if err != nil {
		return nil, fmt.Errorf("list %s records by %s: %w", collection, index, err)
	}
	return scanPayloads(rows)
}

// Put inserts or replaces rec and rewrites its secondary indexes.
func (s *LocalStore) Put(ctx context.Context, collection model.RecordType, rec model.Record) error {
	id := rec.RecordID()
	if id == "" {
		return fmt.Errorf("put %s record: empty id", collection)
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", collection, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (collection, id, payload, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (collection, id) DO UPDATE SET payload = excluded.payload, updated_at = CURRENT_TIMESTAMP`,
		string(collection), id, string(payload),
	); err != nil {
		return fmt.Errorf("upsert %s record: %w", collection, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_indexes WHERE collection = ? AND id = ?`,
		string(collection), id,
	); err != nil {
		return fmt.Errorf("clear %s indexes: %w", collection, err)
	}
	for name, value := range rec.Indexes() {
		if value == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO record_indexes (collection, id, name, value) VALUES (?, ?, ?, ?)`,
			string(collection), id, name, value,
		); err != nil {
			return fmt.Errorf("index %s record by %s: %w", collection, name, err)
		}
	}

	return tx.Commit()
}

func (s *LocalStore) Delete(ctx context.Context, collection model.RecordType, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM record_indexes WHERE collection = ? AND id = ?`,
		string(collection), id,
	); err != nil {
		return fmt.Errorf("delete %s indexes: %w", collection, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND id = ?`,
		string(collection), id,
	); err != nil {
		return fmt.Errorf("delete %s record: %w", collection, err)
	}
	return tx.Commit()
}

func scanPayloads(rows *sql.Rows) ([]json.RawMessage, error) {
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, json.RawMessage(payload))
	}
	return out, rows.Err()
}

// GetAs loads one record and decodes it into T. It returns nil, nil when the
// record does not exist.
func GetAs[T any](ctx context.Context, r Reader, collection model.RecordType, id string) (*T, error) {
	raw, err := r.Get(ctx, collection, id)
	if err != nil || raw == nil {
		return nil, err
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode %s record: %w", collection, err)
	}
	return &v, nil
}

func ListAs[T any](ctx context.Context, r Reader, collection model.RecordType) ([]T, error) {
	raws, err := r.GetAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](collection, raws)
}

func ListByIndexAs[T any](ctx context.Context, r Reader, collection model.RecordType, index, value string) ([]T, error) {
	raws, err := r.GetAllByIndex(ctx, collection, index, value)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](collection, raws)
}

func decodeAll[T any](collection model.RecordType, raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode %s record: %w", collection, err)
		}
		out = append(out, v)
	}
	return out, nil
}
