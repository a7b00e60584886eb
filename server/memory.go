package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/model"
)

var validTaskStatus = map[string]bool{
	"todo":        true,
	"in_progress": true,
	"done":        true,
}

type legacyEntry struct {
	doc       model.Record
	updatedAt time.Time
}

// MemoryStore is an in-process Store for development and tests. One mutex
// covers both representations.
type MemoryStore struct {
	mu     sync.Mutex
	legacy map[model.Table]map[string]legacyEntry
	norm   map[model.Table]map[string]map[string]any
	now    func() time.Time
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		legacy: map[model.Table]map[string]legacyEntry{},
		norm:   map[model.Table]map[string]map[string]any{},
		now:    time.Now,
	}
	for _, t := range model.Tables {
		s.legacy[t] = map[string]legacyEntry{}
		s.norm[t] = map[string]map[string]any{}
	}
	return s
}

// Ping always succeeds
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close does nothing
func (s *MemoryStore) Close() error { return nil }

// Insert creates an entity; an existing id returns the stored record
func (s *MemoryStore) Insert(_ context.Context, table model.Table, rec model.Record) (model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := rec.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalid, "invalid record", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.legacy[table][rec.ID()]; ok {
		return e.doc.Clone(), nil
	}
	if err := s.write(table, rec.Clone()); err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Update merges patch into an entity
func (s *MemoryStore) Update(_ context.Context, table model.Table, id string, patch model.Record) (model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.legacy[table][id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("%s %s not found", table, id))
	}
	merged := e.doc.Merge(patch)
	merged["id"] = id
	if err := s.write(table, merged); err != nil {
		return nil, err
	}
	return merged.Clone(), nil
}

// Delete removes an entity; a missing id is not an error
func (s *MemoryStore) Delete(_ context.Context, table model.Table, id string) error {
	if err := checkTable(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.legacy[table], id)
	delete(s.norm[table], id)
	return nil
}

// SelectAll reads a snapshot from the legacy representation
func (s *MemoryStore) SelectAll(_ context.Context, table model.Table, q gateway.Query) ([]model.Record, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := checkQuery(q); err != nil {
		return nil, err
	}

	s.mu.Lock()
	entries := make([]legacyEntry, 0, len(s.legacy[table]))
	for _, e := range s.legacy[table] {
		if !q.Since.IsZero() && !e.updatedAt.After(q.Since) {
			continue
		}
		entries = append(entries, legacyEntry{doc: e.doc.Clone(), updatedAt: e.updatedAt})
	}
	s.mu.Unlock()

	key := func(e legacyEntry) string {
		switch q.OrderBy {
		case "", "id":
			return e.doc.ID()
		case "updated_at":
			return e.updatedAt.UTC().Format(time.RFC3339Nano)
		default:
			return e.doc.String(q.OrderBy)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := key(entries[i]), key(entries[j])
		if a == b {
			a, b = entries[i].doc.ID(), entries[j].doc.ID()
		}
		if q.Descending {
			return a > b
		}
		return a < b
	})
	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	recs := make([]model.Record, 0, len(entries))
	for _, e := range entries {
		recs = append(recs, e.doc)
	}
	return recs, nil
}

// Normalized returns the normalized row of an entity, for consistency checks
func (s *MemoryStore) Normalized(table model.Table, id string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.norm[table][id]
	return row, ok
}

// write validates the normalized row first so a rejected record touches
// neither representation. Callers hold mu.
func (s *MemoryStore) write(table model.Table, rec model.Record) error {
	row := map[string]any{"id": rec.ID()}
	for _, col := range normColumns[table] {
		row[col.Name] = columnValue(rec, col)
	}
	if table == model.TableTasks {
		if status, ok := row["status"].(string); ok && !validTaskStatus[status] {
			return apperr.New(apperr.CodeInvalid, fmt.Sprintf("invalid task status %q", status))
		}
	}

	s.legacy[table][rec.ID()] = legacyEntry{doc: rec, updatedAt: s.now()}
	s.norm[table][rec.ID()] = row
	return nil
}
