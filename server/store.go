package server

import (
	"context"
	"fmt"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/gateway"
	"github.com/existflow/irondesk/internal/model"
)

// Store is the system of record behind the HTTP API. Every mutation must
// reach the legacy and the normalized representation together or not at
// all.
type Store interface {
	gateway.Gateway
	Ping(ctx context.Context) error
	Close() error
}

// orderFields whitelists the fields a snapshot can be ordered by
var orderFields = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
	"name":       true,
	"title":      true,
	"status":     true,
}

func checkQuery(q gateway.Query) error {
	if q.OrderBy != "" && !orderFields[q.OrderBy] {
		return apperr.New(apperr.CodeInvalid, fmt.Sprintf("cannot order by %q", q.OrderBy))
	}
	if q.Limit < 0 {
		return apperr.New(apperr.CodeInvalid, "limit must not be negative")
	}
	return nil
}

func checkTable(table model.Table) error {
	if !table.Valid() {
		return apperr.New(apperr.CodeNotFound, fmt.Sprintf("unknown table %q", table))
	}
	return nil
}

// column is one normalized column fed from the record field of the same name
type column struct {
	Name string
	Int  bool
}

// normColumns lists the normalized columns of each table, id excluded
var normColumns = map[model.Table][]column{
	model.TableTasks: {
		{Name: "title"},
		{Name: "description"},
		{Name: "status"},
		{Name: "priority", Int: true},
		{Name: "assignee_id"},
		{Name: "lead_id"},
		{Name: "due_date"},
		{Name: "created_at"},
		{Name: "updated_at"},
	},
	model.TableMessages: {
		{Name: "task_id"},
		{Name: "sender_id"},
		{Name: "content"},
		{Name: "created_at"},
	},
	model.TableUsers: {
		{Name: "name"},
		{Name: "email"},
		{Name: "role"},
		{Name: "created_at"},
		{Name: "updated_at"},
	},
}

// columnValue extracts a normalized column value; absent fields are NULL
func columnValue(rec model.Record, col column) any {
	v, ok := rec[col.Name]
	if !ok || v == nil {
		return nil
	}
	if col.Int {
		return int64(rec.Int(col.Name))
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
