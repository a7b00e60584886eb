// Package gateway is the client side of the remote mutation gateway: the
// system of record that applies each mutation to both of its internal
// representations atomically.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/existflow/irondesk/internal/apperr"
	"github.com/existflow/irondesk/internal/model"
)

// Gateway is everything the sync engine needs from the system of record.
// A missing entity on Update is apperr.ErrNotFound; Delete of a missing
// entity succeeds; SelectAll with no rows returns an empty slice.
type Gateway interface {
	Insert(ctx context.Context, table model.Table, rec model.Record) (model.Record, error)
	Update(ctx context.Context, table model.Table, id string, patch model.Record) (model.Record, error)
	Delete(ctx context.Context, table model.Table, id string) error
	SelectAll(ctx context.Context, table model.Table, q Query) ([]model.Record, error)
}

// Pinger reports whether the system of record is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Query filters and orders a snapshot read
type Query struct {
	Since      time.Time // only records updated after Since; zero means all
	OrderBy    string    // record field, e.g. "created_at"
	Descending bool
	Limit      int // 0 means no limit
}

// Apply replays one queued mutation against g
func Apply(ctx context.Context, g Gateway, item model.SyncQueueItem) error {
	id := item.RecordID()
	switch item.Type {
	case model.OpCreate:
		_, err := g.Insert(ctx, item.Table, item.Data)
		return err
	case model.OpUpdate:
		_, err := g.Update(ctx, item.Table, id, item.Data.Without("id"))
		return err
	case model.OpDelete:
		return g.Delete(ctx, item.Table, id)
	}
	return apperr.New(apperr.CodeInvalid, fmt.Sprintf("unknown operation %q", item.Type))
}
