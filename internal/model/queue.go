package model

import "fmt"

// OpType is the kind of mutation a queue item replays
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// ParseOpType converts a string to an OpType
func ParseOpType(s string) (OpType, error) {
	switch op := OpType(s); op {
	case OpCreate, OpUpdate, OpDelete:
		return op, nil
	}
	return "", fmt.Errorf("unknown operation %q", s)
}

// SyncQueueItem is a pending mutation waiting to be applied remotely
type SyncQueueItem struct {
	ID        string `json:"id"`
	Type      OpType `json:"type"`
	Table     Table  `json:"table"`
	Data      Record `json:"data"`      // partial record, always carries "id"
	Timestamp int64  `json:"timestamp"` // unix milliseconds, strictly increasing per device
	Retries   int    `json:"retries"`
}

// RecordID returns the id of the record the item mutates
func (i SyncQueueItem) RecordID() string {
	return i.Data.ID()
}
