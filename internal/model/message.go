package model

import (
	"fmt"
	"time"
)

// FieldSynced marks a message written locally but not yet confirmed remotely
const FieldSynced = "synced"

// Message is a chat entry attached to a task
type Message struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	SenderID  string    `json:"sender_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Synced    bool      `json:"synced"`
}

// NewMessage creates an unsynced message
func NewMessage(id, taskID, senderID, content string) Message {
	return Message{
		ID:        id,
		TaskID:    taskID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Validate checks the fields a message needs
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message id is required")
	}
	if m.TaskID == "" {
		return fmt.Errorf("message task_id is required")
	}
	if m.Content == "" {
		return fmt.Errorf("message content is required")
	}
	return nil
}

// ToRecord converts the message to its cached form
func (m Message) ToRecord() Record {
	return toRecord(m)
}

// MessageFromRecord decodes a cached message record
func MessageFromRecord(r Record) (Message, error) {
	var m Message
	if err := fromRecord(r, &m); err != nil {
		return Message{}, fmt.Errorf("failed to decode message %s: %w", r.ID(), err)
	}
	return m, nil
}

// IsUnsynced reports whether a message record still waits for remote
// confirmation. Only an explicit synced=false counts.
func IsUnsynced(r Record) bool {
	synced, ok := r.Bool(FieldSynced)
	return ok && !synced
}
