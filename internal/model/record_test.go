package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordMergeReplacesTopLevelKeys(t *testing.T) {
	base := Record{"id": "t1", "title": "old", "meta": map[string]any{"a": 1.0}}
	merged := base.Merge(Record{"title": "new", "meta": map[string]any{"b": 2.0}})

	require.Equal(t, "new", merged.String("title"))
	require.Equal(t, map[string]any{"b": 2.0}, merged["meta"])
	require.Equal(t, "old", base.String("title"), "merge must not touch the receiver")
}

func TestRecordValidate(t *testing.T) {
	require.Error(t, Record(nil).Validate())
	require.Error(t, Record{"title": "no id"}.Validate())
	require.Error(t, Record{"id": 42.0}.Validate())
	require.NoError(t, Record{"id": "t1"}.Validate())
}

func TestUnmarshalRecordRejectsNonObjects(t *testing.T) {
	_, err := UnmarshalRecord([]byte(`[1,2]`))
	require.Error(t, err)
	_, err = UnmarshalRecord([]byte(`null`))
	require.Error(t, err)

	r, err := UnmarshalRecord([]byte(`{"id":"m1","synced":false}`))
	require.NoError(t, err)
	require.True(t, IsUnsynced(r))
}

func TestTaskRecordConversion(t *testing.T) {
	task := NewTask("t1", "Call the lead")
	task.AssigneeID = "u1"
	require.NoError(t, task.Validate())

	rec := task.ToRecord()
	require.Equal(t, "t1", rec.ID())
	require.Equal(t, "u1", rec.String("assignee_id"))
	require.Equal(t, PriorityLow, rec.Int("priority"))

	back, err := TaskFromRecord(rec)
	require.NoError(t, err)
	require.Equal(t, task.Title, back.Title)
	require.WithinDuration(t, task.CreatedAt, back.CreatedAt, time.Millisecond)
}

func TestTaskValidate(t *testing.T) {
	task := NewTask("t1", "x")
	task.Status = "blocked"
	require.Error(t, task.Validate())

	task = NewTask("t1", "x")
	task.Priority = 9
	require.Error(t, task.Validate())
}

func TestIsUnsynced(t *testing.T) {
	require.False(t, IsUnsynced(Record{"id": "m1"}))
	require.False(t, IsUnsynced(Record{"id": "m1", "synced": true}))
	require.True(t, IsUnsynced(NewMessage("m1", "t1", "u1", "hi").ToRecord()))
}

func TestParseTableAndOp(t *testing.T) {
	tbl, err := ParseTable("messages")
	require.NoError(t, err)
	require.True(t, tbl.Queueable())

	_, err = ParseTable("leads")
	require.Error(t, err)
	require.False(t, TableUsers.Queueable())

	op, err := ParseOpType("delete")
	require.NoError(t, err)
	require.Equal(t, OpDelete, op)
	_, err = ParseOpType("upsert")
	require.Error(t, err)
}
