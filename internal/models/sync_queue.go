// Package models provides data model definitions for the fieldsync core.
package models

import (
	"encoding/json"
	"time"
)

// OperationType identifies the remote call a queued operation performs.
type OperationType string

const (
	OperationCreate           OperationType = "create"
	OperationUpdatePeer       OperationType = "update_peer"
	OperationUploadAttachment OperationType = "upload_attachment"
)

// Priority returns the drain priority for an operation type. Lower is more
// urgent: a registration must exist on the server before its photo or
// supplier details matter.
func (t OperationType) Priority() int {
	switch t {
	case OperationCreate:
		return 1
	case OperationUpdatePeer:
		return 2
	case OperationUploadAttachment:
		return 3
	default:
		return 9
	}
}

// IsValid reports whether the operation type is one of the known kinds.
func (t OperationType) IsValid() bool {
	switch t {
	case OperationCreate, OperationUpdatePeer, OperationUploadAttachment:
		return true
	}
	return false
}

// QueuedOperation is a durable pending remote call.
//
// The payload stays a serialized blob so the queue schema survives payload
// shape changes across app versions. Rows are deleted on success and
// retained on failure until retries exhaust or the operator clears them.
type QueuedOperation struct {
	ID            UUID            `db:"id" json:"id"`
	OperationType OperationType   `db:"operation_type" json:"operation_type"`
	EntityID      UUID            `db:"entity_id" json:"entity_id"`
	Payload       json.RawMessage `db:"payload" json:"payload"`
	Priority      int             `db:"priority" json:"priority"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	LastAttemptAt int64           `db:"last_attempt_at" json:"last_attempt_at"`
	ErrorMessage  string          `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     int64           `db:"created_at" json:"created_at"`
}

// TableName returns the table name for QueuedOperation.
func (QueuedOperation) TableName() string {
	return "sync_queue"
}

// LastAttemptTime returns LastAttemptAt as time.Time.
func (op *QueuedOperation) LastAttemptTime() time.Time {
	return time.Unix(op.LastAttemptAt, 0)
}
