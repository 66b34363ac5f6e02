// Package models provides data model definitions for the fieldsync core.
package models

import "time"

// ConflictLog records a resolved local/server divergence for audit.
type ConflictLog struct {
	ID              UUID   `db:"id" json:"id"`
	EntityID        UUID   `db:"entity_id" json:"entity_id"`
	Fields          string `db:"fields" json:"fields"` // comma-separated diverging field names
	Strategy        string `db:"strategy" json:"strategy"`
	LocalUpdatedAt  int64  `db:"local_updated_at" json:"local_updated_at"`
	ServerUpdatedAt int64  `db:"server_updated_at" json:"server_updated_at"`
	DetectedAt      int64  `db:"detected_at" json:"detected_at"`
}

// TableName returns the table name for ConflictLog.
func (ConflictLog) TableName() string {
	return "conflict_log"
}

// DetectedAtTime returns DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.Unix(c.DetectedAt, 0)
}
