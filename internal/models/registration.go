// Package models provides data model definitions for the fieldsync core.
package models

import "time"

// SyncStatus tracks whether a registration has reached the server.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// Cut types accepted by the reception line.
const (
	CutTypeJamon   = "jamón"
	CutTypeChuleta = "chuleta"
)

// WeightRegistration is a weight entry captured at the reception scale.
//
// The id is generated on the device at capture time. sync_status is owned
// by the sync queue: it changes only as a consequence of queue operation
// outcomes, never directly from the capture flow.
type WeightRegistration struct {
	ID            UUID       `db:"id" json:"id"`
	Weight        float64    `db:"weight" json:"weight"`
	CutType       string     `db:"cut_type" json:"cut_type"`
	Supplier      string     `db:"supplier" json:"supplier"`
	RegisteredBy  UUID       `db:"registered_by" json:"registered_by"`
	PhotoPath     string     `db:"photo_path" json:"photo_path,omitempty"`
	PhotoURL      string     `db:"photo_url" json:"photo_url,omitempty"`
	OCRConfidence float64    `db:"ocr_confidence" json:"ocr_confidence,omitempty"`
	SyncStatus    SyncStatus `db:"sync_status" json:"sync_status"`
	CreatedAt     int64      `db:"created_at" json:"created_at"`
	UpdatedAt     int64      `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for WeightRegistration.
func (WeightRegistration) TableName() string {
	return "weight_registrations"
}

// CreatedAtTime returns CreatedAt as time.Time.
func (r *WeightRegistration) CreatedAtTime() time.Time {
	return time.Unix(r.CreatedAt, 0)
}

// UpdatedAtTime returns UpdatedAt as time.Time.
func (r *WeightRegistration) UpdatedAtTime() time.Time {
	return time.Unix(r.UpdatedAt, 0)
}

// Touch updates the UpdatedAt timestamp.
func (r *WeightRegistration) Touch() {
	r.UpdatedAt = time.Now().Unix()
}

// BusinessFieldsEqual reports whether the operator-entered fields match.
// Server-derived fields (photo URL, OCR confidence) are not compared.
func (r *WeightRegistration) BusinessFieldsEqual(other *WeightRegistration) bool {
	return r.Weight == other.Weight &&
		r.CutType == other.CutType &&
		r.Supplier == other.Supplier
}

// Supplier is the peer entity updated through update_peer operations.
type Supplier struct {
	ID        UUID   `db:"id" json:"id"`
	Name      string `db:"name" json:"name"`
	Contact   string `db:"contact" json:"contact,omitempty"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// TableName returns the table name for Supplier.
func (Supplier) TableName() string {
	return "suppliers"
}
