// Package conflict resolves divergence between a local registration and the
// server copy of the same entity. The resolver is pure: it never touches
// storage or the network, it only computes resolved records. Persisting the
// outcome and the audit entry is the caller's job.
package conflict

import (
	"strings"

	"github.com/basculapp/fieldsync/internal/models"
)

// Strategy is the rule applied to a detected conflict.
type Strategy string

const (
	PreferLocal  Strategy = "prefer_local"
	PreferServer Strategy = "prefer_server"
	FieldMerge   Strategy = "field_merge"
)

// Server-derived field names. The device never authors these, so divergence
// limited to them is not a real conflict between operators.
const (
	fieldWeight        = "weight"
	fieldCutType       = "cut_type"
	fieldSupplier      = "supplier"
	fieldPhotoURL      = "photo_url"
	fieldOCRConfidence = "ocr_confidence"
)

// Conflict describes a detected divergence.
type Conflict struct {
	EntityID models.UUID
	Fields   []string
	Local    *models.WeightRegistration
	Server   *models.WeightRegistration
}

// HasBusinessDivergence reports whether any operator-entered field differs.
func (c *Conflict) HasBusinessDivergence() bool {
	for _, f := range c.Fields {
		switch f {
		case fieldWeight, fieldCutType, fieldSupplier:
			return true
		}
	}
	return false
}

// AuditSink receives conflict log entries for persistence.
type AuditSink interface {
	RecordConflict(entry *models.ConflictLog) error
}

// Resolver computes conflict resolutions.
type Resolver struct{}

// NewResolver creates a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Detect compares the local and server copies field by field and returns the
// divergence, or nil when the copies agree on every compared field.
func (r *Resolver) Detect(local, server *models.WeightRegistration) *Conflict {
	if local == nil || server == nil {
		return nil
	}

	var fields []string
	if local.Weight != server.Weight {
		fields = append(fields, fieldWeight)
	}
	if local.CutType != server.CutType {
		fields = append(fields, fieldCutType)
	}
	if local.Supplier != server.Supplier {
		fields = append(fields, fieldSupplier)
	}
	if local.PhotoURL != server.PhotoURL {
		fields = append(fields, fieldPhotoURL)
	}
	if local.OCRConfidence != server.OCRConfidence {
		fields = append(fields, fieldOCRConfidence)
	}

	if len(fields) == 0 {
		return nil
	}
	return &Conflict{
		EntityID: local.ID,
		Fields:   fields,
		Local:    local,
		Server:   server,
	}
}

// RecommendStrategy picks the rule for a conflict. Divergence limited to
// server-derived fields merges cleanly. When operator-entered fields differ,
// the later edit wins, and the server copy wins an exact timestamp tie
// because it may already be visible to other devices.
func (r *Resolver) RecommendStrategy(c *Conflict) Strategy {
	if !c.HasBusinessDivergence() {
		return FieldMerge
	}
	if c.Local.UpdatedAt > c.Server.UpdatedAt {
		return PreferLocal
	}
	return PreferServer
}

// Resolve applies the strategy and returns the resolved record. The inputs
// are not mutated.
func (r *Resolver) Resolve(c *Conflict, strategy Strategy) *models.WeightRegistration {
	switch strategy {
	case PreferServer:
		resolved := *c.Server
		return &resolved
	case PreferLocal, FieldMerge:
		// Local business values win, but server-derived fields always come
		// from the server: the device cannot produce a photo URL or an OCR
		// score on its own.
		resolved := *c.Local
		resolved.PhotoURL = c.Server.PhotoURL
		resolved.OCRConfidence = c.Server.OCRConfidence
		if c.Server.UpdatedAt > resolved.UpdatedAt {
			resolved.UpdatedAt = c.Server.UpdatedAt
		}
		return &resolved
	default:
		resolved := *c.Server
		return &resolved
	}
}

// Log records the resolution in the audit sink.
func (r *Resolver) Log(c *Conflict, strategy Strategy, sink AuditSink) error {
	return sink.RecordConflict(&models.ConflictLog{
		EntityID:        c.EntityID,
		Fields:          strings.Join(c.Fields, ","),
		Strategy:        string(strategy),
		LocalUpdatedAt:  c.Local.UpdatedAt,
		ServerUpdatedAt: c.Server.UpdatedAt,
	})
}
