// Package api provides the remote client the sync queue drains against.
package api

import (
	"context"

	"github.com/basculapp/fieldsync/internal/models"
)

// UploadResult carries the server-derived fields returned after a photo
// upload. The server runs OCR on the label and reports its confidence.
type UploadResult struct {
	URL           string  `json:"photo_url"`
	OCRConfidence float64 `json:"ocr_confidence"`
}

// TokenProvider returns the current bearer token. It is called per request so
// token refresh does not require rebuilding the client.
type TokenProvider func() string

// Client is the remote surface used by the sync queue. Errors carry the
// categorization codes the queue routes on: ErrNetwork for transport
// failures, ErrValidation for rejected payloads, ErrSession for auth
// failures, ErrNotFound for missing entities and ErrServer for 5xx.
type Client interface {
	CreateRegistration(ctx context.Context, reg *models.WeightRegistration) (*models.WeightRegistration, error)
	GetRegistration(ctx context.Context, id models.UUID) (*models.WeightRegistration, error)
	UploadAttachment(ctx context.Context, registrationID models.UUID, filename string, data []byte) (*UploadResult, error)
	UpdateSupplier(ctx context.Context, sup *models.Supplier) (*models.Supplier, error)
	ValidateSession(ctx context.Context) error
	Health(ctx context.Context) error
}
