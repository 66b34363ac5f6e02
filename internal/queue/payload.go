package queue

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/models"
)

var validate = validator.New()

// CreatePayload carries a registration create. Weight limits match the
// reception scale range the server enforces.
type CreatePayload struct {
	ID           models.UUID `json:"id" validate:"required,uuid4"`
	Weight       float64     `json:"weight" validate:"required,gte=5,lte=50"`
	CutType      string      `json:"cut_type" validate:"required,oneof=jamón chuleta"`
	Supplier     string      `json:"supplier" validate:"required,max=255"`
	RegisteredBy models.UUID `json:"registered_by" validate:"required,uuid4"`
	CreatedAt    int64       `json:"created_at" validate:"required"`
	UpdatedAt    int64       `json:"updated_at" validate:"required"`
}

// Registration builds the wire record for the create call.
func (p *CreatePayload) Registration() *models.WeightRegistration {
	return &models.WeightRegistration{
		ID:           p.ID,
		Weight:       p.Weight,
		CutType:      p.CutType,
		Supplier:     p.Supplier,
		RegisteredBy: p.RegisteredBy,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

// UpdatePeerPayload carries a supplier update.
type UpdatePeerPayload struct {
	ID        models.UUID `json:"id" validate:"required,uuid4"`
	Name      string      `json:"name" validate:"required,max=255"`
	Contact   string      `json:"contact" validate:"max=255"`
	UpdatedAt int64       `json:"updated_at" validate:"required"`
}

// Supplier builds the wire record for the update call.
func (p *UpdatePeerPayload) Supplier() *models.Supplier {
	return &models.Supplier{
		ID:        p.ID,
		Name:      p.Name,
		Contact:   p.Contact,
		UpdatedAt: p.UpdatedAt,
	}
}

// UploadAttachmentPayload carries a photo upload for an existing
// registration.
type UploadAttachmentPayload struct {
	RegistrationID models.UUID `json:"registration_id" validate:"required,uuid4"`
	PhotoPath      string      `json:"photo_path" validate:"required"`
}

// validatePayload checks a payload against its validation tags. A failure is
// permanent: re-sending an invalid payload can never succeed.
func validatePayload(payload interface{}) error {
	if err := validate.Struct(payload); err != nil {
		return errors.Wrap(errors.ErrValidation, "invalid operation payload", err)
	}
	return nil
}

// decodePayload unmarshals a stored payload blob into its typed form and
// re-validates it. Rows written by older app versions may no longer satisfy
// current rules.
func decodePayload(op *models.QueuedOperation) (interface{}, error) {
	var payload interface{}
	switch op.OperationType {
	case models.OperationCreate:
		payload = &CreatePayload{}
	case models.OperationUpdatePeer:
		payload = &UpdatePeerPayload{}
	case models.OperationUploadAttachment:
		payload = &UploadAttachmentPayload{}
	default:
		return nil, errors.New(errors.ErrInvalid, "unknown operation type: "+string(op.OperationType))
	}

	if err := json.Unmarshal(op.Payload, payload); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "malformed operation payload", err)
	}
	if err := validatePayload(payload); err != nil {
		return nil, err
	}
	return payload, nil
}
