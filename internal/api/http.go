package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
	"github.com/basculapp/fieldsync/internal/models"
)

const defaultRequestTimeout = 15 * time.Second

// errorBody is the error envelope the server wraps failures in.
type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPClient talks to the reception API over HTTP.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	token   TokenProvider
}

// NewHTTPClient creates a client against baseURL. The token provider may be
// nil for unauthenticated endpoints.
func NewHTTPClient(baseURL string, token TokenProvider) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultRequestTimeout},
		token:   token,
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build request", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != nil {
		if tok := c.token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(errors.ErrNetwork, "request failed", err)
	}
	return resp, nil
}

// mapStatus converts a non-2xx response to a categorized error. The body is
// consumed for its error envelope.
func mapStatus(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	message := http.StatusText(resp.StatusCode)
	var body errorBody
	if json.Unmarshal(raw, &body) == nil && body.Error.Message != "" {
		message = body.Error.Message
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.New(errors.ErrSession, message)
	case resp.StatusCode == http.StatusNotFound:
		return errors.New(errors.ErrNotFound, message)
	case resp.StatusCode == http.StatusConflict:
		return errors.New(errors.ErrDuplicate, message)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return errors.New(errors.ErrValidation, message)
	case resp.StatusCode >= 500:
		return errors.New(errors.ErrServer,
			fmt.Sprintf("server error (%d): %s", resp.StatusCode, message))
	default:
		return errors.New(errors.ErrInternal,
			fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}
}

func decodeJSON(resp *http.Response, v interface{}) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(errors.ErrServer, "failed to decode response", err)
	}
	return nil
}

// CreateRegistration posts a registration and returns the server copy, which
// carries the server-derived photo URL and OCR confidence when present.
func (c *HTTPClient) CreateRegistration(ctx context.Context, reg *models.WeightRegistration) (*models.WeightRegistration, error) {
	payload, err := json.Marshal(reg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode registration", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/v1/registrations", bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp)
	}

	created := &models.WeightRegistration{}
	if err := decodeJSON(resp, created); err != nil {
		return nil, err
	}
	return created, nil
}

// GetRegistration fetches the server copy of a registration.
func (c *HTTPClient) GetRegistration(ctx context.Context, id models.UUID) (*models.WeightRegistration, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/registrations/"+string(id), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp)
	}

	reg := &models.WeightRegistration{}
	if err := decodeJSON(resp, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// UploadAttachment sends the registration photo as multipart form data and
// returns the stored URL plus the server's OCR confidence.
func (c *HTTPClient) UploadAttachment(ctx context.Context, registrationID models.UUID, filename string, data []byte) (*UploadResult, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("photo", filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to build upload form", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to write upload form", err)
	}
	if err := writer.Close(); err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to finish upload form", err)
	}

	path := "/api/v1/registrations/" + string(registrationID) + "/photo"
	resp, err := c.do(ctx, http.MethodPost, path, &buf, writer.FormDataContentType())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, mapStatus(resp)
	}

	result := &UploadResult{}
	if err := decodeJSON(resp, result); err != nil {
		return nil, err
	}

	logging.Debug("Attachment uploaded", map[string]interface{}{
		"registration_id": registrationID,
		"photo_url":       result.URL,
	})
	return result, nil
}

// UpdateSupplier pushes the supplier record and returns the server copy.
func (c *HTTPClient) UpdateSupplier(ctx context.Context, sup *models.Supplier) (*models.Supplier, error) {
	payload, err := json.Marshal(sup)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode supplier", err)
	}

	resp, err := c.do(ctx, http.MethodPut, "/api/v1/suppliers/"+string(sup.ID), bytes.NewReader(payload), "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, mapStatus(resp)
	}

	updated := &models.Supplier{}
	if err := decodeJSON(resp, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// ValidateSession checks the bearer token before a drain starts.
func (c *HTTPClient) ValidateSession(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/api/v1/auth/session", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mapStatus(resp)
	}
	return nil
}

// Health probes the server health endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return mapStatus(resp)
	}
	return nil
}
