// Package queue drains durable offline operations against the reception API.
// Operations survive restarts in the sync_queue table and are processed
// sequentially by priority: a registration must exist on the server before
// its photo or supplier details can follow.
package queue

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/basculapp/fieldsync/internal/api"
	"github.com/basculapp/fieldsync/internal/attachment"
	"github.com/basculapp/fieldsync/internal/conflict"
	"github.com/basculapp/fieldsync/internal/db"
	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/logging"
	"github.com/basculapp/fieldsync/internal/models"
)

// Config tunes drain behavior.
type Config struct {
	MaxRetries int
	BatchSize  int
	// Pause between operations so a drain does not saturate a weak link.
	OpDelay time.Duration
}

// ScoreFunc reports the current connectivity score for upload sizing.
type ScoreFunc func() int

// ProgressFunc observes drain progress after each processed operation.
type ProgressFunc func(done, total int)

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Attempted int
	Succeeded int
	Failed    int
	Conflicts int
	// Busy means another drain held the queue; nothing was processed.
	Busy bool
}

// CategorizedError pairs an exhausted operation with its failure category
// for error screens. CanRetry is false for every entry: an exhausted
// operation only runs again through RetryOne.
type CategorizedError struct {
	Operation *models.QueuedOperation
	Category  Category
	CanRetry  bool
}

// Stats summarizes queue contents.
type Stats struct {
	Total     int
	Eligible  int
	Exhausted int
}

// Queue is the durable sync queue.
type Queue struct {
	repo     *db.Repository
	client   api.Client
	resolver *conflict.Resolver
	score    ScoreFunc
	cfg      Config

	draining atomic.Bool
}

// New creates a queue. score may be nil when upload sizing is not needed.
func New(repo *db.Repository, client api.Client, cfg Config, score ScoreFunc) *Queue {
	if score == nil {
		score = func() int { return 100 }
	}
	return &Queue{
		repo:     repo,
		client:   client,
		resolver: conflict.NewResolver(),
		score:    score,
		cfg:      cfg,
	}
}

// EnqueueCreate queues a registration create.
func (q *Queue) EnqueueCreate(p *CreatePayload) (*models.QueuedOperation, error) {
	return q.enqueue(models.OperationCreate, p.ID, p)
}

// EnqueuePeerUpdate queues a supplier update.
func (q *Queue) EnqueuePeerUpdate(p *UpdatePeerPayload) (*models.QueuedOperation, error) {
	return q.enqueue(models.OperationUpdatePeer, p.ID, p)
}

// EnqueueUpload queues a photo upload for an existing registration.
func (q *Queue) EnqueueUpload(p *UploadAttachmentPayload) (*models.QueuedOperation, error) {
	return q.enqueue(models.OperationUploadAttachment, p.RegistrationID, p)
}

func (q *Queue) enqueue(opType models.OperationType, entityID models.UUID, payload interface{}) (*models.QueuedOperation, error) {
	if err := validatePayload(payload); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInternal, "failed to encode payload", err)
	}

	op := &models.QueuedOperation{
		OperationType: opType,
		EntityID:      entityID,
		Payload:       raw,
	}
	if err := q.repo.InsertOperation(op); err != nil {
		return nil, err
	}

	logging.Debug("Operation enqueued", map[string]interface{}{
		"operation_id": op.ID,
		"type":         string(opType),
		"entity_id":    entityID,
	})
	return op, nil
}

// Pending returns operations eligible to run now: below the retry ceiling
// and outside their backoff window, by priority then age.
func (q *Queue) Pending(limit int) ([]*models.QueuedOperation, error) {
	ops, err := q.repo.ListOperationsBelowRetryLimit(q.cfg.MaxRetries, limit)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	eligible := ops[:0]
	for _, op := range ops {
		if now.Before(eligibleAt(op.LastAttemptAt, op.RetryCount)) {
			continue
		}
		eligible = append(eligible, op)
	}
	return eligible, nil
}

// Drain processes eligible operations sequentially. At most one drain runs
// at a time; a second caller gets a Busy result with zero progress. The
// session is validated up front so an expired token aborts before any
// operation is consumed.
func (q *Queue) Drain(ctx context.Context, progress ProgressFunc) (*DrainResult, error) {
	if !q.draining.CompareAndSwap(false, true) {
		return &DrainResult{Busy: true}, nil
	}
	defer q.draining.Store(false)

	// The client types the failure: an expired token surfaces as a session
	// error, a dead link as a network error. Either way the batch is left
	// untouched.
	if err := q.client.ValidateSession(ctx); err != nil {
		return nil, err
	}

	ops, err := q.Pending(q.cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &DrainResult{}
	for i, op := range ops {
		if ctx.Err() != nil {
			break
		}
		if i > 0 && q.cfg.OpDelay > 0 {
			select {
			case <-time.After(q.cfg.OpDelay):
			case <-ctx.Done():
				return result, nil
			}
		}

		result.Attempted++
		conflicted, err := q.process(ctx, op)
		if conflicted {
			result.Conflicts++
		}
		if err != nil {
			// One failed operation never aborts the pass; later entries
			// may target a different endpoint or payload.
			result.Failed++
			q.recordFailure(op, err)
		} else {
			result.Succeeded++
		}
		if progress != nil {
			progress(result.Attempted, len(ops))
		}
	}

	logging.Info("Drain finished", map[string]interface{}{
		"attempted": result.Attempted,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"conflicts": result.Conflicts,
	})
	return result, nil
}

// recordFailure categorizes the error and updates the operation row.
func (q *Queue) recordFailure(op *models.QueuedOperation, opErr error) {
	category := Categorize(opErr)
	now := time.Now().Unix()

	logging.Warn("Operation failed", map[string]interface{}{
		"operation_id": op.ID,
		"type":         string(op.OperationType),
		"category":     string(category),
		"retry_count":  op.RetryCount,
		"error":        opErr.Error(),
	})

	if !CanRetry(category, op.RetryCount+1, q.cfg.MaxRetries) {
		var dbErr error
		if category == CategoryValidation {
			dbErr = q.repo.ExhaustOperation(op.ID, q.cfg.MaxRetries, now, opErr.Error())
		} else {
			dbErr = q.repo.RecordOperationFailure(op.ID, now, opErr.Error())
		}
		if dbErr != nil {
			logging.Error("Failed to record operation failure", dbErr)
		}
		q.markEntityFailed(op)
		return
	}

	if err := q.repo.RecordOperationFailure(op.ID, now, opErr.Error()); err != nil {
		logging.Error("Failed to record operation failure", err)
	}
}

// markEntityFailed flips the owning registration to failed once its
// operation is out of retries. Supplier updates carry no sync status.
func (q *Queue) markEntityFailed(op *models.QueuedOperation) {
	if op.OperationType == models.OperationUpdatePeer {
		return
	}
	if err := q.repo.MarkRegistrationStatus(op.EntityID, models.SyncStatusFailed); err != nil {
		logging.Error("Failed to mark registration failed", err, map[string]interface{}{
			"entity_id": op.EntityID,
		})
	}
}

func (q *Queue) process(ctx context.Context, op *models.QueuedOperation) (bool, error) {
	payload, err := decodePayload(op)
	if err != nil {
		return false, err
	}

	switch p := payload.(type) {
	case *CreatePayload:
		return q.processCreate(ctx, op, p)
	case *UpdatePeerPayload:
		return false, q.processPeerUpdate(ctx, op, p)
	case *UploadAttachmentPayload:
		return false, q.processUpload(ctx, op, p)
	default:
		return false, errors.New(errors.ErrInternal, "unhandled payload type")
	}
}

// processCreate pushes a new registration. The server is consulted first: a
// create interrupted after the server accepted it leaves a queue row behind,
// and re-sending would duplicate the registration. An existing server copy
// routes through the conflict resolver instead of a second create.
func (q *Queue) processCreate(ctx context.Context, op *models.QueuedOperation, p *CreatePayload) (bool, error) {
	server, err := q.client.GetRegistration(ctx, p.ID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return false, err
		}

		created, err := q.client.CreateRegistration(ctx, p.Registration())
		if err != nil {
			return false, err
		}

		local := q.localOrPayload(p)
		local.PhotoURL = created.PhotoURL
		local.OCRConfidence = created.OCRConfidence
		local.SyncStatus = models.SyncStatusSynced
		return false, q.repo.CompleteOperation(op.ID, local)
	}

	local := q.localOrPayload(p)
	c := q.resolver.Detect(local, server)
	if c == nil {
		local.SyncStatus = models.SyncStatusSynced
		return false, q.repo.CompleteOperation(op.ID, local)
	}

	strategy := q.resolver.RecommendStrategy(c)
	resolved := q.resolver.Resolve(c, strategy)
	if err := q.resolver.Log(c, strategy, auditSink{q.repo}); err != nil {
		logging.Error("Failed to record conflict", err, map[string]interface{}{
			"entity_id": c.EntityID,
		})
	}

	logging.Info("Create conflict resolved", map[string]interface{}{
		"entity_id": c.EntityID,
		"strategy":  string(strategy),
		"fields":    c.Fields,
	})

	resolved.SyncStatus = models.SyncStatusSynced
	return true, q.repo.CompleteOperation(op.ID, resolved)
}

// localOrPayload prefers the on-device row, which may carry edits made after
// the operation was enqueued.
func (q *Queue) localOrPayload(p *CreatePayload) *models.WeightRegistration {
	local, err := q.repo.GetRegistration(p.ID)
	if err != nil {
		return p.Registration()
	}
	return local
}

func (q *Queue) processPeerUpdate(ctx context.Context, op *models.QueuedOperation, p *UpdatePeerPayload) error {
	updated, err := q.client.UpdateSupplier(ctx, p.Supplier())
	if err != nil {
		return err
	}
	return q.repo.CompletePeerOperation(op.ID, updated)
}

func (q *Queue) processUpload(ctx context.Context, op *models.QueuedOperation, p *UploadAttachmentPayload) error {
	local, err := q.repo.GetRegistration(p.RegistrationID)
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			// The registration is gone; re-sending can never succeed.
			return errors.Wrap(errors.ErrValidation, "registration no longer exists", err)
		}
		return err
	}

	prepared, err := attachment.Prepare(p.PhotoPath, q.score())
	if err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			return errors.Wrap(errors.ErrValidation, "photo file no longer exists", err)
		}
		return err
	}

	result, err := q.client.UploadAttachment(ctx, p.RegistrationID, prepared.Filename, prepared.Data)
	if err != nil {
		return err
	}

	local.PhotoURL = result.URL
	local.OCRConfidence = result.OCRConfidence
	local.SyncStatus = models.SyncStatusSynced
	return q.repo.CompleteOperation(op.ID, local)
}

// RetryOne clears an exhausted operation's counters so the next drain picks
// it up again.
func (q *Queue) RetryOne(id models.UUID) error {
	return q.repo.ResetOperation(id)
}

// ClearError abandons a single failed operation, removing its queue row.
func (q *Queue) ClearError(id models.UUID) error {
	return q.repo.DeleteOperation(id)
}

// ClearAllFailed removes every exhausted operation and reports the count.
func (q *Queue) ClearAllFailed() (int, error) {
	return q.repo.ClearExhaustedOperations(q.cfg.MaxRetries)
}

// Errors returns exhausted operations with their stored failure messages,
// already categorized so status surfaces need not re-parse message text.
func (q *Queue) Errors() ([]*CategorizedError, error) {
	ops, err := q.repo.ListExhaustedOperations(q.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	out := make([]*CategorizedError, 0, len(ops))
	for _, op := range ops {
		out = append(out, &CategorizedError{
			Operation: op,
			Category:  categorizeMessage(op.ErrorMessage),
			CanRetry:  false,
		})
	}
	return out, nil
}

// QueueStats counts total, eligible and exhausted operations.
func (q *Queue) QueueStats() (*Stats, error) {
	below, err := q.repo.ListOperationsBelowRetryLimit(q.cfg.MaxRetries, 1<<30)
	if err != nil {
		return nil, err
	}
	exhausted, err := q.repo.ListExhaustedOperations(q.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	eligible := 0
	for _, op := range below {
		if !now.Before(eligibleAt(op.LastAttemptAt, op.RetryCount)) {
			eligible++
		}
	}
	return &Stats{
		Total:     len(below) + len(exhausted),
		Eligible:  eligible,
		Exhausted: len(exhausted),
	}, nil
}

// IsDraining reports whether a drain is in flight.
func (q *Queue) IsDraining() bool {
	return q.draining.Load()
}

// auditSink adapts the repository to the resolver's audit interface.
type auditSink struct {
	repo *db.Repository
}

func (s auditSink) RecordConflict(entry *models.ConflictLog) error {
	return s.repo.InsertConflictLog(entry)
}
