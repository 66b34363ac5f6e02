package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/models"
	"github.com/basculapp/fieldsync/internal/uuid"
)

// Repository provides typed access to registrations, suppliers, the sync
// queue and the conflict audit log. Prepared statements are cached per query.
type Repository struct {
	db        *sql.DB
	stmtCache sync.Map
}

// NewRepository creates a repository over an initialized store.
func NewRepository(store *Store) *Repository {
	return &Repository{db: store.DB()}
}

func (r *Repository) prepare(query string) (*sql.Stmt, error) {
	if cached, ok := r.stmtCache.Load(query); ok {
		return cached.(*sql.Stmt), nil
	}

	stmt, err := r.db.Prepare(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to prepare statement", err)
	}

	if existing, loaded := r.stmtCache.LoadOrStore(query, stmt); loaded {
		stmt.Close()
		return existing.(*sql.Stmt), nil
	}
	return stmt, nil
}

// Close releases all cached prepared statements.
func (r *Repository) Close() {
	r.stmtCache.Range(func(key, value interface{}) bool {
		value.(*sql.Stmt).Close()
		r.stmtCache.Delete(key)
		return true
	})
}

// ---- Registrations ----

const registrationColumns = `id, weight, cut_type, supplier, registered_by,
	photo_path, photo_url, ocr_confidence, sync_status, created_at, updated_at`

// CreateRegistration inserts a new registration. A missing ID or timestamps
// are filled in, and the sync status defaults to pending.
func (r *Repository) CreateRegistration(reg *models.WeightRegistration) error {
	if reg.ID == "" {
		reg.ID = models.UUID(uuid.New())
	}
	now := time.Now().Unix()
	if reg.CreatedAt == 0 {
		reg.CreatedAt = now
	}
	if reg.UpdatedAt == 0 {
		reg.UpdatedAt = now
	}
	if reg.SyncStatus == "" {
		reg.SyncStatus = models.SyncStatusPending
	}

	stmt, err := r.prepare(fmt.Sprintf(
		"INSERT INTO weight_registrations (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		registrationColumns))
	if err != nil {
		return err
	}

	_, err = stmt.Exec(reg.ID, reg.Weight, reg.CutType, reg.Supplier, reg.RegisteredBy,
		reg.PhotoPath, reg.PhotoURL, reg.OCRConfidence, reg.SyncStatus,
		reg.CreatedAt, reg.UpdatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to insert registration", err)
	}
	return nil
}

func scanRegistration(row interface{ Scan(...interface{}) error }) (*models.WeightRegistration, error) {
	reg := &models.WeightRegistration{}
	err := row.Scan(&reg.ID, &reg.Weight, &reg.CutType, &reg.Supplier, &reg.RegisteredBy,
		&reg.PhotoPath, &reg.PhotoURL, &reg.OCRConfidence, &reg.SyncStatus,
		&reg.CreatedAt, &reg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// GetRegistration fetches a registration by ID.
func (r *Repository) GetRegistration(id models.UUID) (*models.WeightRegistration, error) {
	stmt, err := r.prepare(fmt.Sprintf(
		"SELECT %s FROM weight_registrations WHERE id = ?", registrationColumns))
	if err != nil {
		return nil, err
	}

	reg, err := scanRegistration(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, "registration not found: "+string(id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read registration", err)
	}
	return reg, nil
}

// UpdateRegistration persists the mutable fields of a registration.
func (r *Repository) UpdateRegistration(reg *models.WeightRegistration) error {
	stmt, err := r.prepare(`UPDATE weight_registrations
		SET weight = ?, cut_type = ?, supplier = ?, photo_path = ?, photo_url = ?,
			ocr_confidence = ?, sync_status = ?, updated_at = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}

	res, err := stmt.Exec(reg.Weight, reg.CutType, reg.Supplier, reg.PhotoPath,
		reg.PhotoURL, reg.OCRConfidence, reg.SyncStatus, reg.UpdatedAt, reg.ID)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to update registration", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrNotFound, "registration not found: "+string(reg.ID))
	}
	return nil
}

// MarkRegistrationStatus updates only the sync status of a registration.
func (r *Repository) MarkRegistrationStatus(id models.UUID, status models.SyncStatus) error {
	stmt, err := r.prepare(
		"UPDATE weight_registrations SET sync_status = ? WHERE id = ?")
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(status, id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to mark registration status", err)
	}
	return nil
}

// ListRegistrationsByStatus returns registrations with the given sync status,
// oldest first.
func (r *Repository) ListRegistrationsByStatus(status models.SyncStatus, limit int) ([]*models.WeightRegistration, error) {
	stmt, err := r.prepare(fmt.Sprintf(
		"SELECT %s FROM weight_registrations WHERE sync_status = ? ORDER BY created_at ASC LIMIT ?",
		registrationColumns))
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(status, limit)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list registrations", err)
	}
	defer rows.Close()

	var regs []*models.WeightRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan registration", err)
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// ---- Suppliers ----

// UpsertSupplier inserts or replaces a supplier row.
func (r *Repository) UpsertSupplier(sup *models.Supplier) error {
	stmt, err := r.prepare(`INSERT INTO suppliers (id, name, contact, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name,
			contact = excluded.contact, updated_at = excluded.updated_at`)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(sup.ID, sup.Name, sup.Contact, sup.UpdatedAt); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to upsert supplier", err)
	}
	return nil
}

// GetSupplier fetches a supplier by ID.
func (r *Repository) GetSupplier(id models.UUID) (*models.Supplier, error) {
	stmt, err := r.prepare(
		"SELECT id, name, contact, updated_at FROM suppliers WHERE id = ?")
	if err != nil {
		return nil, err
	}

	sup := &models.Supplier{}
	err = stmt.QueryRow(id).Scan(&sup.ID, &sup.Name, &sup.Contact, &sup.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, "supplier not found: "+string(id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read supplier", err)
	}
	return sup, nil
}

// ---- Sync queue ----

const operationColumns = `id, operation_type, entity_id, payload, priority,
	retry_count, last_attempt_at, error_message, created_at`

// InsertOperation enqueues a durable operation. Priority is derived from the
// operation type.
func (r *Repository) InsertOperation(op *models.QueuedOperation) error {
	if op.ID == "" {
		op.ID = models.UUID(uuid.New())
	}
	if op.CreatedAt == 0 {
		op.CreatedAt = time.Now().Unix()
	}
	op.Priority = op.OperationType.Priority()

	stmt, err := r.prepare(fmt.Sprintf(
		"INSERT INTO sync_queue (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		operationColumns))
	if err != nil {
		return err
	}

	_, err = stmt.Exec(op.ID, op.OperationType, op.EntityID, []byte(op.Payload),
		op.Priority, op.RetryCount, op.LastAttemptAt, op.ErrorMessage, op.CreatedAt)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to enqueue operation", err)
	}
	return nil
}

func scanOperation(row interface{ Scan(...interface{}) error }) (*models.QueuedOperation, error) {
	op := &models.QueuedOperation{}
	var payload []byte
	err := row.Scan(&op.ID, &op.OperationType, &op.EntityID, &payload, &op.Priority,
		&op.RetryCount, &op.LastAttemptAt, &op.ErrorMessage, &op.CreatedAt)
	if err != nil {
		return nil, err
	}
	op.Payload = payload
	return op, nil
}

// GetOperation fetches a queued operation by ID.
func (r *Repository) GetOperation(id models.UUID) (*models.QueuedOperation, error) {
	stmt, err := r.prepare(fmt.Sprintf(
		"SELECT %s FROM sync_queue WHERE id = ?", operationColumns))
	if err != nil {
		return nil, err
	}

	op, err := scanOperation(stmt.QueryRow(id))
	if err == sql.ErrNoRows {
		return nil, errors.New(errors.ErrNotFound, "operation not found: "+string(id))
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to read operation", err)
	}
	return op, nil
}

// ListOperationsBelowRetryLimit returns queued operations that have not
// exhausted their retries, ordered by priority then enqueue time. Backoff
// eligibility is evaluated by the caller.
func (r *Repository) ListOperationsBelowRetryLimit(maxRetries, limit int) ([]*models.QueuedOperation, error) {
	stmt, err := r.prepare(fmt.Sprintf(
		"SELECT %s FROM sync_queue WHERE retry_count < ? ORDER BY priority ASC, created_at ASC LIMIT ?",
		operationColumns))
	if err != nil {
		return nil, err
	}
	return r.listOperations(stmt, maxRetries, limit)
}

// ListExhaustedOperations returns operations that have reached the retry
// ceiling.
func (r *Repository) ListExhaustedOperations(maxRetries int) ([]*models.QueuedOperation, error) {
	stmt, err := r.prepare(fmt.Sprintf(
		"SELECT %s FROM sync_queue WHERE retry_count >= ? ORDER BY created_at ASC",
		operationColumns))
	if err != nil {
		return nil, err
	}
	return r.listOperations(stmt, maxRetries)
}

func (r *Repository) listOperations(stmt *sql.Stmt, args ...interface{}) ([]*models.QueuedOperation, error) {
	rows, err := stmt.Query(args...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list operations", err)
	}
	defer rows.Close()

	var ops []*models.QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan operation", err)
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// DeleteOperation removes a completed or abandoned operation.
func (r *Repository) DeleteOperation(id models.UUID) error {
	stmt, err := r.prepare("DELETE FROM sync_queue WHERE id = ?")
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to delete operation", err)
	}
	return nil
}

// RecordOperationFailure bumps the retry counter and stores the attempt
// timestamp and error message.
func (r *Repository) RecordOperationFailure(id models.UUID, attemptAt int64, message string) error {
	stmt, err := r.prepare(`UPDATE sync_queue
		SET retry_count = retry_count + 1, last_attempt_at = ?, error_message = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(attemptAt, message, id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to record operation failure", err)
	}
	return nil
}

// ExhaustOperation pins the retry counter at the ceiling so the operation is
// never retried. Used for permanent failures such as rejected payloads.
func (r *Repository) ExhaustOperation(id models.UUID, retryCeiling int, attemptAt int64, message string) error {
	stmt, err := r.prepare(`UPDATE sync_queue
		SET retry_count = ?, last_attempt_at = ?, error_message = ?
		WHERE id = ?`)
	if err != nil {
		return err
	}
	if _, err := stmt.Exec(retryCeiling, attemptAt, message, id); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to exhaust operation", err)
	}
	return nil
}

// ResetOperation clears the retry counter and error so the operation is
// eligible again on the next drain.
func (r *Repository) ResetOperation(id models.UUID) error {
	stmt, err := r.prepare(`UPDATE sync_queue
		SET retry_count = 0, last_attempt_at = 0, error_message = ''
		WHERE id = ?`)
	if err != nil {
		return err
	}

	res, err := stmt.Exec(id)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to reset operation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.New(errors.ErrNotFound, "operation not found: "+string(id))
	}
	return nil
}

// ClearExhaustedOperations deletes every operation past the retry ceiling and
// reports how many were removed.
func (r *Repository) ClearExhaustedOperations(maxRetries int) (int, error) {
	stmt, err := r.prepare("DELETE FROM sync_queue WHERE retry_count >= ?")
	if err != nil {
		return 0, err
	}
	res, err := stmt.Exec(maxRetries)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to clear exhausted operations", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// CompleteOperation removes the operation and applies the synced registration
// state in a single transaction.
func (r *Repository) CompleteOperation(opID models.UUID, reg *models.WeightRegistration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sync_queue WHERE id = ?", opID); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to delete operation", err)
	}
	if reg != nil {
		_, err := tx.Exec(`UPDATE weight_registrations
			SET weight = ?, cut_type = ?, supplier = ?, photo_url = ?,
				ocr_confidence = ?, sync_status = ?, updated_at = ?
			WHERE id = ?`,
			reg.Weight, reg.CutType, reg.Supplier, reg.PhotoURL,
			reg.OCRConfidence, reg.SyncStatus, reg.UpdatedAt, reg.ID)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to apply synced registration", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to commit operation completion", err)
	}
	return nil
}

// CompletePeerOperation removes the operation and upserts the supplier in a
// single transaction.
func (r *Repository) CompletePeerOperation(opID models.UUID, sup *models.Supplier) error {
	tx, err := r.db.Begin()
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM sync_queue WHERE id = ?", opID); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to delete operation", err)
	}
	if sup != nil {
		_, err := tx.Exec(`INSERT INTO suppliers (id, name, contact, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name,
				contact = excluded.contact, updated_at = excluded.updated_at`,
			sup.ID, sup.Name, sup.Contact, sup.UpdatedAt)
		if err != nil {
			return errors.Wrap(errors.ErrStorage, "failed to upsert supplier", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to commit operation completion", err)
	}
	return nil
}

// ---- Conflict audit log ----

// InsertConflictLog records a resolved conflict for later inspection.
func (r *Repository) InsertConflictLog(entry *models.ConflictLog) error {
	if entry.ID == "" {
		entry.ID = models.UUID(uuid.New())
	}
	if entry.DetectedAt == 0 {
		entry.DetectedAt = time.Now().Unix()
	}

	stmt, err := r.prepare(`INSERT INTO conflict_log
		(id, entity_id, fields, strategy, local_updated_at, server_updated_at, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	_, err = stmt.Exec(entry.ID, entry.EntityID, entry.Fields, entry.Strategy,
		entry.LocalUpdatedAt, entry.ServerUpdatedAt, entry.DetectedAt)
	if err != nil {
		return errors.Wrap(errors.ErrStorage, "failed to insert conflict log", err)
	}
	return nil
}

// ListConflictLogs returns audit entries for an entity, newest first.
func (r *Repository) ListConflictLogs(entityID models.UUID) ([]*models.ConflictLog, error) {
	stmt, err := r.prepare(`SELECT id, entity_id, fields, strategy,
			local_updated_at, server_updated_at, detected_at
		FROM conflict_log WHERE entity_id = ? ORDER BY detected_at DESC`)
	if err != nil {
		return nil, err
	}

	rows, err := stmt.Query(entityID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrStorage, "failed to list conflict logs", err)
	}
	defer rows.Close()

	var entries []*models.ConflictLog
	for rows.Next() {
		entry := &models.ConflictLog{}
		if err := rows.Scan(&entry.ID, &entry.EntityID, &entry.Fields, &entry.Strategy,
			&entry.LocalUpdatedAt, &entry.ServerUpdatedAt, &entry.DetectedAt); err != nil {
			return nil, errors.Wrap(errors.ErrStorage, "failed to scan conflict log", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ---- Maintenance ----

// PurgeSyncedRegistrationsBefore deletes synced registrations created before
// the cutoff.
func (r *Repository) PurgeSyncedRegistrationsBefore(cutoff int64) (int, error) {
	stmt, err := r.prepare(
		"DELETE FROM weight_registrations WHERE sync_status = 'synced' AND created_at < ?")
	if err != nil {
		return 0, err
	}
	res, err := stmt.Exec(cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to purge synced registrations", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeConflictLogBefore deletes conflict log entries older than the cutoff.
func (r *Repository) PurgeConflictLogBefore(cutoff int64) (int, error) {
	stmt, err := r.prepare("DELETE FROM conflict_log WHERE detected_at < ?")
	if err != nil {
		return 0, err
	}
	res, err := stmt.Exec(cutoff)
	if err != nil {
		return 0, errors.Wrap(errors.ErrStorage, "failed to purge conflict log", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
