package db

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/basculapp/fieldsync/internal/errors"
	"github.com/basculapp/fieldsync/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(t.TempDir())
	if err := store.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testRegistration() *models.WeightRegistration {
	return &models.WeightRegistration{
		Weight:       12.5,
		CutType:      models.CutTypeJamon,
		Supplier:     "Granja Iberica",
		RegisteredBy: "30000000-0000-4000-8000-000000000003",
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	dir := t.TempDir()

	store := NewStore(dir)
	if err := store.Init(); err != nil {
		t.Fatalf("first Init failed: %v", err)
	}
	version, err := SchemaVersion(store.DB())
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion() {
		t.Errorf("expected schema version %d, got %d", CurrentSchemaVersion(), version)
	}
	store.Close()

	// Reopening must not re-apply migrations.
	store = NewStore(dir)
	if err := store.Init(); err != nil {
		t.Fatalf("second Init failed: %v", err)
	}
	defer store.Close()

	version, err = SchemaVersion(store.DB())
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion() {
		t.Errorf("expected schema version %d after reopen, got %d", CurrentSchemaVersion(), version)
	}
}

func TestStoreNotInitialized(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.Stats(); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := store.Execute("DELETE FROM sync_queue"); !errors.Is(err, errors.ErrNotInitialized) {
		t.Errorf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRegistrationCRUD(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	reg := testRegistration()
	if err := repo.CreateRegistration(reg); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}
	if reg.ID == "" {
		t.Fatal("expected generated ID")
	}
	if reg.SyncStatus != models.SyncStatusPending {
		t.Errorf("expected pending status, got %s", reg.SyncStatus)
	}
	if reg.CreatedAt == 0 || reg.UpdatedAt == 0 {
		t.Error("expected timestamps to be filled in")
	}

	got, err := repo.GetRegistration(reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration failed: %v", err)
	}
	if got.Weight != 12.5 || got.CutType != models.CutTypeJamon {
		t.Errorf("unexpected registration: %+v", got)
	}

	got.Weight = 13.0
	got.SyncStatus = models.SyncStatusSynced
	got.Touch()
	if err := repo.UpdateRegistration(got); err != nil {
		t.Fatalf("UpdateRegistration failed: %v", err)
	}

	again, err := repo.GetRegistration(reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration after update failed: %v", err)
	}
	if again.Weight != 13.0 || again.SyncStatus != models.SyncStatusSynced {
		t.Errorf("update not persisted: %+v", again)
	}
}

func TestGetRegistrationNotFound(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	_, err := repo.GetRegistration("00000000-0000-4000-8000-000000000000")
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWeightCheckConstraint(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	reg := testRegistration()
	reg.Weight = -1
	if err := repo.CreateRegistration(reg); err == nil {
		t.Error("expected constraint violation for negative weight")
	}
}

func TestQueueOrderingByPriorityThenAge(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	payload := json.RawMessage(`{"k":"v"}`)
	base := time.Now().Unix()

	// Enqueued newest-first and lowest-priority-first on purpose.
	ops := []struct {
		opType models.OperationType
		age    int64
	}{
		{models.OperationUploadAttachment, 0},
		{models.OperationUpdatePeer, 60},
		{models.OperationCreate, 120},
		{models.OperationCreate, 60},
	}
	for i, o := range ops {
		op := &models.QueuedOperation{
			OperationType: o.opType,
			EntityID:      models.UUID([]string{
				"40000000-0000-4000-8000-000000000000",
				"40000000-0000-4000-8000-000000000001",
				"40000000-0000-4000-8000-000000000002",
				"40000000-0000-4000-8000-000000000003",
			}[i]),
			Payload:   payload,
			CreatedAt: base - o.age,
		}
		if err := repo.InsertOperation(op); err != nil {
			t.Fatalf("InsertOperation failed: %v", err)
		}
	}

	got, err := repo.ListOperationsBelowRetryLimit(3, 10)
	if err != nil {
		t.Fatalf("ListOperationsBelowRetryLimit failed: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 operations, got %d", len(got))
	}

	wantOrder := []models.OperationType{
		models.OperationCreate, models.OperationCreate,
		models.OperationUpdatePeer, models.OperationUploadAttachment,
	}
	for i, op := range got {
		if op.OperationType != wantOrder[i] {
			t.Errorf("position %d: expected %s, got %s", i, wantOrder[i], op.OperationType)
		}
	}
	// The two creates must come out oldest first.
	if got[0].CreatedAt > got[1].CreatedAt {
		t.Error("creates not ordered by enqueue time")
	}
}

func TestRetryLimitExcludesExhausted(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	op := &models.QueuedOperation{
		OperationType: models.OperationCreate,
		EntityID:      "40000000-0000-4000-8000-000000000010",
		Payload:       json.RawMessage(`{}`),
	}
	if err := repo.InsertOperation(op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}

	now := time.Now().Unix()
	for i := 0; i < 3; i++ {
		if err := repo.RecordOperationFailure(op.ID, now, "server error"); err != nil {
			t.Fatalf("RecordOperationFailure failed: %v", err)
		}
	}

	eligible, err := repo.ListOperationsBelowRetryLimit(3, 10)
	if err != nil {
		t.Fatalf("ListOperationsBelowRetryLimit failed: %v", err)
	}
	if len(eligible) != 0 {
		t.Errorf("expected no eligible operations, got %d", len(eligible))
	}

	exhausted, err := repo.ListExhaustedOperations(3)
	if err != nil {
		t.Fatalf("ListExhaustedOperations failed: %v", err)
	}
	if len(exhausted) != 1 {
		t.Fatalf("expected 1 exhausted operation, got %d", len(exhausted))
	}
	if exhausted[0].ErrorMessage != "server error" {
		t.Errorf("expected error message preserved, got %q", exhausted[0].ErrorMessage)
	}

	// Reset puts it back in rotation.
	if err := repo.ResetOperation(op.ID); err != nil {
		t.Fatalf("ResetOperation failed: %v", err)
	}
	eligible, err = repo.ListOperationsBelowRetryLimit(3, 10)
	if err != nil {
		t.Fatalf("ListOperationsBelowRetryLimit failed: %v", err)
	}
	if len(eligible) != 1 || eligible[0].RetryCount != 0 {
		t.Errorf("expected reset operation eligible with zero retries, got %+v", eligible)
	}
}

func TestClearExhaustedOperations(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	now := time.Now().Unix()
	for i := 0; i < 2; i++ {
		op := &models.QueuedOperation{
			OperationType: models.OperationCreate,
			EntityID:      "40000000-0000-4000-8000-000000000020",
			Payload:       json.RawMessage(`{}`),
		}
		if err := repo.InsertOperation(op); err != nil {
			t.Fatalf("InsertOperation failed: %v", err)
		}
		if i == 0 {
			for j := 0; j < 3; j++ {
				repo.RecordOperationFailure(op.ID, now, "timeout")
			}
		}
	}

	removed, err := repo.ClearExhaustedOperations(3)
	if err != nil {
		t.Fatalf("ClearExhaustedOperations failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.QueueCount != 1 {
		t.Errorf("expected 1 remaining queue entry, got %d", stats.QueueCount)
	}
}

func TestCompleteOperationIsAtomic(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	reg := testRegistration()
	if err := repo.CreateRegistration(reg); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}
	op := &models.QueuedOperation{
		OperationType: models.OperationCreate,
		EntityID:      reg.ID,
		Payload:       json.RawMessage(`{}`),
	}
	if err := repo.InsertOperation(op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}

	reg.SyncStatus = models.SyncStatusSynced
	reg.PhotoURL = "https://cdn.example.com/p.jpg"
	reg.OCRConfidence = 0.92
	reg.Touch()
	if err := repo.CompleteOperation(op.ID, reg); err != nil {
		t.Fatalf("CompleteOperation failed: %v", err)
	}

	if _, err := repo.GetOperation(op.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected operation deleted, got %v", err)
	}
	got, err := repo.GetRegistration(reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusSynced || got.PhotoURL != "https://cdn.example.com/p.jpg" {
		t.Errorf("synced state not applied: %+v", got)
	}
}

func TestCompletePeerOperationUpsertsSupplier(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	op := &models.QueuedOperation{
		OperationType: models.OperationUpdatePeer,
		EntityID:      "10000000-0000-4000-8000-000000000001",
		Payload:       json.RawMessage(`{}`),
	}
	if err := repo.InsertOperation(op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}

	sup := &models.Supplier{
		ID:        "10000000-0000-4000-8000-000000000001",
		Name:      "Granja Iberica",
		Contact:   "granja@example.com",
		UpdatedAt: time.Now().Unix(),
	}
	if err := repo.CompletePeerOperation(op.ID, sup); err != nil {
		t.Fatalf("CompletePeerOperation failed: %v", err)
	}

	got, err := repo.GetSupplier(sup.ID)
	if err != nil {
		t.Fatalf("GetSupplier failed: %v", err)
	}
	if got.Name != "Granja Iberica" {
		t.Errorf("unexpected supplier: %+v", got)
	}
}

func TestStoreStats(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	for i := 0; i < 3; i++ {
		if err := repo.CreateRegistration(testRegistration()); err != nil {
			t.Fatalf("CreateRegistration failed: %v", err)
		}
	}
	synced := testRegistration()
	synced.SyncStatus = models.SyncStatusSynced
	if err := repo.CreateRegistration(synced); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}
	op := &models.QueuedOperation{
		OperationType: models.OperationCreate,
		EntityID:      "40000000-0000-4000-8000-000000000030",
		Payload:       json.RawMessage(`{}`),
	}
	if err := repo.InsertOperation(op); err != nil {
		t.Fatalf("InsertOperation failed: %v", err)
	}

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.RecordCount != 4 || stats.PendingCount != 3 || stats.QueueCount != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestRunInTransactionRollsBackOnFailure(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	reg := testRegistration()
	if err := repo.CreateRegistration(reg); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}

	err := store.RunInTransaction([]Statement{
		{Query: "UPDATE weight_registrations SET sync_status = 'synced' WHERE id = ?", Args: []interface{}{reg.ID}},
		{Query: "UPDATE no_such_table SET x = 1"},
	})
	if err == nil {
		t.Fatal("expected transaction failure")
	}

	got, err := repo.GetRegistration(reg.ID)
	if err != nil {
		t.Fatalf("GetRegistration failed: %v", err)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("expected rollback to keep pending status, got %s", got.SyncStatus)
	}
}

func TestMaintenancePurges(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	old := testRegistration()
	old.SyncStatus = models.SyncStatusSynced
	old.CreatedAt = time.Now().AddDate(0, 0, -60).Unix()
	old.UpdatedAt = old.CreatedAt
	if err := repo.CreateRegistration(old); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}

	// Pending records are never purged regardless of age.
	oldPending := testRegistration()
	oldPending.CreatedAt = old.CreatedAt
	oldPending.UpdatedAt = old.CreatedAt
	if err := repo.CreateRegistration(oldPending); err != nil {
		t.Fatalf("CreateRegistration failed: %v", err)
	}

	cutoff := time.Now().AddDate(0, 0, -30).Unix()
	purged, err := repo.PurgeSyncedRegistrationsBefore(cutoff)
	if err != nil {
		t.Fatalf("PurgeSyncedRegistrationsBefore failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 purged, got %d", purged)
	}

	if _, err := repo.GetRegistration(oldPending.ID); err != nil {
		t.Errorf("pending registration must survive purge: %v", err)
	}
}

func TestConflictLogInsert(t *testing.T) {
	store := newTestStore(t)
	repo := NewRepository(store)
	defer repo.Close()

	entry := &models.ConflictLog{
		EntityID:        "20000000-0000-4000-8000-000000000002",
		Fields:          "weight,supplier",
		Strategy:        "prefer_server",
		LocalUpdatedAt:  time.Now().Add(-10 * time.Minute).Unix(),
		ServerUpdatedAt: time.Now().Add(-5 * time.Minute).Unix(),
	}
	if err := repo.InsertConflictLog(entry); err != nil {
		t.Fatalf("InsertConflictLog failed: %v", err)
	}
	if entry.ID == "" || entry.DetectedAt == 0 {
		t.Error("expected generated ID and detection timestamp")
	}

	var count int
	if err := store.DB().QueryRow("SELECT COUNT(*) FROM conflict_log").Scan(&count); err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 conflict log entry, got %d", count)
	}
}
