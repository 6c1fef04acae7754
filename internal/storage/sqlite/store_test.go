package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"malariad/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := Open(filepath.Join(dir, "records-test.db"), filepath.Join(dir, "backups"), 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRecordRoundTripPreservesSymptoms(t *testing.T) {
	store := newTestStore(t)
	symptoms := []int{1, 1, 1, 1, 0, 0, 0, 0, 0, 0}

	id, err := store.RecordPrediction("PAT001", symptoms, model.Positive)
	if err != nil {
		t.Fatalf("RecordPrediction failed: %v", err)
	}

	rec, err := store.GetRecord(id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if diff := cmp.Diff(symptoms, rec.Symptoms); diff != "" {
		t.Fatalf("symptom vector mismatch after round trip (-want +got):\n%s", diff)
	}
	if rec.PatientID != "PAT001" {
		t.Fatalf("unexpected patient id: %q", rec.PatientID)
	}
	if rec.Predicted != model.Positive {
		t.Fatalf("unexpected predicted label: %q", rec.Predicted)
	}
	if rec.Finalized() {
		t.Fatal("new record should not be finalized")
	}
}

func TestGetRecordNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetRecord(12345); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRecordOutcomeFinalizesExactlyOnce(t *testing.T) {
	store := newTestStore(t)
	id, err := store.RecordPrediction("PAT001", []int{1, 0, 1}, model.Positive)
	if err != nil {
		t.Fatalf("RecordPrediction failed: %v", err)
	}

	rec, err := store.RecordOutcome(id, model.Positive)
	if err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if rec.Actual != model.Positive || !rec.Finalized() {
		t.Fatalf("record not finalized: %+v", rec)
	}

	// Second outcome is a reported conflict, not an overwrite.
	if _, err := store.RecordOutcome(id, model.Negative); !errors.Is(err, ErrAlreadyFinalized) {
		t.Fatalf("expected ErrAlreadyFinalized, got %v", err)
	}
	rec, err = store.GetRecord(id)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if rec.Actual != model.Positive {
		t.Fatalf("actual label overwritten to %q", rec.Actual)
	}
}

func TestLatestPendingForPatient(t *testing.T) {
	store := newTestStore(t)
	first, err := store.RecordPrediction("PAT001", []int{1, 0, 0}, model.Negative)
	if err != nil {
		t.Fatalf("RecordPrediction failed: %v", err)
	}
	second, err := store.RecordPrediction("PAT001", []int{1, 1, 1}, model.Positive)
	if err != nil {
		t.Fatalf("RecordPrediction failed: %v", err)
	}

	rec, err := store.LatestPendingForPatient("PAT001", 24*time.Hour)
	if err != nil {
		t.Fatalf("LatestPendingForPatient failed: %v", err)
	}
	if rec.ID != second {
		t.Fatalf("expected latest record %d, got %d", second, rec.ID)
	}

	if _, err := store.RecordOutcome(second, model.Positive); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	rec, err = store.LatestPendingForPatient("PAT001", 24*time.Hour)
	if err != nil {
		t.Fatalf("LatestPendingForPatient failed: %v", err)
	}
	if rec.ID != first {
		t.Fatalf("expected earlier pending record %d, got %d", first, rec.ID)
	}

	if _, err := store.LatestPendingForPatient("PAT999", 24*time.Hour); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for unknown patient, got %v", err)
	}
}

func TestDuplicateCheck(t *testing.T) {
	store := newTestStore(t)

	warning, err := store.DuplicateCheck("PAT001", 24*time.Hour)
	if err != nil {
		t.Fatalf("DuplicateCheck failed: %v", err)
	}
	if warning != nil {
		t.Fatalf("unexpected warning before any record: %+v", warning)
	}

	if _, err := store.RecordPrediction("PAT001", []int{1}, model.Positive); err != nil {
		t.Fatalf("RecordPrediction failed: %v", err)
	}

	warning, err = store.DuplicateCheck("PAT001", 24*time.Hour)
	if err != nil {
		t.Fatalf("DuplicateCheck failed: %v", err)
	}
	if warning == nil {
		t.Fatal("expected duplicate warning within lookback")
	}
	if warning.PatientID != "PAT001" {
		t.Fatalf("unexpected patient in warning: %q", warning.PatientID)
	}

	// The warning never blocks the second visit; both records persist.
	if _, err := store.RecordPrediction("PAT001", []int{1}, model.Negative); err != nil {
		t.Fatalf("second RecordPrediction failed: %v", err)
	}
	records, err := store.RecordsByPatient("PAT001")
	if err != nil {
		t.Fatalf("RecordsByPatient failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 persisted records, got %d", len(records))
	}
}

func TestStatisticsAccuracyOverFinalizedOnly(t *testing.T) {
	store := newTestStore(t)

	p1, _ := store.RecordPrediction("PAT001", []int{1, 1, 1}, model.Positive)
	p2, _ := store.RecordPrediction("PAT002", []int{0, 0, 0}, model.Negative)
	if _, err := store.RecordPrediction("PAT003", []int{1, 0, 0}, model.Positive); err != nil {
		t.Fatalf("RecordPrediction failed: %v", err)
	}

	if _, err := store.RecordOutcome(p1, model.Positive); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}
	if _, err := store.RecordOutcome(p2, model.Positive); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	stats, err := store.Statistics()
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 3 {
		t.Fatalf("expected total 3, got %d", stats.Total)
	}
	if stats.Positive != 2 || stats.Negative != 1 {
		t.Fatalf("expected predicted split 2/1, got %d/%d", stats.Positive, stats.Negative)
	}
	if stats.Finalized != 2 || stats.Correct != 1 {
		t.Fatalf("expected finalized 2 correct 1, got %d/%d", stats.Finalized, stats.Correct)
	}
	if stats.Accuracy != 50 {
		t.Fatalf("expected accuracy 50, got %v", stats.Accuracy)
	}
}

func TestStatisticsEmptyStore(t *testing.T) {
	store := newTestStore(t)
	stats, err := store.Statistics()
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 0 || stats.Accuracy != 0 {
		t.Fatalf("unexpected stats for empty store: %+v", stats)
	}
}

func TestRecentFinalizedWindow(t *testing.T) {
	store := newTestStore(t)
	var finalized []int64
	for i := 0; i < 5; i++ {
		id, err := store.RecordPrediction("PAT001", []int{1, 0}, model.Positive)
		if err != nil {
			t.Fatalf("RecordPrediction failed: %v", err)
		}
		if _, err := store.RecordOutcome(id, model.Positive); err != nil {
			t.Fatalf("RecordOutcome failed: %v", err)
		}
		finalized = append(finalized, id)
	}

	window, err := store.RecentFinalized(3)
	if err != nil {
		t.Fatalf("RecentFinalized failed: %v", err)
	}
	if len(window) != 3 {
		t.Fatalf("expected window of 3, got %d", len(window))
	}
	if window[0].ID != finalized[4] {
		t.Fatalf("expected newest finalized first, got record %d", window[0].ID)
	}
	for _, rec := range window {
		if !rec.Finalized() {
			t.Fatalf("window contains non-finalized record %d", rec.ID)
		}
	}
}

func TestBackupRetentionCap(t *testing.T) {
	dir := t.TempDir()
	backupDir := filepath.Join(dir, "backups")
	store, err := Open(filepath.Join(dir, "records-test.db"), backupDir, 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	for i := 0; i < 14; i++ {
		if _, err := store.RecordPrediction("PAT001", []int{1}, model.Positive); err != nil {
			t.Fatalf("RecordPrediction %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(backupDir)
	if err != nil {
		t.Fatalf("read backup dir: %v", err)
	}
	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), backupPrefix) {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) != 10 {
		t.Fatalf("expected exactly 10 backups after 14 writes, got %d", len(backups))
	}
}

func TestBackupFailureNeverBlocksWrite(t *testing.T) {
	dir := t.TempDir()
	// Backup dir path collides with an existing file, so MkdirAll fails.
	blocked := filepath.Join(dir, "backups")
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocking file: %v", err)
	}

	store, err := Open(filepath.Join(dir, "records-test.db"), blocked, 10)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.RecordPrediction("PAT001", []int{1}, model.Positive); err != nil {
		t.Fatalf("primary write failed because of backup problem: %v", err)
	}
}

func TestRecordsByDateRange(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.RecordPrediction("PAT001", []int{1}, model.Positive); err != nil {
		t.Fatalf("RecordPrediction failed: %v", err)
	}

	now := time.Now().UTC()
	records, err := store.RecordsByDateRange(now.Add(-time.Hour), now.Add(time.Hour))
	if err != nil {
		t.Fatalf("RecordsByDateRange failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record in range, got %d", len(records))
	}

	records, err = store.RecordsByDateRange(now.Add(time.Hour), now.Add(2*time.Hour))
	if err != nil {
		t.Fatalf("RecordsByDateRange failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records in future range, got %d", len(records))
	}
}
