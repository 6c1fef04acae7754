// Package sqlite is the durable record store for clinical encounters. The
// table stays readable by external offline retraining tools: one row per
// encounter with the symptom vector serialized in fixed schema order.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"malariad/internal/model"
)

var (
	// ErrRecordNotFound means no record matched the id or patient lookup.
	ErrRecordNotFound = errors.New("clinical record not found")
	// ErrAlreadyFinalized reports a conflict: the record's actual label was
	// set earlier and is never overwritten.
	ErrAlreadyFinalized = errors.New("clinical record already finalized")
)

const lockStripes = 16

// Store wraps the SQLite database plus the rotating-backup settings.
// Writes for a given patient id are serialized through striped mutexes so a
// prediction insert and an outcome update can never race into a lost update.
type Store struct {
	db        *sql.DB
	path      string
	backupDir string
	retention int

	patientLocks [lockStripes]sync.Mutex
}

// Open opens (creating if needed) the record database and ensures the
// schema. retention caps the rotating backup set; oldest evicted first.
func Open(path, backupDir string, retention int) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS clinical_records (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at   DATETIME NOT NULL,
		patient_id   TEXT NOT NULL,
		symptoms     TEXT NOT NULL,
		predicted    TEXT NOT NULL,
		actual       TEXT,
		finalized_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_clinical_records_patient ON clinical_records(patient_id);
	CREATE INDEX IF NOT EXISTS idx_clinical_records_created ON clinical_records(created_at);
	CREATE INDEX IF NOT EXISTS idx_clinical_records_finalized ON clinical_records(finalized_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path, backupDir: backupDir, retention: retention}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) lockPatient(patientID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(patientID))
	return &s.patientLocks[h.Sum32()%lockStripes]
}

// RecordPrediction appends a new record with the actual label unset and
// returns its id. A rotating backup of the store is attempted first;
// backups are best-effort and never block or fail the primary write. The
// insert itself is retried once on failure.
func (s *Store) RecordPrediction(patientID string, symptoms []int, predicted model.Label) (int64, error) {
	s.rotateBackup()

	mu := s.lockPatient(patientID)
	mu.Lock()
	defer mu.Unlock()

	encoded := EncodeSymptoms(symptoms)
	now := time.Now().UTC()

	var res sql.Result
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		res, err = s.db.Exec(
			`INSERT INTO clinical_records (created_at, patient_id, symptoms, predicted)
			 VALUES (?, ?, ?, ?)`,
			now, patientID, encoded, string(predicted),
		)
		if err == nil {
			break
		}
		log.Printf("record insert attempt %d failed for patient %s: %v", attempt+1, patientID, err)
	}
	if err != nil {
		return 0, fmt.Errorf("record prediction: %w", err)
	}
	return res.LastInsertId()
}

// GetRecord loads one record by id.
func (s *Store) GetRecord(id int64) (model.ClinicalRecord, error) {
	rec, err := s.scanOne(s.db.QueryRow(
		`SELECT id, created_at, patient_id, symptoms, predicted, actual, finalized_at
		 FROM clinical_records WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClinicalRecord{}, ErrRecordNotFound
	}
	return rec, err
}

// RecordOutcome fills in the actual label exactly once. Setting the actual
// label on an already-finalized record is a no-op that reports
// ErrAlreadyFinalized instead of silently overwriting.
func (s *Store) RecordOutcome(id int64, actual model.Label) (model.ClinicalRecord, error) {
	rec, err := s.GetRecord(id)
	if err != nil {
		return model.ClinicalRecord{}, err
	}

	mu := s.lockPatient(rec.PatientID)
	mu.Lock()
	defer mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE clinical_records SET actual = ?, finalized_at = ?
		 WHERE id = ? AND actual IS NULL`,
		string(actual), time.Now().UTC(), id,
	)
	if err != nil {
		return model.ClinicalRecord{}, fmt.Errorf("record outcome: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return model.ClinicalRecord{}, fmt.Errorf("record outcome: %w", err)
	}
	if affected == 0 {
		return rec, ErrAlreadyFinalized
	}
	return s.GetRecord(id)
}

// LatestPendingForPatient finds the most recent record for the patient that
// still lacks an actual label, within the lookback window. Used when the
// caller lost the record id between prediction and outcome entry.
func (s *Store) LatestPendingForPatient(patientID string, lookback time.Duration) (model.ClinicalRecord, error) {
	since := time.Now().UTC().Add(-lookback)
	rec, err := s.scanOne(s.db.QueryRow(
		`SELECT id, created_at, patient_id, symptoms, predicted, actual, finalized_at
		 FROM clinical_records
		 WHERE patient_id = ? AND actual IS NULL AND created_at >= ?
		 ORDER BY created_at DESC, id DESC LIMIT 1`,
		patientID, since,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ClinicalRecord{}, ErrRecordNotFound
	}
	return rec, err
}

// DuplicateCheck returns a warning when the patient id was already seen
// within the lookback window, and nil otherwise. Duplicates are legitimate
// (follow-up visits), so this never blocks a new prediction.
func (s *Store) DuplicateCheck(patientID string, lookback time.Duration) (*model.DuplicateWarning, error) {
	since := time.Now().UTC().Add(-lookback)
	var lastSeen sql.NullTime
	err := s.db.QueryRow(
		`SELECT MAX(created_at) FROM clinical_records
		 WHERE patient_id = ? AND created_at >= ?`,
		patientID, since,
	).Scan(&lastSeen)
	if err != nil {
		return nil, fmt.Errorf("duplicate check: %w", err)
	}
	if !lastSeen.Valid {
		return nil, nil
	}
	return &model.DuplicateWarning{PatientID: patientID, LastSeen: lastSeen.Time}, nil
}

// Statistics aggregates the store. Accuracy counts only finalized records;
// totals bucket every record by predicted label.
func (s *Store) Statistics() (model.Statistics, error) {
	var stats model.Statistics
	err := s.db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN predicted = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN predicted = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN actual IS NOT NULL THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN actual IS NOT NULL AND actual = predicted THEN 1 ELSE 0 END), 0)
		 FROM clinical_records`,
		string(model.Positive), string(model.Negative),
	).Scan(&stats.Total, &stats.Positive, &stats.Negative, &stats.Finalized, &stats.Correct)
	if err != nil {
		return model.Statistics{}, fmt.Errorf("statistics: %w", err)
	}
	if stats.Finalized > 0 {
		stats.Accuracy = roundPercent(float64(stats.Correct) / float64(stats.Finalized) * 100)
	}
	return stats, nil
}

func roundPercent(v float64) float64 {
	return float64(int(v*100+0.5)) / 100
}

// FinalizedCount returns how many records carry an actual label.
func (s *Store) FinalizedCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM clinical_records WHERE actual IS NOT NULL`).Scan(&n)
	return n, err
}

// RecentFinalized returns the most recently finalized records, newest
// first, bounded by limit. This is the retraining window.
func (s *Store) RecentFinalized(limit int) ([]model.ClinicalRecord, error) {
	return s.queryRecords(
		`SELECT id, created_at, patient_id, symptoms, predicted, actual, finalized_at
		 FROM clinical_records
		 WHERE actual IS NOT NULL
		 ORDER BY finalized_at DESC, id DESC LIMIT ?`,
		limit,
	)
}

// RecordsByPatient lists a patient's records, oldest first.
func (s *Store) RecordsByPatient(patientID string) ([]model.ClinicalRecord, error) {
	return s.queryRecords(
		`SELECT id, created_at, patient_id, symptoms, predicted, actual, finalized_at
		 FROM clinical_records
		 WHERE patient_id = ?
		 ORDER BY created_at, id`,
		patientID,
	)
}

// RecordsByDateRange lists records created in [from, to), oldest first.
func (s *Store) RecordsByDateRange(from, to time.Time) ([]model.ClinicalRecord, error) {
	return s.queryRecords(
		`SELECT id, created_at, patient_id, symptoms, predicted, actual, finalized_at
		 FROM clinical_records
		 WHERE created_at >= ? AND created_at < ?
		 ORDER BY created_at, id`,
		from, to,
	)
}

// AllRecords lists every record, oldest first.
func (s *Store) AllRecords() ([]model.ClinicalRecord, error) {
	return s.queryRecords(
		`SELECT id, created_at, patient_id, symptoms, predicted, actual, finalized_at
		 FROM clinical_records ORDER BY created_at, id`,
	)
}

func (s *Store) queryRecords(query string, args ...any) ([]model.ClinicalRecord, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.ClinicalRecord
	for rows.Next() {
		rec, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanOne(row rowScanner) (model.ClinicalRecord, error) {
	var rec model.ClinicalRecord
	var symptoms string
	var actual sql.NullString
	var finalizedAt sql.NullTime
	err := row.Scan(&rec.ID, &rec.CreatedAt, &rec.PatientID, &symptoms, &rec.Predicted, &actual, &finalizedAt)
	if err != nil {
		return model.ClinicalRecord{}, err
	}
	rec.Symptoms, err = DecodeSymptoms(symptoms)
	if err != nil {
		return model.ClinicalRecord{}, fmt.Errorf("record %d: %w", rec.ID, err)
	}
	if actual.Valid {
		label, err := model.ParseLabel(actual.String)
		if err != nil {
			return model.ClinicalRecord{}, fmt.Errorf("record %d: %w", rec.ID, err)
		}
		rec.Actual = label
	}
	if finalizedAt.Valid {
		rec.FinalizedAt = finalizedAt.Time
	}
	return rec, nil
}
