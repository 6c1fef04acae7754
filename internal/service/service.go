// Package service is the core API consumed by the UI/CLI layer: submit a
// prediction, submit an outcome, read statistics, inspect the retrain job.
package service

import (
	"log"
	"time"

	"malariad/internal/config"
	"malariad/internal/engine"
	"malariad/internal/model"
	"malariad/internal/retrain"
	"malariad/internal/storage/sqlite"
	"malariad/internal/vectorize"
)

type Service struct {
	cfg    config.Config
	schema *vectorize.Schema
	store  *sqlite.Store
	engine *engine.Engine
	sched  *retrain.Scheduler
}

func New(cfg config.Config, schema *vectorize.Schema, store *sqlite.Store, eng *engine.Engine, sched *retrain.Scheduler) *Service {
	return &Service{cfg: cfg, schema: schema, store: store, engine: eng, sched: sched}
}

// Prediction is the result of one submitPrediction call.
type Prediction struct {
	RecordID   int64
	Label      model.Label
	Confidence float64
	Duplicate  *model.DuplicateWarning
}

// Outcome is the result of one submitOutcome call. AccuracyDelta is the
// change in the aggregate accuracy percentage caused by this record.
type Outcome struct {
	Record        model.ClinicalRecord
	Correct       bool
	AccuracyDelta float64
	Statistics    model.Statistics
}

func (s *Service) lookback() time.Duration {
	days := s.cfg.DuplicateLookbackDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}

// SubmitPrediction validates the input, classifies the symptoms against the
// active snapshot, and appends a clinical record with the outcome pending.
// A duplicate warning is advisory only; the prediction is recorded either
// way.
func (s *Service) SubmitPrediction(patientID string, symptoms map[string]bool) (Prediction, error) {
	if err := s.cfg.ValidatePatientID(patientID); err != nil {
		return Prediction{}, err
	}

	vec, err := s.schema.Vector(symptoms)
	if err != nil {
		return Prediction{}, err
	}

	scaler, err := s.engine.Scaler()
	if err != nil {
		return Prediction{}, err
	}
	scaled, err := scaler.Apply(vec)
	if err != nil {
		return Prediction{}, err
	}
	label, confidence, err := s.engine.Predict(scaled)
	if err != nil {
		return Prediction{}, err
	}

	// Advisory only; a failed check is logged and the prediction proceeds.
	warning, err := s.store.DuplicateCheck(patientID, s.lookback())
	if err != nil {
		log.Printf("duplicate check for %s: %v", patientID, err)
		warning = nil
	}

	id, err := s.store.RecordPrediction(patientID, vec, label)
	if err != nil {
		return Prediction{}, err
	}

	return Prediction{RecordID: id, Label: label, Confidence: confidence, Duplicate: warning}, nil
}

// SubmitOutcome finalizes a record with the clinic result. When recordID is
// zero the most recent pending record for the patient (within the lookback
// window) is used instead. Finalizing feeds the retrain trigger.
func (s *Service) SubmitOutcome(recordID int64, patientID string, actualLabel string) (Outcome, error) {
	actual, err := model.ParseLabel(actualLabel)
	if err != nil {
		return Outcome{}, err
	}

	if recordID == 0 {
		if err := s.cfg.ValidatePatientID(patientID); err != nil {
			return Outcome{}, err
		}
		pending, err := s.store.LatestPendingForPatient(patientID, s.lookback())
		if err != nil {
			return Outcome{}, err
		}
		recordID = pending.ID
	}

	before, err := s.store.Statistics()
	if err != nil {
		return Outcome{}, err
	}

	rec, err := s.store.RecordOutcome(recordID, actual)
	if err != nil {
		return Outcome{}, err
	}

	after, err := s.store.Statistics()
	if err != nil {
		return Outcome{}, err
	}

	s.sched.NoteFinalized()

	return Outcome{
		Record:        rec,
		Correct:       rec.Actual == rec.Predicted,
		AccuracyDelta: after.Accuracy - before.Accuracy,
		Statistics:    after,
	}, nil
}

// Statistics returns the aggregate over the record store.
func (s *Service) Statistics() (model.Statistics, error) {
	return s.store.Statistics()
}

// JobStatus returns the most recent retrain job, if any job has run.
func (s *Service) JobStatus() (retrain.Job, bool) {
	return s.sched.LastJob()
}

// ModelVersion returns the active snapshot version, 0 when degraded.
func (s *Service) ModelVersion() int {
	return s.engine.Version()
}

// Schema returns the symptom names in vector order.
func (s *Service) Schema() []string {
	return s.schema.Names()
}

// RecordsByPatient lists a patient's records for export.
func (s *Service) RecordsByPatient(patientID string) ([]model.ClinicalRecord, error) {
	return s.store.RecordsByPatient(patientID)
}

// RecordsByDateRange lists records created in [from, to) for export.
func (s *Service) RecordsByDateRange(from, to time.Time) ([]model.ClinicalRecord, error) {
	return s.store.RecordsByDateRange(from, to)
}

// AllRecords lists every record for export.
func (s *Service) AllRecords() ([]model.ClinicalRecord, error) {
	return s.store.AllRecords()
}
