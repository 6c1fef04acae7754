package retrain

import "malariad/internal/model"

// RecordSource supplies the training window. Satisfied by the sqlite store;
// kept narrow so tests can substitute a fake with controllable timing.
type RecordSource interface {
	RecentFinalized(limit int) ([]model.ClinicalRecord, error)
}
