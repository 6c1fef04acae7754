// Package model holds the shared domain types for the prediction core.
package model

import (
	"fmt"
	"time"
)

// Label is a binary classification outcome.
type Label string

const (
	Positive Label = "Positive"
	Negative Label = "Negative"
)

// ParseLabel converts free-form label text into a Label. Only the two
// recognized labels are accepted; anything else is a validation error.
func ParseLabel(s string) (Label, error) {
	switch s {
	case string(Positive):
		return Positive, nil
	case string(Negative):
		return Negative, nil
	}
	return "", &ValidationError{Field: "label", Reason: fmt.Sprintf("unrecognized label %q", s)}
}

// ClinicalRecord is one patient encounter: the symptom vector that was
// submitted, the label the model predicted, and (once the clinic result
// arrives) the actual label. Actual stays empty until the record is
// finalized and is set exactly once.
type ClinicalRecord struct {
	ID          int64
	CreatedAt   time.Time
	PatientID   string
	Symptoms    []int
	Predicted   Label
	Actual      Label
	FinalizedAt time.Time
}

// Finalized reports whether the actual outcome has been recorded.
func (r ClinicalRecord) Finalized() bool {
	return r.Actual != ""
}

// DuplicateWarning flags a new prediction for a patient id already seen
// within the lookback window. It never blocks the prediction: follow-up
// visits are legitimate.
type DuplicateWarning struct {
	PatientID string
	LastSeen  time.Time
}

// Statistics aggregates the record store. Accuracy is a percentage computed
// over finalized records only; Total/Positive/Negative count every record by
// its predicted label.
type Statistics struct {
	Total     int     `json:"total"`
	Positive  int     `json:"positive"`
	Negative  int     `json:"negative"`
	Finalized int     `json:"finalized"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`
}
