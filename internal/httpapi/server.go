// Package httpapi exposes the core service as JSON endpoints for the
// external UI layer. Transport only: no business rules live here.
package httpapi

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"malariad/internal/engine"
	"malariad/internal/model"
	"malariad/internal/service"
	"malariad/internal/storage/sqlite"
)

type Server struct {
	svc *service.Service
	mux *http.ServeMux
}

func NewServer(svc *service.Service) *Server {
	s := &Server{svc: svc, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /api/predict", s.handlePredict)
	s.mux.HandleFunc("POST /api/outcome", s.handleOutcome)
	s.mux.HandleFunc("GET /api/statistics", s.handleStatistics)
	s.mux.HandleFunc("GET /api/job", s.handleJob)
	s.mux.HandleFunc("GET /api/records", s.handleRecords)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type predictRequest struct {
	PatientID string          `json:"patient_id"`
	Symptoms  map[string]bool `json:"symptoms"`
}

type duplicateWarningResponse struct {
	PatientID string    `json:"patient_id"`
	LastSeen  time.Time `json:"last_seen"`
}

type predictResponse struct {
	RecordID         int64                     `json:"record_id"`
	Label            model.Label               `json:"label"`
	Confidence       float64                   `json:"confidence"`
	DuplicateWarning *duplicateWarningResponse `json:"duplicate_warning,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	pred, err := s.svc.SubmitPrediction(req.PatientID, req.Symptoms)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := predictResponse{
		RecordID:   pred.RecordID,
		Label:      pred.Label,
		Confidence: pred.Confidence,
	}
	if pred.Duplicate != nil {
		resp.DuplicateWarning = &duplicateWarningResponse{
			PatientID: pred.Duplicate.PatientID,
			LastSeen:  pred.Duplicate.LastSeen,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type outcomeRequest struct {
	RecordID  int64  `json:"record_id,omitempty"`
	PatientID string `json:"patient_id,omitempty"`
	Actual    string `json:"actual"`
}

type outcomeResponse struct {
	RecordID      int64            `json:"record_id"`
	Predicted     model.Label      `json:"predicted"`
	Actual        model.Label      `json:"actual"`
	Correct       bool             `json:"correct"`
	AccuracyDelta float64          `json:"accuracy_delta"`
	Statistics    model.Statistics `json:"statistics"`
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMessage(w, http.StatusBadRequest, "malformed request body")
		return
	}

	out, err := s.svc.SubmitOutcome(req.RecordID, req.PatientID, req.Actual)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outcomeResponse{
		RecordID:      out.Record.ID,
		Predicted:     out.Record.Predicted,
		Actual:        out.Record.Actual,
		Correct:       out.Correct,
		AccuracyDelta: out.AccuracyDelta,
		Statistics:    out.Statistics,
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.Statistics()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	job, ok := s.svc.JobStatus()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "none"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.svc.ModelVersion() == 0 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        status,
		"model_version": s.svc.ModelVersion(),
	})
}

type recordResponse struct {
	ID          int64       `json:"id"`
	CreatedAt   time.Time   `json:"created_at"`
	PatientID   string      `json:"patient_id"`
	Symptoms    []int       `json:"symptoms"`
	Predicted   model.Label `json:"predicted"`
	Actual      model.Label `json:"actual,omitempty"`
	FinalizedAt *time.Time  `json:"finalized_at,omitempty"`
}

// handleRecords exports records filtered by patient_id or a from/to date
// range (YYYY-MM-DD, to exclusive). format=csv returns the same tabular
// layout as the durable store; the default is JSON.
func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var records []model.ClinicalRecord
	var err error
	switch {
	case q.Get("patient_id") != "":
		records, err = s.svc.RecordsByPatient(q.Get("patient_id"))
	case q.Get("from") != "" || q.Get("to") != "":
		from, to, perr := parseDateRange(q.Get("from"), q.Get("to"))
		if perr != nil {
			writeError(w, perr)
			return
		}
		records, err = s.svc.RecordsByDateRange(from, to)
	default:
		records, err = s.svc.AllRecords()
	}
	if err != nil {
		writeError(w, err)
		return
	}

	if q.Get("format") == "csv" {
		s.writeRecordsCSV(w, records)
		return
	}

	out := make([]recordResponse, 0, len(records))
	for _, rec := range records {
		rr := recordResponse{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			PatientID: rec.PatientID,
			Symptoms:  rec.Symptoms,
			Predicted: rec.Predicted,
			Actual:    rec.Actual,
		}
		if !rec.FinalizedAt.IsZero() {
			t := rec.FinalizedAt
			rr.FinalizedAt = &t
		}
		out = append(out, rr)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeRecordsCSV(w http.ResponseWriter, records []model.ClinicalRecord) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="clinical_records.csv"`)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"timestamp", "patient_id", "symptoms", "predicted", "actual"})
	for _, rec := range records {
		_ = cw.Write([]string{
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.PatientID,
			sqlite.EncodeSymptoms(rec.Symptoms),
			string(rec.Predicted),
			string(rec.Actual),
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Printf("records export: %v", err)
	}
}

func parseDateRange(fromStr, toStr string) (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Now().UTC().Add(24 * time.Hour)
	if fromStr != "" {
		t, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, &model.ValidationError{Field: "from", Reason: "want YYYY-MM-DD"}
		}
		from = t
	}
	if toStr != "" {
		t, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			return time.Time{}, time.Time{}, &model.ValidationError{Field: "to", Reason: "want YYYY-MM-DD"}
		}
		to = t
	}
	return from, to, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case model.IsValidation(err):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, engine.ErrModelUnavailable):
		writeErrorMessage(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, sqlite.ErrRecordNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sqlite.ErrAlreadyFinalized):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	default:
		log.Printf("internal error: %v", err)
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}

func writeErrorMessage(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}
