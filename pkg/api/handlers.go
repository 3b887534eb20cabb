package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/siliconmark/vastmark/pkg/result"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleListRecords returns every record in the JSON store.
func (s *server) handleListRecords(w http.ResponseWriter, _ *http.Request) {
	records, err := s.readStore()
	if err != nil {
		s.log.WithError(err).Error("Failed to read record store")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading record store"})

		return
	}

	writeJSON(w, http.StatusOK, records)
}

// handleMachineRecords returns all records for one machine.
func (s *server) handleMachineRecords(w http.ResponseWriter, r *http.Request) {
	machineID, ok := machineIDParam(w, r)
	if !ok {
		return
	}

	records, err := s.readStore()
	if err != nil {
		s.log.WithError(err).Error("Failed to read record store")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading record store"})

		return
	}

	matched := make([]result.BenchmarkRecord, 0)

	for _, rec := range records {
		if rec.MachineID == machineID {
			matched = append(matched, rec)
		}
	}

	writeJSON(w, http.StatusOK, matched)
}

// handleMachineLatest returns the most recent record for one machine. It is
// served from the index when one is configured, otherwise from the store.
func (s *server) handleMachineLatest(w http.ResponseWriter, r *http.Request) {
	machineID, ok := machineIDParam(w, r)
	if !ok {
		return
	}

	if s.index != nil {
		rec, err := s.index.LatestRecordByMachine(r.Context(), machineID)
		if err != nil {
			s.log.WithError(err).Error("Failed to query index")
			writeJSON(w, http.StatusInternalServerError, errorResponse{"querying index"})

			return
		}

		if rec == nil {
			writeJSON(w, http.StatusNotFound, errorResponse{"no records for machine"})

			return
		}

		writeJSON(w, http.StatusOK, rec)

		return
	}

	records, err := s.readStore()
	if err != nil {
		s.log.WithError(err).Error("Failed to read record store")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"reading record store"})

		return
	}

	// The store is append-only, so the last matching entry is the latest.
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].MachineID == machineID {
			writeJSON(w, http.StatusOK, records[i])

			return
		}
	}

	writeJSON(w, http.StatusNotFound, errorResponse{"no records for machine"})
}

// machineIDParam parses the machineID URL parameter, writing a 400 on
// failure.
func machineIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	machineID, err := strconv.Atoi(chi.URLParam(r, "machineID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"machineID must be an integer"})

		return 0, false
	}

	return machineID, true
}

// readStore loads the record array from the JSON store file. A missing file
// means no records yet.
func (s *server) readStore() ([]result.BenchmarkRecord, error) {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return []result.BenchmarkRecord{}, nil
		}

		return nil, err
	}

	var records []result.BenchmarkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}

	return records, nil
}
