package apihttp

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"webtorrent/internal/app"
)

type updateStorageSettingsRequest struct {
	MaxSessions      *int   `json:"maxSessions"`
	MemoryLimitBytes *int64 `json:"memoryLimitBytes"`
}

func (s *Server) handleStorageSettings(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "storage settings are not configured")
		return
	}
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.storage.Get())
	case http.MethodPatch, http.MethodPut:
		s.handleUpdateStorageSettings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleUpdateStorageSettings applies the fields present in the body and
// keeps the others.
func (s *Server) handleUpdateStorageSettings(w http.ResponseWriter, r *http.Request) {
	var body updateStorageSettingsRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	current := s.storage.Get()
	next := app.StorageSettings{
		MaxSessions:      current.MaxSessions,
		MemoryLimitBytes: current.MemoryLimitBytes,
	}
	if body.MaxSessions != nil {
		next.MaxSessions = *body.MaxSessions
	}
	if body.MemoryLimitBytes != nil {
		next.MemoryLimitBytes = *body.MemoryLimitBytes
	}

	if err := s.storage.Update(next); err != nil {
		writeUseCaseError(w, err)
		return
	}
	s.logger.Info("storage settings updated",
		slog.Int("maxSessions", next.MaxSessions),
		slog.Int64("memoryLimitBytes", next.MemoryLimitBytes),
	)
	writeJSON(w, http.StatusOK, s.storage.Get())
}
