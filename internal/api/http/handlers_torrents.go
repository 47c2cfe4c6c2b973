package apihttp

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"strings"
	"time"

	"webtorrent/internal/domain"
)

func (s *Server) handleTorrents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTorrent(w, r)
	case http.MethodGet:
		s.handleListTorrents(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleCreateTorrent(w http.ResponseWriter, r *http.Request) {
	if s.createTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "create torrent use case not configured")
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		mediaType = ""
	}

	switch mediaType {
	case "application/json":
		s.handleCreateTorrentJSON(w, r)
	case "multipart/form-data":
		s.handleCreateTorrentMultipart(w, r)
	default:
		writeError(w, http.StatusUnsupportedMediaType, "unsupported_media_type", "unsupported content type")
	}
}

type createTorrentJSON struct {
	Magnet string `json:"magnet"`
}

func (s *Server) handleCreateTorrentJSON(w http.ResponseWriter, r *http.Request) {
	var body createTorrentJSON
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	s.createAndRespond(w, r, domain.TorrentSource{Magnet: strings.TrimSpace(body.Magnet)})
}

func (s *Server) handleCreateTorrentMultipart(w http.ResponseWriter, r *http.Request) {
	const maxMemory = 5 << 20
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid multipart form")
		return
	}

	file, header, err := r.FormFile("torrent")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing torrent file")
		return
	}
	defer file.Close()

	path, err := saveUploadedFile(file, header.Filename)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to store torrent file")
		return
	}
	// The engine has parsed the metainfo by the time Open returns.
	defer os.Remove(path)

	s.createAndRespond(w, r, domain.TorrentSource{Torrent: path})
}

func (s *Server) createAndRespond(w http.ResponseWriter, r *http.Request, src domain.TorrentSource) {
	// Cap the handler execution time so we never block indefinitely.
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()

	state, err := s.createTorrent.Execute(ctx, src)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, state)
}

type torrentStateList struct {
	Items []domain.TorrentState `json:"items"`
	Count int                   `json:"count"`
}

func (s *Server) handleListTorrents(w http.ResponseWriter, r *http.Request) {
	if s.listStates == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "list torrents use case not configured")
		return
	}
	states, err := s.listStates.Execute(r.Context())
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if states == nil {
		states = []domain.TorrentState{}
	}
	writeJSON(w, http.StatusOK, torrentStateList{Items: states, Count: len(states)})
}

// handleTorrentByID routes everything under /torrents/{id}.
func (s *Server) handleTorrentByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/torrents/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := domain.TorrentID(parts[0])

	switch {
	case len(parts) == 1:
		switch r.Method {
		case http.MethodGet:
			s.handleGetTorrent(w, r, id)
		case http.MethodDelete:
			s.handleDeleteTorrent(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case len(parts) == 2 && parts[1] == "files":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleListFiles(w, r, id)
	case len(parts) == 4 && parts[1] == "files":
		s.handleFileAction(w, r, id, parts[2], parts[3])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetTorrent(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	if s.getState == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "get torrent use case not configured")
		return
	}
	state, err := s.getState.Execute(r.Context(), id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeleteTorrent(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	if s.deleteTorrent == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "delete torrent use case not configured")
		return
	}
	if err := s.deleteTorrent.Execute(r.Context(), id); err != nil {
		writeUseCaseError(w, err)
		return
	}
	s.logger.Info("torrent removed", slog.String("torrentId", string(id)))
	w.WriteHeader(http.StatusNoContent)
}
