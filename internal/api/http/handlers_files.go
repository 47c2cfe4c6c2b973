package apihttp

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"webtorrent/internal/domain"
)

func isFileAction(action string) bool {
	switch action {
	case "stream", "select", "deselect":
		return true
	default:
		return false
	}
}

type fileStateList struct {
	Items []domain.FileState `json:"items"`
	Count int                `json:"count"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, id domain.TorrentID) {
	if s.listFiles == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "list files use case not configured")
		return
	}
	files, err := s.listFiles.Execute(r.Context(), id)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if files == nil {
		files = []domain.FileState{}
	}
	writeJSON(w, http.StatusOK, fileStateList{Items: files, Count: len(files)})
}

func (s *Server) handleFileAction(w http.ResponseWriter, r *http.Request, id domain.TorrentID, rawIndex, action string) {
	if !isFileAction(action) {
		http.NotFound(w, r)
		return
	}
	index, err := parseFileIndex(rawIndex)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}

	switch action {
	case "stream":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleStreamFile(w, r, id, index)
	case "select":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleSelectFile(w, r, id, index)
	case "deselect":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleDeselectFile(w, r, id, index)
	}
}

func (s *Server) handleSelectFile(w http.ResponseWriter, r *http.Request, id domain.TorrentID, index int) {
	if s.selectFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "select file use case not configured")
		return
	}
	priority, err := parseBoolQuery(r.URL.Query().Get("priority"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid priority")
		return
	}
	state, err := s.selectFile.Execute(r.Context(), id, index, priority)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleDeselectFile(w http.ResponseWriter, r *http.Request, id domain.TorrentID, index int) {
	if s.deselectFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "deselect file use case not configured")
		return
	}
	state, err := s.deselectFile.Execute(r.Context(), id, index)
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleStreamFile serves a file while it downloads. The stream is opened
// over the whole file and positioned on the requested range; reads block
// until the pieces they need arrive. Closing the stream when the response
// ends releases its priority boost.
func (s *Server) handleStreamFile(w http.ResponseWriter, r *http.Request, id domain.TorrentID, index int) {
	if s.streamFile == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream file use case not configured")
		return
	}

	result, err := s.streamFile.Execute(r.Context(), id, index, domain.StreamOptions{End: -1})
	if err != nil {
		writeUseCaseError(w, err)
		return
	}
	if result.Reader == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "stream reader not available")
		return
	}
	defer result.Reader.Close()

	ext := strings.ToLower(path.Ext(result.File.Path))
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = fallbackContentType(ext)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Accept-Ranges", "bytes")
	// Close the connection after streaming so keep-alive does not hold the
	// stream open after the player stops.
	w.Header().Set("Connection", "close")

	size := result.File.Length

	if r.Method == http.MethodHead {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		return
	}

	logger := s.logger.With(
		slog.String("torrentId", string(id)),
		slog.Int("fileIndex", index),
	)

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" {
		start, end, err := parseByteRange(rangeHeader, size)
		if errors.Is(err, errInvalidRange) {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid range")
			return
		}
		if errors.Is(err, errRangeNotSatisfiable) {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}

		if _, err := result.Reader.Seek(start, io.SeekStart); err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", "failed to seek stream")
			return
		}
		length := end - start + 1
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
		if _, err := io.CopyN(w, result.Reader, length); err != nil {
			logger.Debug("stream range copy interrupted", slog.String("error", err.Error()))
		}
		return
	}

	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, result.Reader); err != nil {
		logger.Debug("stream copy interrupted", slog.String("error", err.Error()))
	}
}
