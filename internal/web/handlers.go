package web

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/PatientImport/internal/core"
	"github.com/JonMunkholm/PatientImport/internal/logging"
	"github.com/JonMunkholm/PatientImport/internal/mapping"
)

// multipartOverhead leaves room for form boundaries around the file part.
const multipartOverhead = 1 << 20

// fieldView describes one assignable field.
type fieldView struct {
	Key  mapping.FieldKey `json:"key"`
	Kind string           `json:"kind"`
}

func kindName(k mapping.Kind) string {
	switch k {
	case mapping.KindPatient:
		return "patient"
	case mapping.KindConsultation:
		return "consultation"
	default:
		return "ignore"
	}
}

func (s *Server) handleListFields(w http.ResponseWriter, r *http.Request) {
	keys := mapping.Fields()
	out := make([]fieldView, len(keys))
	for i, k := range keys {
		out[i] = fieldView{Key: k, Kind: kindName(k.Kind())}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCreateSession reads the multipart "file" part and opens a session.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Import.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)

	if err := r.ParseMultipartForm(multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "too large") {
			respondError(w, r, fmt.Errorf("%w: file too large", core.ErrFileFormat))
			return
		}
		respondError(w, r, fmt.Errorf("%w: invalid multipart form: %v", errBadRequest, err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: no file provided", errBadRequest))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	view, err := s.service.CreateSession(r.Context(), header.Filename, data)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, view)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.service.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// assignRequest is the body of a manual mapping override.
type assignRequest struct {
	Column *int   `json:"column"`
	Field  string `json:"field"`
}

func (s *Server) handleAssignField(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4096))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, r, fmt.Errorf("%w: invalid json: %v", errBadRequest, err))
		return
	}
	if req.Column == nil {
		respondError(w, r, fmt.Errorf("%w: column is required", errBadRequest))
		return
	}
	key, err := mapping.ParseFieldKey(req.Field)
	if err != nil {
		respondError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	view, err := s.service.AssignField(r.Context(), chi.URLParam(r, "sessionID"), *req.Column, key)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.service.StartImport(r.Context(), sessionID); err != nil {
		respondError(w, r, err)
		return
	}
	view, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, view)
}

// handleProgress streams progress as Server-Sent Events until the run ends.
// The event ID is the row count so a reconnecting client can pass
// lastEventId (or Last-Event-ID) and skip rows it already saw.
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	lastEventID := -1
	raw := r.Header.Get("Last-Event-ID")
	if q := r.URL.Query().Get("lastEventId"); q != "" {
		raw = q
	}
	if n, err := strconv.Atoi(raw); err == nil {
		lastEventID = n
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, r, errors.New("streaming not supported"))
		return
	}

	progressCh, err := s.service.SubscribeProgress(r.Context(), sessionID)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case p, ok := <-progressCh:
			if !ok {
				fmt.Fprint(w, "event: complete\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			if p.CurrentRow <= lastEventID && p.Phase == core.PhaseImporting {
				continue
			}
			data, err := json.Marshal(p)
			if err != nil {
				logging.FromContext(r.Context()).Error("encode progress", "error", err)
				continue
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", p.CurrentRow, data)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// handleResult blocks until the run finishes or the request times out.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.GetResult(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleExportErrors writes the failed rows of a finished run as CSV: the
// line number, error kind and message followed by the original cells.
func (s *Server) handleExportErrors(w http.ResponseWriter, r *http.Request) {
	headers, failed, err := s.service.FailedRows(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	filename := fmt.Sprintf("import_errors_%s.csv", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))

	cw := csv.NewWriter(w)
	cw.Write(append([]string{"_line", "_kind", "_error"}, headers...))
	for _, row := range failed {
		cw.Write(append([]string{
			strconv.Itoa(row.Row),
			string(row.Kind),
			row.Message,
		}, row.Cells...))
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		logging.FromContext(r.Context()).Error("write error export", "error", err)
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CancelImport(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ResetSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("limit")))
	runs, err := s.service.ListHistory(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}
