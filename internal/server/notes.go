package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/notestream/internal/notestore"
	"github.com/MrWong99/notestream/internal/observe"
	"github.com/MrWong99/notestream/internal/queue"
	"github.com/MrWong99/notestream/internal/session"
	"github.com/MrWong99/notestream/pkg/note"
)

// maxBodyBytes caps request bodies. Transcripts are sent whole, so this is
// generous.
const maxBodyBytes = 4 << 20

type createRequest struct {
	Title string `json:"title"`
	Color string `json:"color"`
}

type transcriptRequest struct {
	// Text is the full transcript so far, not just the new words.
	Text string `json:"text"`

	// Final flushes the tail as a last batch and waits for every batch of
	// the note to finish before responding.
	Final bool `json:"final"`
}

type retryRequest struct {
	Text string `json:"text"`
}

// submitResponse describes the state of a session after a submission.
type submitResponse struct {
	Batched bool       `json:"batched"`
	Seq     uint64     `json:"seq,omitempty"`
	BatchID string     `json:"batchId,omitempty"`
	Pending int        `json:"pending"`
	Note    *note.Note `json:"note,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	// The body is optional: an empty POST creates a note with defaults.
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if req.Color != "" && !note.ValidColor(req.Color) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("color %q is not one of %s", req.Color, strings.Join(note.Colors, ", ")))
		return
	}

	n := &note.Note{Title: strings.TrimSpace(req.Title), Color: req.Color}
	if err := s.store.Create(r.Context(), n); err != nil {
		s.storeError(w, r, err)
		return
	}
	s.log.Info("note created", "note_id", n.ID)
	writeJSON(w, http.StatusCreated, n)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.List(r.Context())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	n, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.sessions.Remove(r.Context(), id); err != nil {
		s.log.Warn("session did not close cleanly", "note_id", id, "err", err)
	}
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.storeError(w, r, err)
		return
	}
	s.log.Info("note deleted", "note_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req transcriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var resp submitResponse
	if t, batched := sess.Update(r.Context(), req.Text); batched {
		resp.Batched = true
		resp.Seq = t.Seq()
	}

	if !req.Final {
		resp.Pending = sess.Pending()
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	if err := sess.Stop(r.Context()); err != nil {
		writeError(w, http.StatusGatewayTimeout, fmt.Errorf("waiting for batches: %w", err))
		return
	}
	n, err := s.store.Get(r.Context(), sess.NoteID())
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	resp.Note = n
	resp.Pending = sess.Pending()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, errors.New("text is required"))
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	t, err := sess.Retry(r.Context(), req.Text)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Batched: true, Seq: t.Seq(), Pending: sess.Pending()})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Reset()
	w.WriteHeader(http.StatusNoContent)
}

// session resolves the session of the note in the path, writing an error
// response when there is none.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		return sess, true
	case errors.Is(err, session.ErrClosed), errors.Is(err, queue.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		s.storeError(w, r, err)
	}
	return nil, false
}

func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, notestore.ErrNotFound):
		writeError(w, http.StatusNotFound, notestore.ErrNotFound)
	case errors.Is(err, notestore.ErrExists):
		writeError(w, http.StatusConflict, err)
	default:
		observe.Logger(r.Context(), s.log).Error("note store request failed", "method", r.Method, "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
