// Package api serves the action tracker over JSON/HTTP.
//
// Routes (all under /api/actions):
//
//	GET    /api/actions                 tracker snapshot with derived values
//	POST   /api/actions                 start an action
//	GET    /api/actions/{id}            one action, 404 when unknown
//	PATCH  /api/actions/{id}            merge an update
//	POST   /api/actions/{id}/logs       append a log entry
//	POST   /api/actions/{id}/complete   finish, {"success": false} marks a failure
//	POST   /api/actions/{id}/cancel     cancel a cancellable action
//	POST   /api/actions/stop            emergency stop
//	POST   /api/actions/resume          clear the stop flag
//	DELETE /api/actions/history         drop finished actions
//
// Mutations on unknown ids are accepted and ignored, mirroring the tracker.
// Errors are reported as {"error": "..."}.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MrWong99/jarvis/internal/action"
)

// maxBodySize bounds request bodies.
const maxBodySize = 64 << 10

// Snapshot is the response of GET /api/actions.
type Snapshot struct {
	Actions   []action.Action `json:"actions"`
	Current   *action.Action  `json:"current,omitempty"`
	Executing bool            `json:"executing"`
	Stopped   bool            `json:"stopped"`
}

// Result is the response of mutating calls. Action is omitted when the id
// is unknown.
type Result struct {
	Action *action.Action `json:"action,omitempty"`
}

// LogRequest is the body of POST /api/actions/{id}/logs.
type LogRequest struct {
	Message  string          `json:"message"`
	Severity action.Severity `json:"severity"`
}

// CompleteRequest is the body of POST /api/actions/{id}/complete. A missing
// success field means the action succeeded.
type CompleteRequest struct {
	Success *bool `json:"success,omitempty"`
}

// Handler serves the action routes.
type Handler struct {
	tracker *action.Tracker
}

// New returns a Handler for tracker.
func New(tracker *action.Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// Register adds the action routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/actions", h.list)
	mux.HandleFunc("POST /api/actions", h.start)
	mux.HandleFunc("POST /api/actions/stop", h.stop)
	mux.HandleFunc("POST /api/actions/resume", h.resume)
	mux.HandleFunc("DELETE /api/actions/history", h.clearHistory)
	mux.HandleFunc("GET /api/actions/{id}", h.get)
	mux.HandleFunc("PATCH /api/actions/{id}", h.update)
	mux.HandleFunc("POST /api/actions/{id}/logs", h.addLog)
	mux.HandleFunc("POST /api/actions/{id}/complete", h.complete)
	mux.HandleFunc("POST /api/actions/{id}/cancel", h.cancel)
}

func (h *Handler) snapshot() Snapshot {
	s := h.tracker.Snapshot()
	return Snapshot{
		Actions:   s.Actions,
		Current:   s.Current,
		Executing: s.Executing,
		Stopped:   s.Stopped,
	}
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var d action.Descriptor
	if !decode(w, r, &d) {
		return
	}
	d.Title = strings.TrimSpace(d.Title)
	if err := validateDescriptor(d); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id := h.tracker.Start(d)
	h.writeResult(w, http.StatusCreated, id)
}

func validateDescriptor(d action.Descriptor) error {
	var errs []error
	if !d.Kind.IsValid() {
		errs = append(errs, fmt.Errorf("kind %q is not one of %v", d.Kind, action.Kinds))
	}
	if d.Title == "" {
		errs = append(errs, errors.New("title is required"))
	}
	return errors.Join(errs...)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.tracker.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("action not found"))
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var u action.Update
	if !decode(w, r, &u) {
		return
	}
	if u.Status != nil && !u.Status.IsValid() {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid status %q", *u.Status))
		return
	}
	id := r.PathValue("id")
	h.tracker.Update(id, u)
	h.writeResult(w, http.StatusOK, id)
}

func (h *Handler) addLog(w http.ResponseWriter, r *http.Request) {
	var req LogRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, errors.New("message is required"))
		return
	}
	if req.Severity == "" {
		req.Severity = action.SeverityInfo
	}
	id := r.PathValue("id")
	h.tracker.AddLog(id, req.Message, req.Severity)
	h.writeResult(w, http.StatusOK, id)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	var req CompleteRequest
	if !decode(w, r, &req) {
		return
	}
	success := req.Success == nil || *req.Success
	id := r.PathValue("id")
	h.tracker.Complete(id, success)
	h.writeResult(w, http.StatusOK, id)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	h.tracker.Cancel(id)
	h.writeResult(w, http.StatusOK, id)
}

func (h *Handler) stop(w http.ResponseWriter, _ *http.Request) {
	h.tracker.StopAll()
	slog.Warn("api: emergency stop requested")
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) resume(w http.ResponseWriter, _ *http.Request) {
	h.tracker.Resume()
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) clearHistory(w http.ResponseWriter, _ *http.Request) {
	h.tracker.ClearHistory()
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *Handler) writeResult(w http.ResponseWriter, status int, id string) {
	var res Result
	if a, ok := h.tracker.Get(id); ok {
		res.Action = &a
	}
	writeJSON(w, status, res)
}

// decode reads a JSON body into v. An empty body leaves v untouched. On
// failure it writes a 400 response and returns false.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("api: failed to encode response", "err", err)
	}
}
