// Package api implements the REST handlers over the board
// orchestrator. Handlers translate HTTP to orchestrator calls and map
// its error kinds onto status codes; they hold no board logic.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"taskdeck/board"
	"taskdeck/task"
)

// GatewayProber is the slice of the gateway client the status
// endpoint uses.
type GatewayProber interface {
	Status(ctx context.Context) (int, error)
}

// Handlers bundles all REST API handler dependencies.
type Handlers struct {
	Board          *board.Orchestrator
	Gateway        GatewayProber // nil when disabled
	GatewayEnabled bool
	Logger         *slog.Logger
	Version        string
	StartAt        int64 // unix timestamp of server start
}

// RegisterRoutes registers all API routes on the given mux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/agents", h.listAgents)
	mux.HandleFunc("GET /api/agents/{name}/tasks", h.agentTasks)

	mux.HandleFunc("GET /api/tasks", h.listTasks)
	mux.HandleFunc("POST /api/tasks", h.createTask)
	mux.HandleFunc("GET /api/tasks/{id}", h.getTask)
	mux.HandleFunc("PATCH /api/tasks/{id}", h.updateTask)
	mux.HandleFunc("DELETE /api/tasks/{id}", h.deleteTask)
	mux.HandleFunc("POST /api/tasks/{id}/move", h.moveTask)

	mux.HandleFunc("GET /api/tasks/{id}/comments", h.listComments)
	mux.HandleFunc("POST /api/tasks/{id}/comments", h.addComment)
	mux.HandleFunc("DELETE /api/tasks/{id}/comments/{commentID}", h.deleteComment)

	mux.HandleFunc("GET /api/tasks/{id}/action-items", h.listItems)
	mux.HandleFunc("POST /api/tasks/{id}/action-items", h.addItem)
	mux.HandleFunc("POST /api/action-items/{id}/resolve", h.resolveItem)
	mux.HandleFunc("POST /api/action-items/{id}/archive", h.archiveItem)
	mux.HandleFunc("POST /api/action-items/{id}/unarchive", h.unarchiveItem)
	mux.HandleFunc("DELETE /api/action-items/{id}", h.deleteItem)

	mux.HandleFunc("POST /api/tasks/{id}/start-work", h.startWork)
	mux.HandleFunc("POST /api/tasks/{id}/stop-work", h.stopWork)

	mux.HandleFunc("GET /api/activity", h.listActivity)
	mux.HandleFunc("GET /api/version", h.version)
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// boardError maps orchestrator error kinds to status codes.
func (h *Handlers) boardError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, board.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, board.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.Logger.Error("request failed", slog.Any("err", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// --- Agent handlers ---

func (h *Handlers) listAgents(w http.ResponseWriter, _ *http.Request) {
	type agentInfo struct {
		Name    string `json:"name"`
		Profile string `json:"profile,omitempty"`
	}
	roster := h.Board.Roster()
	out := make([]agentInfo, 0, len(roster))
	for _, a := range roster {
		out = append(out, agentInfo{Name: a.Name, Profile: a.Profile})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) agentTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.Board.AgentTasks(r.PathValue("name"))
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// --- Task handlers ---

func (h *Handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.Filter{}

	if s := q.Get("status"); s != "" {
		st := task.Status(s)
		if !st.Valid() {
			writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(s))
			return
		}
		filter.Status = &st
	}
	if a := q.Get("assigned_to"); a != "" {
		filter.AssignedTo = a
	}
	if l := q.Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			filter.Limit = n
		}
	}
	if o := q.Get("offset"); o != "" {
		if n, err := strconv.Atoi(o); err == nil {
			filter.Offset = n
		}
	}

	tasks, err := h.Board.ListTasks(filter)
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (h *Handlers) createTask(w http.ResponseWriter, r *http.Request) {
	var req board.CreateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	v, err := h.Board.CreateTask(req)
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handlers) getTask(w http.ResponseWriter, r *http.Request) {
	v, err := h.Board.GetTask(r.PathValue("id"))
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) updateTask(w http.ResponseWriter, r *http.Request) {
	var req board.UpdateTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	v, err := h.Board.UpdateTask(r.PathValue("id"), req)
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handlers) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := h.Board.DeleteTask(r.PathValue("id"), r.URL.Query().Get("actor")); err != nil {
		h.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) moveTask(w http.ResponseWriter, r *http.Request) {
	var req board.MoveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	v, err := h.Board.MoveTask(r.PathValue("id"), req)
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- Comment handlers ---

func (h *Handlers) listComments(w http.ResponseWriter, r *http.Request) {
	comments, err := h.Board.Comments(r.PathValue("id"))
	if err != nil {
		h.boardError(w, err)
		return
	}
	if comments == nil {
		comments = []*task.Comment{}
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *Handlers) addComment(w http.ResponseWriter, r *http.Request) {
	var req board.CommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	c, err := h.Board.AddComment(r.PathValue("id"), req)
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handlers) deleteComment(w http.ResponseWriter, r *http.Request) {
	if err := h.Board.DeleteComment(r.PathValue("id"), r.PathValue("commentID")); err != nil {
		h.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Action item handlers ---

func (h *Handlers) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := task.ItemFilter{}
	if v := q.Get("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "resolved must be true or false")
			return
		}
		filter.Resolved = &b
	}
	if v := q.Get("archived"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "archived must be true or false")
			return
		}
		filter.Archived = &b
	}

	items, err := h.Board.Items(r.PathValue("id"), filter)
	if err != nil {
		h.boardError(w, err)
		return
	}
	if items == nil {
		items = []*task.ActionItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) addItem(w http.ResponseWriter, r *http.Request) {
	var req board.ItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	item, err := h.Board.AddActionItem(r.PathValue("id"), req)
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (h *Handlers) resolveItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolver string `json:"resolver,omitempty"`
		Note     string `json:"note,omitempty"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}
	item, err := h.Board.ResolveActionItem(r.PathValue("id"), req.Resolver, req.Note)
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) archiveItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Board.ArchiveActionItem(r.PathValue("id"))
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) unarchiveItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Board.UnarchiveActionItem(r.PathValue("id"))
	if err != nil {
		h.boardError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Board.DeleteActionItem(r.PathValue("id")); err != nil {
		h.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Working indicator handlers ---

func (h *Handlers) startWork(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent query parameter is required")
		return
	}
	if err := h.Board.StartWork(r.PathValue("id"), agent); err != nil {
		h.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) stopWork(w http.ResponseWriter, r *http.Request) {
	agent := r.URL.Query().Get("agent")
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent query parameter is required")
		return
	}
	if err := h.Board.StopWork(r.PathValue("id"), agent); err != nil {
		h.boardError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Activity / status / version ---

func (h *Handlers) listActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			limit = n
		}
	}
	entries, err := h.Board.Activity(limit)
	if err != nil {
		h.boardError(w, err)
		return
	}
	if entries == nil {
		entries = []*task.Activity{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) status(w http.ResponseWriter, r *http.Request) {
	gw := map[string]any{"enabled": h.GatewayEnabled}
	if h.GatewayEnabled && h.Gateway != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if n, err := h.Gateway.Status(ctx); err != nil {
			gw["reachable"] = false
		} else {
			gw["reachable"] = true
			gw["sessions"] = n
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        h.Version,
		"uptime_seconds": time.Now().Unix() - h.StartAt,
		"gateway":        gw,
	})
}

// StatusHandler returns the status handler function for external registration.
func (h *Handlers) StatusHandler() http.HandlerFunc {
	return h.status
}

func (h *Handlers) version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": h.Version,
	})
}
