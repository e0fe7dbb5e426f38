package todo

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Handler exposes Service over HTTP, routed with chi so id is a URL param
// rather than living in every request body.
type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts every todo endpoint onto r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/todos/{id}", h.handleCreate)
	r.Get("/todos/{id}", h.handleGet)
	r.Post("/todos/{id}/complete", h.handleComplete)
	r.Post("/todos/{id}/reopen", h.handleReopen)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.service.CreateTodo(r.Context(), chi.URLParam(r, "id"), req.Title)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(view)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GetTodo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(view)
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.CompleteTodo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	json.NewEncoder(w).Encode(view)
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.ReopenTodo(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	json.NewEncoder(w).Encode(view)
}
