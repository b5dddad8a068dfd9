package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/Togather-Foundation/appkit/internal/ai"
	"github.com/Togather-Foundation/appkit/internal/api/problem"
	"github.com/Togather-Foundation/appkit/internal/api/render"
	"github.com/Togather-Foundation/appkit/internal/vectorstore"
)

// VectorIndex is the part of vectorstore.Store the routes use.
type VectorIndex interface {
	Upsert(ctx context.Context, doc vectorstore.Document) error
	Query(ctx context.Context, text string, limit int) ([]vectorstore.Result, error)
	Count() int
}

type VectorsHandler struct {
	Store VectorIndex
	Env   string
}

type upsertRequest struct {
	ID       string            `json:"id" validate:"required,max=256"`
	Content  string            `json:"content" validate:"required,max=100000"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Upsert handles POST /api/v1/vectors.
func (h *VectorsHandler) Upsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := render.DecodeJSON(r, &req); err != nil {
		badRequest(w, r, err, h.Env)
		return
	}
	doc := vectorstore.Document{ID: req.ID, Content: req.Content, Metadata: req.Metadata}
	if err := h.Store.Upsert(r.Context(), doc); err != nil {
		if isUnembeddable(err) {
			problem.Write(w, r, http.StatusUnprocessableEntity, problem.TypeValidation, "Validation failed", err, h.Env,
				problem.WithDetail("content has no words to index"))
			return
		}
		upstreamError(w, r, err, h.Env)
		return
	}
	render.JSON(w, http.StatusCreated, map[string]any{"id": doc.ID, "count": h.Store.Count()})
}

// Search handles GET /api/v1/vectors/search?q=&limit=.
func (h *VectorsHandler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		problem.BadRequest(w, r, errors.New("q is required"), h.Env, problem.WithDetail("query parameter q is required"))
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			problem.BadRequest(w, r, errors.New("limit must be a positive integer"), h.Env,
				problem.WithDetail("limit must be a positive integer"))
			return
		}
		limit = min(n, vectorstore.MaxQueryLimit)
	}

	results, err := h.Store.Query(r.Context(), q, limit)
	if err != nil {
		if isUnembeddable(err) {
			problem.BadRequest(w, r, err, h.Env, problem.WithDetail("query has no words to search for"))
			return
		}
		upstreamError(w, r, err, h.Env)
		return
	}
	if results == nil {
		results = []vectorstore.Result{}
	}
	render.JSON(w, http.StatusOK, map[string]any{"items": results, "count": len(results)})
}

// isUnembeddable reports input the index rejects before any upstream call.
func isUnembeddable(err error) bool {
	return errors.Is(err, vectorstore.ErrInvalidDocument) || errors.Is(err, ai.ErrEmptyInput)
}
