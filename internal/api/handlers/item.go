package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pensieve-ai/pensieve/internal/api"
	"github.com/pensieve-ai/pensieve/internal/api/middleware"
)

// ItemHandler serves knowledge item status and listings.
type ItemHandler struct {
	items ItemStore
}

func NewItemHandler(items ItemStore) *ItemHandler {
	return &ItemHandler{items: items}
}

// Get returns one item by ID. Polling this endpoint is how clients observe
// an ingestion pass settling.
func (h *ItemHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())
	id := chi.URLParam(r, "id")

	item, err := h.items.GetByID(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}
	if item.OwnerID != ownerID {
		api.Error(w, http.StatusNotFound, "item not found")
		return
	}

	api.Success(w, http.StatusOK, itemToResponse(item))
}

// List returns the owner's most recent items.
func (h *ItemHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.GetOwnerID(r.Context())

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			api.Error(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = parsed
	}

	items, err := h.items.ListByOwner(r.Context(), ownerID, limit)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*ItemResponse, 0, len(items))
	for _, item := range items {
		responses = append(responses, itemToResponse(item))
	}
	api.Success(w, http.StatusOK, responses)
}
