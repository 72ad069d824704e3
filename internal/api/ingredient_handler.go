package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/pantry-api/internal/api/shared"
	"github.com/phrazzld/pantry-api/internal/domain"
)

// IngredientHandler serves the read-only ingredient catalog.
type IngredientHandler struct {
	catalog *domain.Catalog
}

// NewIngredientHandler creates a new IngredientHandler.
func NewIngredientHandler(catalog *domain.Catalog) (*IngredientHandler, error) {
	if catalog == nil {
		return nil, errors.New("ingredient catalog cannot be nil")
	}
	return &IngredientHandler{catalog: catalog}, nil
}

// ListIngredients handles GET /api/ingredients requests.
func (h *IngredientHandler) ListIngredients(w http.ResponseWriter, r *http.Request) {
	all := h.catalog.All()
	out := make([]IngredientResponse, 0, len(all))
	for _, ing := range all {
		out = append(out, ingredientToResponse(ing))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, out)
}
