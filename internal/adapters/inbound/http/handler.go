package http

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gw2shinies/tpsync/internal/domain/entity"
	"github.com/gw2shinies/tpsync/internal/ports/inbound"
)

// Handler serves the synchronized catalog read-only:
//   - GET /api/v1/items/{id}
//   - GET /api/v1/items/{id}/recipes
//   - GET /api/v1/items/{id}/price
//   - GET /api/v1/items/{id}/history?from=&to=   (RFC 3339 bounds, both optional)
//   - GET /api/v1/recipes/{id}
//   - GET /api/v1/status
type Handler struct {
	catalog inbound.CatalogReader
	status  inbound.StatusReporter
	logger  *slog.Logger
}

// NewHandler creates a new API handler. status may be nil when no scheduler runs.
func NewHandler(catalog inbound.CatalogReader, status inbound.StatusReporter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		catalog: catalog,
		status:  status,
		logger:  logger.With("component", "api"),
	}
}

// RegisterRoutes registers the API routes with the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/items/{id}", h.GetItem)
	mux.HandleFunc("GET /api/v1/items/{id}/recipes", h.GetItemRecipes)
	mux.HandleFunc("GET /api/v1/items/{id}/price", h.GetPrice)
	mux.HandleFunc("GET /api/v1/items/{id}/history", h.GetHistory)
	mux.HandleFunc("GET /api/v1/recipes/{id}", h.GetRecipe)
	mux.HandleFunc("GET /api/v1/status", h.GetStatus)
}

type itemResponse struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Type            string     `json:"type"`
	Rarity          string     `json:"rarity"`
	Level           int        `json:"level"`
	VendorValue     int64      `json:"vendorValue"`
	Icon            string     `json:"icon,omitempty"`
	Flags           []string   `json:"flags"`
	Tradeable       bool       `json:"tradeable"`
	RecipeCheckedAt *time.Time `json:"recipeCheckedAt,omitempty"`
}

type ingredientResponse struct {
	Kind  string `json:"kind"`
	ID    int64  `json:"id"`
	Count int    `json:"count"`
}

type recipeResponse struct {
	ID           int64                `json:"id"`
	OutputItemID int64                `json:"outputItemId"`
	OutputCount  int                  `json:"outputCount"`
	Type         string               `json:"type"`
	Disciplines  []string             `json:"disciplines"`
	MinRating    int                  `json:"minRating"`
	Ingredients  []ingredientResponse `json:"ingredients"`
}

type priceResponse struct {
	ItemID       int64     `json:"itemId"`
	Timestamp    time.Time `json:"timestamp"`
	BuyPrice     int64     `json:"buyPrice"`
	SellPrice    int64     `json:"sellPrice"`
	BuyQuantity  int64     `json:"buyQuantity"`
	SellQuantity int64     `json:"sellQuantity"`
}

type currentPriceResponse struct {
	priceResponse
	Profit int64   `json:"profit"`
	ROI    float64 `json:"roi"`
}

func toItemResponse(it *entity.Item) itemResponse {
	flags := it.Flags
	if flags == nil {
		flags = []string{}
	}
	return itemResponse{
		ID:              it.ID,
		Name:            it.Name,
		Type:            it.Type,
		Rarity:          it.Rarity,
		Level:           it.Level,
		VendorValue:     it.VendorValue,
		Icon:            it.Icon,
		Flags:           flags,
		Tradeable:       it.Tradeable,
		RecipeCheckedAt: it.RecipeCheckedAt,
	}
}

func toRecipeResponse(r *entity.Recipe) recipeResponse {
	ingredients := make([]ingredientResponse, len(r.Ingredients))
	for i, ing := range r.Ingredients {
		ingredients[i] = ingredientResponse{Kind: string(ing.Kind), ID: ing.ID, Count: ing.Count}
	}
	disciplines := r.Disciplines
	if disciplines == nil {
		disciplines = []string{}
	}
	return recipeResponse{
		ID:           r.ID,
		OutputItemID: r.OutputItemID,
		OutputCount:  r.OutputCount,
		Type:         r.Type,
		Disciplines:  disciplines,
		MinRating:    r.MinRating,
		Ingredients:  ingredients,
	}
}

func toPriceResponse(s *entity.PriceSnapshot) priceResponse {
	return priceResponse{
		ItemID:       s.ItemID,
		Timestamp:    s.Timestamp,
		BuyPrice:     s.BuyPrice,
		SellPrice:    s.SellPrice,
		BuyQuantity:  s.BuyQuantity,
		SellQuantity: s.SellQuantity,
	}
}

// GetItem handles GET /api/v1/items/{id}.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	item, err := h.catalog.GetItem(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, toItemResponse(item))
}

// GetItemRecipes handles GET /api/v1/items/{id}/recipes.
func (h *Handler) GetItemRecipes(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	recipes, err := h.catalog.GetRecipesForItem(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	out := make([]recipeResponse, len(recipes))
	for i, rec := range recipes {
		out[i] = toRecipeResponse(rec)
	}
	respondJSON(h.logger, w, http.StatusOK, out)
}

// GetRecipe handles GET /api/v1/recipes/{id}.
func (h *Handler) GetRecipe(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	recipe, err := h.catalog.GetRecipe(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, toRecipeResponse(recipe))
}

// GetPrice handles GET /api/v1/items/{id}/price.
func (h *Handler) GetPrice(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	snap, err := h.catalog.GetCurrentPrice(r.Context(), id)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	respondJSON(h.logger, w, http.StatusOK, currentPriceResponse{
		priceResponse: toPriceResponse(snap),
		Profit:        snap.Profit(),
		ROI:           snap.ROI(),
	})
}

// GetHistory handles GET /api/v1/items/{id}/history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
		return
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		h.respondError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	history, err := h.catalog.GetHistory(r.Context(), id, from, to)
	if err != nil {
		h.respondLookupError(w, err)
		return
	}
	out := make([]priceResponse, len(history))
	for i, s := range history {
		out[i] = toPriceResponse(s)
	}
	respondJSON(h.logger, w, http.StatusOK, out)
}

// GetStatus handles GET /api/v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		respondJSON(h.logger, w, http.StatusOK, []entity.JobStatus{})
		return
	}
	respondJSON(h.logger, w, http.StatusOK, h.status.Status())
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func (h *Handler) respondLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, entity.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "not found")
		return
	}
	h.logger.Error("lookup failed", "error", err)
	h.respondError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(h.logger, w, status, map[string]string{"error": message})
}
