package feedback

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// Handler exposes the claim endpoints.
type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/feedback", func(r chi.Router) {
		r.Post("/claims", h.claim)                              // POST /api/v1/feedback/claims
		r.Get("/claims/{id}", h.getClaim)                       // GET  /api/v1/feedback/claims/{id}
		r.Get("/businesses/{business_id}/claims", h.listClaims) // GET  /api/v1/feedback/businesses/{id}/claims
	})
}

func (h *Handler) claim(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	claim, err := h.service.ClaimPurchase(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNoMatch):
			respond(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		case errors.Is(err, ErrAlreadyClaimed):
			respond(w, http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			respond(w, http.StatusBadGateway, map[string]interface{}{"error": pos.AsDetail(err)})
		}
		return
	}
	respond(w, http.StatusCreated, claim)
}

func (h *Handler) getClaim(w http.ResponseWriter, r *http.Request) {
	claim, err := h.service.GetClaim(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, claim)
}

func (h *Handler) listClaims(w http.ResponseWriter, r *http.Request) {
	claims, err := h.service.ListBusinessClaims(r.Context(), chi.URLParam(r, "business_id"))
	if err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"claims": claims})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
