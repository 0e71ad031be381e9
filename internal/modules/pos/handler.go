package pos

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes the adapter facade over HTTP.
type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/pos", func(r chi.Router) {
		r.Get("/providers", h.listProviders)                                       // GET  /api/v1/pos/providers
		r.Post("/businesses/{business_id}/match", h.match)                         // POST /api/v1/pos/businesses/{id}/match
		r.Post("/businesses/{business_id}/test-connection", h.testConnection)      // POST /api/v1/pos/businesses/{id}/test-connection
		r.Get("/businesses/{business_id}/locations", h.listLocations)              // GET  /api/v1/pos/businesses/{id}/locations
		r.Get("/businesses/{business_id}/transactions/{external_id}", h.getTransaction)
	})
}

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]interface{}{"providers": h.service.Providers()})
}

func (h *Handler) match(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	var req MatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := h.service.FindMatchingTransaction(r.Context(), businessID, req)
	if err != nil {
		respondAdapterError(w, err)
		return
	}
	respond(w, http.StatusOK, result)
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	status, err := h.service.TestConnection(r.Context(), businessID)
	if err != nil {
		respondAdapterError(w, err)
		return
	}
	respond(w, http.StatusOK, status)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	locations, err := h.service.ListLocations(r.Context(), businessID)
	if err != nil {
		respondAdapterError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"locations": locations})
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	externalID := chi.URLParam(r, "external_id")
	tx, err := h.service.GetTransaction(r.Context(), businessID, externalID)
	if err != nil {
		respondAdapterError(w, err)
		return
	}
	respond(w, http.StatusOK, tx)
}

// respondAdapterError maps taxonomy codes onto HTTP statuses and always
// renders the structured {code, message, retryable} shape.
func respondAdapterError(w http.ResponseWriter, err error) {
	detail := AsDetail(err)
	code := http.StatusBadGateway
	switch detail.Code {
	case CodeNotFound:
		code = http.StatusNotFound
	case CodeUnauthorized, CodeConnectionValidationFailed:
		code = http.StatusUnprocessableEntity
	case CodeNotSupported:
		code = http.StatusConflict
	case CodeRateLimited:
		code = http.StatusTooManyRequests
	case CodeVendorRejected:
		code = http.StatusBadRequest
	}
	if strings.Contains(err.Error(), "load credentials") {
		code = http.StatusNotFound
	}
	respond(w, code, map[string]interface{}{"error": detail})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
