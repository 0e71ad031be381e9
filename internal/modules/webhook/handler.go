package webhook

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// signatureHeaders maps each provider to its delivery signature header.
var signatureHeaders = map[pos.Provider]string{
	pos.ProviderSquare:  "x-square-hmacsha256-signature",
	pos.ProviderShopify: "X-Shopify-Hmac-Sha256",
	pos.ProviderZettle:  "X-iZettle-Signature",
}

// Handler owns the inbound delivery endpoint and the subscription CRUD
// surface.
type Handler struct {
	service   Service
	validate  *validator.Validate
	publicURL string // origin vendors were given as notification target
}

func NewHandler(service Service, publicURL string) *Handler {
	return &Handler{service: service, validate: validator.New(), publicURL: publicURL}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	// Deliveries land outside /api: vendors get this exact URL at
	// subscription time and Square signs over it.
	r.Post("/webhooks/{provider}/{business_id}", h.receive)

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/businesses/{business_id}/subscriptions", h.createSubscription)
		r.Get("/businesses/{business_id}/subscriptions", h.listSubscriptions)
		r.Put("/businesses/{business_id}/subscriptions/{id}", h.updateSubscription)
		r.Delete("/businesses/{business_id}/subscriptions/{id}", h.deleteSubscription)
	})
}

func (h *Handler) receive(w http.ResponseWriter, r *http.Request) {
	provider := pos.Provider(strings.ToUpper(chi.URLParam(r, "provider")))
	businessID := chi.URLParam(r, "business_id")

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(signatureHeaders[provider])
	signedURL := h.publicURL + r.URL.Path

	result, err := h.service.Ingest(r.Context(), businessID, payload, signature, signedURL)
	if err != nil {
		// Unknown business or vendor trouble: let the vendor retry.
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if !result.Accepted {
		// Signature mismatch. No body, no detail.
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	var req CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sub, err := h.service.CreateSubscription(r.Context(), businessID, req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, sub)
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	subs, err := h.service.ListSubscriptions(r.Context(), businessID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"subscriptions": subs})
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	var sub pos.WebhookSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sub.ID = chi.URLParam(r, "id")
	updated, err := h.service.UpdateSubscription(r.Context(), businessID, sub)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, updated)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	if err := h.service.DeleteSubscription(r.Context(), businessID, chi.URLParam(r, "id")); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusNoContent, nil)
}

func respondError(w http.ResponseWriter, err error) {
	detail := pos.AsDetail(err)
	code := http.StatusBadGateway
	switch detail.Code {
	case pos.CodeNotSupported:
		code = http.StatusConflict
	case pos.CodeNotFound:
		code = http.StatusNotFound
	case pos.CodeUnauthorized, pos.CodeConnectionValidationFailed:
		code = http.StatusUnprocessableEntity
	case pos.CodeRateLimited:
		code = http.StatusTooManyRequests
	}
	respond(w, code, map[string]interface{}{"error": detail})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		json.NewEncoder(w).Encode(body)
	}
}
