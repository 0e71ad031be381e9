package connect

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/tapfeedhq/tapfeed-backend/internal/modules/pos"
)

// Handler exposes the OAuth connect flow.
type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/connect", func(r chi.Router) {
		r.Post("/{provider}/url", h.generateAuthURL) // POST   /api/v1/connect/{provider}/url
		r.Get("/callback", h.callback)               // GET    /api/v1/connect/callback?code=&state=
		r.Post("/{business_id}/refresh", h.refresh)  // POST   /api/v1/connect/{business_id}/refresh
		r.Delete("/{business_id}", h.disconnect)     // DELETE /api/v1/connect/{business_id}
	})
}

func (h *Handler) generateAuthURL(w http.ResponseWriter, r *http.Request) {
	provider := pos.Provider(strings.ToUpper(chi.URLParam(r, "provider")))
	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	start, err := h.service.GenerateAuthURL(r.Context(), provider, req)
	if err != nil {
		code := http.StatusBadRequest
		if pos.HasCode(err, pos.CodeNotSupported) {
			code = http.StatusConflict
		}
		respond(w, code, map[string]interface{}{"error": pos.AsDetail(err)})
		return
	}
	respond(w, http.StatusOK, start)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		respond(w, http.StatusBadRequest, map[string]string{"error": "code and state are required"})
		return
	}
	result, err := h.service.HandleCallback(r.Context(), code, state)
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case pos.HasCode(err, pos.CodeInvalidState):
			status = http.StatusForbidden
		case pos.HasCode(err, pos.CodeTokenExchangeFailed):
			status = http.StatusUnprocessableEntity
		case pos.HasCode(err, pos.CodeConnectionValidationFailed):
			status = http.StatusUnprocessableEntity
		}
		body := map[string]interface{}{"error": pos.AsDetail(err)}
		if result != nil {
			body["status"] = result.Status
		}
		respond(w, status, body)
		return
	}
	respond(w, http.StatusOK, result)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	if err := h.service.Refresh(r.Context(), businessID); err != nil {
		code := http.StatusBadGateway
		if pos.HasCode(err, pos.CodeNotSupported) {
			code = http.StatusConflict
		}
		respond(w, code, map[string]interface{}{"error": pos.AsDetail(err)})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "refreshed"})
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	businessID := chi.URLParam(r, "business_id")
	if err := h.service.Disconnect(r.Context(), businessID); err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
