package business

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Handler exposes business HTTP endpoints.
type Handler struct {
	service  Service
	validate *validator.Validate
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(r *chi.Mux) {
	r.Route("/api/v1/businesses", func(r chi.Router) {
		r.Post("/", h.register)                          // POST /api/v1/businesses
		r.Get("/", h.list)                               // GET  /api/v1/businesses
		r.Get("/{id}", h.get)                            // GET  /api/v1/businesses/{id}
		r.Put("/{id}/default-location", h.setDefault)    // PUT  /api/v1/businesses/{id}/default-location
		r.Post("/{id}/locations/sync", h.syncLocations)  // POST /api/v1/businesses/{id}/locations/sync
		r.Get("/{id}/locations", h.locations)            // GET  /api/v1/businesses/{id}/locations
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	b, err := h.service.Register(r.Context(), req)
	if err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusCreated, b)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	businesses, err := h.service.List(r.Context())
	if err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"businesses": businesses})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, b)
}

func (h *Handler) setDefault(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LocationID string `json:"location_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.LocationID == "" {
		respond(w, http.StatusBadRequest, map[string]string{"error": "location_id is required"})
		return
	}
	if err := h.service.SetDefaultLocation(r.Context(), chi.URLParam(r, "id"), req.LocationID); err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) syncLocations(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.service.SyncLocations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		code := http.StatusBadGateway
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no POS connection") {
			code = http.StatusNotFound
		}
		respond(w, code, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"locations": snapshots})
}

func (h *Handler) locations(w http.ResponseWriter, r *http.Request) {
	snapshots, err := h.service.Locations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respond(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"locations": snapshots})
}

func respond(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
