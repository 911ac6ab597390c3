// Package gateway serves the impact API as JSON over HTTP on a grpc-gateway
// ServeMux.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"github.com/dpup/impact.ersn.net/server/internal/lib/export"
	"github.com/dpup/impact.ersn.net/server/internal/services"
)

const maxBodyBytes = 4 << 20

// ImpactAPI is the service surface the gateway serves
type ImpactAPI interface {
	RouteImpact(context.Context, *services.RouteImpactRequest) (*services.RouteImpactResponse, error)
	DirectionsImpact(context.Context, *services.DirectionsImpactRequest) (*services.DirectionsImpactResponse, error)
	ListRoutes(context.Context, *services.ListRoutesRequest) (*services.ListRoutesResponse, error)
	GetRoute(context.Context, *services.GetRouteRequest) (*services.GetRouteResponse, error)
}

// Handler serves the HTTP routes
type Handler struct {
	api       ImpactAPI
	marshaler runtime.Marshaler
}

// NewHandler creates a handler for api
func NewHandler(api ImpactAPI) *Handler {
	return &Handler{
		api:       api,
		marshaler: &runtime.JSONBuiltin{},
	}
}

// Register adds the impact routes to mux
func Register(mux *runtime.ServeMux, api ImpactAPI) error {
	h := NewHandler(api)

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{http.MethodPost, "/api/v1/impact/route", h.routeImpact},
		{http.MethodPost, "/api/v1/impact/directions", h.directionsImpact},
		{http.MethodGet, "/api/v1/routes", h.listRoutes},
		{http.MethodGet, "/api/v1/routes/{route_id}", h.getRoute},
		{http.MethodGet, "/api/v1/routes/{route_id}/kml", h.getRouteKML},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return fmt.Errorf("failed to register %s %s: %w", r.method, r.pattern, err)
		}
	}
	return nil
}

func (h *Handler) routeImpact(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req services.RouteImpactRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.api.RouteImpact(r.Context(), &req)
	h.respond(w, resp, err)
}

func (h *Handler) directionsImpact(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req services.DirectionsImpactRequest
	if !h.decode(w, r, &req) {
		return
	}
	resp, err := h.api.DirectionsImpact(r.Context(), &req)
	h.respond(w, resp, err)
}

func (h *Handler) listRoutes(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	resp, err := h.api.ListRoutes(r.Context(), &services.ListRoutesRequest{})
	h.respond(w, resp, err)
}

func (h *Handler) getRoute(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := h.api.GetRoute(r.Context(), &services.GetRouteRequest{RouteID: params["route_id"]})
	h.respond(w, resp, err)
}

func (h *Handler) getRouteKML(w http.ResponseWriter, r *http.Request, params map[string]string) {
	resp, err := h.api.GetRoute(r.Context(), &services.GetRouteRequest{RouteID: params["route_id"]})
	if err != nil {
		h.writeError(w, err)
		return
	}

	report := resp.Route
	name := report.Route.Name
	if report.Route.Section != "" {
		name += " (" + report.Route.Section + ")"
	}

	w.Header().Set("Content-Type", "application/vnd.google-earth.kml+xml")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Route.ID+".kml"))
	if err := export.WriteRouteImpactKML(w, name, report.Route.Geometry, report.Impacts); err != nil {
		log.Printf("Failed to write KML for %s: %v", report.Route.ID, err)
	}
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := h.marshaler.NewDecoder(body).Decode(v); err != nil {
		h.writeError(w, fmt.Errorf("%w: malformed JSON body: %v", services.ErrInvalidRequest, err))
		return false
	}
	return true
}

func (h *Handler) respond(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.write(w, http.StatusOK, resp)
}

// errorBody is the JSON error envelope
type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	code := HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		log.Printf("Request failed: %v", err)
	}
	h.write(w, code, errorBody{Code: code, Message: err.Error()})
}

func (h *Handler) write(w http.ResponseWriter, code int, v any) {
	data, err := h.marshaler.Marshal(v)
	if err != nil {
		log.Printf("Failed to marshal response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", h.marshaler.ContentType(v))
	w.WriteHeader(code)
	if _, err := w.Write(data); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}

// HTTPStatus maps service errors to HTTP status codes. A route provider
// failure is a bad gateway; a monitored route without a report yet is
// temporarily unavailable.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRouteNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, services.ErrRouteNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
