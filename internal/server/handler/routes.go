package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/routing"
	"github.com/alanyoungcy/routeengine/internal/validation"
)

// RoutePlanner resolves routes.
type RoutePlanner interface {
	Optimal(ctx context.Context, q domain.RouteQuery, w *domain.RoutingWeights) (routing.Route, error)
	Top(ctx context.Context, q domain.RouteQuery, k int, w *domain.RoutingWeights) ([]routing.Route, error)
}

// RouteHandler serves route queries.
type RouteHandler struct {
	planner RoutePlanner
	logger  *slog.Logger
}

// NewRouteHandler creates a RouteHandler.
func NewRouteHandler(planner RoutePlanner, logger *slog.Logger) *RouteHandler {
	return &RouteHandler{planner: planner, logger: logHandler(logger, "routes")}
}

// Optimal returns the single best route.
// GET /api/routes/optimal?from_asset=&to_asset=&from_network=&to_network=&max_hops=
func (h *RouteHandler) Optimal(w http.ResponseWriter, r *http.Request) {
	q, weights, _, err := parseRouteQuery(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	route, err := h.planner.Optimal(r.Context(), q, weights)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

// Top returns up to k ranked routes.
// GET /api/routes/top?...&k=
func (h *RouteHandler) Top(w http.ResponseWriter, r *http.Request) {
	q, weights, k, err := parseRouteQuery(r)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	routes, err := h.planner.Top(r.Context(), q, k, weights)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"routes": routes,
		"count":  len(routes),
	})
}

func parseRouteQuery(r *http.Request) (domain.RouteQuery, *domain.RoutingWeights, int, error) {
	qs := r.URL.Query()
	req := validation.RouteRequest{
		FromAsset:   qs.Get("from_asset"),
		ToAsset:     qs.Get("to_asset"),
		FromNetwork: qs.Get("from_network"),
		ToNetwork:   qs.Get("to_network"),
	}
	var err error
	if req.MaxHops, err = queryInt(r, "max_hops"); err != nil {
		return domain.RouteQuery{}, nil, 0, err
	}
	if req.K, err = queryInt(r, "k"); err != nil {
		return domain.RouteQuery{}, nil, 0, err
	}

	var wr validation.WeightsRequest
	set := false
	for name, dst := range map[string]**float64{
		"cost_weight":        &wr.CostWeight,
		"latency_weight":     &wr.LatencyWeight,
		"reliability_weight": &wr.ReliabilityWeight,
		"alpha":              &wr.Alpha,
		"beta":               &wr.Beta,
		"gamma":              &wr.Gamma,
	} {
		v, err := queryFloat(r, name)
		if err != nil {
			return domain.RouteQuery{}, nil, 0, err
		}
		if v != nil {
			*dst, set = v, true
		}
	}
	if set {
		req.Weights = &wr
	}

	q, weights, err := validation.ValidateRouteRequest(&req)
	return q, weights, req.K, err
}
