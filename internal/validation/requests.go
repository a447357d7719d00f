package validation

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/graph"
	"github.com/alanyoungcy/routeengine/internal/routing"
)

// WeightsRequest overrides routing weights and decision coefficients. Unset
// fields keep the stock values.
type WeightsRequest struct {
	CostWeight        *float64 `json:"cost_weight" validate:"omitempty,gte=0"`
	LatencyWeight     *float64 `json:"latency_weight" validate:"omitempty,gte=0"`
	ReliabilityWeight *float64 `json:"reliability_weight" validate:"omitempty,gte=0"`
	Alpha             *float64 `json:"alpha" validate:"omitempty,gte=0,lte=1"`
	Beta              *float64 `json:"beta" validate:"omitempty,gte=0,lte=1"`
	Gamma             *float64 `json:"gamma" validate:"omitempty,gte=0,lte=1"`
}

func (w *WeightsRequest) toDomain() *domain.RoutingWeights {
	if w == nil {
		return nil
	}
	gw, d := graph.DefaultWeights(), routing.DefaultDecision()
	pick := func(v *float64, def float64) float64 {
		if v == nil {
			return def
		}
		return *v
	}
	return &domain.RoutingWeights{
		Cost:        pick(w.CostWeight, gw.Cost),
		Latency:     pick(w.LatencyWeight, gw.Latency),
		Reliability: pick(w.ReliabilityWeight, gw.Reliability),
		Alpha:       pick(w.Alpha, d.Alpha),
		Beta:        pick(w.Beta, d.Beta),
		Gamma:       pick(w.Gamma, d.Gamma),
	}
}

// ExecuteRequest is the body of an execution start.
type ExecuteRequest struct {
	FromAsset      string          `json:"from_asset" validate:"required,asset"`
	ToAsset        string          `json:"to_asset" validate:"required,asset"`
	FromNetwork    string          `json:"from_network" validate:"omitempty,network"`
	ToNetwork      string          `json:"to_network" validate:"omitempty,network"`
	Amount         float64         `json:"amount" validate:"gt=0"`
	Parallel       bool            `json:"parallel"`
	AIRerouting    bool            `json:"ai_rerouting"`
	Weights        *WeightsRequest `json:"weights" validate:"omitempty"`
	IdempotencyKey string          `json:"idempotency_key" validate:"max=128"`
}

// ValidateExecuteRequest checks req and converts it for the orchestrator.
func ValidateExecuteRequest(req *ExecuteRequest) (domain.ExecutionRequest, error) {
	if req == nil {
		return domain.ExecutionRequest{}, &Error{"body", "field is required"}
	}
	if err := validate.Struct(req); err != nil {
		return domain.ExecutionRequest{}, formatValidationError(err)
	}
	return domain.ExecutionRequest{
		FromAsset:      req.FromAsset,
		ToAsset:        req.ToAsset,
		FromNetwork:    strings.ToLower(req.FromNetwork),
		ToNetwork:      strings.ToLower(req.ToNetwork),
		Amount:         req.Amount,
		Parallel:       req.Parallel,
		AIRerouting:    req.AIRerouting,
		Weights:        req.Weights.toDomain(),
		IdempotencyKey: req.IdempotencyKey,
	}, nil
}

// RouteRequest is a route query read from URL parameters.
type RouteRequest struct {
	FromAsset   string `json:"from_asset" validate:"required,asset"`
	ToAsset     string `json:"to_asset" validate:"required,asset"`
	FromNetwork string `json:"from_network" validate:"omitempty,network"`
	ToNetwork   string `json:"to_network" validate:"omitempty,network"`
	MaxHops     int    `json:"max_hops" validate:"gte=0,lte=10"`
	K           int    `json:"k" validate:"gte=0,lte=50"`
	Weights     *WeightsRequest
}

// ValidateRouteRequest checks req and returns the planner query.
func ValidateRouteRequest(req *RouteRequest) (domain.RouteQuery, *domain.RoutingWeights, error) {
	if req == nil {
		return domain.RouteQuery{}, nil, &Error{"query", "field is required"}
	}
	if err := validate.Struct(req); err != nil {
		return domain.RouteQuery{}, nil, formatValidationError(err)
	}
	if strings.EqualFold(req.FromAsset, req.ToAsset) && strings.EqualFold(req.FromNetwork, req.ToNetwork) {
		return domain.RouteQuery{}, nil, &Error{"to_asset", "must differ from from_asset"}
	}
	q := domain.RouteQuery{
		FromAsset:   req.FromAsset,
		ToAsset:     req.ToAsset,
		FromNetwork: strings.ToLower(req.FromNetwork),
		ToNetwork:   strings.ToLower(req.ToNetwork),
		MaxHops:     req.MaxHops,
	}
	return q, req.Weights.toDomain(), nil
}

// CancelRequest is the body of a cancel call.
type CancelRequest struct {
	CancelPending bool `json:"cancel_pending"`
	Rollback      bool `json:"rollback"`
}

// RerouteRequest is the body of a reroute call.
type RerouteRequest struct {
	FromCurrentPosition bool             `json:"from_current_position"`
	NewRoute            []domain.Segment `json:"new_route"`
}

// ValidateRerouteRequest requires either a recompute or an explicit route of
// valid, contiguous segments.
func ValidateRerouteRequest(req *RerouteRequest) ([]domain.Segment, error) {
	if req == nil {
		return nil, &Error{"body", "field is required"}
	}
	if req.FromCurrentPosition {
		return nil, nil
	}
	if len(req.NewRoute) == 0 {
		return nil, &Error{"new_route", "field is required when from_current_position is false"}
	}
	route, err := ValidateSegments(req.NewRoute)
	if err != nil {
		return nil, err
	}
	for i := 1; i < len(route); i++ {
		if !strings.EqualFold(route[i-1].ToAsset, route[i].FromAsset) {
			return nil, &Error{"new_route", fmt.Sprintf("segment %d starts at %s, previous ends at %s", i, route[i].FromAsset, route[i-1].ToAsset)}
		}
	}
	return route, nil
}

// ModifyRequest is the body of a transaction modification.
type ModifyRequest struct {
	SegmentIndex *int     `json:"segment_index" validate:"required,gte=0"`
	NewAmount    *float64 `json:"new_amount" validate:"omitempty,gt=0"`
}

// ValidateModifyRequest checks req.
func ValidateModifyRequest(req *ModifyRequest) error {
	if req == nil {
		return &Error{"body", "field is required"}
	}
	return formatValidationError(validate.Struct(req))
}
