package domain

import "time"

// ExecutionStatus is the externally visible lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionPending    ExecutionStatus = "pending"
	ExecutionInProgress ExecutionStatus = "in_progress"
	ExecutionPaused     ExecutionStatus = "paused"
	ExecutionRerouting  ExecutionStatus = "rerouting"
	ExecutionCompleted  ExecutionStatus = "completed"
	ExecutionFailed     ExecutionStatus = "failed"
	ExecutionCancelled  ExecutionStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// SegmentStatus tracks one segment attempt.
type SegmentStatus string

const (
	SegmentPending    SegmentStatus = "pending"
	SegmentExecuting  SegmentStatus = "executing"
	SegmentConfirming SegmentStatus = "confirming"
	SegmentCompleted  SegmentStatus = "completed"
	SegmentFailed     SegmentStatus = "failed"
	SegmentSkipped    SegmentStatus = "skipped"
)

// SegmentResult is the immutable record of one segment attempt.
type SegmentResult struct {
	Index            int            `json:"segment_index"`
	Type             SegmentType    `json:"segment_type"`
	FromAsset        string         `json:"from_asset"`
	ToAsset          string         `json:"to_asset"`
	FromNetwork      string         `json:"from_network,omitempty"`
	ToNetwork        string         `json:"to_network,omitempty"`
	Status           SegmentStatus  `json:"status"`
	InputAmount      float64        `json:"input_amount"`
	OutputAmount     float64        `json:"output_amount"`
	FeesPaid         float64        `json:"fees_paid"`
	TxHash           string         `json:"transaction_hash,omitempty"`
	Provider         string         `json:"provider,omitempty"`
	StartedAt        time.Time      `json:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	ConfirmationMins float64        `json:"confirmation_time_minutes"`
	Error            string         `json:"error_message,omitempty"`
	Details          map[string]any `json:"simulation_data,omitempty"`
}

// WalletAddress returns the synthetic wallet recorded by the executor, if any.
func (r SegmentResult) WalletAddress() string {
	if r.Details == nil {
		return ""
	}
	addr, _ := r.Details["wallet_address"].(string)
	return addr
}

// RouteQuery identifies the endpoints of a route request.
type RouteQuery struct {
	FromAsset   string
	ToAsset     string
	FromNetwork string
	ToNetwork   string
	MaxHops     int
}

// ExecutionRequest asks the orchestrator to find and settle a route.
type ExecutionRequest struct {
	FromAsset   string
	ToAsset     string
	FromNetwork string
	ToNetwork   string
	Amount      float64
	Parallel    bool
	AIRerouting bool
	// Weights are optional per request routing overrides.
	Weights *RoutingWeights
	// IdempotencyKey makes repeated starts return the first execution.
	IdempotencyKey string
}

// Query converts the request into a routing query.
func (r ExecutionRequest) Query() RouteQuery {
	return RouteQuery{
		FromAsset:   r.FromAsset,
		ToAsset:     r.ToAsset,
		FromNetwork: r.FromNetwork,
		ToNetwork:   r.ToNetwork,
	}
}

// RoutingWeights carries both the path-cost weights and the decision layer
// alpha/beta/gamma coefficients.
type RoutingWeights struct {
	Cost        float64
	Latency     float64
	Reliability float64
	Alpha       float64
	Beta        float64
	Gamma       float64
}

// ExecutionResult aggregates every segment result of a finished (or
// currently finishing) execution.
type ExecutionResult struct {
	ExecutionID      string          `json:"execution_id"`
	Status           ExecutionStatus `json:"status"`
	Route            []Segment       `json:"route"`
	TotalCostPercent float64         `json:"total_cost_percent"`
	TotalFees        float64         `json:"total_fees"`
	InputAmount      float64         `json:"input_amount"`
	FinalAmount      float64         `json:"final_amount"`
	ETAHours         float64         `json:"eta_hours"`
	Reliability      float64         `json:"reliability"`
	Segments         []SegmentResult `json:"segment_executions"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	TotalTimeMinutes float64         `json:"total_time_minutes"`
	Error            string          `json:"error_message,omitempty"`
}

// ExecutionView is a point-in-time status snapshot of an execution.
type ExecutionView struct {
	ExecutionID         string          `json:"execution_id"`
	Status              ExecutionStatus `json:"status"`
	CurrentSegment      int             `json:"current_segment"`
	TotalSegments       int             `json:"total_segments"`
	ProgressPercent     float64         `json:"progress_percent"`
	CurrentAmount       float64         `json:"current_amount"`
	Segments            []SegmentResult `json:"segment_executions"`
	Route               []Segment       `json:"route"`
	Parallel            bool            `json:"parallel"`
	AIRerouting         bool            `json:"ai_rerouting"`
	StartedAt           time.Time       `json:"started_at"`
	EstimatedCompletion *time.Time      `json:"estimated_completion,omitempty"`
	CanCancel           bool            `json:"can_cancel"`
	CanPause            bool            `json:"can_pause"`
	CanResume           bool            `json:"can_resume"`
	CanReroute          bool            `json:"can_reroute"`
}

// TxRecord is a provider transaction recorded for a settled segment.
type TxRecord struct {
	Provider string `json:"provider"`
	TxID     string `json:"tx_id"`
}
