package execution

import (
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// state is the control state of a live execution. It is richer than the
// externally visible domain.ExecutionStatus.
type state int

const (
	stateRunning state = iota
	statePaused
	stateCancelling
	stateRerouting
	stateDone
)

func (s state) String() string {
	switch s {
	case stateRunning:
		return "running"
	case statePaused:
		return "paused"
	case stateCancelling:
		return "cancelling"
	case stateRerouting:
		return "rerouting"
	default:
		return "done"
	}
}

// placeholderReliability is reported for every execution result.
const placeholderReliability = 0.9

type execution struct {
	mu sync.Mutex

	id        string
	req       domain.ExecutionRequest
	state     state
	route     []domain.Segment
	next      int // first segment not yet dispatched
	current   int // segments settled
	amount    float64
	wallet    string
	results   []domain.SegmentResult
	txs       map[int]domain.TxRecord
	startedAt time.Time

	evaluatedAt int
	aiReroutes  int
	routeGen    int // bumped whenever the remainder is replaced
	abort       error

	completedAt *time.Time
	result      *domain.ExecutionResult

	// wake is closed and replaced on every state change.
	wake chan struct{}
	done chan struct{}
}

func newExecution(id string, req domain.ExecutionRequest, route []domain.Segment, now time.Time) *execution {
	return &execution{
		id:          id,
		req:         req,
		state:       stateRunning,
		route:       slices.Clone(route),
		amount:      req.Amount,
		txs:         make(map[int]domain.TxRecord),
		startedAt:   now,
		evaluatedAt: -1,
		wake:        make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// setStateLocked transitions and wakes every waiter.
func (e *execution) setStateLocked(s state) {
	e.state = s
	e.wakeLocked()
}

func (e *execution) wakeLocked() {
	close(e.wake)
	e.wake = make(chan struct{})
}

func (e *execution) statusLocked() domain.ExecutionStatus {
	switch e.state {
	case statePaused:
		return domain.ExecutionPaused
	case stateRerouting:
		return domain.ExecutionRerouting
	case stateCancelling:
		return domain.ExecutionCancelled
	case stateDone:
		if e.result != nil {
			return e.result.Status
		}
	}
	return domain.ExecutionInProgress
}

// buildResult aggregates the execution. final selects terminal status
// resolution; otherwise the live status is reported.
func buildResult(e *execution, final bool) domain.ExecutionResult {
	var fees, minutes float64
	var failure string
	anyFailed := false
	for _, r := range e.results {
		fees += r.FeesPaid
		minutes += r.ConfirmationMins
		if r.Status == domain.SegmentFailed {
			anyFailed = true
			if failure == "" {
				failure = r.Error
			}
		}
	}

	status := e.statusLocked()
	if final {
		switch {
		case anyFailed:
			status = domain.ExecutionFailed
		case e.state == stateCancelling:
			status = domain.ExecutionCancelled
		case e.abort != nil:
			status = domain.ExecutionFailed
			failure = "execution aborted: " + e.abort.Error()
		default:
			status = domain.ExecutionCompleted
		}
	}

	costPct := 0.0
	if e.req.Amount > 0 {
		costPct = fees / e.req.Amount * 100
	}
	res := domain.ExecutionResult{
		ExecutionID:      e.id,
		Status:           status,
		Route:            slices.Clone(e.route),
		TotalCostPercent: costPct,
		TotalFees:        fees,
		InputAmount:      e.req.Amount,
		FinalAmount:      e.amount,
		ETAHours:         minutes / 60,
		Reliability:      placeholderReliability,
		Segments:         cloneResults(e.results),
		StartedAt:        e.startedAt,
		TotalTimeMinutes: minutes,
		Error:            failure,
	}
	if e.completedAt != nil {
		t := *e.completedAt
		res.CompletedAt = &t
	}
	return res
}

func (e *execution) viewLocked() domain.ExecutionView {
	total := len(e.route)
	progress := 0.0
	if total > 0 {
		progress = float64(e.current) / float64(total) * 100
	}
	v := domain.ExecutionView{
		ExecutionID:     e.id,
		Status:          e.statusLocked(),
		CurrentSegment:  e.current,
		TotalSegments:   total,
		ProgressPercent: progress,
		CurrentAmount:   e.amount,
		Segments:        cloneResults(e.results),
		Route:           slices.Clone(e.route),
		Parallel:        e.req.Parallel,
		AIRerouting:     e.req.AIRerouting,
		StartedAt:       e.startedAt,
	}
	live := e.state != stateDone && e.state != stateCancelling
	v.CanCancel = live
	v.CanPause = e.state == stateRunning
	v.CanResume = e.state == statePaused
	v.CanReroute = live && e.next < total
	if e.state != stateDone {
		remaining := 0.0
		for _, s := range e.route[min(e.current, total):] {
			remaining += s.Latency.Average()
		}
		eta := e.startedAt.Add(time.Duration(remaining * float64(time.Minute)))
		v.EstimatedCompletion = &eta
	}
	return v
}

func cloneResults(in []domain.SegmentResult) []domain.SegmentResult {
	out := make([]domain.SegmentResult, len(in))
	for i, r := range in {
		out[i] = r
		out[i].Details = maps.Clone(r.Details)
	}
	return out
}

func cloneResult(r domain.ExecutionResult) domain.ExecutionResult {
	r.Route = slices.Clone(r.Route)
	r.Segments = cloneResults(r.Segments)
	return r
}
