// Package notify alerts operators about terminal executions through one or
// more chat senders, filtered by final status.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// Sender delivers one message to a channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans a message out to every sender. Only statuses in the allowed
// set are forwarded; an empty set allows all.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. events holds execution statuses such as
// "failed" or "cancelled".
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool { return len(n.senders) > 0 }

// NotifyExecution reports a terminal execution when its status passes the
// filter.
func (n *Notifier) NotifyExecution(ctx context.Context, r domain.ExecutionResult) error {
	status := string(r.Status)
	if len(n.events) > 0 && !n.events[status] {
		n.logger.DebugContext(ctx, "execution notification filtered",
			slog.String("execution_id", r.ExecutionID),
			slog.String("status", status),
		)
		return nil
	}
	title, message := FormatExecution(r)
	return n.dispatch(ctx, title, message)
}

// NotifyAll sends a free-form message to every sender.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// FormatExecution renders the title and body of an execution alert.
func FormatExecution(r domain.ExecutionResult) (string, string) {
	title := fmt.Sprintf("Execution %s %s", shortID(r.ExecutionID), strings.ToUpper(string(r.Status)))

	var b strings.Builder
	if n := len(r.Route); n > 0 {
		fmt.Fprintf(&b, "Route: %s -> %s (%d segments)\n", r.Route[0].FromAsset, r.Route[n-1].ToAsset, n)
	}
	fmt.Fprintf(&b, "Input: %.2f  Output: %.2f\n", r.InputAmount, r.FinalAmount)
	fmt.Fprintf(&b, "Fees: %.2f (%.2f%%)\n", r.TotalFees, r.TotalCostPercent)
	fmt.Fprintf(&b, "Settled: %d segments in %.0f min", len(r.Segments), r.TotalTimeMinutes)
	if r.Error != "" {
		fmt.Fprintf(&b, "\nError: %s", r.Error)
	}
	return title, b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// dispatch delivers to every sender and joins the failures.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.WarnContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
