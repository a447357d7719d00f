package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

// ResultArchiver writes a terminal result to object storage and returns the
// object path.
type ResultArchiver interface {
	ArchiveResult(ctx context.Context, r domain.ExecutionResult) (string, error)
}

// ExecutionNotifier alerts operators about a terminal execution.
type ExecutionNotifier interface {
	NotifyExecution(ctx context.Context, r domain.ExecutionResult) error
}

// ArchiveService persists terminal execution results. Every sink is
// optional; a failing sink never prevents the others from running.
type ArchiveService struct {
	history  domain.ExecutionStore
	blobs    ResultArchiver
	notifier ExecutionNotifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewArchiveService creates an ArchiveService. Any sink may be nil.
func NewArchiveService(history domain.ExecutionStore, blobs ResultArchiver, notifier ExecutionNotifier, logger *slog.Logger) *ArchiveService {
	return &ArchiveService{
		history:  history,
		blobs:    blobs,
		notifier: notifier,
		timeout:  30 * time.Second,
		logger:   logger.With(slog.String("component", "archive_service")),
	}
}

// HandleEvent archives the result carried by a finished event.
func (s *ArchiveService) HandleEvent(ctx context.Context, ev domain.Event) {
	if ev.Type != domain.EventExecutionFinished || ev.Result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.Archive(ctx, *ev.Result); err != nil {
		s.logger.WarnContext(ctx, "execution archive incomplete",
			slog.String("execution_id", ev.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
}

// Archive writes r to every configured sink and joins their errors.
func (s *ArchiveService) Archive(ctx context.Context, r domain.ExecutionResult) error {
	var errs []error
	if s.history != nil {
		if err := s.history.Save(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	if s.blobs != nil {
		path, err := s.blobs.ArchiveResult(ctx, r)
		if err != nil {
			errs = append(errs, fmt.Errorf("blob: %w", err))
		} else {
			s.logger.DebugContext(ctx, "execution result archived",
				slog.String("execution_id", r.ExecutionID),
				slog.String("path", path),
			)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyExecution(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("notify: %w", err))
		}
	}
	return errors.Join(errs...)
}

// History returns a stored result for an execution no longer held in
// memory.
func (s *ArchiveService) History(ctx context.Context, id string) (domain.ExecutionResult, error) {
	if s.history == nil {
		return domain.ExecutionResult{}, domain.ErrExecutionNotFound
	}
	r, err := s.history.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ExecutionResult{}, domain.ErrExecutionNotFound
		}
		return domain.ExecutionResult{}, fmt.Errorf("archive_service: history %s: %w", id, err)
	}
	return r, nil
}

// Recent lists stored results newest first.
func (s *ArchiveService) Recent(ctx context.Context, opts domain.ListOpts) ([]domain.ExecutionResult, error) {
	if s.history == nil {
		return nil, nil
	}
	out, err := s.history.ListRecent(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("archive_service: recent: %w", err)
	}
	return out, nil
}
