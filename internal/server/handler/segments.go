package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/routeengine/internal/domain"
	"github.com/alanyoungcy/routeengine/internal/service"
	"github.com/alanyoungcy/routeengine/internal/validation"
)

// SegmentCatalog lists and ingests segments.
type SegmentCatalog interface {
	ListSegments(ctx context.Context, filter domain.SegmentFilter) ([]domain.Segment, error)
	Ingest(ctx context.Context, segments []domain.Segment) (service.IngestReport, error)
}

// SegmentHandler serves the segment catalogue.
type SegmentHandler struct {
	segments SegmentCatalog
	logger   *slog.Logger
}

// NewSegmentHandler creates a SegmentHandler.
func NewSegmentHandler(segments SegmentCatalog, logger *slog.Logger) *SegmentHandler {
	return &SegmentHandler{segments: segments, logger: logHandler(logger, "segments")}
}

// ListSegments returns segments matching the optional type and asset filters.
// GET /api/segments?type=&from_asset=&to_asset=&limit=
func (h *SegmentHandler) ListSegments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.SegmentFilter{
		FromAsset: q.Get("from_asset"),
		ToAsset:   q.Get("to_asset"),
	}
	if v := q.Get("type"); v != "" {
		t, ok := domain.ParseSegmentType(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "type: unknown segment type "+v)
			return
		}
		filter.Type = t
	}
	limit, err := queryInt(r, "limit")
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit: must be a non-negative integer")
		return
	}
	filter.Limit = limit

	segs, err := h.segments.ListSegments(r.Context(), filter)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if segs == nil {
		segs = []domain.Segment{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": segs,
		"count":    len(segs),
	})
}

// IngestSegments upserts a batch of segments.
// POST /api/segments
func (h *SegmentHandler) IngestSegments(w http.ResponseWriter, r *http.Request) {
	var segs []domain.Segment
	if err := decodeJSON(r, &segs, maxIngestBytes, false); err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	if len(segs) == 0 {
		writeDomainError(w, r, h.logger, &validation.Error{Field: "body", Message: "at least one segment is required"})
		return
	}
	report, err := h.segments.Ingest(r.Context(), segs)
	if err != nil {
		writeDomainError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
