package validation

import (
	"fmt"

	"github.com/alanyoungcy/routeengine/internal/domain"
)

type segmentRules struct {
	Type        string   `json:"segment_type" validate:"required,segment_type"`
	FromAsset   string   `json:"from_asset" validate:"required,asset"`
	ToAsset     string   `json:"to_asset" validate:"required,asset"`
	FromNetwork string   `json:"from_network" validate:"omitempty,network"`
	ToNetwork   string   `json:"to_network" validate:"omitempty,network"`
	FeePercent  float64  `json:"fee_percent" validate:"gte=0,lte=100"`
	FixedFee    float64  `json:"fixed_fee" validate:"gte=0"`
	FXRate      *float64 `json:"effective_fx_rate" validate:"omitempty,gt=0"`
	MinMinutes  float64  `json:"min_minutes" validate:"gte=0"`
	MaxMinutes  float64  `json:"max_minutes" validate:"gte=0"`
	Reliability float64  `json:"reliability_score" validate:"gte=0,lte=1"`
	Provider    string   `json:"provider" validate:"max=64"`
}

// ValidateSegment checks one segment. Failures wrap
// domain.ErrInvalidSegmentData.
func ValidateSegment(seg domain.Segment) error {
	rules := segmentRules{
		Type:        string(seg.Type),
		FromAsset:   seg.FromAsset,
		ToAsset:     seg.ToAsset,
		FromNetwork: seg.FromNetwork,
		ToNetwork:   seg.ToNetwork,
		FeePercent:  seg.Cost.FeePercent,
		FixedFee:    seg.Cost.FixedFee,
		FXRate:      seg.Cost.EffectiveFXRate,
		MinMinutes:  seg.Latency.MinMinutes,
		MaxMinutes:  seg.Latency.MaxMinutes,
		Reliability: seg.Reliability,
		Provider:    seg.Provider,
	}
	if err := validate.Struct(rules); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSegmentData, formatValidationError(err))
	}
	if seg.Latency.MaxMinutes > 0 && seg.Latency.MaxMinutes < seg.Latency.MinMinutes {
		return fmt.Errorf("%w: %w", domain.ErrInvalidSegmentData,
			&Error{"max_minutes", "must not be below min_minutes"})
	}
	return nil
}

// ValidateSegments checks an ingest batch and normalises segment types.
func ValidateSegments(segs []domain.Segment) ([]domain.Segment, error) {
	if len(segs) == 0 {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSegmentData, &Error{"segments", "field is required"})
	}
	if len(segs) > MaxIngestBatch {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidSegmentData,
			&Error{"segments", fmt.Sprintf("must not exceed %d items, got %d", MaxIngestBatch, len(segs))})
	}
	out := make([]domain.Segment, len(segs))
	for i, seg := range segs {
		if t, ok := domain.ParseSegmentType(string(seg.Type)); ok {
			seg.Type = t
		}
		if err := ValidateSegment(seg); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		out[i] = seg
	}
	return out, nil
}
