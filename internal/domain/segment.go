package domain

import (
	"strings"
	"time"
)

// SegmentType classifies the rail a segment moves value over.
type SegmentType string

const (
	SegmentFX       SegmentType = "fx"
	SegmentCrypto   SegmentType = "crypto"
	SegmentBridge   SegmentType = "bridge"
	SegmentOnRamp   SegmentType = "on_ramp"
	SegmentOffRamp  SegmentType = "off_ramp"
	SegmentBankRail SegmentType = "bank_rail"
)

// SegmentTypes lists every type the engine knows how to route and settle.
var SegmentTypes = []SegmentType{
	SegmentFX, SegmentCrypto, SegmentBridge, SegmentOnRamp, SegmentOffRamp, SegmentBankRail,
}

// Valid reports whether t is one of the known segment types.
func (t SegmentType) Valid() bool {
	for _, known := range SegmentTypes {
		if t == known {
			return true
		}
	}
	return false
}

// NetworkAgnostic reports whether nodes of this type are identified by asset alone.
func (t SegmentType) NetworkAgnostic() bool {
	return t == SegmentFX || t == SegmentBankRail
}

// ParseSegmentType normalises a user supplied type name ("FX", "on-ramp", ...).
func ParseSegmentType(s string) (SegmentType, bool) {
	t := SegmentType(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	return t, t.Valid()
}

// SegmentCost is the price of moving value across a segment.
type SegmentCost struct {
	FeePercent float64 `json:"fee_percent"`
	FixedFee   float64 `json:"fixed_fee"`
	// EffectiveFXRate is nil when the segment does not convert (rate 1.0).
	EffectiveFXRate *float64 `json:"effective_fx_rate,omitempty"`
}

// Rate returns the effective conversion rate, defaulting to 1.0.
func (c SegmentCost) Rate() float64 {
	if c.EffectiveFXRate == nil {
		return 1.0
	}
	return *c.EffectiveFXRate
}

// SegmentLatency is the settlement time window in minutes.
type SegmentLatency struct {
	MinMinutes float64 `json:"min_minutes"`
	MaxMinutes float64 `json:"max_minutes"`
}

// Average returns the midpoint of the window, or MinMinutes when no upper
// bound is known.
func (l SegmentLatency) Average() float64 {
	if l.MaxMinutes > 0 {
		return (l.MinMinutes + l.MaxMinutes) / 2
	}
	return l.MinMinutes
}

// Segment is one priced, timed transfer edge offered by a provider. Segments
// are values; nothing in the engine mutates one after it has been produced.
type Segment struct {
	ID          string         `json:"id,omitempty"`
	Type        SegmentType    `json:"segment_type"`
	FromAsset   string         `json:"from_asset"`
	ToAsset     string         `json:"to_asset"`
	FromNetwork string         `json:"from_network,omitempty"`
	ToNetwork   string         `json:"to_network,omitempty"`
	Cost        SegmentCost    `json:"cost"`
	Latency     SegmentLatency `json:"latency"`
	Reliability float64        `json:"reliability_score"`
	Provider    string         `json:"provider,omitempty"`
	Constraints map[string]any `json:"constraints,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// Rate is a convenience for Cost.Rate.
func (s Segment) Rate() float64 { return s.Cost.Rate() }

// ProviderName returns the provider, or "unknown" when unset.
func (s Segment) ProviderName() string {
	if s.Provider == "" {
		return "unknown"
	}
	return s.Provider
}

// SegmentFilter narrows a segment listing. Zero values match everything.
type SegmentFilter struct {
	Type      SegmentType
	FromAsset string
	ToAsset   string
	Limit     int
}

// Matches reports whether s satisfies the filter's field constraints.
// Limit is applied by the caller.
func (f SegmentFilter) Matches(s Segment) bool {
	if f.Type != "" && s.Type != f.Type {
		return false
	}
	if f.FromAsset != "" && !strings.EqualFold(s.FromAsset, f.FromAsset) {
		return false
	}
	if f.ToAsset != "" && !strings.EqualFold(s.ToAsset, f.ToAsset) {
		return false
	}
	return true
}

// Rate returns a pointer to r, for building SegmentCost literals.
func Rate(r float64) *float64 { return &r }
