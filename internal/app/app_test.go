package app

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/routeengine/internal/config"
	"github.com/alanyoungcy/routeengine/internal/domain"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func fx(from, to string, fee, rate float64) domain.Segment {
	return domain.Segment{
		Type:        domain.SegmentFX,
		FromAsset:   from,
		ToAsset:     to,
		Cost:        domain.SegmentCost{FeePercent: fee, EffectiveFXRate: domain.Rate(rate)},
		Latency:     domain.SegmentLatency{MinMinutes: 1, MaxMinutes: 5},
		Reliability: 0.99,
		Provider:    "wise",
	}
}

func writeSeed(t *testing.T, name string, segs ...domain.Segment) string {
	t.Helper()
	data, err := json.Marshal(segs)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func testConfig(mode string) *config.Config {
	cfg := config.Defaults()
	cfg.Mode = mode
	cfg.Simulator.TimeScale = 0
	cfg.Simulator.Seed = 11
	return &cfg
}

func TestRouteModeListsRoutes(t *testing.T) {
	cfg := testConfig("route")
	cfg.Segments.SeedFile = writeSeed(t, "seed.json",
		fx("USD", "EUR", 0.5, 0.9),
		fx("EUR", "GBP", 0.3, 0.85),
	)
	var out bytes.Buffer
	a := New(cfg, discard(), WithOutput(&out), WithRouteOptions(RouteOptions{From: "USD", To: "GBP", K: 3}))
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var got struct {
		Routes []struct {
			NumSegments int    `json:"num_segments"`
			SolverUsed  string `json:"solver_used"`
			Rank        int    `json:"rank"`
		} `json:"routes"`
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got), out.String())
	require.Equal(t, 1, got.Count)
	assert.Equal(t, 2, got.Routes[0].NumSegments)
	assert.Equal(t, 1, got.Routes[0].Rank)
	assert.NotEmpty(t, got.Routes[0].SolverUsed)
}

func TestRouteModeExecutes(t *testing.T) {
	cfg := testConfig("route")
	cfg.Segments.SeedFile = writeSeed(t, "seed.json", fx("USD", "EUR", 0.5, 0.9))
	var out bytes.Buffer
	a := New(cfg, discard(), WithOutput(&out), WithRouteOptions(RouteOptions{
		From: "USD", To: "EUR", Execute: true, Amount: 1000,
	}))
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var res domain.ExecutionResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &res), out.String())
	assert.Equal(t, domain.ExecutionCompleted, res.Status)
	assert.Len(t, res.Segments, 1)
	assert.InDelta(t, 1000, res.InputAmount, 1e-9)
	assert.Greater(t, res.FinalAmount, 0.0)
}

func TestRouteModeNoSegments(t *testing.T) {
	a := New(testConfig("route"), discard(), WithOutput(io.Discard),
		WithRouteOptions(RouteOptions{From: "USD", To: "EUR"}))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoSegmentsAvailable)
}

func TestIngestModeMergesFiles(t *testing.T) {
	cfg := testConfig("ingest")
	cfg.Segments.SeedFile = writeSeed(t, "a.json", fx("USD", "EUR", 0.5, 0.9))
	extra := writeSeed(t, "b.json", fx("EUR", "GBP", 0.3, 0.85), fx("GBP", "JPY", 0.4, 190))

	var out bytes.Buffer
	a := New(cfg, discard(), WithOutput(&out), WithSeedFiles(extra))
	defer a.Close()

	require.NoError(t, a.Run(context.Background()))

	var report struct {
		Upserted int `json:"upserted"`
		Total    int `json:"total"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &report), out.String())
	assert.Equal(t, 3, report.Upserted)
}

func TestIngestModeRequiresFiles(t *testing.T) {
	a := New(testConfig("ingest"), discard(), WithOutput(io.Discard))
	defer a.Close()
	require.Error(t, a.Run(context.Background()))
}

func TestReadSeedFilesReportsBadFile(t *testing.T) {
	good := writeSeed(t, "good.json", fx("USD", "EUR", 0.5, 0.9))
	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	_, err := readSeedFiles(context.Background(), []string{good, bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.json")

	segs, err := readSeedFiles(context.Background(), []string{good, good})
	require.NoError(t, err)
	assert.Len(t, segs, 2)
}

func TestUnknownSolverRejected(t *testing.T) {
	cfg := testConfig("route")
	cfg.Routing.PrimarySolver = "quantum"
	a := New(cfg, discard(), WithOutput(io.Discard))
	defer a.Close()

	err := a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quantum")
}
