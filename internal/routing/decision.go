package routing

import "sort"

// Decision scores candidates by min-max normalised cost, latency and
// inverted reliability. Lower scores are better.
type Decision struct {
	Alpha float64 // cost
	Beta  float64 // latency
	Gamma float64 // reliability
}

// DefaultDecision returns the standard 0.4/0.3/0.3 weighting.
func DefaultDecision() Decision {
	return Decision{Alpha: 0.4, Beta: 0.3, Gamma: 0.3}
}

// Scored is a candidate with its decision score and 1-based rank.
type Scored struct {
	Candidate
	Score float64
	Rank  int
}

type bounds struct{ min, max float64 }

func boundsOf(cands []Candidate, f func(Candidate) float64) bounds {
	b := bounds{min: f(cands[0]), max: f(cands[0])}
	for _, c := range cands[1:] {
		v := f(c)
		if v < b.min {
			b.min = v
		}
		if v > b.max {
			b.max = v
		}
	}
	return b
}

// normalize maps v into [0,1]; a degenerate range yields 0.
func (b bounds) normalize(v float64) float64 {
	r := b.max - b.min
	if r == 0 {
		return 0
	}
	return (v - b.min) / r
}

// Scores computes one score per candidate in a single normalisation pass.
func (d Decision) Scores(cands []Candidate) []float64 {
	if len(cands) == 0 {
		return nil
	}
	cost := boundsOf(cands, func(c Candidate) float64 { return c.Metrics.TotalCostPercent })
	latency := boundsOf(cands, func(c Candidate) float64 { return c.Metrics.TotalLatency })
	rel := boundsOf(cands, func(c Candidate) float64 { return c.Metrics.Reliability })

	out := make([]float64, len(cands))
	for i, c := range cands {
		nc := cost.normalize(c.Metrics.TotalCostPercent)
		nl := latency.normalize(c.Metrics.TotalLatency)
		nr := 1 - rel.normalize(c.Metrics.Reliability)
		out[i] = d.Alpha*nc + d.Beta*nl + d.Gamma*nr
	}
	return out
}

// SelectOptimal returns the lowest scoring candidate. The boolean is false
// when cands is empty.
func (d Decision) SelectOptimal(cands []Candidate) (Scored, bool) {
	scores := d.Scores(cands)
	if len(scores) == 0 {
		return Scored{}, false
	}
	best := 0
	for i, s := range scores {
		if s < scores[best] {
			best = i
		}
	}
	return Scored{Candidate: cands[best], Score: scores[best], Rank: 1}, true
}

// Rank orders candidates by ascending score, keeping at most topK. Equal
// scores keep their input order.
func (d Decision) Rank(cands []Candidate, topK int) []Scored {
	scores := d.Scores(cands)
	out := make([]Scored, len(cands))
	for i := range cands {
		out[i] = Scored{Candidate: cands[i], Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score < out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
