package notary

import (
	"math"
	"sort"
	"strconv"
	"time"
)

// Status is the integrity verdict stored in a record. The core stores any uint8;
// these are the values the scoring engine produces.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusVerified
	StatusProbationary
	StatusSybil
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "UNKNOWN"
	case StatusVerified:
		return "VERIFIED"
	case StatusProbationary:
		return "PROBATIONARY"
	case StatusSybil:
		return "SYBIL"
	}
	return "STATUS(" + strconv.Itoa(int(s)) + ")"
}

// Decision thresholds.
const (
	MinTransfers       = 3
	SyncIndexThreshold = 0.35
	GiniThreshold      = 0.7
	ProbationaryGini   = 0.5 // reported for activity too short to score
	syncWindow         = 2 * time.Second
	scoreScale         = 10000
)

// Transfer is one observed balance change of the subject.
type Transfer struct {
	Amount    float64   `json:"amount"`
	BlockTime time.Time `json:"block_time"`
}

// Assessment is the scored view of a subject's activity.
type Assessment struct {
	Gini      float64 `json:"gini"`
	HHI       float64 `json:"hhi"`
	SyncIndex float64 `json:"sync_index"`
	Status    Status  `json:"status"`
	Reason    string  `json:"reason"`
}

// Gini returns the Gini coefficient of the absolute values: 0 is perfect
// equality, values near 1 mean one transfer dominates.
func Gini(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	abs := make([]float64, n)
	var sum float64
	for i, v := range values {
		abs[i] = math.Abs(v)
		sum += abs[i]
	}
	if sum == 0 {
		return 0
	}
	sort.Float64s(abs)
	// Σ_i Σ_j |xi-xj| over sorted values is 2 Σ_i (2i-n+1) x_i.
	var diff float64
	for i, v := range abs {
		diff += float64(2*i-n+1) * v
	}
	return 2 * diff / (2 * float64(n) * sum)
}

// HHI returns the Herfindahl-Hirschman index normalised to [0,1].
func HHI(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	if total == 0 {
		return 0
	}
	var hhi float64
	for _, v := range values {
		share := v / total * 100
		hhi += share * share
	}
	return hhi / 10000
}

// SyncIndex returns the share of observations that follow the previous one within
// two seconds, a marker of scripted activity.
func SyncIndex(times []time.Time) float64 {
	if len(times) < 2 {
		return 0
	}
	var ts []time.Time
	for _, t := range times {
		if !t.IsZero() {
			ts = append(ts, t)
		}
	}
	sort.Slice(ts, func(i, j int) bool { return ts[i].Before(ts[j]) })
	clustered := 0
	for i := 1; i < len(ts); i++ {
		if ts[i].Sub(ts[i-1]) <= syncWindow {
			clustered++
		}
	}
	return float64(clustered) / float64(len(times))
}

// Assess scores transfers and derives a status. With fewer than MinTransfers
// transfers the Gini is reported as ProbationaryGini.
func Assess(transfers []Transfer) Assessment {
	amounts := make([]float64, len(transfers))
	times := make([]time.Time, len(transfers))
	for i, t := range transfers {
		amounts[i] = math.Abs(t.Amount)
		times[i] = t.BlockTime
	}
	a := Assessment{
		Gini:      Gini(amounts),
		HHI:       HHI(amounts),
		SyncIndex: SyncIndex(times),
		Status:    StatusVerified,
		Reason:    "behavior aligns with organic patterns",
	}
	switch {
	case len(transfers) < MinTransfers:
		a.Gini = ProbationaryGini
		a.Status = StatusProbationary
		a.Reason = "insufficient transaction history for full analysis"
	case a.SyncIndex > SyncIndexThreshold || a.Gini > GiniThreshold:
		a.Status = StatusSybil
		a.Reason = "high temporal synchronization or extreme value inequality"
	}
	return a
}

// ScaleScore maps a [0,1] metric onto uint16 fixed point (x·10000), saturating at 65535.
func ScaleScore(x float64) uint16 {
	if math.IsNaN(x) || x <= 0 {
		return 0
	}
	scaled := math.Floor(x * scoreScale)
	if scaled >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(scaled)
}

// UnscaleScore is the inverse of ScaleScore for in-range values.
func UnscaleScore(v uint16) float64 { return float64(v) / scoreScale }

// Update converts the assessment into record fields for subject.
func (a Assessment) Update(subject Identity) Update {
	return Update{
		Subject:   subject,
		GiniScore: ScaleScore(a.Gini),
		HHIScore:  ScaleScore(a.HHI),
		Status:    uint8(a.Status),
	}
}
