package notary

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGini(t *testing.T) {
	assert.InDelta(t, 0.75, Gini([]float64{0, 0, 0, 10}), 1e-9)
	assert.InDelta(t, 0.75, Gini([]float64{10, 0, 0, 0}), 1e-9, "order must not matter")
	assert.InDelta(t, 0.75, Gini([]float64{0, 0, 0, -10}), 1e-9, "sign must not matter")
	assert.Zero(t, Gini([]float64{1, 1, 1, 1}))
	assert.Zero(t, Gini([]float64{5}))
	assert.Zero(t, Gini(nil))
	assert.Zero(t, Gini([]float64{0, 0}))
}

func TestHHI(t *testing.T) {
	assert.InDelta(t, 0.5, HHI([]float64{1, 1}), 1e-9)
	assert.InDelta(t, 1.0, HHI([]float64{42}), 1e-9)
	assert.InDelta(t, 0.25, HHI([]float64{3, 3, 3, 3}), 1e-9)
	assert.Zero(t, HHI(nil))
	assert.Zero(t, HHI([]float64{0, 0}))
}

func TestSyncIndex(t *testing.T) {
	at := func(secs ...int) []time.Time {
		out := make([]time.Time, len(secs))
		for i, s := range secs {
			out[i] = testNow.Add(time.Duration(s) * time.Second)
		}
		return out
	}
	assert.InDelta(t, 0.5, SyncIndex(at(0, 1, 2, 10)), 1e-9)
	assert.InDelta(t, 0.5, SyncIndex(at(10, 2, 0, 1)), 1e-9, "unsorted input")
	assert.Zero(t, SyncIndex(at(0, 100, 200)))
	assert.Zero(t, SyncIndex(at(0)))
	assert.Zero(t, SyncIndex(nil))
}

func TestAssess(t *testing.T) {
	transfers := func(amounts []float64, gap time.Duration) []Transfer {
		out := make([]Transfer, len(amounts))
		for i, a := range amounts {
			out[i] = Transfer{Amount: a, BlockTime: testNow.Add(time.Duration(i) * gap)}
		}
		return out
	}

	tests := []struct {
		name      string
		transfers []Transfer
		want      Status
	}{
		{"too few", transfers([]float64{1, 1}, time.Minute), StatusProbationary},
		{"synchronized", transfers([]float64{1, 1, 1}, time.Second), StatusSybil},
		{"unequal", transfers([]float64{1, 1, 1, 1000}, time.Minute), StatusSybil},
		{"organic", transfers([]float64{5, -4, 6, 5}, time.Minute), StatusVerified},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Assess(tt.transfers)
			assert.Equal(t, tt.want, a.Status, "assessment %+v", a)
			assert.NotEmpty(t, a.Reason)
		})
	}
}

func TestAssess_ShortHistoryReportsProbationaryGini(t *testing.T) {
	for _, transfers := range [][]Transfer{
		nil,
		{{Amount: 5, BlockTime: testNow}},
		{{Amount: 1, BlockTime: testNow}, {Amount: 1000, BlockTime: testNow.Add(time.Hour)}},
	} {
		a := Assess(transfers)
		assert.Equal(t, StatusProbationary, a.Status)
		assert.InDelta(t, ProbationaryGini, a.Gini, 1e-12)
		assert.Equal(t, uint16(5000), a.Update(testSubject(1)).GiniScore)
	}
}

func TestScaleScore(t *testing.T) {
	assert.Equal(t, uint16(7500), ScaleScore(0.75))
	assert.Equal(t, uint16(10000), ScaleScore(1))
	assert.Equal(t, uint16(math.MaxUint16), ScaleScore(7))
	assert.Equal(t, uint16(math.MaxUint16), ScaleScore(math.Inf(1)))
	assert.Zero(t, ScaleScore(-1))
	assert.Zero(t, ScaleScore(math.NaN()))
	assert.InDelta(t, 0.75, UnscaleScore(7500), 1e-12)
}

func TestAssessment_Update(t *testing.T) {
	a := Assessment{Gini: 0.75, HHI: 0.5, Status: StatusSybil}
	u := a.Update(testSubject(1))
	assert.Equal(t, testSubject(1), u.Subject)
	assert.Equal(t, uint16(7500), u.GiniScore)
	assert.Equal(t, uint16(5000), u.HHIScore)
	assert.Equal(t, uint8(3), u.Status)
	assert.True(t, u.Payer.IsZero())
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "VERIFIED", StatusVerified.String())
	assert.Equal(t, "SYBIL", StatusSybil.String())
	assert.Equal(t, "STATUS(9)", Status(9).String())
}
