package experiment

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAssign_Idempotent(t *testing.T) {
	r, err := NewRouter([]Variant{
		{Name: "control", Weight: 0.5},
		{Name: "candidate", Weight: 0.5},
	}, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("caller-%d", i)
		first := r.Assign(key)
		for j := 0; j < 5; j++ {
			require.Equal(t, first, r.Assign(key), "assignment must be stable for %s", key)
		}
	}
}

func TestAssign_RespectsSplitRoughly(t *testing.T) {
	r, err := NewRouter([]Variant{
		{Name: "control", Weight: 0.8},
		{Name: "candidate", Weight: 0.2},
	}, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	counts := map[string]int{}
	const n = 5000
	for i := 0; i < n; i++ {
		counts[r.Assign(fmt.Sprintf("key-%d", i))]++
	}

	controlShare := float64(counts["control"]) / n
	require.InDelta(t, 0.8, controlShare, 0.05, "control share %v", controlShare)
	require.Equal(t, n, counts["control"]+counts["candidate"])
}

func TestAssign_SingleVariantTakesAll(t *testing.T) {
	r, err := NewRouter([]Variant{{Name: "only", Weight: 1}}, nil, nil)
	require.NoError(t, err)
	defer r.Close()

	for i := 0; i < 20; i++ {
		require.Equal(t, "only", r.Assign(fmt.Sprintf("k%d", i)))
	}
}

func TestNewRouter_RejectsBadSplits(t *testing.T) {
	_, err := NewRouter(nil, nil, nil)
	require.Error(t, err)

	_, err = NewRouter([]Variant{{Name: "a", Weight: 0}}, nil, nil)
	require.Error(t, err)

	_, err = NewRouter([]Variant{{Name: "", Weight: 1}}, nil, nil)
	require.Error(t, err)
}

func TestRecordOutcome_AccumulatesStats(t *testing.T) {
	r, err := NewRouter([]Variant{
		{Name: "control", Weight: 0.5},
		{Name: "candidate", Weight: 0.5},
	}, nil, nil)
	require.NoError(t, err)

	r.RecordOutcome("control", true, 100*time.Millisecond)
	r.RecordOutcome("control", false, 300*time.Millisecond)
	r.RecordOutcome("candidate", true, 50*time.Millisecond)
	r.Close() // drains the backlog

	stats := r.Stats()
	require.Len(t, stats, 2)

	byName := map[string]VariantStats{}
	for _, s := range stats {
		byName[s.Name] = s
	}

	control := byName["control"]
	require.EqualValues(t, 2, control.Requests)
	require.EqualValues(t, 1, control.Successes)
	require.InDelta(t, 0.5, control.SuccessRate, 0.001)
	require.Equal(t, 200*time.Millisecond, control.MeanLatency)

	candidate := byName["candidate"]
	require.EqualValues(t, 1, candidate.Requests)
	require.Equal(t, 50*time.Millisecond, candidate.MeanLatency)
}

func TestParseSplit(t *testing.T) {
	variants, err := ParseSplit("control:0.5, candidate:0.5")
	require.NoError(t, err)
	require.Len(t, variants, 2)
	require.Equal(t, "control", variants[0].Name)
	require.Equal(t, 0.5, variants[1].Weight)

	_, err = ParseSplit("")
	require.Error(t, err)

	_, err = ParseSplit("missing-weight")
	require.Error(t, err)
}
