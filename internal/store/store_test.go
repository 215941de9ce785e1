package store_test

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/payload"
	"codeberg.org/mutker/telemetryd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(clientID string, ts int64, metrics map[string]payload.Value) *payload.Report {
	return &payload.Report{
		ClientID:  clientID,
		Timestamp: ts,
		Metrics:   metrics,
	}
}

func TestMergeNewClient(t *testing.T) {
	s := store.New()

	rec := s.Merge(report("dev-1", 1000, map[string]payload.Value{
		"cpu":      payload.NumberValue(87.5),
		"hostname": payload.TextValue("node-a"),
	}))

	assert.Equal(t, "dev-1", rec.ClientID)
	assert.Equal(t, int64(1000), rec.LastSeen)
	require.Len(t, rec.Metrics, 2)

	cpu := rec.Metrics["cpu"]
	assert.Equal(t, int64(1), cpu.Count)
	assert.InDelta(t, 87.5, cpu.Min, 0.001)
	assert.InDelta(t, 87.5, cpu.Max, 0.001)
	assert.InDelta(t, 87.5, cpu.Sum, 0.001)

	host := rec.Metrics["hostname"]
	assert.Equal(t, int64(1), host.Count)
	text, ok := host.Last.Text()
	require.True(t, ok)
	assert.Equal(t, "node-a", text)
}

func TestMergeLastWriteWins(t *testing.T) {
	s := store.New()

	s.Merge(report("dev-1", 1000, map[string]payload.Value{"cpu": payload.NumberValue(87.5)}))
	rec := s.Merge(report("dev-1", 2000, map[string]payload.Value{"cpu": payload.NumberValue(92.0)}))

	cpu := rec.Metrics["cpu"]
	last, ok := cpu.Last.Number()
	require.True(t, ok)
	assert.InDelta(t, 92.0, last, 0.001)
	assert.Equal(t, int64(2), cpu.Count)
	assert.InDelta(t, 87.5, cpu.Min, 0.001)
	assert.InDelta(t, 92.0, cpu.Max, 0.001)
	assert.InDelta(t, 179.5, cpu.Sum, 0.001)
	assert.Equal(t, int64(2000), rec.LastSeen)
}

func TestMergeOutOfOrderTimestampAccepted(t *testing.T) {
	s := store.New()

	s.Merge(report("dev-1", 2000, map[string]payload.Value{"cpu": payload.NumberValue(92.0)}))
	rec := s.Merge(report("dev-1", 1000, map[string]payload.Value{"cpu": payload.NumberValue(50.0)}))

	// Merged anyway, last_seen keeps the maximum
	assert.Equal(t, int64(2000), rec.LastSeen)
	assert.Equal(t, int64(2), rec.Metrics["cpu"].Count)
	last, _ := rec.Metrics["cpu"].Last.Number()
	assert.InDelta(t, 50.0, last, 0.001)
}

func TestMergeReturnsDetachedCopy(t *testing.T) {
	s := store.New()

	first := s.Merge(report("dev-1", 1000, map[string]payload.Value{"cpu": payload.NumberValue(10)}))
	s.Merge(report("dev-1", 2000, map[string]payload.Value{"cpu": payload.NumberValue(20)}))

	assert.Equal(t, int64(1), first.Metrics["cpu"].Count)
}

func TestConcurrentMergesDistinctClients(t *testing.T) {
	s := store.New()
	const clients = 64
	const reportsPerClient = 25

	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			clientID := fmt.Sprintf("dev-%d", i)
			for j := 0; j < reportsPerClient; j++ {
				s.Merge(report(clientID, int64(j), map[string]payload.Value{
					"cpu": payload.NumberValue(float64(j)),
				}))
			}
		}(i)
	}
	wg.Wait()

	snap := s.Snapshot()
	require.Len(t, snap, clients)
	for i := 0; i < clients; i++ {
		rec, ok := snap[fmt.Sprintf("dev-%d", i)]
		require.True(t, ok)
		assert.Equal(t, int64(reportsPerClient), rec.Metrics["cpu"].Count)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	s := store.New()
	s.Merge(report("dev-1", 1000, map[string]payload.Value{"cpu": payload.NumberValue(10)}))

	snap := s.Snapshot()
	s.Merge(report("dev-1", 2000, map[string]payload.Value{"cpu": payload.NumberValue(99)}))

	assert.Equal(t, int64(1), snap["dev-1"].Metrics["cpu"].Count)
}

func TestEvictStale(t *testing.T) {
	s := store.New()
	now := time.Now().Unix()

	s.Merge(report("old", now-3600, map[string]payload.Value{"cpu": payload.NumberValue(1)}))
	s.Merge(report("fresh", now, map[string]payload.Value{"cpu": payload.NumberValue(1)}))

	evicted := s.EvictStale(30 * time.Minute)
	assert.Equal(t, 1, evicted)

	snap := s.Snapshot()
	require.Len(t, snap, 1)
	_, ok := snap["fresh"]
	assert.True(t, ok)

	// Re-appearance after eviction starts over with no history
	rec := s.Merge(report("old", now, map[string]payload.Value{"cpu": payload.NumberValue(2)}))
	assert.Equal(t, int64(1), rec.Metrics["cpu"].Count)
}

func TestReloadRoundTrip(t *testing.T) {
	s := store.New()
	s.Merge(report("dev-1", 1000, map[string]payload.Value{
		"cpu":      payload.NumberValue(87.5),
		"hostname": payload.TextValue("node-a"),
	}))
	s.Merge(report("dev-1", 2000, map[string]payload.Value{"cpu": payload.NumberValue(92.0)}))
	s.Merge(report("dev-2", 1500, map[string]payload.Value{"online": payload.BoolValue(true)}))

	snap := s.Snapshot()

	restored := store.New()
	restored.Reload(snap)

	assert.Equal(t, snap, restored.Snapshot())
}

func TestAggregateJSONRoundTrip(t *testing.T) {
	s := store.New()
	s.Merge(report("dev-1", 1000, map[string]payload.Value{"cpu": payload.NumberValue(87.5)}))
	s.Merge(report("dev-1", 2000, map[string]payload.Value{"cpu": payload.NumberValue(92.0)}))

	agg := s.Snapshot()["dev-1"].Metrics["cpu"]

	data, err := json.Marshal(agg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"last":92.0,"count":2,"min":87.5,"max":92.0,"sum":179.5}`, string(data))

	var parsed store.MetricAggregate
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, agg, &parsed)
}

func TestNonNumericAggregateJSONShape(t *testing.T) {
	s := store.New()
	s.Merge(report("dev-1", 1000, map[string]payload.Value{"hostname": payload.TextValue("node-a")}))

	data, err := json.Marshal(s.Snapshot()["dev-1"].Metrics["hostname"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"last":"node-a","count":1}`, string(data))
}
