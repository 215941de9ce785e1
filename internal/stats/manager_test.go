package stats_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/notify"
	"codeberg.org/mutker/telemetryd/internal/persist"
	"codeberg.org/mutker/telemetryd/internal/stats"
	"codeberg.org/mutker/telemetryd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureChannel struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (c *captureChannel) Send(_ context.Context, ev *notify.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureChannel) delivered() []*notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*notify.Event, len(c.events))
	copy(out, c.events)
	return out
}

func testConfig() stats.Config {
	return stats.Config{
		StaleTTL:      time.Hour,
		EvictInterval: time.Minute,
		FlushInterval: time.Minute,
	}
}

func newManager(t *testing.T, rules []notify.Rule, ch notify.Channel) (*stats.Manager, func()) {
	t.Helper()

	if ch == nil {
		ch = notify.LogChannel{}
	}
	notifier := notify.New(rules, ch, notify.Config{}, nil)

	repo, err := persist.NewRepository(persist.Config{Enabled: false})
	require.NoError(t, err)

	mgr, err := stats.New(testConfig(), store.New(), notifier, repo, nil)
	require.NoError(t, err)

	return mgr, func() {
		require.NoError(t, mgr.Close())
	}
}

func TestReportScenario(t *testing.T) {
	mgr, done := newManager(t, nil, nil)
	defer done()

	size, err := mgr.Report([]byte(`{"client_id":"dev-1","ts":1000,"cpu":87.5}`))
	require.NoError(t, err)
	assert.Equal(t, len(`{"client_id":"dev-1","ts":1000,"cpu":87.5}`), size)

	_, err = mgr.Report([]byte(`{"client_id":"dev-1","ts":2000,"cpu":92.0}`))
	require.NoError(t, err)

	data, err := mgr.SnapshotJSON()
	require.NoError(t, err)

	var snap map[string]map[string]struct {
		Last  float64 `json:"last"`
		Count int64   `json:"count"`
		Min   float64 `json:"min"`
		Max   float64 `json:"max"`
	}
	require.NoError(t, json.Unmarshal(data, &snap))

	cpu := snap["dev-1"]["cpu"]
	assert.InDelta(t, 92.0, cpu.Last, 0.001)
	assert.Equal(t, int64(2), cpu.Count)
	assert.InDelta(t, 87.5, cpu.Min, 0.001)
	assert.InDelta(t, 92.0, cpu.Max, 0.001)
}

func TestInvalidPayloadLeavesStoreUntouched(t *testing.T) {
	mgr, done := newManager(t, nil, nil)
	defer done()

	_, err := mgr.Report([]byte(`{"client_id":"dev-1","cpu":50}`))
	require.NoError(t, err)

	before, err := mgr.SnapshotJSON()
	require.NoError(t, err)

	_, err = mgr.Report([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidPayload))

	_, err = mgr.Report([]byte(`{"cpu":50}`))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidPayload))

	after, err := mgr.SnapshotJSON()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestReportTriggersNotification(t *testing.T) {
	ch := &captureChannel{}
	rules := []notify.Rule{
		{Metric: "cpu", Operator: notify.OpGreater, Threshold: 80, Cooldown: time.Hour},
	}
	mgr, done := newManager(t, rules, ch)

	for i := 0; i < 10; i++ {
		_, err := mgr.Report([]byte(`{"client_id":"dev-1","ts":1000,"cpu":92.0}`))
		require.NoError(t, err)
	}
	done() // close drains the dispatch queue

	events := ch.delivered()
	require.Len(t, events, 1)
	assert.Equal(t, "dev-1", events[0].ClientID)
	assert.Equal(t, "cpu", events[0].MetricName)
}

func TestSnapshotJSONEmptyStore(t *testing.T) {
	mgr, done := newManager(t, nil, nil)
	defer done()

	data, err := mgr.SnapshotJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestStartAndClose(t *testing.T) {
	mgr, _ := newManager(t, nil, nil)

	require.NoError(t, mgr.Start(context.Background()))
	_, err := mgr.Report([]byte(`{"client_id":"dev-1","cpu":1}`))
	require.NoError(t, err)

	require.NoError(t, mgr.Close())
	// Close is idempotent
	require.NoError(t, mgr.Close())
}

func TestConfigValidate(t *testing.T) {
	err := stats.Config{StaleTTL: 0, EvictInterval: time.Minute, FlushInterval: time.Minute}.Validate()
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInterval))

	require.NoError(t, testConfig().Validate())
}
