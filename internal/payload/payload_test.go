package payload_test

import (
	"testing"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/payload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	raw := []byte(`{"client_id":"dev-1","ts":1000,"cpu":87.5,"hostname":"node-a","online":true}`)

	report, err := payload.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "dev-1", report.ClientID)
	assert.Equal(t, int64(1000), report.Timestamp)
	require.Len(t, report.Metrics, 3)

	cpu, ok := report.Metrics["cpu"].Number()
	require.True(t, ok)
	assert.InDelta(t, 87.5, cpu, 0.001)

	host, ok := report.Metrics["hostname"].Text()
	require.True(t, ok)
	assert.Equal(t, "node-a", host)

	online, ok := report.Metrics["online"].Bool()
	require.True(t, ok)
	assert.True(t, online)
}

func TestParseTimestampKeyFallback(t *testing.T) {
	report, err := payload.Parse([]byte(`{"client_id":"dev-1","timestamp":2000}`))
	require.NoError(t, err)
	assert.Equal(t, int64(2000), report.Timestamp)
}

func TestParseOmittedTimestamp(t *testing.T) {
	before := time.Now().Unix()
	report, err := payload.Parse([]byte(`{"client_id":"dev-1","cpu":1}`))
	require.NoError(t, err)
	after := time.Now().Unix()

	assert.GreaterOrEqual(t, report.Timestamp, before)
	assert.LessOrEqual(t, report.Timestamp, after)
}

func TestParseNotJSON(t *testing.T) {
	_, err := payload.Parse([]byte(`{not json`))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidPayload))
}

func TestParseNonObject(t *testing.T) {
	for _, raw := range []string{`[1,2,3]`, `"scalar"`, `42`, `null`} {
		_, err := payload.Parse([]byte(raw))
		require.Error(t, err, "expected rejection for %s", raw)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidPayload))
	}
}

func TestParseClientID(t *testing.T) {
	for _, raw := range []string{
		`{"cpu":1}`,
		`{"client_id":"","cpu":1}`,
		`{"client_id":42,"cpu":1}`,
	} {
		_, err := payload.Parse([]byte(raw))
		require.Error(t, err, "expected rejection for %s", raw)
		assert.True(t, errors.HasCode(err, errors.ErrInvalidPayload))
	}
}

func TestParseInvalidTimestamp(t *testing.T) {
	_, err := payload.Parse([]byte(`{"client_id":"dev-1","ts":"soon"}`))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidPayload))
}

func TestParseDropsUnsupportedMetricValues(t *testing.T) {
	raw := []byte(`{"client_id":"dev-1","ts":1,"cpu":50,"disks":["sda","sdb"],"net":{"rx":1},"gone":null}`)

	report, err := payload.Parse(raw)
	require.NoError(t, err)

	// Only the offending metrics are dropped, not the whole report
	require.Len(t, report.Metrics, 1)
	_, ok := report.Metrics["cpu"]
	assert.True(t, ok)
}

func TestValueJSONRoundTrip(t *testing.T) {
	for _, v := range []payload.Value{
		payload.NumberValue(87.5),
		payload.BoolValue(true),
		payload.TextValue("node-a"),
	} {
		data, err := v.MarshalJSON()
		require.NoError(t, err)

		var parsed payload.Value
		require.NoError(t, parsed.UnmarshalJSON(data))
		assert.True(t, v.Equal(parsed))
	}
}
