package store

import (
	"encoding/json"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/payload"
)

// MetricAggregate is the running aggregate for one metric on one client.
// Min, Max and Sum are only meaningful while Last is numeric.
type MetricAggregate struct {
	Last  payload.Value
	Count int64
	Min   float64
	Max   float64
	Sum   float64
}

// ClientRecord is the current aggregate state for one client.
type ClientRecord struct {
	ClientID string
	LastSeen int64
	Metrics  map[string]*MetricAggregate
}

// Snapshot is a point-in-time, read-consistent copy of all client records.
// Later store mutations never change an already-produced Snapshot.
type Snapshot map[string]*ClientRecord

func newAggregate(v payload.Value) *MetricAggregate {
	agg := &MetricAggregate{Last: v, Count: 1}
	if f, ok := v.Number(); ok {
		agg.Min = f
		agg.Max = f
		agg.Sum = f
	}
	return agg
}

// update applies one observation, last-write-wins. The min/max/sum window
// restarts when a metric changes type to or from numeric.
func (a *MetricAggregate) update(v payload.Value) {
	wasNumeric := a.Last.IsNumeric()
	a.Last = v
	a.Count++

	f, ok := v.Number()
	if !ok {
		return
	}
	if !wasNumeric {
		a.Min = f
		a.Max = f
		a.Sum = f
		return
	}
	if f < a.Min {
		a.Min = f
	}
	if f > a.Max {
		a.Max = f
	}
	a.Sum += f
}

func (a *MetricAggregate) clone() *MetricAggregate {
	c := *a
	return &c
}

func (r *ClientRecord) clone() *ClientRecord {
	c := &ClientRecord{
		ClientID: r.ClientID,
		LastSeen: r.LastSeen,
		Metrics:  make(map[string]*MetricAggregate, len(r.Metrics)),
	}
	for name, agg := range r.Metrics {
		c.Metrics[name] = agg.clone()
	}
	return c
}

type numericAggregateJSON struct {
	Last  payload.Value `json:"last"`
	Count int64         `json:"count"`
	Min   float64       `json:"min"`
	Max   float64       `json:"max"`
	Sum   float64       `json:"sum"`
}

type scalarAggregateJSON struct {
	Last  payload.Value `json:"last"`
	Count int64         `json:"count"`
}

// MarshalJSON emits {last, count, min, max, sum} for numeric metrics and
// {last, count} otherwise.
func (a *MetricAggregate) MarshalJSON() ([]byte, error) {
	if a.Last.IsNumeric() {
		return json.Marshal(numericAggregateJSON{
			Last:  a.Last,
			Count: a.Count,
			Min:   a.Min,
			Max:   a.Max,
			Sum:   a.Sum,
		})
	}
	return json.Marshal(scalarAggregateJSON{
		Last:  a.Last,
		Count: a.Count,
	})
}

func (a *MetricAggregate) UnmarshalJSON(data []byte) error {
	errFactory := errors.New()

	var parsed numericAggregateJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		return errFactory.Wrap(errors.ErrInvalidArgument, err)
	}
	if parsed.Count < 1 {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "aggregate count must be at least 1")
	}

	a.Last = parsed.Last
	a.Count = parsed.Count
	a.Min = parsed.Min
	a.Max = parsed.Max
	a.Sum = parsed.Sum

	return nil
}
