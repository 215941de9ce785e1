package payload

import (
	"encoding/json"
	"time"

	"codeberg.org/mutker/telemetryd/internal/errors"
	"codeberg.org/mutker/telemetryd/internal/logger"
)

// Report is a single ingestion event. Immutable once parsed.
type Report struct {
	ClientID  string
	Timestamp int64
	Metrics   map[string]Value
}

// Parse decodes raw request bytes into a Report.
//
// The body must be a JSON object with a non-empty client_id string. The
// timestamp is read from "ts" or "timestamp" (seconds); when omitted the
// ingestion wall clock is used. Every remaining top-level key is a metric;
// a metric whose value is not a number, boolean or string is dropped without
// failing the report.
func Parse(raw []byte) (*Report, error) {
	errFactory := errors.New()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidPayload, err)
	}
	if fields == nil {
		return nil, errFactory.WithMessage(errors.ErrInvalidPayload, "report body is null")
	}

	rawID, ok := fields["client_id"]
	if !ok {
		return nil, errFactory.WithMessage(errors.ErrInvalidPayload, "missing client_id")
	}

	var clientID string
	if err := json.Unmarshal(rawID, &clientID); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidPayload, err)
	}
	if clientID == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidPayload, "empty client_id")
	}
	delete(fields, "client_id")

	timestamp, err := parseTimestamp(fields)
	if err != nil {
		return nil, err
	}

	metrics := make(map[string]Value, len(fields))
	for name, rawValue := range fields {
		value, err := FromJSON(rawValue)
		if err != nil {
			// Partial tolerance: only the offending metric is dropped
			logger.Debug().
				Str("client_id", clientID).
				Str("metric", name).
				Err(err).
				Msg("Dropping metric with unsupported value type")
			continue
		}
		metrics[name] = value
	}

	return &Report{
		ClientID:  clientID,
		Timestamp: timestamp,
		Metrics:   metrics,
	}, nil
}

// Clients send the shorter "ts" form; "timestamp" is accepted as well.
func parseTimestamp(fields map[string]json.RawMessage) (int64, error) {
	errFactory := errors.New()

	for _, key := range []string{"ts", "timestamp"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		delete(fields, "ts")
		delete(fields, "timestamp")

		v, err := FromJSON(raw)
		if err != nil {
			return 0, errFactory.Wrap(errors.ErrInvalidPayload, err)
		}
		f, ok := v.Number()
		if !ok {
			return 0, errFactory.WithMessage(errors.ErrInvalidPayload, "timestamp must be numeric")
		}
		return int64(f), nil
	}

	return time.Now().Unix(), nil
}
