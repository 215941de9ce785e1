package notify

import (
	"time"

	"codeberg.org/mutker/telemetryd/internal/config"
	"codeberg.org/mutker/telemetryd/internal/payload"
)

// Operator is a threshold comparator.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// Rule is a configured threshold condition on a metric. Read-only after
// construction.
type Rule struct {
	Metric    string
	Operator  Operator
	Threshold float64
	Cooldown  time.Duration
}

// CompileRules converts validated configuration rules into evaluator rules.
func CompileRules(rules []config.Rule) []Rule {
	compiled := make([]Rule, 0, len(rules))
	for _, r := range rules {
		compiled = append(compiled, Rule{
			Metric:    r.Metric,
			Operator:  Operator(r.Operator),
			Threshold: r.Threshold,
			Cooldown:  time.Duration(r.Cooldown) * time.Second,
		})
	}
	return compiled
}

// Fires reports whether the observed value triggers the rule. Thresholds are
// numeric, so only numeric values can fire.
func (r Rule) Fires(v payload.Value) bool {
	f, ok := v.Number()
	if !ok {
		return false
	}

	switch r.Operator {
	case OpGreater:
		return f > r.Threshold
	case OpLess:
		return f < r.Threshold
	case OpGreaterEqual:
		return f >= r.Threshold
	case OpLessEqual:
		return f <= r.Threshold
	case OpEqual:
		return f == r.Threshold
	default:
		return false
	}
}
