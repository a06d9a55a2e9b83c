package contracts

import (
	"encoding/json"
	"math"
)

// Metric is an optional float64 for factor inputs and scores.
// A missing value stays missing through every computation and serializes
// as JSON null; it is never encoded as NaN, Inf, or a zero sentinel.
type Metric struct {
	value float64
	valid bool
}

// MetricOf returns a present Metric. NaN and Inf inputs are rejected and
// produce a missing Metric so degenerate arithmetic cannot leak into scores.
func MetricOf(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Metric{}
	}
	return Metric{value: v, valid: true}
}

// MissingMetric returns an absent Metric. The zero value is equivalent.
func MissingMetric() Metric {
	return Metric{}
}

// MetricFromPtr converts a nullable scan target into a Metric.
func MetricFromPtr(p *float64) Metric {
	if p == nil {
		return Metric{}
	}
	return MetricOf(*p)
}

// Valid reports whether the metric holds a value.
func (m Metric) Valid() bool {
	return m.valid
}

// Value returns the held value and whether it is present.
func (m Metric) Value() (float64, bool) {
	return m.value, m.valid
}

// Or returns the held value, or fallback when the metric is missing.
func (m Metric) Or(fallback float64) float64 {
	if !m.valid {
		return fallback
	}
	return m.value
}

// Ptr returns a pointer to the value for nullable persistence, nil when missing.
func (m Metric) Ptr() *float64 {
	if !m.valid {
		return nil
	}
	v := m.value
	return &v
}

// MarshalJSON encodes a missing metric as null.
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

// UnmarshalJSON decodes null as missing.
func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metric{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = MetricOf(v)
	return nil
}
