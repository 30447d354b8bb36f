// internal/metrics/types.go
package metrics

import (
	"math"
	"time"
)

// OperationStats is the aggregated call history of one provider operation against one model.
type OperationStats struct {
	Operation      string      `json:"operation"`
	Model          string      `json:"model"`
	LastUpdatedUTC time.Time   `json:"last_updated_utc"`
	TotalRequests  int64       `json:"total_requests"`
	Failures       int64       `json:"failures"`
	LatencyMillis  RunningStat `json:"latency_ms"`
	InputTokens    RunningStat `json:"input_tokens"`
	OutputTokens   RunningStat `json:"output_tokens"`
}

// RunningStat holds the necessary values for online calculation of mean, variance, and stddev.
type RunningStat struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"` // Sum of squares of differences from the current mean
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
}

// StdDev returns the sample standard deviation, or 0 with fewer than two samples.
func (rs RunningStat) StdDev() float64 {
	if rs.Count < 2 {
		return 0
	}
	return math.Sqrt(rs.M2 / float64(rs.Count-1))
}
