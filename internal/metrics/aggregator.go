// internal/metrics/aggregator.go
package metrics

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/mwiater/refiner/internal/logging"
)

// DefaultSaveInterval is how often a file-backed Aggregator persists its state.
const DefaultSaveInterval = time.Minute

// Call is one observed provider call.
type Call struct {
	Operation    string
	Model        string
	Latency      time.Duration
	InputTokens  int
	OutputTokens int
	Err          error
}

// Aggregator collects provider call statistics keyed by operation and model.
type Aggregator struct {
	mutex    sync.Mutex
	stats    map[string]*OperationStats
	filePath string
	ticker   *time.Ticker
	done     chan struct{}
	closed   bool
}

// NewAggregator creates an Aggregator. When filePath is not empty, previously
// saved statistics are loaded and the state is saved every saveInterval and on Close.
func NewAggregator(filePath string, saveInterval time.Duration) *Aggregator {
	agg := &Aggregator{
		stats:    make(map[string]*OperationStats),
		filePath: filePath,
		done:     make(chan struct{}),
	}
	if filePath == "" {
		return agg
	}

	agg.load()

	if saveInterval <= 0 {
		saveInterval = DefaultSaveInterval
	}
	agg.ticker = time.NewTicker(saveInterval)
	go func() {
		for {
			select {
			case <-agg.ticker.C:
				if err := agg.save(); err != nil {
					logging.LogEvent("[METRICS] save failed: %v", err)
				}
			case <-agg.done:
				return
			}
		}
	}()

	return agg
}

func statsKey(operation, model string) string {
	return operation + "|" + model
}

// load reads statistics from the JSON file into memory.
func (a *Aggregator) load() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	data, err := os.ReadFile(a.filePath)
	if err != nil {
		return
	}

	var saved []*OperationStats
	if err := json.Unmarshal(data, &saved); err != nil {
		logging.LogEvent("[METRICS] ignoring unreadable metrics file %s: %v", a.filePath, err)
		return
	}
	for _, s := range saved {
		a.stats[statsKey(s.Operation, s.Model)] = s
	}
}

// save writes the current statistics to the JSON file.
func (a *Aggregator) save() error {
	if a.filePath == "" {
		return nil
	}
	logging.LogEvent("[METRICS] Saving metrics to %s", a.filePath)
	data, err := json.MarshalIndent(a.Snapshot(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.filePath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(a.filePath, data, 0o644)
}

// Record adds one call to the statistics.
func (a *Aggregator) Record(call Call) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	key := statsKey(call.Operation, call.Model)
	s, ok := a.stats[key]
	if !ok {
		s = &OperationStats{Operation: call.Operation, Model: call.Model}
		a.stats[key] = s
	}
	s.LastUpdatedUTC = time.Now().UTC()
	s.TotalRequests++
	if call.Err != nil {
		s.Failures++
		return
	}
	updateRunningStat(&s.LatencyMillis, float64(call.Latency)/float64(time.Millisecond))
	updateRunningStat(&s.InputTokens, float64(call.InputTokens))
	updateRunningStat(&s.OutputTokens, float64(call.OutputTokens))
}

// Snapshot returns a copy of the statistics ordered by operation, then model.
func (a *Aggregator) Snapshot() []OperationStats {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	out := make([]OperationStats, 0, len(a.stats))
	for _, s := range a.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Operation != out[j].Operation {
			return out[i].Operation < out[j].Operation
		}
		return out[i].Model < out[j].Model
	})
	return out
}

// updateRunningStat updates a single running statistic using Welford's online algorithm.
func updateRunningStat(rs *RunningStat, value float64) {
	rs.Count++
	if rs.Count == 1 {
		rs.Min = value
		rs.Max = value
	} else {
		if value < rs.Min {
			rs.Min = value
		}
		if value > rs.Max {
			rs.Max = value
		}
	}

	delta := value - rs.Mean
	rs.Mean += delta / float64(rs.Count)
	delta2 := value - rs.Mean
	rs.M2 += delta * delta2
}

// Close stops the save loop and writes the final state. It is safe to call more than once.
func (a *Aggregator) Close() error {
	a.mutex.Lock()
	if a.closed {
		a.mutex.Unlock()
		return nil
	}
	a.closed = true
	a.mutex.Unlock()

	if a.ticker != nil {
		a.ticker.Stop()
		close(a.done)
	}
	if err := a.save(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
