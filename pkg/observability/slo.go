// SLO definitions and tracker.
//
// Targets are defined per pipeline operation (evaluate, submit,
// approve, provision, certify, sweep) with burn-rate computation so
// operators can see how fast the error budget is being consumed.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// SLOTarget defines a service level objective for one operation.
type SLOTarget struct {
	SLOID       string        `json:"slo_id"`
	Name        string        `json:"name"`
	Operation   string        `json:"operation"`
	LatencyP99  time.Duration `json:"latency_p99"`
	SuccessRate float64       `json:"success_rate"` // target success rate in [0, 1]
	WindowHours int           `json:"window_hours"` // evaluation window
}

// SLOObservation is a single data point.
type SLOObservation struct {
	Operation string        `json:"operation"`
	Latency   time.Duration `json:"latency"`
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
}

// SLOStatus reports current compliance.
type SLOStatus struct {
	SLOID            string  `json:"slo_id"`
	Operation        string  `json:"operation"`
	CurrentP99       float64 `json:"current_p99_ms"`
	CurrentSuccess   float64 `json:"current_success_rate"`
	InCompliance     bool    `json:"in_compliance"`
	BurnRate         float64 `json:"burn_rate"`         // >1 means burning faster than budget allows
	ErrorBudgetLeft  float64 `json:"error_budget_left"` // percentage remaining
	ObservationCount int     `json:"observation_count"`
}

// SLOTracker accumulates observations per operation and grades them
// against the registered targets.
type SLOTracker struct {
	mu      sync.Mutex
	targets map[string]*SLOTarget
	samples map[string][]SLOObservation
	clock   func() time.Time
}

// NewSLOTracker creates an empty tracker.
func NewSLOTracker() *SLOTracker {
	return &SLOTracker{
		targets: make(map[string]*SLOTarget),
		samples: make(map[string][]SLOObservation),
		clock:   time.Now,
	}
}

// WithClock overrides the clock for testing.
func (t *SLOTracker) WithClock(clock func() time.Time) *SLOTracker {
	t.clock = clock
	return t
}

// SetTarget registers or replaces the objective for an operation.
func (t *SLOTracker) SetTarget(target *SLOTarget) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.targets[target.Operation] = target
}

// Record adds an observation. Samples older than the operation's
// window are pruned here so the tracker stays bounded under a daemon
// that never restarts.
func (t *SLOTracker) Record(obs SLOObservation) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if obs.Timestamp.IsZero() {
		obs.Timestamp = t.clock()
	}
	kept := append(t.samples[obs.Operation], obs)
	if target, ok := t.targets[obs.Operation]; ok && len(kept) > 1 {
		cutoff := t.clock().Add(-window(target))
		first := 0
		for first < len(kept)-1 && !kept[first].Timestamp.After(cutoff) {
			first++
		}
		kept = kept[first:]
	}
	t.samples[obs.Operation] = kept
}

// Status grades the operation's windowed samples against its target.
// An operation with no samples in the window is compliant.
func (t *SLOTracker) Status(operation string) (*SLOStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	target, ok := t.targets[operation]
	if !ok {
		return nil, faults.New(faults.NotFound, "no SLO target for operation %q", operation)
	}

	cutoff := t.clock().Add(-window(target))
	var windowed []SLOObservation
	for _, obs := range t.samples[operation] {
		if obs.Timestamp.After(cutoff) {
			windowed = append(windowed, obs)
		}
	}
	if len(windowed) == 0 {
		return &SLOStatus{
			SLOID:           target.SLOID,
			Operation:       operation,
			InCompliance:    true,
			ErrorBudgetLeft: 100.0,
		}, nil
	}

	succeeded := 0
	latencies := make([]float64, len(windowed))
	for i, obs := range windowed {
		if obs.Success {
			succeeded++
		}
		latencies[i] = float64(obs.Latency.Milliseconds())
	}
	successRate := float64(succeeded) / float64(len(windowed))
	p99 := percentile99(latencies)

	errorBudget := 1.0 - target.SuccessRate
	errorRate := 1.0 - successRate
	var burnRate float64
	if errorBudget > 0 {
		burnRate = errorRate / errorBudget
	}
	budgetLeft := 100.0 * (1.0 - burnRate)
	if budgetLeft < 0 {
		budgetLeft = 0
	}

	return &SLOStatus{
		SLOID:            target.SLOID,
		Operation:        operation,
		CurrentP99:       p99,
		CurrentSuccess:   successRate,
		InCompliance:     p99 <= float64(target.LatencyP99.Milliseconds()) && successRate >= target.SuccessRate,
		BurnRate:         burnRate,
		ErrorBudgetLeft:  budgetLeft,
		ObservationCount: len(windowed),
	}, nil
}

func window(target *SLOTarget) time.Duration {
	return time.Duration(target.WindowHours) * time.Hour
}

func percentile99(latencies []float64) float64 {
	sort.Float64s(latencies)
	idx := int(float64(len(latencies)) * 0.99)
	if idx >= len(latencies) {
		idx = len(latencies) - 1
	}
	return latencies[idx]
}

// DefaultTargets returns the baseline objectives for the governance
// pipeline. Windows are 24h so a nightly sweep cannot hide a bad day.
func DefaultTargets() []*SLOTarget {
	return []*SLOTarget{
		{SLOID: "slo-evaluate", Name: "Risk evaluation", Operation: "evaluate", LatencyP99: 200 * time.Millisecond, SuccessRate: 0.999, WindowHours: 24},
		{SLOID: "slo-submit", Name: "Request submission", Operation: "submit", LatencyP99: 500 * time.Millisecond, SuccessRate: 0.995, WindowHours: 24},
		{SLOID: "slo-approve", Name: "Approval action", Operation: "approve", LatencyP99: 300 * time.Millisecond, SuccessRate: 0.995, WindowHours: 24},
		{SLOID: "slo-provision", Name: "Provisioning", Operation: "provision", LatencyP99: 5 * time.Second, SuccessRate: 0.99, WindowHours: 24},
		{SLOID: "slo-certify", Name: "Certification decision", Operation: "certify", LatencyP99: 300 * time.Millisecond, SuccessRate: 0.995, WindowHours: 24},
		{SLOID: "slo-sweep", Name: "Background sweep", Operation: "sweep", LatencyP99: 30 * time.Second, SuccessRate: 0.99, WindowHours: 24},
	}
}
