package serial

import (
	"sync"
	"time"
)

// Sample is a point-in-time view of channel behaviour over the trailing window.
type Sample struct {
	Exchanges        int     `json:"exchanges"`
	ErrorRatePercent float64 `json:"error_rate_percent"`
	ResponseTimeMs   float64 `json:"response_time_ms"`
}

type exchange struct {
	at     time.Time
	dur    time.Duration
	failed bool
}

// Recorder keeps a rolling window of command/response exchanges. The channel
// records every exchange; the health aggregator samples it.
type Recorder struct {
	mu        sync.Mutex
	window    time.Duration
	exchanges []exchange
	now       func() time.Time
}

// NewRecorder creates a recorder with the given trailing window.
func NewRecorder(window time.Duration) *Recorder {
	return &Recorder{window: window, now: time.Now}
}

// Record adds one exchange outcome to the window.
func (r *Recorder) Record(dur time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	r.exchanges = append(r.exchanges, exchange{at: r.now(), dur: dur, failed: err != nil})
}

// Sample reduces the current window to aggregate figures. An empty window
// reports zero exchanges and zeroed rates.
func (r *Recorder) Sample() Sample {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())

	s := Sample{Exchanges: len(r.exchanges)}
	if s.Exchanges == 0 {
		return s
	}

	var failed int
	var total time.Duration
	for _, e := range r.exchanges {
		if e.failed {
			failed++
		}
		total += e.dur
	}
	s.ErrorRatePercent = float64(failed) / float64(s.Exchanges) * 100
	s.ResponseTimeMs = float64(total.Milliseconds()) / float64(s.Exchanges)
	return s
}

// prune drops exchanges older than the window. Caller holds the mutex.
func (r *Recorder) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for ; i < len(r.exchanges); i++ {
		if r.exchanges[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		r.exchanges = append(r.exchanges[:0], r.exchanges[i:]...)
	}
}
