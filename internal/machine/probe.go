package machine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// StatusChannel is the part of the serial channel the probe needs.
type StatusChannel interface {
	Query(ctx context.Context) (string, error)
	DrainAlarms() []string
}

// Probe issues status queries and owns the single most recent snapshot.
// It is the only writer; readers get immutable copies and can never observe
// a half-updated state. The probe performs exactly one exchange per Query
// call and never retries, so latency stays predictable for safety checks.
type Probe struct {
	channel StatusChannel
	logger  *zap.Logger
	maxAge  time.Duration
	now     func() time.Time

	current atomic.Pointer[State]

	alarmMu sync.Mutex
	alarms  []string
}

// NewProbe creates a probe. maxAge is how old a cached snapshot may be
// before Cached tags it stale.
func NewProbe(channel StatusChannel, maxAge time.Duration, logger *zap.Logger) *Probe {
	return &Probe{
		channel: channel,
		logger:  logger,
		maxAge:  maxAge,
		now:     time.Now,
	}
}

// Query performs one status exchange and publishes the parsed snapshot.
// On any failure the previously published snapshot stays visible.
func (p *Probe) Query(ctx context.Context) (*State, error) {
	raw, err := p.channel.Query(ctx)
	if err != nil {
		return nil, err
	}

	st, err := ParseStatus(raw)
	if err != nil {
		p.logger.Warn("Discarding malformed status report", zap.Error(err))
		return nil, err
	}

	st.CapturedAt = p.now()
	st.Source = SourceFresh
	st.Alarms = p.trackAlarms(st.Mode)

	p.current.Store(st)
	return st, nil
}

// Cached returns the most recent successful snapshot, retagged by age, or
// nil when no query has succeeded yet.
func (p *Probe) Cached() *State {
	st := p.current.Load()
	if st == nil {
		return nil
	}

	copied := *st
	if p.now().Sub(st.CapturedAt) > p.maxAge {
		copied.Source = SourceStale
	} else {
		copied.Source = SourceCached
	}
	return &copied
}

// trackAlarms folds pushed ALARM messages into the alarm list held for the
// duration of the alarm condition. Leaving alarm mode clears the list, so
// a snapshot carries alarms only while the mode is Alarm.
func (p *Probe) trackAlarms(mode Mode) []string {
	p.alarmMu.Lock()
	defer p.alarmMu.Unlock()

	if pushed := p.channel.DrainAlarms(); len(pushed) > 0 {
		p.alarms = append(p.alarms, pushed...)
	}
	if mode != ModeAlarm {
		p.alarms = nil
		return nil
	}
	out := make([]string, len(p.alarms))
	copy(out, p.alarms)
	return out
}
