package serial

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecorderEmptyWindow(t *testing.T) {
	r := NewRecorder(time.Minute)

	s := r.Sample()
	assert.Equal(t, 0, s.Exchanges)
	assert.Zero(t, s.ErrorRatePercent)
	assert.Zero(t, s.ResponseTimeMs)
}

func TestRecorderAggregates(t *testing.T) {
	r := NewRecorder(time.Minute)

	r.Record(100*time.Millisecond, nil)
	r.Record(200*time.Millisecond, nil)
	r.Record(300*time.Millisecond, errors.New("timeout"))
	r.Record(400*time.Millisecond, errors.New("timeout"))

	s := r.Sample()
	assert.Equal(t, 4, s.Exchanges)
	assert.InDelta(t, 50.0, s.ErrorRatePercent, 1e-9)
	assert.InDelta(t, 250.0, s.ResponseTimeMs, 1.0)
}

func TestRecorderPrunesOutsideWindow(t *testing.T) {
	r := NewRecorder(time.Minute)

	base := time.Now()
	r.now = func() time.Time { return base }
	r.Record(time.Second, errors.New("old failure"))

	r.now = func() time.Time { return base.Add(30 * time.Second) }
	r.Record(100*time.Millisecond, nil)

	// Inside the window both exchanges count.
	s := r.Sample()
	assert.Equal(t, 2, s.Exchanges)
	assert.InDelta(t, 50.0, s.ErrorRatePercent, 1e-9)

	// Past the window only the recent exchange remains.
	r.now = func() time.Time { return base.Add(70 * time.Second) }
	s = r.Sample()
	assert.Equal(t, 1, s.Exchanges)
	assert.Zero(t, s.ErrorRatePercent)
}
