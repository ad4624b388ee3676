package health

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemSamplerReadsProcFiles(t *testing.T) {
	files := map[string]string{
		"/proc/meminfo": "MemTotal:       16000000 kB\nMemFree:         2000000 kB\nMemAvailable:    8000000 kB\n",
		"/proc/loadavg": "1.25 0.80 0.60 2/800 12345\n",
	}
	sampler := NewSystemSamplerForTests(func(path string) ([]byte, error) {
		content, ok := files[path]
		if !ok {
			return nil, errors.New("unexpected path " + path)
		}
		return []byte(content), nil
	})

	sample, err := sampler.Sample()
	require.NoError(t, err)
	assert.InDelta(t, 50.0, sample.MemoryUsedPercent, 0.01)
	assert.InDelta(t, 1.25, sample.CPULoad, 1e-9)
}

func TestSystemSamplerErrors(t *testing.T) {
	tests := []struct {
		name    string
		meminfo string
		loadavg string
	}{
		{"missing MemTotal", "MemFree: 100 kB\n", "0.5 0.5 0.5\n"},
		{"empty loadavg", "MemTotal: 100 kB\nMemAvailable: 50 kB\n", ""},
		{"garbage loadavg", "MemTotal: 100 kB\nMemAvailable: 50 kB\n", "abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sampler := NewSystemSamplerForTests(func(path string) ([]byte, error) {
				if path == "/proc/meminfo" {
					return []byte(tt.meminfo), nil
				}
				return []byte(tt.loadavg), nil
			})
			_, err := sampler.Sample()
			assert.Error(t, err)
		})
	}
}

func TestSystemSamplerReadFailure(t *testing.T) {
	sampler := NewSystemSamplerForTests(func(string) ([]byte, error) {
		return nil, errors.New("proc not mounted")
	})
	_, err := sampler.Sample()
	assert.ErrorContains(t, err, "proc not mounted")
}
