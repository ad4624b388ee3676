package health

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// SystemSample is a point-in-time host resource reading.
type SystemSample struct {
	MemoryUsedPercent float64 `json:"memory_used_percent"`
	CPULoad           float64 `json:"cpu_load"`
}

// SystemSampler reads host memory and CPU figures from the proc
// filesystem. File access is injectable for tests.
type SystemSampler struct {
	readFile func(string) ([]byte, error)
}

// NewSystemSampler builds a sampler using the real proc filesystem.
func NewSystemSampler() *SystemSampler {
	return &SystemSampler{readFile: os.ReadFile}
}

// NewSystemSamplerForTests creates a sampler with an injected file reader.
func NewSystemSamplerForTests(readFile func(string) ([]byte, error)) *SystemSampler {
	return &SystemSampler{readFile: readFile}
}

// Sample reads current memory usage and the 1-minute load average.
func (s *SystemSampler) Sample() (SystemSample, error) {
	var sample SystemSample

	memTotal, memAvailable, err := s.readMeminfo()
	if err != nil {
		return sample, err
	}
	if memTotal > 0 {
		sample.MemoryUsedPercent = float64(memTotal-memAvailable) / float64(memTotal) * 100
	}

	sample.CPULoad, err = s.readLoadavg()
	if err != nil {
		return sample, err
	}
	return sample, nil
}

func (s *SystemSampler) readMeminfo() (total, available uint64, err error) {
	raw, err := s.readFile("/proc/meminfo")
	if err != nil {
		return 0, 0, fmt.Errorf("read meminfo: %w", err)
	}

	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseUint(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseUint(fields[1], 10, 64)
		}
	}
	if total == 0 {
		return 0, 0, fmt.Errorf("meminfo missing MemTotal")
	}
	return total, available, nil
}

func (s *SystemSampler) readLoadavg() (float64, error) {
	raw, err := s.readFile("/proc/loadavg")
	if err != nil {
		return 0, fmt.Errorf("read loadavg: %w", err)
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return 0, fmt.Errorf("loadavg empty")
	}
	load, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("parse loadavg: %w", err)
	}
	return load, nil
}
