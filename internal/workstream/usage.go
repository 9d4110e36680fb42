package workstream

import (
	"os"
	"path/filepath"
)

// PressureLevel classifies a workstream's disk usage against configured
// thresholds.
type PressureLevel string

const (
	// PressureNone means usage is below the warning threshold.
	PressureNone PressureLevel = "none"
	// PressureWarning means usage crossed the warning threshold.
	PressureWarning PressureLevel = "warning"
	// PressureCritical means usage crossed the critical threshold.
	PressureCritical PressureLevel = "critical"
)

// UsageConfig sets the per-workstream disk budget and pressure thresholds.
// The percentage levels are configurable rather than fixed.
type UsageConfig struct {
	// LimitBytes is the soft budget per workstream. 0 disables pressure checks.
	LimitBytes int64 `yaml:"limit_bytes"`
	// WarnPercent triggers the warning level. Default: 80.
	WarnPercent int `yaml:"warn_percent"`
	// CriticalPercent triggers the critical level. Default: 95.
	CriticalPercent int `yaml:"critical_percent"`
}

// DefaultUsageConfig returns the default thresholds.
func DefaultUsageConfig() UsageConfig {
	return UsageConfig{WarnPercent: 80, CriticalPercent: 95}
}

// Usage reports a workstream's disk consumption.
type Usage struct {
	Workstream string        `json:"workstream"`
	UsageBytes int64         `json:"usage_bytes"`
	LimitBytes int64         `json:"limit_bytes"`
	Percent    float64       `json:"percent"`
	Level      PressureLevel `json:"level"`
}

// MeasureUsage walks the workstream directory and classifies its usage
// against the config thresholds.
func (m *DirectoryManager) MeasureUsage(workstream string, cfg UsageConfig) (*Usage, error) {
	if !IsValidName(workstream) {
		return nil, &DirectoryError{Kind: ErrInvalidName, Name: workstream}
	}
	if !m.WorkstreamExists(workstream) {
		return nil, &DirectoryError{Kind: ErrWorkstreamNotFound, Name: workstream}
	}

	var total int64
	err := filepath.WalkDir(m.WorkstreamPath(workstream), func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return nil, ioError(err)
	}

	usage := &Usage{
		Workstream: workstream,
		UsageBytes: total,
		LimitBytes: cfg.LimitBytes,
		Level:      PressureNone,
	}
	if cfg.LimitBytes > 0 {
		usage.Percent = float64(total) / float64(cfg.LimitBytes) * 100
		warn := cfg.WarnPercent
		if warn <= 0 {
			warn = DefaultUsageConfig().WarnPercent
		}
		critical := cfg.CriticalPercent
		if critical <= 0 {
			critical = DefaultUsageConfig().CriticalPercent
		}
		switch {
		case usage.Percent >= float64(critical):
			usage.Level = PressureCritical
		case usage.Percent >= float64(warn):
			usage.Level = PressureWarning
		}
	}
	return usage, nil
}
