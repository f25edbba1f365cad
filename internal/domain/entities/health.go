package entities

import (
	"time"
)

// HealthStatus is the health classification of a data source or of the whole system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	HealthStatusUnknown   HealthStatus = "unknown"
)

// HealthRecord tracks the observed health of one data source
type HealthRecord struct {
	SourceID            string       `json:"source_id"`
	Status              HealthStatus `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	ErrorCount          int64        `json:"error_count"`
	LastError           string       `json:"last_error,omitempty"`
	LastChecked         time.Time    `json:"last_checked"`
	LastActive          time.Time    `json:"last_active"`
}

// NewHealthRecord returns the initial record of a freshly registered source
func NewHealthRecord(sourceID string) HealthRecord {
	return HealthRecord{
		SourceID: sourceID,
		Status:   HealthStatusUnknown,
	}
}

// SystemHealthMetrics is the aggregate health derived from all source records
type SystemHealthMetrics struct {
	Status              HealthStatus            `json:"status"`
	TotalSources        int                     `json:"total_sources"`
	HealthySources      int                     `json:"healthy_sources"`
	UnhealthySources    int                     `json:"unhealthy_sources"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	LastCheck           time.Time               `json:"last_check"`
	Sources             map[string]HealthRecord `json:"sources"`
}
