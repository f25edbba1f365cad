package entities

import (
	"errors"
	"fmt"
	"time"
)

// DataSourceType identifies the kind of backend a data source talks to
type DataSourceType string

const (
	DataSourceRPC         DataSourceType = "rpc"
	DataSourceWebsocket   DataSourceType = "websocket"
	DataSourceArchival    DataSourceType = "archival"
	DataSourceExternalAPI DataSourceType = "external-api"
	DataSourceMock        DataSourceType = "mock"
)

// Valid reports whether t is one of the known data source types
func (t DataSourceType) Valid() bool {
	switch t {
	case DataSourceRPC, DataSourceWebsocket, DataSourceArchival, DataSourceExternalAPI, DataSourceMock:
		return true
	}
	return false
}

// RateLimit is the request budget of a data source. Zero means unlimited.
type RateLimit struct {
	RequestsPerSecond int `json:"requests_per_second"`
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour"`
}

// RetryPolicy configures the retry wrapper around network calls
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	InitialDelay      time.Duration `json:"initial_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryPolicy returns the policy used when a descriptor has none
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
	}
}

// DataSourceDescriptor describes one configured data source.
// It is treated as immutable once constructed.
type DataSourceDescriptor struct {
	ID          string         `json:"id"`
	Type        DataSourceType `json:"type"`
	Priority    int            `json:"priority"`
	Endpoint    string         `json:"endpoint"`
	WSEndpoint  string         `json:"ws_endpoint,omitempty"`
	Enabled     bool           `json:"enabled"`
	RateLimit   *RateLimit     `json:"rate_limit,omitempty"`
	RetryPolicy *RetryPolicy   `json:"retry_policy,omitempty"`
	Timeout     time.Duration  `json:"timeout,omitempty"`
}

var (
	// ErrMissingSourceID indicates a descriptor without an id
	ErrMissingSourceID = errors.New("data source id is required")
	// ErrMissingEndpoint indicates a network descriptor without an endpoint
	ErrMissingEndpoint = errors.New("data source endpoint is required")
)

// Validate checks the required fields of the descriptor
func (d DataSourceDescriptor) Validate() error {
	if d.ID == "" {
		return ErrMissingSourceID
	}
	if !d.Type.Valid() {
		return fmt.Errorf("data source %s: unknown type %q", d.ID, d.Type)
	}
	if d.Type != DataSourceMock && d.Endpoint == "" {
		return fmt.Errorf("data source %s: %w", d.ID, ErrMissingEndpoint)
	}
	if d.RetryPolicy != nil {
		if d.RetryPolicy.MaxRetries < 0 {
			return fmt.Errorf("data source %s: max retries must not be negative", d.ID)
		}
		if d.RetryPolicy.BackoffMultiplier < 1 && d.RetryPolicy.BackoffMultiplier != 0 {
			return fmt.Errorf("data source %s: backoff multiplier must be >= 1", d.ID)
		}
	}
	return nil
}

// EffectiveRetryPolicy returns the configured retry policy or the default one
func (d DataSourceDescriptor) EffectiveRetryPolicy() RetryPolicy {
	if d.RetryPolicy == nil {
		return DefaultRetryPolicy()
	}
	p := *d.RetryPolicy
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = 1
	}
	return p
}
