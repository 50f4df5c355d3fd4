package api

import (
	"errors"
	"time"

	"github.com/kode4food/cascade/pkg/util"
)

type (
	// RetryConfig controls how the worker retries a failed runnable task
	RetryConfig struct {
		MaxAttempts int           `yaml:"maxAttempts" json:"maxAttempts"`
		Interval    time.Duration `yaml:"backoff" json:"backoff"`
		MaxInterval time.Duration `yaml:"maxBackoff" json:"maxBackoff"`
		Type        string        `yaml:"type" json:"type"`
	}

	// Retryable is implemented by tasks that declare a retry policy
	Retryable interface {
		RetryPolicy() *RetryConfig
	}

	// Timeoutable is implemented by tasks that declare an execution timeout
	Timeoutable interface {
		TaskTimeout() time.Duration
	}
)

const (
	BackoffTypeFixed       = "fixed"
	BackoffTypeLinear      = "linear"
	BackoffTypeExponential = "exponential"
)

var (
	ErrInvalidRetryConfig = errors.New("invalid retry config")
	ErrInvalidBackoffType = errors.New("invalid backoff type")
	ErrNegativeBackoff    = errors.New("retry interval cannot be negative")
	ErrMaxBackoffTooSmall = errors.New("max interval must be >= interval")
)

var validBackoffTypes = util.SetOf(
	BackoffTypeFixed,
	BackoffTypeLinear,
	BackoffTypeExponential,
)

// Validate checks that the retry settings are coherent
func (c *RetryConfig) Validate() error {
	if c.MaxAttempts < 0 {
		return ErrInvalidRetryConfig
	}
	if c.Interval < 0 {
		return ErrNegativeBackoff
	}
	if c.MaxInterval != 0 && c.MaxInterval < c.Interval {
		return ErrMaxBackoffTooSmall
	}
	if c.Type != "" && !validBackoffTypes.Contains(c.Type) {
		return ErrInvalidBackoffType
	}
	return nil
}

// WithDefaults returns a copy with unset fields taken from defaults
func (c *RetryConfig) WithDefaults(defaults *RetryConfig) *RetryConfig {
	res := *c
	if defaults == nil {
		return &res
	}
	if res.MaxAttempts == 0 {
		res.MaxAttempts = defaults.MaxAttempts
	}
	if res.Interval == 0 {
		res.Interval = defaults.Interval
	}
	if res.MaxInterval == 0 {
		res.MaxInterval = defaults.MaxInterval
	}
	if res.Type == "" {
		res.Type = defaults.Type
	}
	return &res
}
