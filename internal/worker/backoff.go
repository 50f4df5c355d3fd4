package worker

import (
	"time"

	"github.com/kode4food/cascade/pkg/api"
)

type backoffCalculator func(base time.Duration, retryCount int) time.Duration

var backoffCalculators = map[string]backoffCalculator{
	api.BackoffTypeFixed: func(base time.Duration, _ int) time.Duration {
		return base
	},
	api.BackoffTypeLinear: func(base time.Duration, count int) time.Duration {
		return base * time.Duration(count+1)
	},
	api.BackoffTypeExponential: func(
		base time.Duration, count int,
	) time.Duration {
		return base << min(count, 32)
	},
}

// RetryDelay returns how long to wait before the retry following retryCount
// failed retries, capped by the configured maximum
func RetryDelay(cfg *api.RetryConfig, retryCount int) time.Duration {
	calculator, ok := backoffCalculators[cfg.Type]
	if !ok {
		calculator = backoffCalculators[api.BackoffTypeFixed]
	}
	delay := calculator(cfg.Interval, retryCount)
	if cfg.MaxInterval > 0 {
		return min(delay, cfg.MaxInterval)
	}
	return delay
}

func maxAttempts(cfg *api.RetryConfig) int {
	if cfg == nil || cfg.MaxAttempts < 1 {
		return 1
	}
	return cfg.MaxAttempts
}
