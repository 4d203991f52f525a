package resilience

import "time"

// QuotaBackoff returns the retry policy for provider-side quota rejections:
// sleep 2^n units after the n-th failed attempt, no jitter, no cap.
func QuotaBackoff(maxAttempts int, unit time.Duration, shouldRetry func(error) bool) RetryConfig {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if unit <= 0 {
		unit = time.Second
	}
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: 2 * unit,
		Multiplier:     2.0,
		RetryLast:      true,
		ShouldRetry:    shouldRetry,
	}
}

// FromRetryConfig converts config values to a RetryConfig.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}
