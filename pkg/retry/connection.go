package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/chronicle-ai/chronicle-engine/pkg/apperrors"
)

// ConnectionLostConfig is the fixed policy for graph writes that hit a dropped
// database connection: 3 attempts, 1 second apart, no backoff. Anything that
// is not a lost connection fails immediately.
func ConnectionLostConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     1 * time.Second,
		Multiplier:   1.0,
		JitterFactor: 0,
	}
}

// IsConnectionLost reports whether err looks like a dropped database
// connection rather than a query-level failure.
func IsConnectionLost(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, apperrors.ErrConnectionLost) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	patterns := []string{
		"connection lost",
		"connection reset",
		"connection refused",
		"broken pipe",
		"server closed the connection",
		"conn closed",
		"unexpected eof",
	}
	for _, pattern := range patterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// DoIfConnectionLost retries fn only when the failure is a lost connection.
// Other errors are returned to the caller on the first attempt.
func DoIfConnectionLost(ctx context.Context, fn func() error) error {
	cfg := ConnectionLostConfig()

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err

			if !IsConnectionLost(err) {
				return err
			}

			if attempt < cfg.MaxRetries {
				select {
				case <-time.After(cfg.InitialDelay):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}

	return lastErr
}
