// Package retry retries transient SQL Server and Oracle failures with jittered
// exponential backoff. Permanent failures (bad credentials, bad SQL) return at once.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// Config defines retry behavior with exponential backoff.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64 // 0.0-1.0; each delay is moved by up to +/- this fraction
	// MaxSameErrorType turns N consecutive failures of one class into a permanent failure.
	// 0 disables the check.
	MaxSameErrorType int
}

// DefaultConfig returns the settings used for opening and pinging datasource pools:
// 3 retries from 100ms, doubling, capped at 5s, with 10% jitter.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:       3,
		InitialDelay:     100 * time.Millisecond,
		MaxDelay:         5 * time.Second,
		Multiplier:       2.0,
		JitterFactor:     0.1,
		MaxSameErrorType: 5,
	}
}

// RetryableError is implemented by errors that know whether they are transient.
type RetryableError interface {
	error
	IsRetryable() bool
}

// errorClass groups lower-cased message fragments of one kind of transient failure.
type errorClass struct {
	name     string
	patterns []string
}

// Checked in order; the first class with a matching fragment wins.
var errorClasses = []errorClass{
	{name: "connection", patterns: []string{
		"connection refused", "connection reset", "no such host", "network is unreachable",
		"temporary failure",
		"ora-12541", "ora-12537", "ora-03114", // no listener, connection closed, not connected
	}},
	{name: "timeout", patterns: []string{"timeout", "timed out", "ora-12170"}},
	{name: "broken_pipe", patterns: []string{"broken pipe", "unexpected eof", "ora-03113"}},
	{name: "deadlock", patterns: []string{"deadlock", "error 1205", "ora-00060"}},
	{name: "throttled", patterns: []string{
		"too many connections",
		"error 40501", "error 10928", "error 10929", // Azure SQL resource limits
		"ora-12516", "ora-12519", // listener has no handler
	}},
	{name: "failover", patterns: []string{"error 40197", "error 40613", "error 49918"}},
}

// classify returns the transient class of err, or "" for permanent failures.
func classify(err error) string {
	msg := strings.ToLower(err.Error())
	for _, c := range errorClasses {
		for _, p := range c.patterns {
			if strings.Contains(msg, p) {
				return c.name
			}
		}
	}
	return ""
}

// IsRetryable reports whether err is transient. Errors implementing RetryableError
// anywhere in their chain decide for themselves.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r RetryableError
	if errors.As(err, &r) {
		return r.IsRetryable()
	}
	return classify(err) != ""
}

// DoIfRetryable calls fn until it succeeds, fails permanently, or the retries run out.
// Context cancellation during a wait returns ctx.Err().
func DoIfRetryable(ctx context.Context, cfg *Config, fn func() error) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	delay := cfg.InitialDelay
	var lastErr error
	var lastClass string
	sameClass := 0

	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return err
		}

		class := classify(err)
		if class == lastClass {
			sameClass++
		} else {
			lastClass, sameClass = class, 1
		}
		if cfg.MaxSameErrorType > 0 && sameClass >= cfg.MaxSameErrorType {
			return fmt.Errorf("repeated error (%d times, type=%s): %w", sameClass, class, err)
		}

		if attempt >= cfg.MaxRetries {
			return lastErr
		}
		select {
		case <-time.After(jitter(delay, cfg.JitterFactor)):
			delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// DoWithResultIfRetryable is DoIfRetryable for functions returning a value.
func DoWithResultIfRetryable[T any](ctx context.Context, cfg *Config, fn func() (T, error)) (T, error) {
	var result T
	err := DoIfRetryable(ctx, cfg, func() error {
		r, err := fn()
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	return result, err
}

func jitter(delay time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return delay
	}
	return time.Duration(float64(delay) * (1 + factor*(rand.Float64()*2-1)))
}
