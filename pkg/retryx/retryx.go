// Package retryx computes retry backoff delays and eligibility times for
// the job queue and the webhook dispatcher. Retry state lives entirely in
// the stored records (attempt counters and next-eligible timestamps), so
// in-flight retries survive process restarts.
package retryx

import (
	"math"
	"time"
)

// DefaultMaxDelay caps the computed backoff when a policy does not set one.
const DefaultMaxDelay = 15 * time.Minute

// Policy describes the bounded exponential backoff of one job queue or
// webhook subscription.
type Policy struct {
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxDelay          time.Duration `json:"max_delay,omitempty"`
}

// Normalize fills zero fields with usable defaults.
func (p Policy) Normalize() Policy {
	if p.MaxRetries < 1 {
		p.MaxRetries = 3
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = 30 * time.Second
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// NextDelay returns min(base * multiplier^attempts, cap). The attempts
// argument counts completed attempts, so the first retry (attempts=1) waits
// base*multiplier.
func NextDelay(attempts int, base time.Duration, multiplier float64, cap time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if multiplier < 1 {
		multiplier = 1
	}
	if cap <= 0 {
		cap = DefaultMaxDelay
	}
	if attempts < 0 {
		attempts = 0
	}

	d := float64(base) * math.Pow(multiplier, float64(attempts))
	if d >= float64(cap) || math.IsInf(d, 1) {
		return cap
	}
	return time.Duration(d)
}

// NextDelay applies the policy's parameters for the given attempt count.
func (p Policy) NextDelay(attempts int) time.Duration {
	p = p.Normalize()
	return NextDelay(attempts, p.RetryDelay, p.BackoffMultiplier, p.MaxDelay)
}

// NextEligibleAt returns the moment a record with the given attempt count
// becomes claimable again.
func (p Policy) NextEligibleAt(now time.Time, attempts int) time.Time {
	return now.Add(p.NextDelay(attempts))
}

// Exhausted reports whether a record with the given attempt count has no
// retry budget left.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.Normalize().MaxRetries
}
