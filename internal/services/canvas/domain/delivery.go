package domain

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// DeliveryAction is what the delivery layer does after one attempt.
type DeliveryAction string

const (
	ActionAck        DeliveryAction = "ack"
	ActionRetry      DeliveryAction = "retry"
	ActionDeadLetter DeliveryAction = "dead"
)

// Decision is the delivery outcome for one attempt.
type Decision struct {
	Action DeliveryAction
	// Delay is the wait before redelivery when Action is ActionRetry.
	Delay time.Duration
}

// DeliveryPolicy is the retry, backoff, and dead-letter contract every
// handler is delivered under.
type DeliveryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Delivery defaults.
const (
	DefaultMaxAttempts     = 5
	DefaultInitialInterval = 10 * time.Second
	DefaultMaxInterval     = 600 * time.Second
	DefaultMultiplier      = 2.0
)

// DefaultDeliveryPolicy returns 5 attempts with 10s to 600s backoff.
func DefaultDeliveryPolicy() DeliveryPolicy {
	return DeliveryPolicy{
		MaxAttempts:     DefaultMaxAttempts,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
	}
}

// Normalized fills zero fields with defaults.
func (p DeliveryPolicy) Normalized() DeliveryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = DefaultInitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	if p.MaxInterval < p.InitialInterval {
		p.MaxInterval = p.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	return p
}

// Backoff returns the redelivery delay after the given failed attempt
// (1-based). The sequence has no jitter so tests can assert it.
func (p DeliveryPolicy) Backoff(attempt int) time.Duration {
	p = p.Normalized()
	if attempt < 1 {
		attempt = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()
	var delay time.Duration
	for range attempt {
		delay = b.NextBackOff()
	}
	return delay
}

// Decide maps the result of attempt number attempt (1-based) to an action.
// Terminal rejections are acknowledged; permanent failures and exhausted
// budgets are dead-lettered.
func (p DeliveryPolicy) Decide(attempt int, err error) Decision {
	p = p.Normalized()
	if err == nil {
		return Decision{Action: ActionAck}
	}
	if _, ok := AsRejection(err); ok {
		return Decision{Action: ActionAck}
	}
	if IsPermanent(err) || attempt >= p.MaxAttempts {
		return Decision{Action: ActionDeadLetter}
	}
	return Decision{Action: ActionRetry, Delay: p.Backoff(attempt)}
}
