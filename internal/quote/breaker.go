package quote

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"papertrade/internal/logger"
	"papertrade/internal/model"
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker guards the quote provider. After threshold consecutive failures
// it opens and fails calls fast with ErrUnavailable; after resetTimeout a
// single half-open probe decides whether to close again.
type Breaker struct {
	mu           sync.Mutex
	state        breakerState
	failureCount int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
}

func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		state:        stateClosed,
	}
}

func (b *Breaker) Execute(action func() error) error {
	b.mu.Lock()
	if b.state == stateOpen {
		if time.Since(b.lastFailure) > b.resetTimeout {
			logger.L().Info("quote breaker half-open")
			b.state = stateHalfOpen
		} else {
			b.mu.Unlock()
			return model.ErrUnavailable
		}
	}
	b.mu.Unlock()

	err := action()

	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil {
		// A caller that gave up says nothing about provider health;
		// counting those would open the breaker on a healthy provider.
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		b.failureCount++
		b.lastFailure = time.Now()
		if b.failureCount >= b.threshold {
			if b.state != stateOpen {
				logger.L().Warn("quote breaker open",
					zap.Int("failures", b.failureCount))
			}
			b.state = stateOpen
		}
		return err
	}

	if b.state == stateHalfOpen {
		logger.L().Info("quote breaker closed")
	}
	b.state = stateClosed
	b.failureCount = 0
	return nil
}
