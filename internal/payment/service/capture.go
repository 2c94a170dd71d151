package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sakashimaa/order-saga/pkg/utils"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrGatewayUnavailable is returned while the capture breaker is open.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

type CaptureRequest struct {
	OrderID uuid.UUID
	UserID  string
	Amount  int64
}

// CaptureResult is a business outcome. Transport failures are returned as
// errors instead and leave the payment in processing.
type CaptureResult struct {
	Approved bool
	Reason   string
}

type CaptureStrategy interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
}

type AlwaysApprove struct{}

func (AlwaysApprove) Capture(context.Context, CaptureRequest) (CaptureResult, error) {
	return CaptureResult{Approved: true}, nil
}

type AlwaysDecline struct {
	Reason string
}

func (d AlwaysDecline) Capture(context.Context, CaptureRequest) (CaptureResult, error) {
	return CaptureResult{Reason: d.Reason}, nil
}

// Probabilistic approves a capture with probability successRate.
type Probabilistic struct {
	mu          sync.Mutex
	rnd         *rand.Rand
	successRate float64
	reason      string
}

// NewProbabilistic uses rnd as its source; a nil rnd is seeded from the clock.
func NewProbabilistic(successRate float64, declineReason string, rnd *rand.Rand) *Probabilistic {
	if rnd == nil {
		seed := uint64(time.Now().UnixNano())
		rnd = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return &Probabilistic{rnd: rnd, successRate: successRate, reason: declineReason}
}

func (p *Probabilistic) Capture(context.Context, CaptureRequest) (CaptureResult, error) {
	p.mu.Lock()
	roll := p.rnd.Float64()
	p.mu.Unlock()

	if roll < p.successRate {
		return CaptureResult{Approved: true}, nil
	}
	return CaptureResult{Reason: p.reason}, nil
}

type BreakerSettings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
}

// BreakerCapture trips after consecutive transport failures of next and
// then fails fast with ErrGatewayUnavailable. Declines do not count as
// failures.
type BreakerCapture struct {
	next CaptureStrategy
	cb   *gobreaker.CircuitBreaker
}

func NewBreakerCapture(next CaptureStrategy, settings BreakerSettings, logger *zap.Logger) *BreakerCapture {
	cb := utils.NewCircuitBreaker(utils.BreakerConfig{
		Name:        "PaymentGateway",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		TripAfter:   settings.ConsecutiveFailures,
	}, logger)

	return &BreakerCapture{next: next, cb: cb}
}

func (b *BreakerCapture) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	res, err := utils.ExecuteWithBreaker(b.cb, func() (CaptureResult, error) {
		return b.next.Capture(ctx, req)
	})
	if utils.IsBreakerRejection(err) {
		return CaptureResult{}, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	return res, err
}
