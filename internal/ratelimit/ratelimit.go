// Package ratelimit provides per-channel admission control for outbound
// venue traffic. Each channel owns an independent token bucket; acquiring a
// token blocks the caller until one is available and never fails except
// through context cancellation.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Channel identifies an outbound traffic class with its own budget.
type Channel string

const (
	// ChannelRest gates REST requests.
	ChannelRest Channel = "rest"
	// ChannelStreamSend gates writes on the streaming connection.
	ChannelStreamSend Channel = "stream_send"
)

// Budget is the capacity of one channel: at most Burst admissions
// instantaneously and PerSecond sustained.
type Budget struct {
	PerSecond float64
	Burst     int
}

// Limiter is a set of independent token buckets keyed by channel. The bucket
// set is fixed at construction; Acquire on an unknown channel is a
// programming error and panics.
type Limiter struct {
	buckets map[Channel]*rate.Limiter
}

// New creates a Limiter with the given per-channel budgets.
func New(budgets map[Channel]Budget) *Limiter {
	buckets := make(map[Channel]*rate.Limiter, len(budgets))
	for ch, b := range budgets {
		buckets[ch] = rate.NewLimiter(rate.Limit(b.PerSecond), b.Burst)
	}
	return &Limiter{buckets: buckets}
}

// NewDefault creates a Limiter with the venue's documented budgets:
// 10 REST requests per second and 5 streaming sends per second.
func NewDefault() *Limiter {
	return New(map[Channel]Budget{
		ChannelRest:       {PerSecond: 10, Burst: 10},
		ChannelStreamSend: {PerSecond: 5, Burst: 5},
	})
}

// Acquire blocks until a token is available on the channel, then consumes
// it. The only possible error is ctx's; starvation shows up as blocking,
// never as a dropped request.
func (l *Limiter) Acquire(ctx context.Context, ch Channel) error {
	bucket, ok := l.buckets[ch]
	if !ok {
		panic(fmt.Sprintf("ratelimit: unknown channel %q", ch))
	}
	return bucket.Wait(ctx)
}
