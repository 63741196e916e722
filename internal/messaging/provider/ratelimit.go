package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedProvider applies a process-wide token bucket in front of the
// wrapped provider so the gateway never exceeds the transport's rate limit,
// whatever the per-job delay settings are.
type RateLimitedProvider struct {
	inner   MessageProvider
	limiter *rate.Limiter
}

func NewRateLimitedProvider(inner MessageProvider, perSec float64) *RateLimitedProvider {
	if perSec <= 0 {
		perSec = 10
	}
	return &RateLimitedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(perSec), int(perSec)+1),
	}
}

func (p *RateLimitedProvider) SendText(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.SendText(ctx, details)
}

func (p *RateLimitedProvider) SendMedia(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.inner.SendMedia(ctx, details)
}

func (p *RateLimitedProvider) GetName() string {
	return p.inner.GetName()
}
