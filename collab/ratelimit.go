package collab

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedModel decorates a ModelClient with a token-bucket rate limit so
// many agents fanning out simultaneously cannot overwhelm the backing
// service. Calls block until a token is available or the context ends.
type RateLimitedModel struct {
	next    ModelClient
	limiter *rate.Limiter
}

// NewRateLimitedModel wraps next with a limit of requestsPerSecond and the
// given burst.
func NewRateLimitedModel(next ModelClient, requestsPerSecond float64, burst int) *RateLimitedModel {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedModel{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Complete waits for rate-limit admission, then delegates.
func (m *RateLimitedModel) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("model rate limit: %w", err)
	}
	return m.next.Complete(ctx, req)
}
