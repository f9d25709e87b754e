package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/agentkernel/core/internal/kernel/id"
)

// RateLimitStage enforces a per-subject token bucket, rejecting a Request
// outright rather than blocking the single-writer admission path waiting
// for a token. Grounded on the token-bucket shape of
// features/model/middleware/ratelimit.go's AdaptiveRateLimiter, reduced
// from its AIMD adjustment (which the Scheduler owns for model-call
// throughput) to a fixed per-subject ceiling appropriate for admission-time
// rejection.
type RateLimitStage struct {
	mu       sync.Mutex
	limiters map[id.Id]*rate.Limiter
	rps      float64
	burst    int
}

// NewRateLimitStage builds a RateLimitStage allowing up to rps sustained
// requests per second per subject, with burst as the bucket size.
func NewRateLimitStage(rps float64, burst int) *RateLimitStage {
	return &RateLimitStage{
		limiters: make(map[id.Id]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

// Process implements Processor.
func (s *RateLimitStage) Process(_ context.Context, req Request) error {
	limiter := s.limiterFor(req.Subject)
	if !limiter.Allow() {
		return fmt.Errorf("rate limit exceeded for subject %s", req.Subject)
	}
	return nil
}

func (s *RateLimitStage) limiterFor(subject id.Id) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	limiter, ok := s.limiters[subject]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(s.rps), s.burst)
		s.limiters[subject] = limiter
	}
	return limiter
}
