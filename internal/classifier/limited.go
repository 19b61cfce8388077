package classifier

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

// RateLimited wraps a Classifier with a client-side request limiter so a
// burst of group messages cannot exhaust the provider quota.
type RateLimited struct {
	inner   Classifier
	limiter *rate.Limiter
}

func NewRateLimited(inner Classifier, rps float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (r *RateLimited) Classify(ctx context.Context, text string) (*models.Verdict, error) {
	// Wait also fails when the deadline would expire before a slot frees
	// up; both cases mean the message could not be scored in time.
	if err := r.limiter.Wait(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("classifier: limiter wait: %w", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return r.inner.Classify(ctx, text)
}
