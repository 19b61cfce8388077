package classifier

import (
	"context"
	"errors"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

var (
	// ErrTimeout is returned when the provider did not answer within the
	// configured deadline.
	ErrTimeout = errors.New("classifier: request timed out")
	// ErrRateLimited is returned when the provider rejected the request
	// because of quota limits.
	ErrRateLimited = errors.New("classifier: rate limited")
	// ErrMalformedResponse is returned when the provider's answer does
	// not parse into a valid verdict.
	ErrMalformedResponse = errors.New("classifier: malformed response")
)

// Classifier scores one group message for scam content.
type Classifier interface {
	Classify(ctx context.Context, text string) (*models.Verdict, error)
}
