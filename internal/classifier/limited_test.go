package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

type countingClassifier struct {
	calls int
}

func (c *countingClassifier) Classify(ctx context.Context, text string) (*models.Verdict, error) {
	c.calls++
	return &models.Verdict{Label: models.LabelOK, Category: models.CategoryNone, Confidence: 0.9}, nil
}

func TestRateLimited_PassesThrough(t *testing.T) {
	inner := &countingClassifier{}
	limited := NewRateLimited(inner, 100, 10)

	verdict, err := limited.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, models.LabelOK, verdict.Label)
	assert.Equal(t, 1, inner.calls)
}

func TestRateLimited_DeadlineWhileWaiting(t *testing.T) {
	inner := &countingClassifier{}
	// One request per hour with no burst left after the first call.
	limited := NewRateLimited(inner, 1.0/3600, 1)

	_, err := limited.Classify(context.Background(), "first")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err = limited.Classify(ctx, "second")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, inner.calls, "the second call never reaches the provider")
}
