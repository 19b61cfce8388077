package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ivanslavinskyi/ai-antiscam-bot/internal/models"
)

func newTestClassifier(t *testing.T, handler http.Handler, timeout time.Duration) *OpenAIClassifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewOpenAIClassifier(Options{
		APIKey:    "test-key",
		BaseURL:   srv.URL + "/v1",
		Model:     "gpt-4o-mini",
		MaxTokens: 256,
		Timeout:   timeout,
	}, zap.NewNop())
}

func completionHandler(t *testing.T, content string) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := openai.ChatCompletionResponse{
			ID:     "chatcmpl-test",
			Object: "chat.completion",
			Model:  "gpt-4o-mini-2024-07-18",
			Choices: []openai.ChatCompletionChoice{
				{
					Message: openai.ChatCompletionMessage{
						Role:    openai.ChatMessageRoleAssistant,
						Content: content,
					},
					FinishReason: openai.FinishReasonStop,
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	})
}

func TestOpenAIClassifier_ParsesVerdict(t *testing.T) {
	clf := newTestClassifier(t, completionHandler(t,
		`{"label": "SCAM", "category": "job_scam", "confidence": 0.93, "reason": "обещание лёгких денег"}`),
		5*time.Second)

	verdict, err := clf.Classify(context.Background(), "Заработок 500$ в день, пиши в личку!")
	require.NoError(t, err)
	assert.Equal(t, models.LabelScam, verdict.Label)
	assert.Equal(t, models.CategoryJobScam, verdict.Category)
	assert.InDelta(t, 0.93, verdict.Confidence, 1e-9)
	assert.Equal(t, "обещание лёгких денег", verdict.Reason)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", verdict.ModelVersion)
	assert.NotEmpty(t, verdict.Raw, "the raw provider response must be kept for audit")
}

func TestOpenAIClassifier_SendsSystemPrompt(t *testing.T) {
	var req openai.ChatCompletionRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		completionHandler(t, `{"label": "OK", "category": "none", "confidence": 0.1, "reason": "ок"}`).ServeHTTP(w, r)
	})

	clf := newTestClassifier(t, handler, 5*time.Second)
	_, err := clf.Classify(context.Background(), "Привет, как дела?")
	require.NoError(t, err)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "модератор")
	assert.Equal(t, "Привет, как дела?", req.Messages[1].Content)
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.Equal(t, 256, req.MaxTokens)
}

func TestOpenAIClassifier_MalformedResponses(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "это точно скам, поверь мне"},
		{"unknown label", `{"label": "MAYBE", "category": "none", "confidence": 0.5, "reason": "?"}`},
		{"unknown category", `{"label": "SCAM", "category": "spam", "confidence": 0.9, "reason": "?"}`},
		{"confidence above one", `{"label": "SCAM", "category": "other", "confidence": 1.5, "reason": "?"}`},
		{"negative confidence", `{"label": "OK", "category": "none", "confidence": -0.1, "reason": "?"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clf := newTestClassifier(t, completionHandler(t, tt.content), 5*time.Second)

			_, err := clf.Classify(context.Background(), "текст")
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestOpenAIClassifier_NoChoices(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "chatcmpl-test", "object": "chat.completion", "choices": []}`))
	})

	clf := newTestClassifier(t, handler, 5*time.Second)
	_, err := clf.Classify(context.Background(), "текст")
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOpenAIClassifier_RateLimited(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error": {"message": "Rate limit reached", "type": "requests"}}`))
	})

	clf := newTestClassifier(t, handler, 5*time.Second)
	_, err := clf.Classify(context.Background(), "текст")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestOpenAIClassifier_Timeout(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		completionHandler(t, `{"label": "OK", "category": "none", "confidence": 0.1, "reason": "ок"}`).ServeHTTP(w, r)
	})

	clf := newTestClassifier(t, handler, 30*time.Millisecond)
	_, err := clf.Classify(context.Background(), "текст")
	assert.ErrorIs(t, err, ErrTimeout)
}
