package question

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ashureev/quiz-battle/internal/domain"
)

const maxBodyBytes = 1 << 20

// HTTPProvider fetches questions from the generator service over HTTP.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

// NewHTTPProvider creates a provider for baseURL. perMinute <= 0 disables
// the client-side rate limit.
func NewHTTPProvider(baseURL string, timeout time.Duration, perMinute int) *HTTPProvider {
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = max(1, perMinute/10)
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		now:     time.Now,
	}
}

// wirePayload accepts both the bare question object and the generator's
// {"success": ..., "question": {...}} envelope. Choices may be numbers.
type wirePayload struct {
	Success       *bool             `json:"success,omitempty"`
	Question      json.RawMessage   `json:"question"`
	Choices       []json.RawMessage `json:"choices"`
	CorrectAnswer *int              `json:"correct_answer"`
	Explanation   string            `json:"explanation"`
	Error         string            `json:"error,omitempty"`
}

// Fetch implements Provider.
func (p *HTTPProvider) Fetch(ctx context.Context, subject domain.Subject, attempt int) (domain.Question, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.Question{}, fmt.Errorf("rate limit wait: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/generate-question/%s", p.baseURL, url.PathEscape(string(subject)))
	q := url.Values{}
	q.Set("_", strconv.FormatInt(p.now().UnixNano(), 10))
	q.Set("retry", strconv.Itoa(attempt))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return domain.Question{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Question{}, fmt.Errorf("request question: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return domain.Question{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return domain.Question{}, fmt.Errorf("read body: %w", err)
	}
	return decodeQuestion(body)
}

func decodeQuestion(body []byte) (domain.Question, error) {
	var outer wirePayload
	if err := json.Unmarshal(body, &outer); err != nil {
		return domain.Question{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if outer.Success != nil && !*outer.Success {
		return domain.Question{}, fmt.Errorf("%w: generator reported failure: %s", ErrInvalidPayload, outer.Error)
	}

	payload := outer
	trimmed := strings.TrimSpace(string(outer.Question))
	if strings.HasPrefix(trimmed, "{") {
		var inner wirePayload
		if err := json.Unmarshal(outer.Question, &inner); err != nil {
			return domain.Question{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		payload = inner
	}

	var prompt string
	if len(payload.Question) > 0 {
		if err := json.Unmarshal(payload.Question, &prompt); err != nil {
			return domain.Question{}, fmt.Errorf("%w: question is not text", ErrInvalidPayload)
		}
	}
	if strings.TrimSpace(prompt) == "" {
		return domain.Question{}, fmt.Errorf("%w: missing question text", ErrInvalidPayload)
	}
	if len(payload.Choices) == 0 {
		return domain.Question{}, fmt.Errorf("%w: missing choices", ErrInvalidPayload)
	}

	choices := make([]string, 0, len(payload.Choices))
	for _, raw := range payload.Choices {
		choices = append(choices, choiceText(raw))
	}

	question := domain.Question{
		Prompt:      prompt,
		Choices:     choices,
		Explanation: payload.Explanation,
	}
	if payload.CorrectAnswer == nil {
		return domain.Question{}, fmt.Errorf("%w: missing correct_answer", ErrInvalidPayload)
	}
	question.CorrectIndex = *payload.CorrectAnswer
	if err := question.Validate(); err != nil {
		return domain.Question{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return question, nil
}

func choiceText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
