package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"

	"fluent.town/session"
)

const DefaultMaxRetries = 2

var (
	ErrMissingItem     = errors.New("evaluation: topic or passage id is required")
	ErrEmptySubmission = errors.New("evaluation: no spoken text to submit")
)

// Error is a non-2xx answer from the evaluation backend.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("evaluation: unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("evaluation: unexpected status code %d: %s", e.StatusCode, e.Message)
}

// Temporary reports whether retrying the same request may succeed.
func (e *Error) Temporary() bool {
	return e.StatusCode >= 500
}

type Kind string

const (
	Speaking Kind = "speaking"
	Reading  Kind = "reading"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Speaking, Reading:
		return Kind(s), nil
	}
	return "", fmt.Errorf("evaluation: unknown kind %q", s)
}

type Feedback struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// Evaluation is the backend's assessment of one recorded answer. Scores holds
// the per-criterion values: fluency, pronunciation, coherence, vocabulary and
// grammar for speaking; accuracy, fluency, completeness and pronunciation for
// reading.
type Evaluation struct {
	Kind       Kind               `json:"kind"`
	Scores     map[string]float64 `json:"scores"`
	Overall    float64            `json:"overall"`
	Feedback   []Feedback         `json:"feedback"`
	Transcript string             `json:"transcript"`
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	MaxRetries int
	Logger     *log.Logger
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		MaxRetries: DefaultMaxRetries,
		Logger:     log.Default(),
	}
}

func (c *Client) SubmitSpeaking(ctx context.Context, topicID string, chunks []session.Chunk) (*Evaluation, error) {
	return c.Submit(ctx, Speaking, topicID, chunks)
}

func (c *Client) SubmitReading(ctx context.Context, passageID string, chunks []session.Chunk) (*Evaluation, error) {
	return c.Submit(ctx, Reading, passageID, chunks)
}

// Submit posts the chunks of a finished answer for evaluation. Nothing is
// sent when the id is empty or no chunk carries text.
func (c *Client) Submit(ctx context.Context, kind Kind, itemID string, chunks []session.Chunk) (*Evaluation, error) {
	if strings.TrimSpace(itemID) == "" {
		return nil, ErrMissingItem
	}
	if !hasText(chunks) {
		return nil, ErrEmptySubmission
	}

	idField := "topicId"
	if kind == Reading {
		idField = "passageId"
	}
	body := map[string]any{
		idField:  itemID,
		"chunks": chunks,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s/evaluate", c.BaseURL, kind)
	logger := c.logger().With("kind", kind, "item", itemID, "chunks", len(chunks))

	var result *Evaluation
	attempt := 0
	op := func() error {
		attempt++
		ev, err := c.post(ctx, url, payload)
		if err != nil {
			var apiErr *Error
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			logger.Warn("Evaluation request failed", "attempt", attempt, "error", err)
			return err
		}
		result = ev
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	retries := c.MaxRetries
	if retries < 0 {
		retries = 0
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(retries)), ctx)); err != nil {
		logger.Error("Evaluation failed", "error", err)
		return nil, err
	}

	if result.Kind == "" {
		result.Kind = kind
	}
	logger.Info("Evaluation received", "overall", result.Overall)
	return result, nil
}

func (c *Client) post(ctx context.Context, url string, payload []byte) (*Evaluation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("submit evaluation: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{StatusCode: resp.StatusCode, Message: errorMessage(resp.Body)}
	}

	var ev Evaluation
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode evaluation: %w", err))
	}
	return &ev, nil
}

// errorMessage extracts {"error": "..."} or {"message": "..."} from an error
// body, falling back to the raw text.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

func (c *Client) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

func hasText(chunks []session.Chunk) bool {
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk.Text) != "" {
			return true
		}
	}
	return false
}
