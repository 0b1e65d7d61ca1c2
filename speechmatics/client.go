package speechmatics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	ManagementURL    = "https://mp.speechmatics.com/v1"
	WebSocketBaseURL = "wss://eu2.rt.speechmatics.com/v2"
	PingInterval     = 30 * time.Second
	PongTimeout      = 60 * time.Second
	DefaultKeyTTL    = 60 * time.Second
)

var (
	ErrMissingAPIKey     = errors.New("speechmatics: api key is required")
	ErrMissingCredential = errors.New("speechmatics: no temporary key in response")
)

// APIError is returned when the management API answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("speechmatics: unexpected status code %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	APIKey        string
	HTTPClient    *http.Client
	ManagementURL string
	RealtimeURL   string
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:        apiKey,
		HTTPClient:    &http.Client{Timeout: 15 * time.Second},
		ManagementURL: ManagementURL,
		RealtimeURL:   WebSocketBaseURL,
	}
}

type OperatingPoint string

const (
	OperatingPointStandard OperatingPoint = "standard"
	OperatingPointEnhanced OperatingPoint = "enhanced"
)

type TranscriptFilteringConfig struct {
	RemoveDisfluencies bool `json:"remove_disfluencies"`
}

type TranscriptionConfig struct {
	Language                  string                     `json:"language"`
	Domain                    string                     `json:"domain,omitempty"`
	OutputLocale              string                     `json:"output_locale,omitempty"`
	OperatingPoint            OperatingPoint             `json:"operating_point,omitempty"`
	AdditionalVocab           []AdditionalVocab          `json:"additional_vocab,omitempty"`
	EnablePartials            bool                       `json:"enable_partials,omitempty"`
	MaxDelay                  float64                    `json:"max_delay,omitempty"`
	TranscriptFilteringConfig *TranscriptFilteringConfig `json:"transcript_filtering_config,omitempty"`
}

type AdditionalVocab struct {
	Content string   `json:"content"`
	Sounds  []string `json:"sounds,omitempty"`
}

type AudioFormat struct {
	Type       string `json:"type"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// RawPCM16 is the audio format produced by the audio package encoder.
func RawPCM16(sampleRate int) AudioFormat {
	return AudioFormat{
		Type:       "raw",
		Encoding:   "pcm_s16le",
		SampleRate: sampleRate,
	}
}

type StartRecognition struct {
	Message             string              `json:"message"`
	AudioFormat         AudioFormat         `json:"audio_format"`
	TranscriptionConfig TranscriptionConfig `json:"transcription_config"`
}

// DefaultStartRecognition is the configuration used for speaking practice:
// English, enhanced operating point, partials on and disfluencies removed.
func DefaultStartRecognition(sampleRate int) StartRecognition {
	return StartRecognition{
		Message:     "StartRecognition",
		AudioFormat: RawPCM16(sampleRate),
		TranscriptionConfig: TranscriptionConfig{
			Language:       "en",
			OperatingPoint: OperatingPointEnhanced,
			MaxDelay:       1.0,
			EnablePartials: true,
			TranscriptFilteringConfig: &TranscriptFilteringConfig{
				RemoveDisfluencies: true,
			},
		},
	}
}

type EndOfStreamMessage struct {
	Message   string `json:"message"`
	LastSeqNo int    `json:"last_seq_no"`
}

type TemporaryKey struct {
	ID        string
	Value     string
	ExpiresAt time.Time
}

// CreateTemporaryKey exchanges the long-lived API key for a short-lived key
// scoped to real-time transcription.
func (c *Client) CreateTemporaryKey(ctx context.Context, ttl time.Duration) (*TemporaryKey, error) {
	if c.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}

	payload, err := json.Marshal(struct {
		TTL int `json:"ttl"`
	}{TTL: int(ttl.Seconds())})
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/api_keys?type=rt", c.ManagementURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.APIKey))
	req.Header.Set("Content-Type", "application/json")

	issuedAt := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request temporary key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var response struct {
		KeyID    string `json:"apikey_id"`
		KeyValue string `json:"key_value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode temporary key: %w", err)
	}
	if response.KeyValue == "" {
		return nil, ErrMissingCredential
	}

	return &TemporaryKey{
		ID:        response.KeyID,
		Value:     response.KeyValue,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}
