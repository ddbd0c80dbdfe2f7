package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"server/internal/domain"
	"server/internal/infra"
)

const (
	retryAttempts = 2
	retryDelay    = 2 * time.Second
)

// Options configures the speech-to-text client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Transcriber produces a verbatim transcript from a downloadable media URL by
// delegating to the speech-to-text service. Transcription can take tens of
// seconds; the caller bounds the wait through the context deadline.
type Transcriber struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *infra.Logger
}

// NewTranscriber constructs a Transcriber.
func NewTranscriber(opts Options) (*Transcriber, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("speech: base url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		// No client-level timeout: the per-call context carries the deadline.
		client = &http.Client{}
	}
	return &Transcriber{
		baseURL: baseURL,
		apiKey:  opts.APIKey,
		client:  client,
		logger:  opts.Logger,
	}, nil
}

type transcribeRequest struct {
	MediaURL string `json:"media_url"`
}

type transcribeResponse struct {
	Text string `json:"text"`
}

// Transcribe returns the spoken-audio transcript of the media at mediaURL.
// Rate-limit and service-unavailable responses are retried a bounded number
// of times; a context deadline is surfaced unchanged and never retried.
func (t *Transcriber) Transcribe(ctx context.Context, mediaURL string) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= retryAttempts; attempt++ {
		if attempt > 0 {
			if t.logger != nil {
				t.logger.Warn().Err(lastErr).Int("attempt", attempt).Msg("speech: retrying transcription")
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(retryDelay):
			}
		}
		text, err := t.transcribeOnce(ctx, mediaURL)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return "", err
		}
		lastErr = err
		if !isRetryableStatus(err) {
			return "", err
		}
	}
	return "", lastErr
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("speech: transcription status %d", e.code)
}

func isRetryableStatus(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code == http.StatusTooManyRequests || se.code == http.StatusServiceUnavailable
}

func (t *Transcriber) transcribeOnce(ctx context.Context, mediaURL string) (string, error) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(transcribeRequest{MediaURL: mediaURL}); err != nil {
		return "", fmt.Errorf("speech: encode request: %w", err)
	}
	endpoint := t.baseURL + "/v1/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("speech: request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", &statusError{code: resp.StatusCode}
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("speech: decode response: %w", err)
	}
	text := strings.TrimSpace(out.Text)
	if text == "" {
		return "", fmt.Errorf("speech: %w: empty transcript", domain.ErrMalformedResponse)
	}
	return text, nil
}
