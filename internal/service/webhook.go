package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"pulsebase-backend/internal/model"
)

// WebhookService posts accepted messages to configured endpoints with a
// bounded timeout and a small retry budget. Each URL's outcome is
// independent; a failing endpoint never affects its siblings.
type WebhookService struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
}

func NewWebhookService(timeout time.Duration, attempts int) *WebhookService {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if attempts <= 0 {
		attempts = 3
	}
	return &WebhookService{
		client:   &http.Client{Timeout: timeout},
		attempts: attempts,
		backoff:  500 * time.Millisecond,
	}
}

// Deliver posts the event to one URL, retrying with exponential backoff
// until the attempt budget is spent. A 2xx response is success; anything
// else after the last attempt is a delivery failure.
func (s *WebhookService) Deliver(ctx context.Context, url string, event *model.WebhookEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}

	var lastErr error
	wait := s.backoff
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			wait *= 2
		}

		lastErr = s.post(ctx, url, body)
		if lastErr == nil {
			return nil
		}
		log.Printf("[webhook] attempt %d/%d failed for %s: %v", attempt, s.attempts, url, lastErr)
	}
	return lastErr
}

func (s *WebhookService) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
