package service

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"pulsebase-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() *model.WebhookEvent {
	return &model.WebhookEvent{
		MessageID:   "m1",
		ChannelName: "chat:lobby",
		EventName:   "message",
		Payload:     json.RawMessage(`{"text":"hi"}`),
		SentAt:      time.Now().UTC(),
	}
}

func fastWebhookService(attempts int) *WebhookService {
	s := NewWebhookService(time.Second, attempts)
	s.backoff = time.Millisecond
	return s
}

func TestWebhookDeliverSuccess(t *testing.T) {
	var calls int32
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		gotBody, _ = io.ReadAll(r.Body)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(200)
	}))
	defer srv.Close()

	err := fastWebhookService(3).Deliver(context.Background(), srv.URL, testEvent())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "success must not be retried")

	var ev model.WebhookEvent
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, "chat:lobby", ev.ChannelName)
	assert.JSONEq(t, `{"text":"hi"}`, string(ev.Payload))
}

func TestWebhookDeliverRetriesThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(500)
			return
		}
		w.WriteHeader(204)
	}))
	defer srv.Close()

	err := fastWebhookService(3).Deliver(context.Background(), srv.URL, testEvent())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWebhookDeliverBudgetExhausted(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(502)
	}))
	defer srv.Close()

	err := fastWebhookService(3).Deliver(context.Background(), srv.URL, testEvent())
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls), "exactly the attempt budget")
}

func TestWebhookDeliverUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	err := fastWebhookService(2).Deliver(context.Background(), srv.URL, testEvent())
	assert.Error(t, err)
}

func TestWebhookDeliverHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
	}))
	defer srv.Close()

	s := NewWebhookService(time.Second, 5)
	s.backoff = time.Hour // force the retry wait to depend on ctx

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := s.Deliver(ctx, srv.URL, testEvent())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
