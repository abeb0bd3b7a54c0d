package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLive struct {
	mu       sync.Mutex
	frames   map[string][][]byte
	audience map[string]int
}

func newFakeLive() *fakeLive {
	return &fakeLive{frames: make(map[string][][]byte), audience: make(map[string]int)}
}

func (f *fakeLive) Publish(channelName string, data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[channelName] = append(f.frames[channelName], data)
	return f.audience[channelName]
}

func (f *fakeLive) framesFor(channelName string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.frames[channelName]...)
}

type fakeResolver struct {
	mu       sync.Mutex
	channels map[string]*model.Channel
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{channels: make(map[string]*model.Channel)}
}

func (f *fakeResolver) set(name string, ch *model.Channel) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels[name] = ch
}

func (f *fakeResolver) GetByName(_ context.Context, name string) (*model.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[name], nil
}

type fakeDeliverer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]bool
	gate  chan struct{} // when non-nil, Deliver blocks until closed
}

func (f *fakeDeliverer) Deliver(_ context.Context, url string, _ *model.WebhookEvent) error {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.calls = append(f.calls, url)
	failed := f.fail[url]
	f.mu.Unlock()
	if failed {
		return fmt.Errorf("HTTP 502")
	}
	return nil
}

func (f *fakeDeliverer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type recordedCounts struct{ ws, whAudience, whDelivered int }

type fakeRecorder struct {
	mu    sync.Mutex
	calls map[string][]recordedCounts
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{calls: make(map[string][]recordedCounts)}
}

func (f *fakeRecorder) SetDeliveryCounts(_ context.Context, id string, ws, whAudience, whDelivered int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id] = append(f.calls[id], recordedCounts{ws, whAudience, whDelivered})
	return nil
}

func (f *fakeRecorder) countsFor(id string) []recordedCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedCounts(nil), f.calls[id]...)
}

func testMessage(id, channel, event string, payload string) *model.Message {
	return &model.Message{
		ID:          id,
		EventName:   event,
		ChannelID:   "ch-" + channel,
		ChannelName: channel,
		Payload:     json.RawMessage(payload),
		SenderType:  model.SenderUser,
	}
}

func TestDispatcherPerChannelFIFO(t *testing.T) {
	live := newFakeLive()
	resolver := newFakeResolver()
	recorder := newFakeRecorder()
	d := NewDispatcher(live, resolver, &fakeDeliverer{}, recorder, 4)

	const n = 50
	for i := 0; i < n; i++ {
		d.Enqueue(testMessage(fmt.Sprintf("m%02d", i), "chat:seq", "tick", fmt.Sprintf(`{"seq":%d}`, i)))
	}
	d.Shutdown()

	frames := live.framesFor("chat:seq")
	require.Len(t, frames, n)
	for i, frame := range frames {
		var ev model.WSEvent
		require.NoError(t, json.Unmarshal(frame, &ev))
		var body struct {
			Seq int `json:"seq"`
		}
		require.NoError(t, json.Unmarshal(ev.Data, &body))
		assert.Equal(t, i, body.Seq, "delivery out of commit order at position %d", i)
	}
}

func TestDispatcherChannelsProgressIndependently(t *testing.T) {
	live := newFakeLive()
	resolver := newFakeResolver()
	gate := make(chan struct{})
	deliverer := &fakeDeliverer{gate: gate}
	recorder := newFakeRecorder()
	d := NewDispatcher(live, resolver, deliverer, recorder, 4)
	defer func() {
		close(gate)
		d.Shutdown()
	}()

	resolver.set("slow:1", &model.Channel{ID: "c1", Pattern: "slow:1", Enabled: true, WebhookURLs: []string{"http://stuck.example"}})

	d.Enqueue(testMessage("m-slow", "slow:1", "tick", `{}`))
	d.Enqueue(testMessage("m-fast", "fast:1", "tick", `{}`))

	// The fast channel must finish while the slow channel's webhook is
	// still blocked.
	require.Eventually(t, func() bool {
		return len(recorder.countsFor("m-fast")) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, recorder.countsFor("m-slow"))
}

func TestDispatcherCountsAndInvariant(t *testing.T) {
	live := newFakeLive()
	live.audience["room:1"] = 3
	resolver := newFakeResolver()
	resolver.set("room:1", &model.Channel{
		ID: "c1", Pattern: "room:%", Enabled: true,
		WebhookURLs: []string{"http://a.example", "http://b.example"},
	})
	deliverer := &fakeDeliverer{fail: map[string]bool{"http://b.example": true}}
	recorder := newFakeRecorder()

	d := NewDispatcher(live, resolver, deliverer, recorder, 4)
	d.Enqueue(testMessage("m1", "room:1", "message", `{}`))
	d.Shutdown()

	calls := recorder.countsFor("m1")
	require.Len(t, calls, 1, "counts are written exactly once")
	got := calls[0]
	assert.Equal(t, 3, got.ws)
	assert.Equal(t, 2, got.whAudience)
	assert.Equal(t, 1, got.whDelivered)
	assert.LessOrEqual(t, got.whDelivered, got.whAudience)
}

func TestDispatcherDisabledChannelSkipsWebhooks(t *testing.T) {
	live := newFakeLive()
	resolver := newFakeResolver()
	resolver.set("room:1", &model.Channel{
		ID: "c1", Pattern: "room:1", Enabled: false,
		WebhookURLs: []string{"http://a.example"},
	})
	deliverer := &fakeDeliverer{}
	recorder := newFakeRecorder()

	d := NewDispatcher(live, resolver, deliverer, recorder, 4)
	d.Enqueue(testMessage("m1", "room:1", "message", `{}`))
	d.Shutdown()

	assert.Equal(t, 0, deliverer.callCount())
	calls := recorder.countsFor("m1")
	require.Len(t, calls, 1)
	assert.Equal(t, 0, calls[0].whAudience)
	assert.Equal(t, 0, calls[0].whDelivered)
}

func TestDispatcherDeletedChannelSkipsWebhooks(t *testing.T) {
	live := newFakeLive()
	resolver := newFakeResolver() // resolver knows nothing: channel deleted after publish
	deliverer := &fakeDeliverer{}
	recorder := newFakeRecorder()

	d := NewDispatcher(live, resolver, deliverer, recorder, 4)
	d.Enqueue(testMessage("m1", "room:1", "message", `{}`))
	d.Shutdown()

	assert.Equal(t, 0, deliverer.callCount())
	calls := recorder.countsFor("m1")
	require.Len(t, calls, 1)
	assert.Equal(t, 0, calls[0].whAudience)
}

type erringRecorder struct {
	fakeRecorder
	err error
}

func (f *erringRecorder) SetDeliveryCounts(ctx context.Context, id string, ws, whAudience, whDelivered int) error {
	_ = f.fakeRecorder.SetDeliveryCounts(ctx, id, ws, whAudience, whDelivered)
	return f.err
}

func TestDispatcherLostAccountingRaceIsNotAFailure(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	live := newFakeLive()
	recorder := &erringRecorder{
		fakeRecorder: *newFakeRecorder(),
		err:          repository.ErrAlreadyAccounted,
	}
	d := NewDispatcher(live, newFakeResolver(), &fakeDeliverer{}, recorder, 4)
	d.Enqueue(testMessage("m1", "room:1", "tick", `{}`))
	d.Shutdown()

	// Losing the first-wins race against the reconciliation sweep is
	// expected, not an accounting failure.
	assert.Contains(t, buf.String(), "counts for m1 already recorded")
	assert.NotContains(t, buf.String(), "record counts for m1")
}

// End to end against a real webhook receiver: one configured URL, one
// publish, exactly one POST carrying the payload, counts 1/1.
func TestDispatcherWebhookEndToEnd(t *testing.T) {
	var posts int32
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&posts, 1)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	live := newFakeLive()
	resolver := newFakeResolver()
	resolver.set("chat:lobby", &model.Channel{
		ID: "c1", Pattern: "chat:lobby", Enabled: true,
		WebhookURLs: []string{srv.URL},
	})
	recorder := newFakeRecorder()

	d := NewDispatcher(live, resolver, NewWebhookService(time.Second, 3), recorder, 4)
	d.Enqueue(testMessage("m1", "chat:lobby", "message", `{"text":"hi"}`))
	d.Shutdown()

	assert.Equal(t, int32(1), atomic.LoadInt32(&posts))

	var ev model.WebhookEvent
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, "message", ev.EventName)
	assert.JSONEq(t, `{"text":"hi"}`, string(ev.Payload))

	calls := recorder.countsFor("m1")
	require.Len(t, calls, 1)
	assert.Equal(t, 1, calls[0].whAudience)
	assert.Equal(t, 1, calls[0].whDelivered)
}
