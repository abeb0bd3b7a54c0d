package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"pulsebase-backend/internal/model"
	"pulsebase-backend/internal/repository"
)

// Collaborators of the dispatcher, narrowed to what dispatch needs.
type (
	// LiveFanout addresses current subscribers of an exact channel name
	// and returns how many connections were addressed.
	LiveFanout interface {
		Publish(channelName string, data []byte) int
	}

	// ChannelResolver resolves the current channel definition; (nil, nil)
	// means no channel matches.
	ChannelResolver interface {
		GetByName(ctx context.Context, name string) (*model.Channel, error)
	}

	// WebhookDeliverer settles one endpoint; nil means delivered.
	WebhookDeliverer interface {
		Deliver(ctx context.Context, url string, event *model.WebhookEvent) error
	}

	// DeliveryRecorder writes the three delivery counts once.
	DeliveryRecorder interface {
		SetDeliveryCounts(ctx context.Context, id string, ws, whAudience, whDelivered int) error
	}
)

const dispatchQueueSize = 256

// Dispatcher fans accepted messages out to live subscribers and webhook
// endpoints. One worker per channel name keeps dispatch FIFO within a
// channel while distinct channels proceed concurrently; within a single
// dispatch, recipient delivery is parallel.
type Dispatcher struct {
	live     LiveFanout
	channels ChannelResolver
	webhooks WebhookDeliverer
	recorder DeliveryRecorder

	sem chan struct{} // bounds concurrent webhook requests

	mu     sync.Mutex
	queues map[string]chan *model.Message
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(live LiveFanout, channels ChannelResolver, webhooks WebhookDeliverer, recorder DeliveryRecorder, webhookConcurrency int) *Dispatcher {
	if webhookConcurrency <= 0 {
		webhookConcurrency = 8
	}
	return &Dispatcher{
		live:     live,
		channels: channels,
		webhooks: webhooks,
		recorder: recorder,
		sem:      make(chan struct{}, webhookConcurrency),
		queues:   make(map[string]chan *model.Message),
	}
}

// Enqueue hands a committed message to its channel's worker. Callers
// enqueue in commit order; the single worker per channel preserves it.
func (d *Dispatcher) Enqueue(msg *model.Message) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		log.Printf("[dispatch] dropping %s: dispatcher shut down", msg.ID)
		return
	}
	queue, ok := d.queues[msg.ChannelName]
	if !ok {
		queue = make(chan *model.Message, dispatchQueueSize)
		d.queues[msg.ChannelName] = queue
		d.wg.Add(1)
		go d.runWorker(queue)
	}
	// Send under the lock so Shutdown cannot close the queue mid-send.
	queue <- msg
	d.mu.Unlock()
}

// Shutdown stops accepting work and waits for in-flight dispatches.
// There is no mid-dispatch cancellation: a message once enqueued is
// always attempted.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, queue := range d.queues {
		close(queue)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) runWorker(queue chan *model.Message) {
	defer d.wg.Done()
	for msg := range queue {
		d.dispatch(msg)
	}
}

func (d *Dispatcher) dispatch(msg *model.Message) {
	ctx := context.Background()

	// Live fanout: exact name identity, counted at send time.
	frame, err := json.Marshal(model.WSEvent{
		Type:    "message",
		Channel: msg.ChannelName,
		Event:   msg.EventName,
		Data:    msg.Payload,
	})
	wsCount := 0
	if err != nil {
		log.Printf("[dispatch] marshal frame for %s: %v", msg.ID, err)
	} else {
		wsCount = d.live.Publish(msg.ChannelName, frame)
	}

	// Webhook routing: pattern-matched against the current channel
	// definition. A channel deleted or disabled since the publish means
	// zero webhook audience.
	var urls []string
	ch, err := d.channels.GetByName(ctx, msg.ChannelName)
	switch {
	case err != nil:
		log.Printf("[dispatch] resolve channel %s for %s: %v", msg.ChannelName, msg.ID, err)
	case ch == nil:
		log.Printf("[dispatch] channel %s gone, skipping webhooks for %s", msg.ChannelName, msg.ID)
	case !ch.Enabled:
		log.Printf("[dispatch] channel %s disabled, skipping webhooks for %s", msg.ChannelName, msg.ID)
	default:
		urls = ch.WebhookURLs
	}

	delivered := d.deliverWebhooks(ctx, msg, urls)

	if err := d.recorder.SetDeliveryCounts(ctx, msg.ID, wsCount, len(urls), delivered); err != nil {
		if errors.Is(err, repository.ErrAlreadyAccounted) {
			// The reconciliation sweep raced the live listener; the
			// first write won and this one is expected to lose.
			log.Printf("[dispatch] counts for %s already recorded", msg.ID)
		} else {
			// Accounting is observability, not correctness: log and move on.
			log.Printf("[dispatch] record counts for %s: %v", msg.ID, err)
		}
	}
}

func (d *Dispatcher) deliverWebhooks(ctx context.Context, msg *model.Message, urls []string) int {
	if len(urls) == 0 {
		return 0
	}

	event := &model.WebhookEvent{
		MessageID:   msg.ID,
		ChannelName: msg.ChannelName,
		EventName:   msg.EventName,
		Payload:     msg.Payload,
		SentAt:      time.Now().UTC(),
	}

	var wg sync.WaitGroup
	results := make(chan bool, len(urls))
	for _, url := range urls {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()

			if err := d.webhooks.Deliver(ctx, url, event); err != nil {
				log.Printf("[dispatch] webhook %s failed for %s: %v", url, msg.ID, err)
				results <- false
				return
			}
			results <- true
		}(url)
	}
	wg.Wait()
	close(results)

	delivered := 0
	for ok := range results {
		if ok {
			delivered++
		}
	}
	return delivered
}
