package service

import (
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
)

// WSClient is one live connection. Subscriptions are literal channel
// names; pattern matching never applies to live fanout.
type WSClient struct {
	Conn        *websocket.Conn
	PrincipalID string
	Role        string
	Send        chan []byte

	mu       sync.Mutex
	channels map[string]bool
}

// WSHub tracks live connections and their channel subscriptions and
// addresses fanout by exact channel name.
type WSHub struct {
	clients     map[*WSClient]bool
	subscribers map[string]map[*WSClient]bool
	register    chan *WSClient
	unregister  chan *WSClient
	mu          sync.RWMutex
	done        chan struct{}
	sendTimeout time.Duration
}

func NewWSHub(sendTimeout time.Duration) *WSHub {
	if sendTimeout <= 0 {
		sendTimeout = 100 * time.Millisecond
	}
	return &WSHub{
		clients:     make(map[*WSClient]bool),
		subscribers: make(map[string]map[*WSClient]bool),
		register:    make(chan *WSClient),
		unregister:  make(chan *WSClient),
		done:        make(chan struct{}),
		sendTimeout: sendTimeout,
	}
}

func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WS: %s connected (total: %d)", client.PrincipalID, total)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for name := range client.channelSet() {
					h.dropSubscription(name, client)
				}
				close(client.Send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("WS: %s disconnected (total: %d)", client.PrincipalID, total)

		case <-h.done:
			return
		}
	}
}

func (h *WSHub) Shutdown() {
	close(h.done)
}

func (h *WSHub) Register(client *WSClient) {
	client.mu.Lock()
	if client.channels == nil {
		client.channels = make(map[string]bool)
	}
	client.mu.Unlock()

	// Run has exited once done is closed; don't block a connection
	// goroutine on a loop that is no longer draining.
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *WSHub) Unregister(client *WSClient) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds the client to the channel's audience. Admission has
// already been checked by the caller.
func (h *WSHub) Subscribe(client *WSClient, channelName string) {
	client.mu.Lock()
	if client.channels == nil {
		client.channels = make(map[string]bool)
	}
	client.channels[channelName] = true
	client.mu.Unlock()

	h.mu.Lock()
	if h.subscribers[channelName] == nil {
		h.subscribers[channelName] = make(map[*WSClient]bool)
	}
	h.subscribers[channelName][client] = true
	h.mu.Unlock()
}

func (h *WSHub) Unsubscribe(client *WSClient, channelName string) {
	client.mu.Lock()
	delete(client.channels, channelName)
	client.mu.Unlock()

	h.mu.Lock()
	h.dropSubscription(channelName, client)
	h.mu.Unlock()
}

// dropSubscription must be called with h.mu held.
func (h *WSHub) dropSubscription(channelName string, client *WSClient) {
	if subs, ok := h.subscribers[channelName]; ok {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscribers, channelName)
		}
	}
}

func (c *WSClient) channelSet() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.channels))
	for name := range c.channels {
		out[name] = true
	}
	return out
}

// Publish sends data to every current subscriber of the exact channel
// name and returns the number of connections addressed. A subscriber that
// cannot accept the frame within the send deadline is abandoned; live
// fanout is best-effort, at-most-once, and never blocks on a slow client.
func (h *WSHub) Publish(channelName string, data []byte) int {
	// The read lock is held across the sends: Send channels are closed
	// under the write lock in Run, so a frame is never sent to a closed
	// channel. Sends run in parallel, so one dead subscriber costs one
	// deadline overall, not one deadline per later recipient, and the
	// lock hold time is bounded by the single deadline.
	h.mu.RLock()
	defer h.mu.RUnlock()

	// A closed channel broadcasts the deadline to every in-flight send;
	// a plain time.After tick would release only one of them.
	expired := make(chan struct{})
	timer := time.AfterFunc(h.sendTimeout, func() { close(expired) })
	defer timer.Stop()

	var wg sync.WaitGroup
	for client := range h.subscribers[channelName] {
		wg.Add(1)
		go func(client *WSClient) {
			defer wg.Done()
			select {
			case client.Send <- data:
			case <-expired:
			}
		}(client)
	}
	wg.Wait()
	return len(h.subscribers[channelName])
}

// SubscriberCount reports the current audience of a channel name.
func (h *WSHub) SubscriberCount(channelName string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channelName])
}

func (h *WSHub) OnlineCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
