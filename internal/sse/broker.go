// Package sse streams block changes to browsers as Server-Sent Events.
//
// Clients scope a stream to one user; block events reach only the streams
// of the block's owner. Unscoped streams receive only index.updated, a
// coalesced hint that search results may have changed.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/starford/lifeagent/internal/models"
)

// Event types broadcast to clients.
const (
	TypeBlockCreated = "block.created"
	TypeBlockUpdated = "block.updated"
	TypeBlockDeleted = "block.deleted"
	TypeIndexUpdated = "index.updated"
)

const (
	clientBuffer      = 64
	heartbeatInterval = 25 * time.Second
	retryMillis       = 3000
)

// Event is one message on the stream. User, when set, limits delivery to
// streams of that user; unscoped streams never see it.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
	User string `json:"-"`
}

// BlockRef is the payload of block events.
type BlockRef struct {
	ID     string           `json:"id"`
	Type   models.BlockType `json:"type"`
	UserID string           `json:"userId"`
}

// Client is a subscription handle. Messages yields frames ready to write.
type Client struct {
	Messages <-chan []byte

	ch   chan []byte
	user string
}

// Broker fans events out to subscribed clients.
//
// A single goroutine owns the client set, the event sequence and the
// index.updated throttle. Public methods talk to it over channels.
type Broker struct {
	indexEvery rate.Sometimes

	join    chan *Client
	leave   chan *Client
	events  chan Event
	changes chan Event
	count   chan chan int

	stop    chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits index.updated at most once per
// indexThrottle.
func NewBroker(indexThrottle time.Duration) *Broker {
	if indexThrottle <= 0 {
		indexThrottle = 2 * time.Second
	}
	b := &Broker{
		indexEvery: rate.Sometimes{Interval: indexThrottle},
		join:       make(chan *Client),
		leave:      make(chan *Client),
		events:     make(chan Event, 256),
		changes:    make(chan Event, 256),
		count:      make(chan chan int),
		stop:       make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	go b.loop()
	return b
}

func blockEventType(kind string) (string, bool) {
	switch kind {
	case "created":
		return TypeBlockCreated, true
	case "updated":
		return TypeBlockUpdated, true
	case "deleted":
		return TypeBlockDeleted, true
	}
	return "", false
}

// frame renders one SSE message.
func frame(seq uint64, ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "id: %d\nevent: %s\ndata: %s\n\n", seq, ev.Type, payload)
	return []byte(sb.String()), nil
}

func (b *Broker) loop() {
	defer close(b.stopped)

	clients := make(map[*Client]struct{})
	var seq uint64

	send := func(ev Event) {
		msg, err := frame(seq+1, ev)
		if err != nil {
			return
		}
		seq++
		for c := range clients {
			if ev.User != "" && c.user != ev.User {
				continue
			}
			select {
			case c.ch <- msg:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.stop:
			for c := range clients {
				close(c.ch)
			}
			return
		case c := <-b.join:
			clients[c] = struct{}{}
		case c := <-b.leave:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.ch)
			}
		case ev := <-b.events:
			send(ev)
		case ev := <-b.changes:
			send(ev)
			b.indexEvery.Do(func() {
				send(Event{Type: TypeIndexUpdated, Data: map[string]string{}})
			})
		case resp := <-b.count:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stop)
	}
	<-b.stopped
}

// Subscribe registers a client. An empty user receives only events
// without an owner.
func (b *Broker) Subscribe(user string) *Client {
	ch := make(chan []byte, clientBuffer)
	c := &Client{Messages: ch, ch: ch, user: user}
	if b.closed.Load() {
		close(ch)
		return c
	}
	select {
	case b.join <- c:
	case <-b.stopped:
		close(ch)
	}
	return c
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(c *Client) {
	if b.closed.Load() || c == nil {
		return
	}
	select {
	case b.leave <- c:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.count <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to matching clients.
func (b *Broker) Publish(ev Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.events <- ev:
	case <-b.stopped:
	}
}

// PublishBlockEvent publishes a block change followed by a throttled
// index.updated. Unknown kinds are ignored. The signature matches
// blockservice.EventCallback.
func (b *Broker) PublishBlockEvent(kind string, blk *models.Block) {
	typ, ok := blockEventType(kind)
	if !ok || blk == nil || b.closed.Load() {
		return
	}
	ev := Event{
		Type: typ,
		Data: BlockRef{ID: blk.ID, Type: blk.Type, UserID: blk.UserID},
		User: blk.UserID,
	}
	select {
	case b.changes <- ev:
	case <-b.stopped:
	}
}

// streamUser picks the stream scope from the X-User-ID header or the
// userId query parameter.
func streamUser(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get("X-User-ID")); u != "" {
		return u
	}
	return strings.TrimSpace(r.URL.Query().Get("userId"))
}

// ServeHTTP is the SSE endpoint (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	c := b.Subscribe(streamUser(r))
	defer b.Unsubscribe(c)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-c.Messages:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
