// Package ws is the WebSocket fanout side: a hub owning the subscriber set,
// per-connection pumps, and the egress-stream consumer feeding them.
package ws

import (
	"context"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"holycluster/metrics"
	"holycluster/spot"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	backlogLimit  = 500
	backlogWindow = time.Hour

	writeWait       = 10 * time.Second
	readWait        = 30 * time.Second
	sendBuffer      = 64
	maxMessageBytes = 4096
)

// Backlog is the store query the hub uses for initial and catch-up loads.
type Backlog interface {
	SpotsSince(ctx context.Context, since int64, limit int) ([]*spot.EnrichedSpot, error)
}

type envelope struct {
	Type  string           `json:"type"`
	Spots []map[string]any `json:"spots"`
}

// Hub owns the active subscriber set. Only the hub goroutine adds, removes
// or iterates it; everyone else talks to it through channels.
type Hub struct {
	backlog    Backlog
	log        zerolog.Logger
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan []byte
	done       chan struct{}
	subs       map[*subscriber]struct{}
	count      atomic.Int64
	now        func() time.Time
}

func NewHub(backlog Backlog, log zerolog.Logger) *Hub {
	return &Hub{
		backlog:    backlog,
		log:        log.With().Str("component", "ws").Logger(),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan []byte, 16),
		done:       make(chan struct{}),
		subs:       make(map[*subscriber]struct{}),
		now:        time.Now,
	}
}

// attach hands a subscriber to the hub loop. False means the hub has already
// shut down and the connection should be closed instead.
func (h *Hub) attach(s *subscriber) bool {
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

// detach removes a subscriber. Safe to call after the hub loop has exited.
func (h *Hub) detach(s *subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// BroadcastSpots queues one update frame for every subscriber.
func (h *Hub) BroadcastSpots(spots []map[string]any) {
	if len(spots) == 0 {
		return
	}
	payload, err := json.Marshal(envelope{Type: "update", Spots: spots})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal update frame")
		return
	}
	select {
	case h.broadcast <- payload:
		metrics.SpotsBroadcast.Add(float64(len(spots)))
	case <-h.done:
	}
}

// Serve runs the hub loop until cancellation. On exit every subscriber's
// send channel is closed, which lets the write pumps finish.
func (h *Hub) Serve(ctx context.Context) error {
	defer func() {
		close(h.done)
		for s := range h.subs {
			close(s.send)
			delete(h.subs, s)
		}
		h.count.Store(0)
		metrics.WSClients.Set(0)
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-h.register:
			h.subs[s] = struct{}{}
			h.noteCount()
		case s := <-h.unregister:
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.send)
			}
			h.noteCount()
		case payload := <-h.broadcast:
			// A subscriber that cannot keep up gets dropped here rather
			// than stalling the rest.
			for s := range h.subs {
				select {
				case s.send <- payload:
				default:
					delete(h.subs, s)
					close(s.send)
				}
			}
			h.noteCount()
		}
	}
}

func (h *Hub) noteCount() {
	h.count.Store(int64(len(h.subs)))
	metrics.WSClients.Set(float64(len(h.subs)))
}

func (h *Hub) subscriberCount() int {
	return int(h.count.Load())
}

// backlogFrame builds the reply to a subscriber's opening message, or nil
// when the opening shape asks for no backlog.
func (h *Hub) backlogFrame(ctx context.Context, opening []byte) []byte {
	var msg struct {
		Initial  bool   `json:"initial"`
		LastTime *int64 `json:"last_time"`
	}
	if err := json.Unmarshal(opening, &msg); err != nil {
		return nil
	}

	var since int64
	var frameType string
	switch {
	case msg.Initial:
		since = h.now().Add(-backlogWindow).Unix()
		frameType = "initial"
	case msg.LastTime != nil:
		since = *msg.LastTime
		frameType = "update"
	default:
		return nil
	}

	spots, err := h.backlog.SpotsSince(ctx, since, backlogLimit)
	if err != nil {
		h.log.Error().Err(err).Msg("backlog query failed")
		return nil
	}
	payload, err := json.Marshal(envelope{Type: frameType, Spots: CleanBatch(spots)})
	if err != nil {
		h.log.Error().Err(err).Msg("marshal backlog frame")
		return nil
	}
	return payload
}
