package ws

import (
	"context"

	"holycluster/spot"
	"holycluster/stats"
)

// SpotSink receives the cleaned public shape alongside the WebSocket fanout
// (the MQTT feed, when enabled).
type SpotSink interface {
	PublishSpot(m map[string]any)
}

// Consumer bridges the egress stream into the hub.
type Consumer struct {
	hub     *Hub
	tracker *stats.Tracker // optional
	sink    SpotSink       // optional
}

func NewConsumer(hub *Hub) *Consumer {
	return &Consumer{hub: hub}
}

// WithTracker wires the optional statistics tracker.
func (c *Consumer) WithTracker(t *stats.Tracker) *Consumer {
	c.tracker = t
	return c
}

// WithSink wires an additional destination for cleaned spots.
func (c *Consumer) WithSink(s SpotSink) *Consumer {
	c.sink = s
	return c
}

// Handle transforms one egress entry and fans it out. Spots that fail the
// cleanup transform are dropped silently, matching the public contract.
func (c *Consumer) Handle(ctx context.Context, id string, values map[string]any) error {
	sm := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			sm[k] = s
		}
	}
	e, err := spot.EnrichedFromMap(sm)
	if err != nil {
		return err
	}
	cleaned := CleanBatch([]*spot.EnrichedSpot{e})
	c.hub.BroadcastSpots(cleaned)
	if c.tracker != nil && len(cleaned) > 0 {
		c.tracker.NoteBroadcast()
	}
	if c.sink != nil {
		for _, m := range cleaned {
			c.sink.PublishSpot(m)
		}
	}
	return nil
}
