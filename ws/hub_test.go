package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"holycluster/spot"
)

type fakeBacklog struct {
	spots []*spot.EnrichedSpot
	since int64
}

func (b *fakeBacklog) SpotsSince(_ context.Context, since int64, _ int) ([]*spot.EnrichedSpot, error) {
	b.since = since
	return b.spots, nil
}

// strictBacklog refuses cancelled contexts, the way a real pgx pool does.
type strictBacklog struct {
	spots []*spot.EnrichedSpot
}

func (b *strictBacklog) SpotsSince(ctx context.Context, _ int64, _ int) ([]*spot.EnrichedSpot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.spots, nil
}

func startHub(t *testing.T, backlog Backlog) (*Hub, string) {
	t.Helper()
	h := NewHub(backlog, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Serve(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.SpotsHandler()))
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return env
}

func TestInitialMessageDeliversBacklog(t *testing.T) {
	backlog := &fakeBacklog{spots: []*spot.EnrichedSpot{enrichedSample()}}
	_, url := startHub(t, backlog)

	conn := dial(t, url)
	if err := conn.WriteJSON(map[string]any{"initial": true}); err != nil {
		t.Fatalf("write opening: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Type != "initial" {
		t.Fatalf("expected initial frame, got %q", env.Type)
	}
	if len(env.Spots) != 1 {
		t.Fatalf("expected one backlog spot, got %d", len(env.Spots))
	}
	// The backlog window is one hour.
	lo := time.Now().Add(-backlogWindow - time.Minute).Unix()
	if backlog.since < lo || backlog.since > time.Now().Unix() {
		t.Fatalf("backlog queried with since=%d", backlog.since)
	}
}

func TestLastTimeMessageDeliversCatchUp(t *testing.T) {
	backlog := &fakeBacklog{spots: []*spot.EnrichedSpot{enrichedSample()}}
	_, url := startHub(t, backlog)

	conn := dial(t, url)
	if err := conn.WriteJSON(map[string]any{"last_time": 1_755_990_000}); err != nil {
		t.Fatalf("write opening: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Type != "update" {
		t.Fatalf("expected update frame, got %q", env.Type)
	}
	if backlog.since != 1_755_990_000 {
		t.Fatalf("catch-up must query from last_time, got %d", backlog.since)
	}
}

func TestUnknownOpeningSkipsBacklogButStreamsUpdates(t *testing.T) {
	backlog := &fakeBacklog{spots: []*spot.EnrichedSpot{enrichedSample()}}
	h, url := startHub(t, backlog)

	conn := dial(t, url)
	if err := conn.WriteJSON(map[string]any{"hello": "there"}); err != nil {
		t.Fatalf("write opening: %v", err)
	}
	waitForSubscribers(t, h, 1)

	h.BroadcastSpots(CleanBatch([]*spot.EnrichedSpot{enrichedSample()}))
	env := readEnvelope(t, conn)
	if env.Type != "update" || len(env.Spots) != 1 {
		t.Fatalf("expected live update, got type=%q n=%d", env.Type, len(env.Spots))
	}
	if backlog.since != 0 {
		t.Fatal("unknown opening shape must not trigger a backlog query")
	}
}

func TestDisconnectedSubscriberIsRemoved(t *testing.T) {
	h, url := startHub(t, &fakeBacklog{})

	a := dial(t, url)
	b := dial(t, url)
	a.WriteJSON(map[string]any{"initial": true})
	b.WriteJSON(map[string]any{"initial": true})
	waitForSubscribers(t, h, 2)

	b.Close()
	waitForSubscribers(t, h, 1)

	h.BroadcastSpots(CleanBatch([]*spot.EnrichedSpot{enrichedSample()}))
	for {
		env := readEnvelope(t, a)
		if env.Type == "update" {
			break
		}
	}
}

func waitForSubscribers(t *testing.T, h *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h.subscriberCount() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never reached %d subscribers", want)
}

// The upgrade handler returns before the opening message arrives, and
// net/http cancels the request context at that point. The backlog query must
// run under the connection's own context, not the request's.
func TestBacklogSurvivesHandlerReturn(t *testing.T) {
	backlog := &strictBacklog{spots: []*spot.EnrichedSpot{enrichedSample()}}
	_, url := startHub(t, backlog)

	conn := dial(t, url)
	// Give the handler time to return and its request context to die.
	time.Sleep(50 * time.Millisecond)
	if err := conn.WriteJSON(map[string]any{"initial": true}); err != nil {
		t.Fatalf("write opening: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Type != "initial" || len(env.Spots) != 1 {
		t.Fatalf("backlog frame lost, got type=%q n=%d", env.Type, len(env.Spots))
	}
}

func TestAttachDetachReturnAfterShutdown(t *testing.T) {
	h := NewHub(&fakeBacklog{}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Serve(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	returned := make(chan struct{})
	go func() {
		s := &subscriber{send: make(chan []byte, 1)}
		if h.attach(s) {
			t.Error("attach must fail once the hub has stopped")
		}
		h.detach(s)
		h.BroadcastSpots(CleanBatch([]*spot.EnrichedSpot{enrichedSample()}))
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("hub channel operations blocked after shutdown")
	}
}

func TestConsumerHandleFansOutEgressEntries(t *testing.T) {
	h, url := startHub(t, &fakeBacklog{})
	conn := dial(t, url)
	conn.WriteJSON(map[string]any{"hi": true})
	waitForSubscribers(t, h, 1)

	if err := NewConsumer(h).Handle(context.Background(), "1-0", enrichedSample().ToMap()); err != nil {
		t.Fatalf("Handle error: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Type != "update" || len(env.Spots) != 1 {
		t.Fatalf("expected one-spot update, got type=%q n=%d", env.Type, len(env.Spots))
	}
	if env.Spots[0]["freq"] != float64(14074.0) {
		t.Fatalf("frequency lost in transit: %v", env.Spots[0]["freq"])
	}
}
