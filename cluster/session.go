// Package cluster maintains telnet sessions to upstream DX clusters, parsing
// spot lines and feeding them through dedup into the ingress stream.
package cluster

import (
	"bufio"
	"context"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"holycluster/config"
	"holycluster/dedup"
	"holycluster/metrics"
	"holycluster/spot"
	"holycluster/stream"
)

const (
	dialTimeout  = 10 * time.Second
	loginDelay   = 2 * time.Second
	readDeadline = 5 * time.Minute
)

// backoffTable spaces reconnect attempts; the last entry repeats. A
// successful connection resets the position.
var backoffTable = []time.Duration{
	60 * time.Second,
	300 * time.Second,
	600 * time.Second,
	1200 * time.Second,
	2400 * time.Second,
	3600 * time.Second,
}

// droppedSpotters are reflectors whose spots arrive through other paths
// already; forwarding them again only produces duplicates.
var droppedSpotters = map[string]struct{}{
	"W3LPL": {},
}

// Session owns one telnet connection to one cluster server for the life of
// the process, reconnecting with backoff whenever it drops.
type Session struct {
	server config.ClusterServer
	login  string
	dedup  *dedup.Deduper
	pub    *stream.Publisher
	log    zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewSession(server config.ClusterServer, login string, d *dedup.Deduper, pub *stream.Publisher, log zerolog.Logger) *Session {
	return &Session{
		server: server,
		login:  login,
		dedup:  d,
		pub:    pub,
		log:    log.With().Str("cluster", server.Addr()).Logger(),
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func backoff(attempt int) time.Duration {
	if attempt >= len(backoffTable) {
		attempt = len(backoffTable) - 1
	}
	return backoffTable[attempt]
}

// Serve dials, reads, and reconnects until the context is cancelled. Suitable
// as a suture service.
func (s *Session) Serve(ctx context.Context) error {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		loggedIn, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if loggedIn {
			attempt = 0
		}
		delay := backoff(attempt)
		attempt++
		s.log.Warn().Err(err).Dur("retry_in", delay).Int("attempt", attempt).Msg("cluster connection lost")
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// runConnection performs one full connect/login/read cycle. loggedIn reports
// whether the login made it out, which resets the backoff for the next
// failure.
func (s *Session) runConnection(ctx context.Context) (loggedIn bool, _ error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.server.Addr())
	if err != nil {
		return false, err
	}
	defer conn.Close()

	// Closing on context cancellation unblocks the reader.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.log.Info().Msg("connected, waiting before login")
	if err := s.sleep(ctx, loginDelay); err != nil {
		return false, err
	}
	if _, err := conn.Write([]byte(s.login + "\r\n")); err != nil {
		return false, err
	}
	s.log.Info().Str("login", s.login).Msg("login sent")

	metrics.ClusterConnected.WithLabelValues(s.server.Addr()).Set(1)
	defer metrics.ClusterConnected.WithLabelValues(s.server.Addr()).Set(0)

	reader := bufio.NewReader(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(readDeadline)); err != nil {
			return true, err
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return true, err
		}
		s.handleLine(ctx, strings.TrimSpace(line))
	}
}

func (s *Session) handleLine(ctx context.Context, line string) {
	if !strings.HasPrefix(line, "DX de") {
		return
	}
	raw, ok := ParseLine(line, s.server.Addr())
	if !ok {
		metrics.ParseFailures.WithLabelValues(s.server.Addr()).Inc()
		s.log.Debug().Str("line", line).Msg("unparseable spot line")
		return
	}
	metrics.SpotsReceived.WithLabelValues(s.server.Addr()).Inc()
	s.forward(ctx, raw)
}

func (s *Session) forward(ctx context.Context, raw *spot.RawSpot) {
	if _, drop := droppedSpotters[raw.SpotterCallsign]; drop {
		return
	}
	if err := raw.Validate(); err != nil {
		s.log.Debug().Err(err).Msg("invalid spot")
		return
	}
	if s.dedup.IsDuplicate(ctx, raw) {
		metrics.SpotsDuplicate.Inc()
		return
	}
	if err := s.pub.Publish(ctx, raw.ToMap()); err != nil {
		s.log.Error().Err(err).Str("dx", raw.DXCallsign).Msg("publish to ingress stream failed")
		return
	}
	s.log.Debug().
		Str("dx", raw.DXCallsign).
		Str("spotter", raw.SpotterCallsign).
		Float64("freq", raw.Frequency).
		Msg("spot queued")
}
