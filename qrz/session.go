// Package qrz talks to the QRZ.com XML callsign service: session key
// acquisition with periodic refresh, and per-callsign grid lookups.
package qrz

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const DefaultBaseURL = "https://xmldata.qrz.com/xml/current/"

const (
	acquireAttempts = 5
	acquireSpacing  = 5 * time.Second
)

// response covers both the session-acquire and callsign-lookup documents.
// The service namespace is http://xmldata.qrz.com; encoding/xml matches on
// local names, which is all we need.
type response struct {
	XMLName xml.Name `xml:"QRZDatabase"`
	Session struct {
		Key   string `xml:"Key"`
		Error string `xml:"Error"`
	} `xml:"Session"`
	Callsign struct {
		Grid   string `xml:"grid"`
		GeoLoc string `xml:"geoloc"`
	} `xml:"Callsign"`
}

// Session holds the QRZ auth token. The token is replaced only by Acquire,
// under the write lock; readers never block on a refresh in flight.
type Session struct {
	username        string
	password        string
	apiKey          string
	refreshInterval time.Duration
	baseURL         string
	client          *http.Client
	log             zerolog.Logger

	mu          sync.RWMutex
	key         string
	lastRefresh time.Time

	spacing time.Duration // acquire retry spacing, overridable in tests
	sleep   func(ctx context.Context, d time.Duration) error
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

func NewSession(username, password, apiKey string, refreshInterval time.Duration, log zerolog.Logger) *Session {
	return &Session{
		username:        username,
		password:        password,
		apiKey:          apiKey,
		refreshInterval: refreshInterval,
		baseURL:         DefaultBaseURL,
		client:          &http.Client{Timeout: 30 * time.Second},
		log:             log.With().Str("component", "qrz").Logger(),
		spacing:         acquireSpacing,
		sleep:           sleepCtx,
	}
}

// WithBaseURL points the session at a different endpoint (tests).
func (s *Session) WithBaseURL(base string) *Session {
	s.baseURL = base
	return s
}

// GetKey returns the current session key, possibly empty.
func (s *Session) GetKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.key
}

func (s *Session) fetch(ctx context.Context, query string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qrz: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var r response
	if err := xml.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("qrz: decode response: %w", err)
	}
	return &r, nil
}

func (s *Session) acquireOnce(ctx context.Context) (string, error) {
	if s.username == "" || s.password == "" {
		return "", fmt.Errorf("qrz: username or password empty")
	}
	query := fmt.Sprintf("username=%s;password=%s;agent=holycluster:%s",
		url.QueryEscape(s.username), url.QueryEscape(s.password), url.QueryEscape(s.apiKey))
	r, err := s.fetch(ctx, query)
	if err != nil {
		return "", err
	}
	if r.Session.Key == "" {
		return "", fmt.Errorf("qrz: no key in response (error: %q)", r.Session.Error)
	}
	return r.Session.Key, nil
}

// Acquire obtains a fresh session key, retrying up to 5 attempts spaced 5
// seconds apart. On exhaustion the current key is left unchanged; the last
// failure returns immediately, without a trailing sleep.
func (s *Session) Acquire(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= acquireAttempts; attempt++ {
		key, err := s.acquireOnce(ctx)
		if err == nil {
			s.mu.Lock()
			s.key = key
			s.lastRefresh = time.Now()
			s.mu.Unlock()
			s.log.Info().Int("attempt", attempt).Msg("qrz session key acquired")
			return nil
		}
		lastErr = err
		s.log.Error().Err(err).Int("attempt", attempt).Msg("qrz session key acquisition failed")
		if attempt == acquireAttempts {
			break
		}
		if err := s.sleep(ctx, s.spacing); err != nil {
			return err
		}
	}
	return fmt.Errorf("qrz: giving up after %d attempts: %w", acquireAttempts, lastErr)
}

// Serve runs the background refresh loop until the context is cancelled.
// A failed refresh keeps the previous key.
func (s *Session) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.log.Info().Dur("interval", s.refreshInterval).Msg("refreshing qrz session key")
			if err := s.Acquire(ctx); err != nil {
				s.log.Error().Err(err).Msg("qrz refresh failed, keeping old key")
			}
		}
	}
}

// Locator asks QRZ for the callsign's user-supplied grid locator. A
// portable/mobile suffix is trimmed before the query. Returns "" with a nil
// error when the service answers but has no usable grid.
func (s *Session) Locator(ctx context.Context, callsign string) (string, error) {
	callsign = strings.ToUpper(callsign)
	for _, suffix := range []string{"/M", "/P"} {
		callsign = strings.TrimSuffix(callsign, suffix)
	}

	key := s.GetKey()
	if key == "" {
		return "", fmt.Errorf("qrz: no session key")
	}
	query := fmt.Sprintf("s=%s;callsign=%s", url.QueryEscape(key), url.QueryEscape(callsign))
	r, err := s.fetch(ctx, query)
	if err != nil {
		return "", err
	}
	if r.Session.Error != "" {
		return "", nil
	}
	if r.Callsign.GeoLoc != "user" && r.Callsign.GeoLoc != "grid" {
		return "", nil
	}
	return r.Callsign.Grid, nil
}
