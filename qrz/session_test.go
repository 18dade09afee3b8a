package qrz

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestSession(t *testing.T, handler http.HandlerFunc) *Session {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewSession("user", "pass", "apikey", time.Hour, zerolog.Nop()).
		WithBaseURL(srv.URL + "/")
	s.spacing = time.Millisecond
	return s
}

func TestAcquireStoresKey(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.RawQuery
		if !strings.Contains(q, "username=user") || !strings.Contains(q, "password=pass") {
			t.Errorf("missing credentials in query %q", q)
		}
		fmt.Fprint(w, `<QRZDatabase xmlns="http://xmldata.qrz.com"><Session><Key>abc123</Key></Session></QRZDatabase>`)
	})
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if s.GetKey() != "abc123" {
		t.Fatalf("got key %q", s.GetKey())
	}
}

func TestAcquireRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			fmt.Fprint(w, `<QRZDatabase><Session><Error>temporary</Error></Session></QRZDatabase>`)
			return
		}
		fmt.Fprint(w, `<QRZDatabase><Session><Key>later</Key></Session></QRZDatabase>`)
	})
	if err := s.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire error: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	if s.GetKey() != "later" {
		t.Fatalf("got key %q", s.GetKey())
	}
}

func TestAcquireKeepsOldKeyOnFailure(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<QRZDatabase><Session><Error>denied</Error></Session></QRZDatabase>`)
	})
	s.key = "previous"
	if err := s.Acquire(context.Background()); err == nil {
		t.Fatal("expected acquisition failure")
	}
	if s.GetKey() != "previous" {
		t.Fatalf("old key must survive failed refresh, got %q", s.GetKey())
	}
}

func TestAcquireExhaustionSkipsFinalSleep(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<QRZDatabase><Session><Error>denied</Error></Session></QRZDatabase>`)
	})
	var sleeps int
	s.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	if err := s.Acquire(context.Background()); err == nil {
		t.Fatal("expected acquisition failure")
	}
	if sleeps != acquireAttempts-1 {
		t.Fatalf("expected %d sleeps between %d attempts, got %d", acquireAttempts-1, acquireAttempts, sleeps)
	}
}

func TestLocatorTrimsPortableSuffix(t *testing.T) {
	var seen atomic.Value
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.URL.RawQuery)
		fmt.Fprint(w, `<QRZDatabase><Session></Session><Callsign><grid>KM72JB</grid><geoloc>user</geoloc></Callsign></QRZDatabase>`)
	})
	s.key = "k"
	loc, err := s.Locator(context.Background(), "4x1aa/m")
	if err != nil {
		t.Fatalf("Locator error: %v", err)
	}
	if loc != "KM72JB" {
		t.Fatalf("got locator %q", loc)
	}
	if q, _ := seen.Load().(string); !strings.Contains(q, "callsign=4X1AA") {
		t.Fatalf("suffix not trimmed, query %q", q)
	}
}

func TestLocatorMissesAreNotErrors(t *testing.T) {
	responses := []string{
		`<QRZDatabase><Session><Error>Not found: ZZ9ZZZ</Error></Session></QRZDatabase>`,
		`<QRZDatabase><Session></Session><Callsign><grid>AB12</grid><geoloc>dxcc</geoloc></Callsign></QRZDatabase>`,
	}
	var i atomic.Int32
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, responses[i.Add(1)-1])
	})
	s.key = "k"
	for range responses {
		loc, err := s.Locator(context.Background(), "ZZ9ZZZ")
		if err != nil {
			t.Fatalf("miss must not be an error: %v", err)
		}
		if loc != "" {
			t.Fatalf("expected empty locator, got %q", loc)
		}
	}
}

func TestLocatorWithoutKeyFails(t *testing.T) {
	s := newTestSession(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected without a session key")
	})
	if _, err := s.Locator(context.Background(), "4X1AA"); err == nil {
		t.Fatal("expected error without session key")
	}
}
