package httpapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"holycluster/geo"
	"holycluster/spot"
	"holycluster/store"
)

type fakeDir struct {
	entry  *store.GeoCacheRow
	rows   []store.GeoCacheRow
	issues []store.IssueRow
}

func (d *fakeDir) GeoCacheEntry(_ context.Context, callsign string) (*store.GeoCacheRow, error) {
	if d.entry != nil && d.entry.Callsign == callsign {
		return d.entry, nil
	}
	return nil, nil
}

func (d *fakeDir) GeoCacheAll(context.Context, int) ([]store.GeoCacheRow, error) {
	return d.rows, nil
}

func (d *fakeDir) Issues(context.Context, int) ([]store.IssueRow, error) {
	return d.issues, nil
}

type fakeResolver struct {
	side spot.GeoSide
	err  error
}

func (r *fakeResolver) Resolve(context.Context, string) (spot.GeoSide, bool, error) {
	return r.side, false, r.err
}

type fakeKV struct {
	values map[string]string
}

func (k *fakeKV) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := k.values[key]
	return v, ok, nil
}

func newTestServer(t *testing.T, dir *fakeDir, resolver *fakeResolver, kv *fakeKV) *httptest.Server {
	t.Helper()
	s := New(dir, resolver, kv, Routes{}, zerolog.Nop())
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestGeoCacheEntryFoundAndMissing(t *testing.T) {
	dir := &fakeDir{entry: &store.GeoCacheRow{
		Callsign: "4X1AA", Locator: "KM72JB", LocatorSource: "qrz",
		Lat: 32.0, Lon: 35.1, UpdatedAt: time.Now(),
	}}
	srv := newTestServer(t, dir, &fakeResolver{}, &fakeKV{})

	code, body := get(t, srv.URL+"/geocache/4x1aa")
	if code != http.StatusOK || !strings.Contains(body, "KM72JB") {
		t.Fatalf("got %d %q", code, body)
	}

	code, body = get(t, srv.URL+"/geocache/ZZ9ZZZ")
	if code != http.StatusOK || strings.TrimSpace(body) != "{}" {
		t.Fatalf("missing entry must yield empty object, got %d %q", code, body)
	}
}

func TestGeoCacheAllEmptyIsArray(t *testing.T) {
	srv := newTestServer(t, &fakeDir{}, &fakeResolver{}, &fakeKV{})
	code, body := get(t, srv.URL+"/geocache/all")
	if code != http.StatusOK || strings.TrimSpace(body) != "[]" {
		t.Fatalf("got %d %q", code, body)
	}
}

func TestLocatorLiveResolve(t *testing.T) {
	srv := newTestServer(t, &fakeDir{}, &fakeResolver{
		side: spot.GeoSide{Locator: "KM72JB", LocatorSource: "qrz", Lat: 32.0, Lon: 35.1},
	}, &fakeKV{})

	code, body := get(t, srv.URL+"/locator/4X1AA")
	if code != http.StatusOK {
		t.Fatalf("got %d", code)
	}
	for _, want := range []string{`"locator":"KM72JB"`, `"source":"qrz"`, `"callsign":"4X1AA"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in %q", want, body)
		}
	}
}

func TestLocatorErrorShape(t *testing.T) {
	srv := newTestServer(t, &fakeDir{}, &fakeResolver{err: geo.ErrNoLocator}, &fakeKV{})

	_, body := get(t, srv.URL+"/locator/ZZ9ZZZ")
	if !strings.Contains(body, `"error"`) || !strings.Contains(body, `"callsign":"ZZ9ZZZ"`) {
		t.Fatalf("got %q", body)
	}
}

func TestPropagationSnapshot(t *testing.T) {
	srv := newTestServer(t, &fakeDir{}, &fakeResolver{}, &fakeKV{
		values: map[string]string{"propagation": `{"sfi":160,"k":2}`},
	})
	code, body := get(t, srv.URL+"/propagation")
	if code != http.StatusOK || !strings.Contains(body, `"sfi":160`) {
		t.Fatalf("got %d %q", code, body)
	}

	empty := newTestServer(t, &fakeDir{}, &fakeResolver{}, &fakeKV{})
	_, body = get(t, empty.URL+"/propagation")
	if strings.TrimSpace(body) != "{}" {
		t.Fatalf("missing snapshot must yield empty object, got %q", body)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t, &fakeDir{}, &fakeResolver{}, &fakeKV{})
	code, body := get(t, srv.URL+"/healthz")
	if code != http.StatusOK || !strings.Contains(body, "ok") {
		t.Fatalf("got %d %q", code, body)
	}
}
