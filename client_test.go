package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestClient(t *testing.T, handler http.Handler) *TileClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewTileClient("test-api-key")
	if err != nil {
		t.Fatalf("NewTileClient() error = %v", err)
	}
	c.base = srv.URL
	return c
}

func TestNewTileClientMissingKey(t *testing.T) {
	_, err := NewTileClient("")
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("NewTileClient(\"\") error = %v, want ErrMissingAPIKey", err)
	}
}

func TestCreateSessionStoresResponse(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/createSession" {
			t.Errorf("path = %s, want /v1/createSession", r.URL.Path)
		}
		if got := r.URL.Query().Get("key"); got != "test-api-key" {
			t.Errorf("key = %q, want %q", got, "test-api-key")
		}
		var opts SessionOptions
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
			t.Errorf("decode options: %v", err)
		}
		if opts.MapType != "roadmap" {
			t.Errorf("mapType = %q, want roadmap", opts.MapType)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"session":     "mock-session-token",
			"expiry":      "1700000000",
			"tileWidth":   256,
			"tileHeight":  256,
			"imageFormat": "png",
		})
	}))

	session, err := c.CreateSession(context.Background(), SessionOptions{
		MapType:  "roadmap",
		Language: "en-US",
		Region:   "US",
	})
	if err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if session.Token != "mock-session-token" {
		t.Errorf("Token = %q, want mock-session-token", session.Token)
	}
	if session.Expiry != "1700000000" {
		t.Errorf("Expiry = %q, want 1700000000", session.Expiry)
	}
	if session.TileWidth != 256 || session.TileHeight != 256 {
		t.Errorf("tile size = %dx%d, want 256x256", session.TileWidth, session.TileHeight)
	}
	if session.ImageFormat != "png" {
		t.Errorf("ImageFormat = %q, want png", session.ImageFormat)
	}
	if c.Session() != session {
		t.Error("client does not hold the returned session")
	}
}

func TestCreateSessionReplacesPrior(t *testing.T) {
	tokens := []string{"first-token", "second-token"}
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"session": tokens[calls]})
		calls++
	}))

	opts := SessionOptions{MapType: "satellite", Language: "en-US", Region: "US"}
	if _, err := c.CreateSession(context.Background(), opts); err != nil {
		t.Fatalf("first CreateSession() error = %v", err)
	}
	if _, err := c.CreateSession(context.Background(), opts); err != nil {
		t.Fatalf("second CreateSession() error = %v", err)
	}
	if got := c.Session().Token; got != "second-token" {
		t.Errorf("held token = %q, want second-token", got)
	}
}

func TestCreateSessionHTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))

	_, err := c.CreateSession(context.Background(), SessionOptions{MapType: "roadmap"})
	if err == nil {
		t.Fatal("CreateSession() expected error on 403")
	}
	if !strings.Contains(err.Error(), "Error creating session") {
		t.Errorf("error = %q, want it to contain %q", err, "Error creating session")
	}
	if c.Session() != nil {
		t.Error("failed creation must not store a session")
	}
}

func TestTileURL(t *testing.T) {
	c, err := NewTileClient("test-api-key")
	if err != nil {
		t.Fatalf("NewTileClient() error = %v", err)
	}
	c.session = &Session{Token: "mock-session-token"}

	tileURL, err := c.TileURL(15, 6294, 13288, 0)
	if err != nil {
		t.Fatalf("TileURL() error = %v", err)
	}
	for _, want := range []string{
		"key=test-api-key",
		"session=mock-session-token",
		"/15/6294/13288",
		"orientation=0",
	} {
		if !strings.Contains(tileURL, want) {
			t.Errorf("TileURL = %q, missing %q", tileURL, want)
		}
	}
}

func TestTileJSONURL(t *testing.T) {
	c, err := NewTileClient("test-api-key")
	if err != nil {
		t.Fatalf("NewTileClient() error = %v", err)
	}
	c.session = &Session{Token: "mock-session-token"}

	tileURL, err := c.TileJSONURL()
	if err != nil {
		t.Fatalf("TileJSONURL() error = %v", err)
	}
	for _, want := range []string{
		"{z}/{x}/{y}",
		"session=mock-session-token",
		"key=test-api-key",
	} {
		if !strings.Contains(tileURL, want) {
			t.Errorf("TileJSONURL = %q, missing %q", tileURL, want)
		}
	}
}

func TestNoActiveSessionNeverHitsNetwork(t *testing.T) {
	var hits int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))

	if _, err := c.GetViewport(context.Background(), 10, 1, -1, 1, -1); !errors.Is(err, ErrNoSession) {
		t.Errorf("GetViewport() error = %v, want ErrNoSession", err)
	}
	if _, err := c.TileJSONURL(); !errors.Is(err, ErrNoSession) {
		t.Errorf("TileJSONURL() error = %v, want ErrNoSession", err)
	}
	if _, err := c.TileURL(1, 0, 0, 0); !errors.Is(err, ErrNoSession) {
		t.Errorf("TileURL() error = %v, want ErrNoSession", err)
	}
	if _, _, err := c.FetchTile(context.Background(), 1, 0, 0); !errors.Is(err, ErrNoSession) {
		t.Errorf("FetchTile() error = %v, want ErrNoSession", err)
	}
	if hits != 0 {
		t.Errorf("server hits = %d, want 0", hits)
	}
}

func TestGetViewport(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tile/v1/viewport" {
			t.Errorf("path = %s, want /tile/v1/viewport", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("session") != "mock-session-token" || q.Get("key") != "test-api-key" {
			t.Errorf("missing session/key query, got %v", q)
		}
		if q.Get("zoom") != "12" {
			t.Errorf("zoom = %q, want 12", q.Get("zoom"))
		}
		for name, want := range map[string]string{
			"north": "40.5", "south": "40.1", "east": "-73.9", "west": "-74.3",
		} {
			if q.Get(name) != want {
				t.Errorf("%s = %q, want %q", name, q.Get(name), want)
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"copyright": "Map data ©2026 Google",
			"maxZoomRects": []map[string]interface{}{
				{"maxZoom": 19, "north": 85.0, "south": -85.0, "east": 180.0, "west": -180.0},
			},
		})
	}))
	c.session = &Session{Token: "mock-session-token"}

	vp, err := c.GetViewport(context.Background(), 12, 40.5, 40.1, -73.9, -74.3)
	if err != nil {
		t.Fatalf("GetViewport() error = %v", err)
	}
	if vp.Copyright != "Map data ©2026 Google" {
		t.Errorf("Copyright = %q", vp.Copyright)
	}
	if len(vp.MaxZoomRects) != 1 || vp.MaxZoomRects[0].MaxZoom != 19 {
		t.Errorf("MaxZoomRects = %+v", vp.MaxZoomRects)
	}
}

func TestGetViewportHTTPError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	c.session = &Session{Token: "mock-session-token"}

	_, err := c.GetViewport(context.Background(), 10, 1, -1, 1, -1)
	if err == nil {
		t.Fatal("GetViewport() expected error on 500")
	}
	if !strings.Contains(err.Error(), "Error fetching viewport") {
		t.Errorf("error = %q, want it to contain %q", err, "Error fetching viewport")
	}
}

func TestFetchTile(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/2dtiles/3/1/2" {
			t.Errorf("path = %s, want /v1/2dtiles/3/1/2", r.URL.Path)
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("tile-bytes"))
	}))
	c.session = &Session{Token: "mock-session-token"}

	data, contentType, err := c.FetchTile(context.Background(), 3, 1, 2)
	if err != nil {
		t.Fatalf("FetchTile() error = %v", err)
	}
	if string(data) != "tile-bytes" {
		t.Errorf("data = %q, want tile-bytes", data)
	}
	if contentType != "image/png" {
		t.Errorf("contentType = %q, want image/png", contentType)
	}
}
