package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gocv.io/x/gocv"

	"github.com/ayusman/echosight/internal/app"
	"github.com/ayusman/echosight/internal/metrics"
	"github.com/ayusman/echosight/internal/store"
	"github.com/ayusman/echosight/internal/tracking"
)

type fakeController struct {
	mu      sync.Mutex
	enabled bool
	tracked []tracking.TrackedObject
}

func (c *fakeController) Status() app.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return app.Status{RunID: "run-1", AlertsEnabled: c.enabled, Tracked: c.tracked}
}

func (c *fakeController) SetAlertsEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_Health(t *testing.T) {
	s := New(Config{})

	t.Run("returns 200 with JSON response", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		rec := httptest.NewRecorder()

		s.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
		}

		contentType := rec.Header().Get("Content-Type")
		if contentType != "application/json" {
			t.Errorf("expected Content-Type application/json, got %s", contentType)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}

		if response["status"] != "ok" {
			t.Errorf("expected status 'ok', got %v", response["status"])
		}
		if _, exists := response["uptime"]; !exists {
			t.Error("expected 'uptime' field in response")
		}
	})

	t.Run("only allows GET method", func(t *testing.T) {
		for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(method, "/api/health", nil)
			rec := httptest.NewRecorder()

			s.ServeHTTP(rec, req)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("method %s: expected status %d, got %d", method, http.StatusMethodNotAllowed, rec.Code)
			}
		}
	})
}

func TestServer_NotFound(t *testing.T) {
	s := New(Config{})

	for _, path := range []string{"/api/nonexistent", "/api/status", "/metrics", "/api/calibration", "/"} {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusNotFound, rec.Code)
		}
	}
}

func TestServer_StaticFiles(t *testing.T) {
	tmpDir := t.TempDir()

	testContent := "<html><body>echosight</body></html>"
	if err := os.WriteFile(filepath.Join(tmpDir, "index.html"), []byte(testContent), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	s := New(Config{StaticDir: tmpDir})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if rec.Body.String() != testContent {
		t.Errorf("expected body %q, got %q", testContent, rec.Body.String())
	}
}

func TestServer_Status(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ctrl := &fakeController{
		enabled: true,
		tracked: []tracking.TrackedObject{{
			Key:       tracking.Key{Label: "cat", X: 10, Y: 10},
			Label:     "cat",
			FirstSeen: now,
			LastSeen:  now,
		}},
	}
	s := New(Config{Controller: ctrl})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var status app.Status
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status.RunID != "run-1" || !status.AlertsEnabled {
		t.Errorf("status = %+v", status)
	}
	if len(status.Tracked) != 1 || status.Tracked[0].Label != "cat" {
		t.Errorf("tracked = %+v", status.Tracked)
	}
}

func TestServer_Alerts(t *testing.T) {
	ctrl := &fakeController{enabled: true}
	s := New(Config{Controller: ctrl})

	post := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/alerts", bytes.NewBufferString(body)))
		return rec
	}

	t.Run("empty body toggles", func(t *testing.T) {
		rec := post("")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
		}
		if ctrl.Status().AlertsEnabled {
			t.Error("alerts should be muted after toggle")
		}
		post("")
		if !ctrl.Status().AlertsEnabled {
			t.Error("alerts should be enabled after second toggle")
		}
	})

	t.Run("explicit state", func(t *testing.T) {
		post(`{"enabled": false}`)
		post(`{"enabled": false}`)
		if ctrl.Status().AlertsEnabled {
			t.Error("alerts should stay muted")
		}

		rec := post(`{"enabled": true}`)
		var status app.Status
		json.NewDecoder(rec.Body).Decode(&status)
		if !status.AlertsEnabled {
			t.Error("response should report alerts enabled")
		}
	})

	t.Run("bad json", func(t *testing.T) {
		if rec := post(`{`); rec.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
		}
	})

	t.Run("only allows POST", func(t *testing.T) {
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/alerts", nil))
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, rec.Code)
		}
	})
}

func TestServer_Metrics(t *testing.T) {
	m := metrics.New()
	m.NewObjects.Add(2)
	s := New(Config{Metrics: m})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "echosight_new_objects_total 2") {
		t.Errorf("metrics body missing counter:\n%s", rec.Body.String())
	}
}

func TestServer_Calibration(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer st.Close()

	s := New(Config{Store: st})

	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/calibration/person", bytes.NewBufferString(`{"width_m":0.45}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("PUT status = %d, want %d", rec.Code, http.StatusOK)
	}

	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/calibration", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "person") {
		t.Errorf("GET status = %d body = %s", rec.Code, rec.Body.String())
	}
}

func TestServer_Stream(t *testing.T) {
	m := metrics.New()
	s := New(Config{Metrics: m})
	ts := httptest.NewServer(s)
	defer ts.Close()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(ts.URL + "/api/stream")
	if err != nil {
		t.Fatalf("GET /api/stream error = %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/x-mixed-replace") {
		t.Errorf("Content-Type = %s", ct)
	}

	waitFor(t, func() bool { return s.frames.count() == 1 })
	if got := testutil.ToFloat64(m.StreamClients); got != 1 {
		t.Errorf("stream clients gauge = %v, want 1", got)
	}

	s.frames.publish([]byte("fake-jpeg"))

	reader := bufio.NewReader(resp.Body)
	var seen []string
	for i := 0; i < 5; i++ {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		seen = append(seen, strings.TrimSpace(line))
	}

	joined := strings.Join(seen, "|")
	for _, want := range []string{"--frame", "Content-Type: image/jpeg", "Content-Length: 9", "fake-jpeg"} {
		if !strings.Contains(joined, want) {
			t.Errorf("stream part missing %q: %q", want, joined)
		}
	}
}

func TestServer_ObserveFrame(t *testing.T) {
	s := New(Config{})

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()

	// No clients: nothing is encoded or queued
	s.ObserveFrame(&frame)

	ch := s.frames.subscribe(1)
	defer s.frames.unsubscribe(ch)

	s.ObserveFrame(&frame)

	select {
	case jpeg := <-ch:
		if len(jpeg) < 2 || jpeg[0] != 0xFF || jpeg[1] != 0xD8 {
			t.Errorf("published frame is not a JPEG: % x", jpeg[:2])
		}
	case <-time.After(time.Second):
		t.Fatal("no frame published")
	}
}

func TestServer_Events(t *testing.T) {
	s := New(Config{})
	ts := httptest.NewServer(s)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return s.events.count() == 1 })

	s.ObserveEvent(app.Event{Key: "cat_10_10", Label: "cat", Distance: 2.5, Alerted: true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}

	var ev app.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Key != "cat_10_10" || ev.Label != "cat" || !ev.Alerted {
		t.Errorf("event = %+v", ev)
	}

	conn.Close()
	waitFor(t, func() bool { return s.events.count() == 0 })
}

func TestServer_ShutdownEndsStreams(t *testing.T) {
	s := New(Config{})
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/stream")
	if err != nil {
		t.Fatalf("GET /api/stream error = %v", err)
	}
	defer resp.Body.Close()

	waitFor(t, func() bool { return s.frames.count() == 1 })

	if err := s.Shutdown(t.Context()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	waitFor(t, func() bool { return s.frames.count() == 0 })
}

func TestHub_DropsOldest(t *testing.T) {
	h := newHub(nil)
	ch := h.subscribe(2)

	h.publish([]byte("1"))
	h.publish([]byte("2"))
	h.publish([]byte("3"))

	got := []string{string(<-ch), string(<-ch)}
	if got[0] != "2" || got[1] != "3" {
		t.Errorf("received %v, want [2 3]", got)
	}

	h.unsubscribe(ch)
	if h.count() != 0 {
		t.Errorf("count() = %d, want 0", h.count())
	}
}
