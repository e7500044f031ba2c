package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/telemetry"
)

type fakeController struct {
	mu      sync.Mutex
	played  []string
	stopped int
	paused  bool
	err     error
}

func (c *fakeController) PlayPlaylist(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.played = append(c.played, name)
	return nil
}

func (c *fakeController) Stop() {
	c.mu.Lock()
	c.stopped++
	c.mu.Unlock()
}

func (c *fakeController) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return errors.New("no song is playing")
	}
	c.paused = true
	return nil
}

func (c *fakeController) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return errors.New("song is not paused")
	}
	c.paused = false
	return nil
}

func (c *fakeController) Status() map[string]any {
	return map[string]any{"state": "idle"}
}

func newTestServer(t *testing.T, deps Deps) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(Config{ShutdownTimeout: time.Second}, deps)
	ctx, cancel := context.WithCancel(context.Background())
	go s.hub.Run(ctx)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return s, ts
}

func do(t *testing.T, method, url string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	json.NewDecoder(resp.Body).Decode(&body)
	return resp.StatusCode, body
}

func TestProbes(t *testing.T) {
	var ready atomic.Bool
	_, ts := newTestServer(t, Deps{
		Controller: &fakeController{},
		Ready:      ready.Load,
	})

	if code, body := do(t, http.MethodGet, ts.URL+"/health"); code != http.StatusOK || body["status"] != "healthy" {
		t.Errorf("/health = %d %v", code, body)
	}
	if code, _ := do(t, http.MethodGet, ts.URL+"/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before ready = %d", code)
	}
	ready.Store(true)
	if code, _ := do(t, http.MethodGet, ts.URL+"/ready"); code != http.StatusOK {
		t.Errorf("/ready after ready = %d", code)
	}
	if code, body := do(t, http.MethodGet, ts.URL+"/status"); code != http.StatusOK || body["state"] != "idle" {
		t.Errorf("/status = %d %v", code, body)
	}
}

func TestPlayAndStop(t *testing.T) {
	ctrl := &fakeController{}
	_, ts := newTestServer(t, Deps{Controller: ctrl})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"missing playlist", http.MethodPost, "/play", http.StatusBadRequest},
		{"play", http.MethodPost, "/play?playlist=evening", http.StatusAccepted},
		{"wrong method", http.MethodGet, "/play?playlist=evening", http.StatusMethodNotAllowed},
		{"stop", http.MethodPost, "/stop", http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _ := do(t, tt.method, ts.URL+tt.path); code != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, code, tt.want)
			}
		})
	}

	ctrl.mu.Lock()
	if len(ctrl.played) != 1 || ctrl.played[0] != "evening" || ctrl.stopped != 1 {
		t.Errorf("controller = played %v stopped %d", ctrl.played, ctrl.stopped)
	}
	ctrl.err = errors.New("a song is already playing")
	ctrl.mu.Unlock()
	code, body := do(t, http.MethodPost, ts.URL+"/play?playlist=evening")
	if code != http.StatusConflict || body["error"] != "a song is already playing" {
		t.Errorf("busy play = %d %v", code, body)
	}
}

func TestHistory(t *testing.T) {
	var gotLimit atomic.Int64
	_, ts := newTestServer(t, Deps{
		Controller: &fakeController{},
		History: func(limit int) (any, error) {
			gotLimit.Store(int64(limit))
			return []map[string]any{{"event_type": "show_started"}}, nil
		},
	})

	resp, err := http.Get(ts.URL + "/history?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var entries []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotLimit.Load() != 5 || len(entries) != 1 {
		t.Errorf("limit = %d entries = %v", gotLimit.Load(), entries)
	}

	if code, _ := do(t, http.MethodGet, ts.URL+"/history?limit=-1"); code != http.StatusBadRequest {
		t.Errorf("bad limit = %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	m := telemetry.New()
	m.ShowStarted()
	_, ts := newTestServer(t, Deps{Controller: &fakeController{}, Metrics: m.Handler()})

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "shows_started_total 1") {
		t.Errorf("metrics output lacks shows_started_total:\n%s", body)
	}
}

func TestWebSocketStreamsEvents(t *testing.T) {
	s, ts := newTestServer(t, Deps{Controller: &fakeController{}})
	bus := eventbus.NewWithConfig(1, 16)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	}()
	s.Forward(bus)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first Message
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if first.Type != "status" {
		t.Errorf("first message = %+v", first)
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Hub().Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(eventbus.Event{Type: eventbus.EventTypeShowStarted, Data: map[string]any{"song": "overture"}})

	var msg struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if msg.Type != "show_started" || msg.Data["song"] != "overture" {
		t.Errorf("event = %+v", msg)
	}
}

func TestPauseAndResume(t *testing.T) {
	ctrl := &fakeController{}
	_, ts := newTestServer(t, Deps{Controller: ctrl})

	tests := []struct {
		name   string
		path   string
		want   int
		status string
	}{
		{name: "resume while playing", path: "/resume", want: http.StatusConflict},
		{name: "pause", path: "/pause", want: http.StatusOK, status: "paused"},
		{name: "pause twice", path: "/pause", want: http.StatusConflict},
		{name: "resume", path: "/resume", want: http.StatusOK, status: "playing"},
	}
	for _, tt := range tests {
		code, body := do(t, http.MethodPost, ts.URL+tt.path)
		if code != tt.want {
			t.Errorf("%s: POST %s = %d, want %d", tt.name, tt.path, code, tt.want)
		}
		if tt.status != "" && body["status"] != tt.status {
			t.Errorf("%s: status = %v, want %s", tt.name, body["status"], tt.status)
		}
	}
}
