package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/roomlink/internal/gateway"
	"github.com/nerrad567/roomlink/internal/infrastructure/config"
	"github.com/nerrad567/roomlink/internal/infrastructure/logging"
	"github.com/nerrad567/roomlink/internal/peer"
	"github.com/nerrad567/roomlink/internal/room"
)

const testToken = "s3cret"

// relay is a minimal driver: it answers set_on by storing the value.
type relay struct {
	*room.Object
}

func newRelay(name string) *relay {
	r := &relay{Object: room.NewObject(name, "relay")}
	_ = r.SetValueSilent("on", false)
	r.AttachEventCallback("set_on", func(args []any, _ map[string]any) error {
		if len(args) != 1 {
			return fmt.Errorf("set_on wants 1 arg, got %d", len(args))
		}
		on, ok := args[0].(bool)
		if !ok {
			return fmt.Errorf("set_on wants a bool, got %T", args[0])
		}
		return r.SetValue("on", on)
	})
	return r
}

type testEnv struct {
	srv       *Server
	ts        *httptest.Server
	reg       *room.Registry
	forwarder *gateway.Forwarder
	peers     *peer.Receiver
}

type envOption func(*Deps)

func enforceToken(d *Deps) { d.Gateway.EnforceToken = true }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	reg := room.NewRegistry()
	id := gateway.Identity{Name: "node-a", Addresses: []string{"10.0.0.5"}, Auth: testToken}
	fwd := gateway.NewForwarder(gateway.ForwarderDeps{Identity: id})
	log := logging.Discard()
	peers := peer.NewReceiver(peer.NewMemoryStore(), peer.NewMirror(reg, "", log), log)

	deps := Deps{
		Config: config.APIConfig{Host: "127.0.0.1"},
		WS: config.WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logger:    log,
		Registry:  reg,
		Identity:  id,
		Peers:     peers,
		Forwarder: fwd,
		Version:   "test",
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
	})

	return &testEnv{srv: srv, ts: ts, reg: reg, forwarder: fwd, peers: peers}
}

func (e *testEnv) attach(t *testing.T, d room.Device) {
	t.Helper()
	if _, err := e.reg.Attach(d); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	e.forwarder.Bind(e.reg)
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.ts.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, v any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp
}

func TestUplink_ReportsRegistry(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))

	var p gateway.Payload
	resp := env.get(t, "/uplink", &p)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if p.Name != "node-a" || p.Auth != testToken {
		t.Errorf("identity = %q/%q", p.Name, p.Auth)
	}
	if len(p.CurrentIP) != 1 || p.CurrentIP[0] != "10.0.0.5" {
		t.Errorf("current_ip = %v", p.CurrentIP)
	}
	obj, ok := p.Objects["relay_1"]
	if !ok || obj.Type != "relay" || obj.Values["on"] != false {
		t.Errorf("objects = %+v", p.Objects)
	}
}

func TestEvent_RelaySetOnVisibleInUplink(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))

	resp := env.post(t, "/event", `{"object":"relay_1","event":"set_on","args":[true],"kwargs":{},"auth":"x"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body := readAll(t, resp); body != "OK" {
		t.Errorf("body = %q, want OK", body)
	}

	var p gateway.Payload
	env.get(t, "/uplink", &p)
	if p.Objects["relay_1"].Values["on"] != true {
		t.Errorf("relay_1.on = %v, want true", p.Objects["relay_1"].Values["on"])
	}
}

func TestEvent_UnknownObject(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/event", `{"object":"ghost","event":"set_on","args":[true]}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
	if env.reg.Len() != 0 {
		t.Errorf("registry has %d entries, want 0 (no creation on lookup)", env.reg.Len())
	}
}

func TestEvent_UnknownObjectConfiguredStatus(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Gateway.UnknownObjectStatus = http.StatusNotFound })

	resp := env.post(t, "/event", `{"object":"ghost","event":"x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEvent_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed body", `{"object":`, http.StatusBadRequest},
		{"missing object", `{"event":"set_on"}`, http.StatusBadRequest},
		{"missing event", `{"object":"relay_1"}`, http.StatusBadRequest},
		{"handler failure", `{"object":"relay_1","event":"set_on","args":["yes"]}`, http.StatusInternalServerError},
		{"no handler", `{"object":"relay_1","event":"reboot"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, "/event", tt.body)
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestEvent_RemoteIsNotForwarded(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))

	var mu sync.Mutex
	var seen []room.Event
	env.forwarder.Observe(func(ev room.Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})

	env.post(t, "/event", `{"object":"relay_1","event":"set_on","args":[true]}`)

	mu.Lock()
	defer mu.Unlock()
	for _, ev := range seen {
		if ev.Name == "set_on" {
			t.Errorf("remote event %q reached the forwarder", ev.Name)
		}
	}
	// The value change the handler causes is local and is forwarded.
	if len(seen) != 1 || seen[0].Name != "on_on_update" {
		t.Errorf("forwarded = %+v, want only on_on_update", seen)
	}
}

func TestTokenEnforcement(t *testing.T) {
	env := newTestEnv(t, enforceToken)
	env.attach(t, newRelay("relay_1"))

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"event bad token", "/event", `{"object":"relay_1","event":"set_on","args":[true],"auth":"nope"}`, http.StatusForbidden},
		{"event good token", "/event", `{"object":"relay_1","event":"set_on","args":[true],"auth":"s3cret"}`, http.StatusOK},
		{"downlink bad token", "/downlink", `{"name":"node-b","objects":{},"auth":""}`, http.StatusForbidden},
		{"downlink good token", "/downlink", `{"name":"node-b","objects":{},"auth":"s3cret"}`, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := env.post(t, tt.path, tt.body); resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}
}

func TestDownlink_StoresAndMirrors(t *testing.T) {
	env := newTestEnv(t)

	body := `{"name":"node-b","current_ip":["10.0.0.6"],"auth":"x",
		"objects":{"thermo":{"type":"environment","data":{"temperature":21.5},"health":{"online":true,"fault":false,"reason":""}}}}`
	if resp := env.post(t, "/downlink", body); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var snap peer.Snapshot
	if resp := env.get(t, "/api/v1/peers/node-b", &snap); resp.StatusCode != http.StatusOK {
		t.Fatalf("GET peer status = %d", resp.StatusCode)
	}
	if snap.Objects["thermo"].Values["temperature"] != 21.5 {
		t.Errorf("stored snapshot = %+v", snap)
	}

	ref, ok := env.reg.Get("node-b.thermo")
	if !ok {
		t.Fatal("mirror object node-b.thermo not created")
	}
	if v, _ := ref.Value("temperature"); v != 21.5 {
		t.Errorf("mirror temperature = %v", v)
	}

	if resp := env.get(t, "/api/v1/peers/node-z", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown peer status = %d, want 404", resp.StatusCode)
	}
}

func TestDownlink_BadRequests(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`not json`, `{"objects":{}}`} {
		if resp := env.post(t, "/downlink", body); resp.StatusCode != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, resp.StatusCode)
		}
	}
}

func TestObjects_ListAndGet(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))
	env.reg.GetOrCreate("front_door")

	var list struct {
		Objects []objectView `json:"objects"`
		Count   int          `json:"count"`
	}
	env.get(t, "/api/v1/objects", &list)
	if list.Count != 2 || list.Objects[0].Name != "relay_1" || !list.Objects[1].IsPromise {
		t.Errorf("list = %+v", list)
	}

	var one objectView
	if resp := env.get(t, "/api/v1/objects/relay_1", &one); resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if one.Type != "relay" || one.IsPromise {
		t.Errorf("object = %+v", one)
	}

	if resp := env.get(t, "/api/v1/objects/ghost", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("ghost status = %d, want 404", resp.StatusCode)
	}
}

func TestObjects_PostEvent(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))

	resp := env.post(t, "/api/v1/objects/relay_1/events", `{"event":"set_on","args":[true]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	ref, _ := env.reg.Get("relay_1")
	if v, _ := ref.Value("on"); v != true {
		t.Errorf("on = %v, want true", v)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))

	var h healthResponse
	resp := env.get(t, "/api/v1/health", &h)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if h.Status != "ok" || h.Node != "node-a" || h.Objects != 1 || h.Version != "test" {
		t.Errorf("health = %+v", h)
	}
}

func TestMetrics(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))
	env.reg.GetOrCreate("pending")

	var m SystemMetrics
	env.get(t, "/api/v1/metrics", &m)
	if m.Objects.Total != 2 || m.Objects.Promises != 1 || m.Objects.ByType["relay"] != 1 {
		t.Errorf("objects = %+v", m.Objects)
	}

	resp := env.get(t, "/metrics", nil)
	text := readAll(t, resp)
	if !strings.Contains(text, "roomlink_http_requests_total") {
		t.Error("prometheus output missing roomlink_http_requests_total")
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/api/v1/health", nil)
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("X-Request-ID not generated")
	}

	req, _ := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("X-Request-ID = %q, want abc-123", got)
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodOptions, env.ts.URL+"/event", nil)
	req.Header.Set("Origin", "http://panel.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got == "" {
		t.Error("Access-Control-Allow-Origin missing")
	}
}

func TestConcurrentAttachAndUplink(t *testing.T) {
	env := newTestEnv(t)
	const n = 16

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := env.reg.Attach(newRelay(fmt.Sprintf("relay_%d", i))); err != nil {
				t.Errorf("Attach() error = %v", err)
			}
			env.forwarder.Bind(env.reg)
		}()
		go func() {
			defer wg.Done()
			resp, err := http.Get(env.ts.URL + "/uplink")
			if err == nil {
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	var p gateway.Payload
	env.get(t, "/uplink", &p)
	if len(p.Objects) != n {
		t.Errorf("objects = %d, want %d", len(p.Objects), n)
	}
}

// dialWS connects to the hub and subscribes to channels.
func dialWS(t *testing.T, env *testEnv, query string, channels ...string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/v1/ws" + query
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	t.Cleanup(func() { ws.Close() })

	if err := ws.WriteJSON(WSMessage{
		Type:    WSTypeSubscribe,
		ID:      "sub-1",
		Payload: WSSubscribePayload{Channels: channels},
	}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	var ack WSMessage
	readWS(t, ws, &ack)
	if ack.Type != WSTypeResponse || ack.ID != "sub-1" {
		t.Fatalf("subscribe ack = %+v", ack)
	}
	return ws
}

func readWS(t *testing.T, ws *websocket.Conn, v any) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := ws.ReadJSON(v); err != nil {
		t.Fatalf("read websocket: %v", err)
	}
}

// objectEvent is the shape of a ChannelObjectEvent message on the wire.
type objectEvent struct {
	Type      string             `json:"type"`
	EventType string             `json:"event_type"`
	Payload   ObjectEventMessage `json:"payload"`
}

func TestWebSocket_LocalTemperatureEvent(t *testing.T) {
	env := newTestEnv(t)
	thermo := &relay{Object: room.NewObject("thermo", "environment")}
	env.attach(t, thermo)

	ws := dialWS(t, env, "", ChannelObjectEvent)

	if err := thermo.SetValue("temperature", 72.0); err != nil {
		t.Fatal(err)
	}

	var msg objectEvent
	readWS(t, ws, &msg)
	if msg.EventType != ChannelObjectEvent {
		t.Fatalf("event_type = %q", msg.EventType)
	}
	p := msg.Payload
	if p.Object != "thermo" || p.Event != "on_temperature_update" || p.Source != sourceLocal {
		t.Errorf("payload = %+v", p)
	}
	if len(p.Args) != 1 || p.Args[0] != 72.0 {
		t.Errorf("args = %v, want [72]", p.Args)
	}
}

func TestWebSocket_RemoteEvent(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t, newRelay("relay_1"))
	ws := dialWS(t, env, "", ChannelObjectEvent)

	env.post(t, "/event", `{"object":"relay_1","event":"set_on","args":[true]}`)

	// The local on_on_update runs inside the handler, so it arrives first.
	var first, second objectEvent
	readWS(t, ws, &first)
	readWS(t, ws, &second)
	if first.Payload.Event != "on_on_update" || first.Payload.Source != sourceLocal {
		t.Errorf("first = %+v", first.Payload)
	}
	if second.Payload.Event != "set_on" || second.Payload.Source != sourceRemote {
		t.Errorf("second = %+v", second.Payload)
	}
}

func TestWebSocket_PeerSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, "", ChannelPeerSnapshot)

	env.post(t, "/downlink", `{"name":"node-b","objects":{}}`)

	var msg WSMessage
	readWS(t, ws, &msg)
	if msg.EventType != ChannelPeerSnapshot {
		t.Errorf("event_type = %q", msg.EventType)
	}
}

func TestWebSocket_PingAndUnknown(t *testing.T) {
	env := newTestEnv(t)
	ws := dialWS(t, env, "")

	_ = ws.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"})
	var pong WSMessage
	readWS(t, ws, &pong)
	if pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}

	_ = ws.WriteJSON(WSMessage{Type: "bogus", ID: "b1"})
	var e WSMessage
	readWS(t, ws, &e)
	if e.Type != WSTypeError {
		t.Errorf("reply = %+v, want error", e)
	}
}

func TestWebSocket_Token(t *testing.T) {
	env := newTestEnv(t, enforceToken)
	base := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/api/v1/ws"

	_, resp, err := websocket.DefaultDialer.Dial(base+"?token=wrong", nil)
	if err == nil {
		t.Fatal("dial with bad token succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("resp = %v, want 403", resp)
	}

	dialWS(t, env, "?token="+testToken)
}

func TestHub_BroadcastOnlyToSubscribed(t *testing.T) {
	env := newTestEnv(t)
	subscribed := dialWS(t, env, "", ChannelPeerSnapshot)
	other := dialWS(t, env, "", ChannelObjectEvent)

	env.srv.Hub().Broadcast(ChannelPeerSnapshot, map[string]string{"name": "x"})

	var msg WSMessage
	readWS(t, subscribed, &msg)

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var none WSMessage
	err := other.ReadJSON(&none)
	var netErr interface{ Timeout() bool }
	if err == nil || !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Errorf("unsubscribed client got %+v (err %v)", none, err)
	}
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}
