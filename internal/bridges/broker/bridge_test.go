package broker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/roomlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/roomlink/internal/room"
)

// fakeClient records publishes and captures the command handler.
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	published map[string][]byte
	retained  map[string]bool
	handler   mqtt.MessageHandler
	subTopic  string
	failPub   error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		connected: true,
		published: make(map[string][]byte),
		retained:  make(map[string]bool),
	}
}

func (f *fakeClient) Publish(topic string, payload []byte, _ byte, retained bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPub != nil {
		return f.failPub
	}
	f.published[topic] = payload
	f.retained[topic] = retained
	return nil
}

func (f *fakeClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subTopic = topic
	f.handler = handler
	return nil
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) get(topic string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.published[topic]
	return p, ok
}

type relay struct {
	*room.Object
}

func newRelay(name string) *relay {
	r := &relay{Object: room.NewObject(name, "relay")}
	_ = r.SetValueSilent("on", false)
	r.AttachEventCallback("set_on", func(args []any, _ map[string]any) error {
		on, ok := args[0].(bool)
		if !ok {
			return errors.New("set_on wants a bool")
		}
		return r.SetValue("on", on)
	})
	return r
}

func newTestBridge(t *testing.T) (*Bridge, *fakeClient, *room.Registry) {
	t.Helper()
	reg := room.NewRegistry()
	client := newFakeClient()
	b, err := New(Deps{
		Client:   client,
		Topics:   mqtt.NewTopics("", "kitchen"),
		Registry: reg,
		Interval: time.Hour,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return b, client, reg
}

func TestNew_RequiresDeps(t *testing.T) {
	reg := room.NewRegistry()
	topics := mqtt.NewTopics("", "kitchen")

	if _, err := New(Deps{Registry: reg, Topics: topics}); err == nil {
		t.Error("New() without client succeeded")
	}
	if _, err := New(Deps{Client: newFakeClient(), Topics: topics}); err == nil {
		t.Error("New() without registry succeeded")
	}
	if _, err := New(Deps{Client: newFakeClient(), Registry: reg}); err == nil {
		t.Error("New() without node succeeded")
	}
}

func TestPublishAll(t *testing.T) {
	b, client, reg := newTestBridge(t)
	_, _ = reg.Attach(newRelay("relay_1"))
	reg.GetOrCreate("door")

	if n := b.PublishAll(); n != 2 {
		t.Errorf("PublishAll() = %d, want 2", n)
	}

	body, ok := client.get("roomlink/kitchen/state/relay_1")
	if !ok {
		t.Fatal("relay_1 state not published")
	}
	var snap room.ObjectSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Type != "relay" || snap.Values["on"] != false {
		t.Errorf("snapshot = %+v", snap)
	}
	if !client.retained["roomlink/kitchen/state/relay_1"] {
		t.Error("state not published retained")
	}
}

func TestPublishAll_Disconnected(t *testing.T) {
	b, client, reg := newTestBridge(t)
	_, _ = reg.Attach(newRelay("relay_1"))
	client.connected = false

	if n := b.PublishAll(); n != 0 {
		t.Errorf("PublishAll() = %d while disconnected, want 0", n)
	}
}

func TestPublishAll_ErrorsDoNotStop(t *testing.T) {
	b, client, reg := newTestBridge(t)
	_, _ = reg.Attach(newRelay("a"))
	_, _ = reg.Attach(newRelay("b"))
	client.failPub = mqtt.ErrPublishFailed

	if n := b.PublishAll(); n != 0 {
		t.Errorf("PublishAll() = %d, want 0", n)
	}
}

func TestHandleCommand(t *testing.T) {
	b, _, reg := newTestBridge(t)
	_, _ = reg.Attach(newRelay("relay_1"))

	tests := []struct {
		name    string
		topic   string
		payload string
		want    error
	}{
		{"set_on", "roomlink/kitchen/command/relay_1", `{"event":"set_on","args":[true]}`, nil},
		{"no handler", "roomlink/kitchen/command/relay_1", `{"event":"reboot"}`, nil},
		{"unknown object", "roomlink/kitchen/command/ghost", `{"event":"set_on","args":[true]}`, ErrUnknownObject},
		{"bad json", "roomlink/kitchen/command/relay_1", `{`, ErrBadCommand},
		{"missing event", "roomlink/kitchen/command/relay_1", `{"args":[]}`, ErrBadCommand},
		{"other node", "roomlink/hall/command/relay_1", `{"event":"set_on"}`, ErrBadTopic},
		{"handler failure", "roomlink/kitchen/command/relay_1", `{"event":"set_on","args":["yes"]}`, room.ErrHandlerFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.HandleCommand(tt.topic, []byte(tt.payload))
			if tt.want == nil && err != nil {
				t.Errorf("HandleCommand() error = %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("HandleCommand() error = %v, want %v", err, tt.want)
			}
		})
	}

	ref, _ := reg.Get("relay_1")
	if v, _ := ref.Value("on"); v != true {
		t.Errorf("relay_1.on = %v, want true", v)
	}
	if _, ok := reg.Get("ghost"); ok {
		t.Error("command created ghost")
	}
}

type captureForwarder struct {
	mu     sync.Mutex
	events []room.Event
}

func (f *captureForwarder) Forward(_ *room.Object, ev room.Event) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func TestHandleCommand_NotForwarded(t *testing.T) {
	b, _, reg := newTestBridge(t)
	ref, _ := reg.Attach(newRelay("relay_1"))
	fwd := &captureForwarder{}
	ref.SetNetworkHook(fwd)

	if err := b.HandleCommand("roomlink/kitchen/command/relay_1", []byte(`{"event":"set_on","args":[true]}`)); err != nil {
		t.Fatal(err)
	}
	fwd.mu.Lock()
	defer fwd.mu.Unlock()
	for _, ev := range fwd.events {
		if ev.Name == "set_on" {
			t.Error("command event forwarded")
		}
	}
}

func TestRun_SubscribesAndPublishes(t *testing.T) {
	b, client, reg := newTestBridge(t)
	_, _ = reg.Attach(newRelay("relay_1"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := client.get("roomlink/kitchen/state/relay_1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Run did not publish")
		}
		time.Sleep(5 * time.Millisecond)
	}
	client.mu.Lock()
	sub := client.subTopic
	client.mu.Unlock()
	if sub != "roomlink/kitchen/command/+" {
		t.Errorf("subscribed to %q", sub)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
