package peer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/roomlink/internal/infrastructure/config"
	"github.com/nerrad567/roomlink/internal/infrastructure/database"
	"github.com/nerrad567/roomlink/internal/room"
	"github.com/nerrad567/roomlink/migrations"
)

func testSnapshot(node string, temp float64) Snapshot {
	return Snapshot{
		Node:      node,
		Addresses: []string{"10.0.0.9"},
		Objects: map[string]room.ObjectSnapshot{
			"room_temp": {
				Type:   "environment",
				Values: map[string]any{"current_value": temp, "unit": "F"},
				Health: room.Health{Online: true},
			},
		},
		ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func openSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db.DB)
}

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"sqlite": func(t *testing.T) Store { return openSQLiteStore(t) },
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			ctx := context.Background()

			if _, err := store.Get(ctx, "wopr"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) error = %v, want ErrNotFound", err)
			}
			if err := store.Save(ctx, Snapshot{}); !errors.Is(err, ErrInvalidSnapshot) {
				t.Errorf("Save(no node) error = %v, want ErrInvalidSnapshot", err)
			}

			if err := store.Save(ctx, testSnapshot("wopr", 72)); err != nil {
				t.Fatalf("Save() error = %v", err)
			}
			if err := store.Save(ctx, testSnapshot("wopr", 73)); err != nil {
				t.Fatalf("Save() replace error = %v", err)
			}
			if err := store.Save(ctx, testSnapshot("attic", 60)); err != nil {
				t.Fatalf("Save() error = %v", err)
			}

			got, err := store.Get(ctx, "wopr")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if v := got.Objects["room_temp"].Values["current_value"]; v != 73.0 {
				t.Errorf("current_value = %v, want 73 (latest push)", v)
			}
			if !got.Objects["room_temp"].Health.Online || got.Addresses[0] != "10.0.0.9" {
				t.Errorf("snapshot = %+v", got)
			}
			if !got.ReceivedAt.Equal(testSnapshot("", 0).ReceivedAt) {
				t.Errorf("ReceivedAt = %v", got.ReceivedAt)
			}

			list, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(list) != 2 || list[0].Node != "attic" || list[1].Node != "wopr" {
				t.Errorf("List() nodes = %v", list)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	s := testSnapshot("wopr", 72)
	_ = store.Save(ctx, s)

	s.Objects["room_temp"].Values["current_value"] = 0.0
	got, _ := store.Get(ctx, "wopr")
	if got.Objects["room_temp"].Values["current_value"] != 72.0 {
		t.Error("store shares value maps with the caller")
	}
}

func TestMirror_AppliesAndFiresEvents(t *testing.T) {
	reg := room.NewRegistry()
	mirror := NewMirror(reg, "peer.", nil)

	var updates []any
	reg.GetOrCreate("peer.wopr.room_temp").AttachEventCallback("on_current_value_update",
		func(args []any, _ map[string]any) error {
			updates = append(updates, args[0])
			return nil
		})

	for _, temp := range []float64{72, 72, 74} {
		if err := mirror.Apply(testSnapshot("wopr", temp)); err != nil {
			t.Fatalf("Apply() error = %v", err)
		}
	}

	if len(updates) != 2 || updates[0] != 72.0 || updates[1] != 74.0 {
		t.Errorf("mirrored updates = %v, want [72 74]", updates)
	}
	ref, ok := reg.Get("peer.wopr.room_temp")
	if !ok {
		t.Fatal("mirrored entry missing")
	}
	if ref.Type() != "environment" || !ref.Health().Online {
		t.Errorf("mirrored entry = %v health=%+v", ref, ref.Health())
	}
}

func TestMirror_BadValueDoesNotStopOthers(t *testing.T) {
	reg := room.NewRegistry()
	mirror := NewMirror(reg, "", nil)
	s := Snapshot{
		Node: "n",
		Objects: map[string]room.ObjectSnapshot{
			"bad":  {Values: map[string]any{"v": []any{1}}},
			"good": {Values: map[string]any{"v": 1.0}},
		},
	}

	if err := mirror.Apply(s); !errors.Is(err, room.ErrInvalidValue) {
		t.Errorf("Apply() error = %v, want ErrInvalidValue", err)
	}
	ref, _ := reg.Get("n.good")
	if v, _ := ref.Value("v"); v != 1.0 {
		t.Errorf("n.good v = %v, want 1", v)
	}
}

func TestReceiver(t *testing.T) {
	reg := room.NewRegistry()
	store := NewMemoryStore()
	recv := NewReceiver(store, NewMirror(reg, "", nil), nil)

	var heard []string
	recv.OnSnapshot(func(s Snapshot) { heard = append(heard, s.Node) })

	s := testSnapshot("wopr", 72)
	s.ReceivedAt = time.Time{}
	if err := recv.Receive(context.Background(), s); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}

	got, err := store.Get(context.Background(), "wopr")
	if err != nil || got.ReceivedAt.IsZero() {
		t.Errorf("stored = %+v, err = %v", got, err)
	}
	if _, ok := reg.Get("wopr.room_temp"); !ok {
		t.Error("snapshot not mirrored")
	}
	if len(heard) != 1 || heard[0] != "wopr" {
		t.Errorf("listeners heard %v", heard)
	}

	if err := recv.Receive(context.Background(), Snapshot{}); !errors.Is(err, ErrInvalidSnapshot) {
		t.Errorf("Receive(empty) error = %v, want ErrInvalidSnapshot", err)
	}
}
