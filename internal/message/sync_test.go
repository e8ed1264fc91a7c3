package message

import (
	"context"
	"errors"
	"testing"

	"github.com/matheus3301/tchat/internal/auth"
	"github.com/matheus3301/tchat/internal/bus"
	"github.com/matheus3301/tchat/internal/chat"
	"github.com/matheus3301/tchat/internal/realtime"
	"go.uber.org/zap"
)

type fakeSession struct {
	ident *auth.Identity
}

func (s *fakeSession) Current() *auth.Identity { return s.ident }

type fixture struct {
	sync   *Sync
	store  *realtime.MemoryStore
	events <-chan bus.Event
}

func newFixture(t *testing.T, uid string) *fixture {
	t.Helper()
	store := realtime.NewMemoryStore()
	return newFixtureOn(t, uid, store)
}

func newFixtureOn(t *testing.T, uid string, store *realtime.MemoryStore) *fixture {
	t.Helper()
	b := bus.New()
	events, cancel := b.Subscribe("message.", 32)
	t.Cleanup(cancel)

	session := &fakeSession{}
	if uid != "" {
		session.ident = &auth.Identity{UID: uid, Email: uid + "@example.com"}
	}
	dir := chat.NewDirectory(session, store, b, zap.NewNop())
	return &fixture{
		sync:   NewSync(session, store, dir, b, zap.NewNop()),
		store:  store,
		events: events,
	}
}

func (f *fixture) drained() []string {
	var kinds []string
	for {
		select {
		case evt := <-f.events:
			kinds = append(kinds, evt.Kind)
		default:
			return kinds
		}
	}
}

func seedMessage(t *testing.T, store *realtime.MemoryStore, chatID string, msg Message) string {
	t.Helper()
	key, err := store.Push(context.Background(), MessagesPath(chatID), msg)
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return key
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	seedMessage(t, f.store, "c1", Message{ID: "m1", Content: "first", Sender: "u2", Timestamp: "2025-06-01T12:00:00Z", Status: StatusSent})
	seedMessage(t, f.store, "c1", Message{ID: "m2", Content: "second", Sender: "u2", Timestamp: "2025-06-01T12:01:00Z", Status: StatusSent})

	if err := f.sync.Subscribe(ctx, "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	msgs := f.sync.Messages("c1")
	if len(msgs) != 2 {
		t.Fatalf("messages = %d, want 2", len(msgs))
	}
	if msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("order = [%s %s]", msgs[0].ID, msgs[1].ID)
	}
	if msgs[0].Key == "" {
		t.Fatal("push key not carried onto the message")
	}
}

func TestSubscribeIdempotent(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	if err := f.sync.Subscribe(ctx, "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := f.sync.Subscribe(ctx, "c1"); err != nil {
		t.Fatalf("second subscribe: %v", err)
	}
	f.drained()

	seedMessage(t, f.store, "c1", Message{ID: "m1", Content: "hi", Sender: "u2", Timestamp: "2025-06-01T12:00:00Z", Status: StatusSent})

	kinds := f.drained()
	snapshots := 0
	for _, k := range kinds {
		if k == "message.snapshot" {
			snapshots++
		}
	}
	if snapshots != 1 {
		t.Fatalf("snapshots per write = %d, want 1 (double listener?)", snapshots)
	}
}

func TestSubscribeSignedOutIsNoop(t *testing.T) {
	f := newFixture(t, "")
	if err := f.sync.Subscribe(context.Background(), "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if f.sync.Subscribed("c1") {
		t.Fatal("listener registered while signed out")
	}
}

func TestSendLandsViaListenerOnly(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	msg, err := f.sync.Send(ctx, "c1", "hello")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.ID == "" || msg.Key == "" || msg.Status != StatusSent || msg.Sender != "u1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if got := f.sync.Messages("c1"); len(got) != 0 {
		t.Fatalf("cache mutated by Send: %+v", got)
	}

	// The message is in the store and arrives once a listener attaches.
	if err := f.sync.Subscribe(ctx, "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	got := f.sync.Messages("c1")
	if len(got) != 1 || got[0].ID != msg.ID || got[0].Content != "hello" {
		t.Fatalf("messages = %+v", got)
	}
}

func TestSendRefreshesSummary(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	msg, err := f.sync.Send(ctx, "c1", "latest news")
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	var rec chat.Record
	if err := f.store.Get(ctx, chat.ChatPath("c1"), &rec); err != nil {
		t.Fatalf("read chat record: %v", err)
	}
	if rec.LastMessage == nil || rec.LastMessage.Content != "latest news" || rec.LastMessage.Timestamp != msg.Timestamp {
		t.Fatalf("summary = %+v", rec.LastMessage)
	}
}

func TestSendSignedOut(t *testing.T) {
	f := newFixture(t, "")
	if _, err := f.sync.Send(context.Background(), "c1", "hi"); !errors.Is(err, auth.ErrUnauthenticated) {
		t.Fatalf("err = %v, want ErrUnauthenticated", err)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	if err := f.sync.Subscribe(ctx, "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	f.sync.Unsubscribe("c1")
	f.drained()

	seedMessage(t, f.store, "c1", Message{ID: "m1", Content: "hi", Sender: "u2", Timestamp: "2025-06-01T12:00:00Z", Status: StatusSent})

	if got := f.sync.Messages("c1"); len(got) != 0 {
		t.Fatalf("cache updated after unsubscribe: %+v", got)
	}
	for _, k := range f.drained() {
		if k == "message.snapshot" {
			t.Fatal("snapshot published after unsubscribe")
		}
	}

	// Safe when not subscribed.
	f.sync.Unsubscribe("c1")
}

func TestResetEmptiesRegistry(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	for _, id := range []string{"c1", "c2"} {
		if err := f.sync.Subscribe(ctx, id); err != nil {
			t.Fatalf("subscribe %s: %v", id, err)
		}
	}
	f.sync.Reset()

	for _, id := range []string{"c1", "c2"} {
		if f.sync.Subscribed(id) {
			t.Fatalf("%s still subscribed after reset", id)
		}
		if got := f.sync.Messages(id); len(got) != 0 {
			t.Fatalf("%s cache survived reset: %+v", id, got)
		}
	}
	f.drained()

	seedMessage(t, f.store, "c1", Message{ID: "m1", Content: "hi", Sender: "u2", Timestamp: "2025-06-01T12:00:00Z", Status: StatusSent})
	for _, k := range f.drained() {
		if k == "message.snapshot" {
			t.Fatal("listener survived reset")
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t, "u1")
	ctx := context.Background()

	key := seedMessage(t, f.store, "c1", Message{ID: "m1", Content: "hi", Sender: "u2", Timestamp: "2025-06-01T12:00:00Z", Status: StatusSent})

	if err := f.sync.UpdateStatus(ctx, "c1", key, StatusRead); err != nil {
		t.Fatalf("update status: %v", err)
	}
	var msg Message
	if err := f.store.Get(ctx, messagePath("c1", key), &msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.Status != StatusRead {
		t.Fatalf("status = %q, want read", msg.Status)
	}

	// Downgrades are silently ignored.
	if err := f.sync.UpdateStatus(ctx, "c1", key, StatusDelivered); err != nil {
		t.Fatalf("downgrade errored: %v", err)
	}
	if err := f.store.Get(ctx, messagePath("c1", key), &msg); err != nil {
		t.Fatalf("read message: %v", err)
	}
	if msg.Status != StatusRead {
		t.Fatalf("status downgraded to %q", msg.Status)
	}

	if err := f.sync.UpdateStatus(ctx, "c1", key, Status("bogus")); err == nil {
		t.Fatal("unknown status accepted")
	}
}

func TestTwoClientsConverge(t *testing.T) {
	store := realtime.NewMemoryStore()
	alice := newFixtureOn(t, "u1", store)
	bob := newFixtureOn(t, "u2", store)
	ctx := context.Background()

	for _, f := range []*fixture{alice, bob} {
		if err := f.sync.Subscribe(ctx, "c1"); err != nil {
			t.Fatalf("subscribe: %v", err)
		}
	}

	if _, err := alice.sync.Send(ctx, "c1", "hi bob"); err != nil {
		t.Fatalf("alice send: %v", err)
	}
	if _, err := bob.sync.Send(ctx, "c1", "hi alice"); err != nil {
		t.Fatalf("bob send: %v", err)
	}

	want := []string{"hi bob", "hi alice"}
	for name, f := range map[string]*fixture{"alice": alice, "bob": bob} {
		msgs := f.sync.Messages("c1")
		if len(msgs) != 2 {
			t.Fatalf("%s sees %d messages, want 2", name, len(msgs))
		}
		for i, content := range want {
			if msgs[i].Content != content {
				t.Fatalf("%s order = %+v", name, msgs)
			}
		}
	}
}
