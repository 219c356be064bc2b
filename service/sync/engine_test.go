package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeSnapshotter struct {
	mu     sync.Mutex
	events map[string][]*Event // conversationID -> snapshot
	calls  int
}

func newFakeSnapshotter() *fakeSnapshotter {
	return &fakeSnapshotter{events: map[string][]*Event{}}
}

func (f *fakeSnapshotter) set(conv string, evs []*Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[conv] = evs
}

func (f *fakeSnapshotter) Snapshot(ctx context.Context, flt Filter) ([]*Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	out := make([]*Event, len(f.events[flt.ConversationID]))
	copy(out, f.events[flt.ConversationID])
	return out, nil
}

func msgEvent(conv string, seq int64) *Event {
	return &Event{
		ID:             fmt.Sprintf("%s-%d", conv, seq),
		Kind:           KindAdded,
		Entity:         EntityMessage,
		ConversationID: conv,
		Seq:            seq,
		Doc:            map[string]any{"text": fmt.Sprintf("m%d", seq)},
		EmitTime:       time.Now(),
	}
}

func msgRange(conv string, from, to int64) []*Event {
	var out []*Event
	for s := from; s <= to; s++ {
		out = append(out, msgEvent(conv, s))
	}
	return out
}

func recv(t *testing.T, sub *Subscription) *Event {
	t.Helper()
	select {
	case ev := <-sub.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func expectNothing(t *testing.T, sub *Subscription) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		t.Fatalf("unexpected event: kind=%s seq=%d", ev.Kind, ev.Seq)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestSnapshotThenDeltas(t *testing.T) {
	snap := newFakeSnapshotter()
	snap.set("p2p:a:b", msgRange("p2p:a:b", 1, 3))
	e := NewEngine(snap, Options{})
	defer e.Close()

	sub, err := e.Subscribe(context.Background(), Filter{Entity: EntityMessage, ConversationID: "p2p:a:b", UserID: "a"})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Cancel()

	for want := int64(1); want <= 3; want++ {
		ev := recv(t, sub)
		if ev.Kind != KindAdded || ev.Seq != want {
			t.Fatalf("snapshot event %d: got kind=%s seq=%d", want, ev.Kind, ev.Seq)
		}
	}

	e.Publish(msgEvent("p2p:a:b", 4))
	ev := recv(t, sub)
	if ev.Seq != 4 || ev.Kind != KindAdded {
		t.Fatalf("delta: got kind=%s seq=%d", ev.Kind, ev.Seq)
	}
}

func TestDuplicateAndForeignEventsDropped(t *testing.T) {
	snap := newFakeSnapshotter()
	snap.set("grp:1", msgRange("grp:1", 1, 2))
	e := NewEngine(snap, Options{})
	defer e.Close()

	sub, _ := e.Subscribe(context.Background(), Filter{Entity: EntityMessage, ConversationID: "grp:1", UserID: "u"})
	defer sub.Cancel()
	recv(t, sub)
	recv(t, sub)

	e.Publish(msgEvent("grp:1", 2))  // 重复
	e.Publish(msgEvent("grp:9", 3))  // 别的会话
	expectNothing(t, sub)
}

func TestSeqGapForcesResync(t *testing.T) {
	snap := newFakeSnapshotter()
	snap.set("grp:2", msgRange("grp:2", 1, 3))
	e := NewEngine(snap, Options{})
	defer e.Close()

	sub, _ := e.Subscribe(context.Background(), Filter{Entity: EntityMessage, ConversationID: "grp:2", UserID: "u"})
	defer sub.Cancel()
	for i := 0; i < 3; i++ {
		recv(t, sub)
	}

	// seq 4 丢失，直接收到 5：不回放，整体重给快照
	snap.set("grp:2", msgRange("grp:2", 1, 5))
	e.Publish(msgEvent("grp:2", 5))

	ev := recv(t, sub)
	if ev.Kind != KindResync {
		t.Fatalf("want resync first, got kind=%s seq=%d", ev.Kind, ev.Seq)
	}
	for want := int64(1); want <= 5; want++ {
		ev = recv(t, sub)
		if ev.Kind != KindAdded || ev.Seq != want {
			t.Fatalf("resynced snapshot event %d: got kind=%s seq=%d", want, ev.Kind, ev.Seq)
		}
	}

	// 重同步后增量继续
	e.Publish(msgEvent("grp:2", 6))
	if ev = recv(t, sub); ev.Seq != 6 {
		t.Fatalf("post-resync delta: got seq=%d", ev.Seq)
	}
}

func TestSlowSubscriberForcesResync(t *testing.T) {
	snap := newFakeSnapshotter()
	e := NewEngine(snap, Options{Buffer: 2})
	defer e.Close()

	sub, _ := e.Subscribe(context.Background(), Filter{Entity: EntityMessage, ConversationID: "grp:3", UserID: "u"})
	defer sub.Cancel()
	// 空快照：直到直播态才继续
	waitLive(t, sub)

	snap.set("grp:3", msgRange("grp:3", 1, 3))
	e.Publish(msgEvent("grp:3", 1))
	e.Publish(msgEvent("grp:3", 2))
	e.Publish(msgEvent("grp:3", 3)) // 缓冲只有2，这条触发重同步

	if ev := recv(t, sub); ev.Seq != 1 {
		t.Fatalf("want seq 1, got %d", ev.Seq)
	}
	if ev := recv(t, sub); ev.Seq != 2 {
		t.Fatalf("want seq 2, got %d", ev.Seq)
	}
	if ev := recv(t, sub); ev.Kind != KindResync {
		t.Fatalf("want resync after overflow, got kind=%s seq=%d", ev.Kind, ev.Seq)
	}
	for want := int64(1); want <= 3; want++ {
		ev := recv(t, sub)
		if ev.Seq != want {
			t.Fatalf("resynced event: want seq %d got %d", want, ev.Seq)
		}
	}
}

func TestControlEventVisibility(t *testing.T) {
	snap := newFakeSnapshotter()
	e := NewEngine(snap, Options{})
	defer e.Close()

	subA, _ := e.Subscribe(context.Background(), Filter{Entity: EntityRequest, UserID: "alice"})
	subB, _ := e.Subscribe(context.Background(), Filter{Entity: EntityRequest, UserID: "bob"})
	defer subA.Cancel()
	defer subB.Cancel()
	waitLive(t, subA)
	waitLive(t, subB)

	e.Publish(&Event{
		ID:      "r1",
		Kind:    KindAdded,
		Entity:  EntityRequest,
		Targets: []string{"alice"},
		Doc:     map[string]any{"request_id": "r1"},
	})

	if ev := recv(t, subA); ev.ID != "r1" {
		t.Fatalf("alice should see r1, got %s", ev.ID)
	}
	expectNothing(t, subB)
}

func TestCancelIdempotentAndStopsDelivery(t *testing.T) {
	snap := newFakeSnapshotter()
	e := NewEngine(snap, Options{})
	defer e.Close()

	sub, _ := e.Subscribe(context.Background(), Filter{Entity: EntityConversation, UserID: "u"})
	waitLive(t, sub)

	sub.Cancel()
	sub.Cancel()
	select {
	case <-sub.Done():
	default:
		t.Fatal("done should be closed after cancel")
	}

	e.Publish(&Event{ID: "c1", Kind: KindAdded, Entity: EntityConversation})
	expectNothing(t, sub)
}

func TestSubscribeValidation(t *testing.T) {
	e := NewEngine(newFakeSnapshotter(), Options{})
	defer e.Close()

	if _, err := e.Subscribe(context.Background(), Filter{Entity: EntityMessage, UserID: "u"}); err == nil {
		t.Fatal("message filter without conversation id should fail")
	}
	if _, err := e.Subscribe(context.Background(), Filter{Entity: Entity("bogus"), UserID: "u"}); err == nil {
		t.Fatal("unknown entity should fail")
	}
}

// waitLive 等订阅切到直播态（空快照的订阅没有可读事件可等）。
func waitLive(t *testing.T, sub *Subscription) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sub.mu.Lock()
		live := sub.state == stateLive
		sub.mu.Unlock()
		if live {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("subscription never went live")
}
