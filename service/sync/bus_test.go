package sync

import (
	"encoding/json"
	"testing"
)

func TestCheckMessageDoc(t *testing.T) {
	ev := &Event{
		ID:             "evt-1",
		Kind:           KindAdded,
		Entity:         EntityMessage,
		ConversationID: "conv-a",
		Seq:            7,
		Doc:            map[string]any{"conversation_id": "conv-a", "seq": int64(7)},
	}
	if err := checkMessageDoc(ev); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	// JSON 往返后 seq 变 float64，弱类型解码要能吃下
	data, err := ev.Encode()
	if err != nil {
		t.Fatal(err)
	}
	var round Event
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatal(err)
	}
	if err := checkMessageDoc(&round); err != nil {
		t.Fatalf("round-tripped event rejected: %v", err)
	}
}

func TestCheckMessageDocMismatch(t *testing.T) {
	ev := &Event{
		ID:             "evt-2",
		Kind:           KindAdded,
		Entity:         EntityMessage,
		ConversationID: "conv-a",
		Seq:            7,
		Doc:            map[string]any{"conversation_id": "conv-a", "seq": int64(8)},
	}
	if err := checkMessageDoc(ev); err == nil {
		t.Fatal("seq mismatch not detected")
	}

	ev.Doc = map[string]any{"conversation_id": "conv-b", "seq": int64(7)}
	if err := checkMessageDoc(ev); err == nil {
		t.Fatal("conversation mismatch not detected")
	}

	ev.Doc = nil
	if err := checkMessageDoc(ev); err == nil {
		t.Fatal("missing doc not detected")
	}
}

func TestCheckMessageDocSkipsControl(t *testing.T) {
	ev := &Event{ID: "evt-3", Kind: KindModified, Entity: EntityConversation}
	if err := checkMessageDoc(ev); err != nil {
		t.Fatalf("control event should pass: %v", err)
	}
	ev = &Event{ID: "evt-4", Kind: KindResync, Entity: EntityMessage, ConversationID: "conv-a"}
	if err := checkMessageDoc(ev); err != nil {
		t.Fatalf("resync marker should pass: %v", err)
	}
}
