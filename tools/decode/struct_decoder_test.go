package decode

import "testing"

type msgPayload struct {
	ConversationID string   `json:"conversation_id"`
	Seq            int64    `json:"seq"`
	Text           string   `json:"text"`
	ReadBy         []string `json:"read_by"`
}

func TestDecodeMap(t *testing.T) {
	// JSON 解出的事件负载：整数全是 float64
	in := map[string]any{
		"conversation_id": "p2p:a:b",
		"seq":             float64(42),
		"text":            "hi",
		"read_by":         []any{"a", "b"},
	}
	got, err := DecodeMap[msgPayload](in)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ConversationID != "p2p:a:b" || got.Seq != 42 || got.Text != "hi" {
		t.Fatalf("unexpected decode result: %+v", got)
	}
	if len(got.ReadBy) != 2 || got.ReadBy[1] != "b" {
		t.Fatalf("read_by: %v", got.ReadBy)
	}
}

func TestDecodeMapNil(t *testing.T) {
	if _, err := DecodeMap[msgPayload](nil); err == nil {
		t.Fatal("nil map must error")
	}
}

func TestReadHelpers(t *testing.T) {
	m := map[string]any{"id": "m1", "seq": "17"}
	if s, err := ReadString(m, "id"); err != nil || s != "m1" {
		t.Fatalf("ReadString: %v %q", err, s)
	}
	if _, err := ReadString(m, "missing"); err == nil {
		t.Fatal("missing key must error")
	}
	if n, err := ReadInt64(m, "seq"); err != nil || n != 17 {
		t.Fatalf("ReadInt64: %v %d", err, n)
	}
}
