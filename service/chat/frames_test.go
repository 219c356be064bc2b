package chat

import (
	"encoding/json"
	"testing"

	syncsrv "ChatX/service/sync"
	"ChatX/tools/errs"
)

func TestParseClientFrame(t *testing.T) {
	f, err := ParseClientFrame([]byte(`{"op":"subscribe","sub_id":"s1","entity":"message","conversation_id":"p2p:a:b"}`))
	if err != nil {
		t.Fatal(err)
	}
	if f.Op != OpSubscribe || f.SubID != "s1" || f.ConversationID != "p2p:a:b" {
		t.Fatalf("bad frame: %+v", f)
	}

	if _, err := ParseClientFrame([]byte(`{"sub_id":"s1"}`)); err == nil {
		t.Fatal("frame without op should fail")
	}
	if _, err := ParseClientFrame([]byte(`not json`)); err == nil {
		t.Fatal("bad json should fail")
	}
}

func TestErrorFrameCarriesCode(t *testing.T) {
	data := errorFrame("s1", errs.ErrPermissionDenied.WrapMsg("not a participant"))
	var f ServerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatal(err)
	}
	if f.Op != OpError || f.Code != errs.CodePermissionDenied || f.SubID != "s1" {
		t.Fatalf("bad error frame: %+v", f)
	}
}

func TestEventFrameRoundTrip(t *testing.T) {
	ev := &syncsrv.Event{ID: "m1", Kind: syncsrv.KindAdded, Entity: syncsrv.EntityMessage, ConversationID: "grp:1", Seq: 7}
	var f ServerFrame
	if err := json.Unmarshal(eventFrame("s2", ev), &f); err != nil {
		t.Fatal(err)
	}
	if f.Event == nil || f.Event.Seq != 7 || f.Event.ConversationID != "grp:1" {
		t.Fatalf("bad event frame: %+v", f)
	}
}
