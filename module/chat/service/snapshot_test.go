package service

import (
	"context"
	"testing"

	chatmodel "ChatX/module/chat/model"
	"ChatX/tools/errs"
)

// 快照要翻页拉到日志末尾，超过一页的会话不能只给前一页。
func TestCollectMessagesPagesToEnd(t *testing.T) {
	total := int64(snapshotPage*2 + 101)
	calls := 0
	page := func(ctx context.Context, fromSeq, limit int64) ([]*chatmodel.MessageModel, error) {
		calls++
		var out []*chatmodel.MessageModel
		for s := fromSeq + 1; s <= total && int64(len(out)) < limit; s++ {
			out = append(out, &chatmodel.MessageModel{ConversationID: "conv-a", Seq: s})
		}
		return out, nil
	}

	msgs, err := collectMessages(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	if int64(len(msgs)) != total {
		t.Fatalf("want %d messages, got %d", total, len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != int64(i+1) {
			t.Fatalf("out of order at %d: seq %d", i, m.Seq)
		}
	}
	if calls != 3 {
		t.Fatalf("want 3 pages, got %d", calls)
	}
}

func TestCollectMessagesSinglePage(t *testing.T) {
	page := func(ctx context.Context, fromSeq, limit int64) ([]*chatmodel.MessageModel, error) {
		if fromSeq != 0 {
			t.Fatalf("unexpected second page from %d", fromSeq)
		}
		return []*chatmodel.MessageModel{{Seq: 1}, {Seq: 2}, {Seq: 3}}, nil
	}
	msgs, err := collectMessages(context.Background(), page)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 messages, got %d", len(msgs))
	}
}

func TestCollectMessagesPropagatesError(t *testing.T) {
	page := func(ctx context.Context, fromSeq, limit int64) ([]*chatmodel.MessageModel, error) {
		return nil, errs.ErrUnavailable.WrapMsg("read failed")
	}
	if _, err := collectMessages(context.Background(), page); !errs.IsCode(err, errs.CodeUnavailable) {
		t.Fatalf("want Unavailable, got %v", err)
	}
}
