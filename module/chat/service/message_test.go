package service

import (
	"context"
	"testing"

	"ChatX/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
)

// 空白内容在任何 I/O 之前拒绝，日志不变。
func TestAppendRejectsBlankText(t *testing.T) {
	s := &MessageStore{}
	for _, text := range []string{"", "  ", "\n\t", " \r\n "} {
		if _, err := s.Append(context.Background(), "conv-a", "u1", text); !errs.IsCode(err, errs.CodeInvalidArgument) {
			t.Fatalf("text %q: want InvalidArgument, got %v", text, err)
		}
	}
}

// 摘要更新带 Seq 守卫：低 Seq 的事务晚提交不能覆盖新摘要。
func TestSummaryFilterOnlyNewer(t *testing.T) {
	f := summaryFilter("conv-a", 7)
	if f["conversation_id"] != "conv-a" {
		t.Fatalf("wrong conversation filter: %#v", f)
	}
	or, ok := f["$or"].([]bson.M)
	if !ok || len(or) != 2 {
		t.Fatalf("want empty-summary and lower-seq branches, got %#v", f["$or"])
	}
	if _, ok := or[0]["last_message"]; !ok {
		t.Fatalf("missing empty-summary branch: %#v", or[0])
	}
	lt, ok := or[1]["last_message.seq"].(bson.M)
	if !ok || lt["$lt"] != int64(7) {
		t.Fatalf("missing $lt seq guard: %#v", or[1])
	}
}
