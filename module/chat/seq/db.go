package seq

import (
	"context"
	"time"

	"ChatX/module/chat/model"
	"ChatX/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DAO seq_conversation 的段源。单文档 FindOneAndUpdate $inc 保证
// 多实例并发领段不重叠。
type DAO struct {
	Coll *mongo.Collection
}

func NewDAO() *DAO {
	var m model.SeqConversation
	return &DAO{Coll: m.Collection()}
}

// AllocSegment 为会话原子领取一段 [start,end]，段长 block。
func (d *DAO) AllocSegment(ctx context.Context, conversationID string, block int64) (int64, int64, error) {
	if block <= 0 {
		block = 1
	}
	now := time.Now()
	filter := bson.M{model.SeqConvFieldConversationID: conversationID}
	update := bson.M{
		"$inc": bson.M{model.SeqConvFieldIssuedSeq: block},
		"$set": bson.M{model.SeqConvFieldUpdateTime: now},
		"$setOnInsert": bson.M{
			model.SeqConvFieldMaxSeq:     int64(0),
			model.SeqConvFieldMinSeq:     int64(0),
			model.SeqConvFieldCreateTime: now,
		},
	}
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc model.SeqConversation
	if err := d.Coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return 0, 0, errs.WrapMsg(err, "alloc seq segment", "conversation", conversationID)
	}
	end := doc.IssuedSeq
	start := end - block + 1
	return start, end, nil
}

// AdvanceCommit 消息落库后推进已提交水位（只增不减）。
func (d *DAO) AdvanceCommit(ctx context.Context, conversationID string, seq int64) error {
	_, err := d.Coll.UpdateOne(ctx,
		bson.M{model.SeqConvFieldConversationID: conversationID},
		bson.M{
			"$max": bson.M{model.SeqConvFieldMaxSeq: seq},
			"$set": bson.M{model.SeqConvFieldUpdateTime: time.Now()},
		})
	if err != nil {
		return errs.WrapMsg(err, "advance commit seq", "conversation", conversationID, "seq", seq)
	}
	return nil
}

// RaiseIssuedFloor 抬升预分配水位（历史导入等场景）。
func (d *DAO) RaiseIssuedFloor(ctx context.Context, conversationID string, floor int64) error {
	_, err := d.Coll.UpdateOne(ctx,
		bson.M{model.SeqConvFieldConversationID: conversationID},
		bson.M{
			"$max": bson.M{model.SeqConvFieldIssuedSeq: floor},
			"$set": bson.M{model.SeqConvFieldUpdateTime: time.Now()},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return errs.WrapMsg(err, "raise issued floor", "conversation", conversationID)
	}
	return nil
}
