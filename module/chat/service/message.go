package service

import (
	"context"
	"strings"
	"time"

	"ChatX/logger"
	chatmodel "ChatX/module/chat/model"
	syncsrv "ChatX/service/sync"
	"ChatX/tools/errs"
	ids "ChatX/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Sequencer 会话内发号器（Seq 严格单调，mill 为服务端时间戳）。
// Commit 推进已提交水位，Correct 在发号源落后于已提交消息时纠偏。
type Sequencer interface {
	Malloc(ctx context.Context, conversationID string, need int64) (start int64, mill int64, err error)
	Commit(ctx context.Context, conversationID string, seq int64) error
	Correct(ctx context.Context, conversationID string, floor int64) error
}

// MessageStore 追加写消息日志。写路径：内容校验 -> 成员校验 ->
// 发号 -> 事务落库（消息 + 会话摘要一笔写）-> 发布事件。
type MessageStore struct {
	client   *mongo.Client
	msgColl  *mongo.Collection
	convColl *mongo.Collection
	conv     *ConversationStore
	seq      Sequencer
	pub      syncsrv.Publisher
}

func NewMessageStore(client *mongo.Client, db *mongo.Database, conv *ConversationStore, seq Sequencer, pub syncsrv.Publisher) *MessageStore {
	if pub == nil {
		pub = syncsrv.NopPublisher{}
	}
	var m chatmodel.MessageModel
	var c chatmodel.Conversation
	return &MessageStore{
		client:   client,
		msgColl:  db.Collection(m.GetTableName()),
		convColl: db.Collection(c.GetTableName()),
		conv:     conv,
		seq:      seq,
		pub:      pub,
	}
}

// EnsureIndexes (conversation_id, seq) 唯一：同会话不可能有两条同序号消息。
func (s *MessageStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.msgColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "server_msg_id", Value: 1}},
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure message indexes")
	}
	return nil
}

// Append 追加一条消息。消息与会话摘要在同一事务内落库，
// 读者不会看到"有新消息但摘要还是旧的"。
func (s *MessageStore) Append(ctx context.Context, conversationID, sendID, content string) (*chatmodel.MessageModel, error) {
	text := strings.TrimSpace(content)
	if text == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("message text is blank")
	}

	conv, err := s.conv.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(sendID) {
		return nil, errs.ErrPermissionDenied.WrapMsg("sender not in conversation", "sender", sendID, "conversation", conversationID)
	}

	seqNo, mill, err := s.seq.Malloc(ctx, conversationID, 1)
	if err != nil {
		return nil, errs.WrapMsg(err, "malloc seq", "conversation", conversationID)
	}
	if seqNo <= conv.MaxSeq {
		// 发号源落后于已提交消息（段文档被还原等），抬升下限后重发
		if cerr := s.seq.Correct(ctx, conversationID, conv.MaxSeq); cerr != nil {
			return nil, errs.WrapMsg(cerr, "correct seq source", "conversation", conversationID)
		}
		if seqNo, mill, err = s.seq.Malloc(ctx, conversationID, 1); err != nil {
			return nil, errs.WrapMsg(err, "malloc seq", "conversation", conversationID)
		}
	}

	msg := &chatmodel.MessageModel{
		ServerMsgID:    ids.GenerateString(),
		ConversationID: conversationID,
		SendID:         sendID,
		Content:        text,
		Seq:            seqNo,
		SendTime:       mill,
		ReadBy:         []string{sendID},
	}

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, errs.WrapMsg(err, "start mongo session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if _, e := s.msgColl.InsertOne(sc, msg); e != nil {
			return nil, e
		}
		summary := bson.M{
			"last_message": bson.M{
				"text":      msg.Content,
				"send_id":   msg.SendID,
				"seq":       msg.Seq,
				"send_time": msg.SendTime,
			},
			"update_time": time.Now(),
		}
		// 事务提交顺序和 Seq 顺序无关，低 Seq 后提交不能把摘要写回旧消息
		_, e := s.convColl.UpdateOne(sc,
			summaryFilter(conversationID, msg.Seq),
			bson.M{"$set": summary, "$max": bson.M{"max_seq": msg.Seq}})
		return nil, e
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "append message", "conversation", conversationID, "seq", seqNo)
	}

	// 已提交水位尽力推进，失败不影响本次写入
	if cerr := s.seq.Commit(ctx, conversationID, msg.Seq); cerr != nil {
		logger.Warnf("[message] advance commit watermark conv=%s seq=%d: %v", conversationID, msg.Seq, cerr)
	}

	s.publishMessage(syncsrv.KindAdded, msg)
	return msg, nil
}

// summaryFilter 只有比当前摘要更新的消息才允许覆盖摘要。
// 摘要落后时会话自身的 max_seq 已被更高 Seq 的事务推进，跳过无损。
func summaryFilter(conversationID string, seq int64) bson.M {
	return bson.M{
		"conversation_id": conversationID,
		"$or": []bson.M{
			{"last_message": nil},
			{"last_message.seq": bson.M{"$lt": seq}},
		},
	}
}

// ReadAscending 从 fromSeq（不含）起按序读一页，可从任意游标重启。
func (s *MessageStore) ReadAscending(ctx context.Context, userID, conversationID string, fromSeq int64, limit int64) ([]*chatmodel.MessageModel, error) {
	conv, err := s.conv.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.ErrPermissionDenied.WrapMsg("not a participant", "user", userID, "conversation", conversationID)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	cur, err := s.msgColl.Find(ctx,
		bson.M{"conversation_id": conversationID, "seq": bson.M{"$gt": fromSeq}},
		options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}).SetLimit(limit))
	if err != nil {
		return nil, errs.WrapMsg(err, "read messages", "conversation", conversationID)
	}
	defer cur.Close(ctx)

	var out []*chatmodel.MessageModel
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode messages")
	}
	return out, nil
}

// MarkRead 把会话内 seq<=upToSeq 的消息标记为已读，幂等。
func (s *MessageStore) MarkRead(ctx context.Context, userID, conversationID string, upToSeq int64) error {
	conv, err := s.conv.Get(ctx, conversationID)
	if err != nil {
		return err
	}
	if !conv.HasParticipant(userID) {
		return errs.ErrPermissionDenied.WrapMsg("not a participant", "user", userID, "conversation", conversationID)
	}

	res, err := s.msgColl.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"seq":             bson.M{"$lte": upToSeq},
			"read_by":         bson.M{"$ne": userID},
		},
		bson.M{"$addToSet": bson.M{"read_by": userID}})
	if err != nil {
		return errs.WrapMsg(err, "mark read", "conversation", conversationID, "user", userID)
	}
	if res.ModifiedCount > 0 {
		logger.Debugf("[message] %s read %d messages in %s", userID, res.ModifiedCount, conversationID)
	}
	return nil
}

func (s *MessageStore) publishMessage(kind syncsrv.Kind, msg *chatmodel.MessageModel) {
	ev := &syncsrv.Event{
		ID:             msg.ServerMsgID,
		Kind:           kind,
		Entity:         syncsrv.EntityMessage,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		Doc: map[string]any{
			"server_msg_id":   msg.ServerMsgID,
			"conversation_id": msg.ConversationID,
			"send_id":         msg.SendID,
			"content":         msg.Content,
			"seq":             msg.Seq,
			"send_time":       msg.SendTime,
		},
		EmitTime: time.Now(),
	}
	if err := s.pub.PublishMessage(ev); err != nil {
		logger.Errorf("[message] publish event seq=%d conv=%s: %v", msg.Seq, msg.ConversationID, err)
	}
}
