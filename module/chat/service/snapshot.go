package service

import (
	"context"
	"time"

	chatmodel "ChatX/module/chat/model"
	usermodel "ChatX/module/user/model"
	syncsrv "ChatX/service/sync"
	"ChatX/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// SnapshotSource 给同步引擎出快照：订阅建立与重同步时，
// 把当前库内状态整体转成 KindAdded 事件序列（消息按 Seq 升序）。
type SnapshotSource struct {
	Msg      *MessageStore
	Conv     *ConversationStore
	Req      *RequestStore
	UserColl *mongo.Collection
}

func NewSnapshotSource(db *mongo.Database, msg *MessageStore, conv *ConversationStore, req *RequestStore) *SnapshotSource {
	var u usermodel.User
	return &SnapshotSource{Msg: msg, Conv: conv, Req: req, UserColl: db.Collection(u.GetTableName())}
}

func (s *SnapshotSource) Snapshot(ctx context.Context, f syncsrv.Filter) ([]*syncsrv.Event, error) {
	switch f.Entity {
	case syncsrv.EntityMessage:
		return s.snapshotMessages(ctx, f)
	case syncsrv.EntityConversation:
		return s.snapshotConversations(ctx, f)
	case syncsrv.EntityRequest:
		return s.snapshotRequests(ctx, f)
	case syncsrv.EntityUser:
		return s.snapshotSelf(ctx, f)
	default:
		return nil, errs.ErrInvalidArgument.WrapMsg("unknown snapshot entity", "entity", string(f.Entity))
	}
}

const snapshotPage = 500

// snapshotMessages 分页拉全量。快照必须覆盖到当前最大 Seq，
// 截断的快照会让引擎把之后每条新消息都判成缺口。
func (s *SnapshotSource) snapshotMessages(ctx context.Context, f syncsrv.Filter) ([]*syncsrv.Event, error) {
	// 订阅建立时网关已做过成员校验，这里直接全量拉
	msgs, err := collectMessages(ctx, func(ctx context.Context, fromSeq, limit int64) ([]*chatmodel.MessageModel, error) {
		return s.Msg.ReadAscending(ctx, f.UserID, f.ConversationID, fromSeq, limit)
	})
	if err != nil {
		return nil, err
	}
	out := make([]*syncsrv.Event, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &syncsrv.Event{
			ID:             m.ServerMsgID,
			Kind:           syncsrv.KindAdded,
			Entity:         syncsrv.EntityMessage,
			ConversationID: m.ConversationID,
			Seq:            m.Seq,
			Doc: map[string]any{
				"server_msg_id":   m.ServerMsgID,
				"conversation_id": m.ConversationID,
				"send_id":         m.SendID,
				"content":         m.Content,
				"seq":             m.Seq,
				"send_time":       m.SendTime,
				"read_by":         m.ReadBy,
			},
			EmitTime: time.Now(),
		})
	}
	return out, nil
}

type messagePager func(ctx context.Context, fromSeq, limit int64) ([]*chatmodel.MessageModel, error)

func collectMessages(ctx context.Context, page messagePager) ([]*chatmodel.MessageModel, error) {
	var out []*chatmodel.MessageModel
	from := int64(0)
	for {
		batch, err := page(ctx, from, snapshotPage)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if int64(len(batch)) < snapshotPage {
			return out, nil
		}
		from = batch[len(batch)-1].Seq
	}
}

func (s *SnapshotSource) snapshotConversations(ctx context.Context, f syncsrv.Filter) ([]*syncsrv.Event, error) {
	convs, err := s.Conv.ListByParticipant(ctx, f.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]*syncsrv.Event, 0, len(convs))
	for _, c := range convs {
		out = append(out, &syncsrv.Event{
			ID:             c.ConversationID,
			Kind:           syncsrv.KindAdded,
			Entity:         syncsrv.EntityConversation,
			ConversationID: c.ConversationID,
			Doc:            conversationDoc(c),
			EmitTime:       time.Now(),
		})
	}
	return out, nil
}

func (s *SnapshotSource) snapshotRequests(ctx context.Context, f syncsrv.Filter) ([]*syncsrv.Event, error) {
	reqs, err := s.Req.ListForUser(ctx, f.UserID)
	if err != nil {
		return nil, err
	}
	out := make([]*syncsrv.Event, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, &syncsrv.Event{
			ID:       r.RequestID,
			Kind:     syncsrv.KindAdded,
			Entity:   syncsrv.EntityRequest,
			Doc:      requestDoc(r),
			EmitTime: time.Now(),
		})
	}
	return out, nil
}

// snapshotSelf 用户流只快照订阅者本人，目录其余变化走增量。
func (s *SnapshotSource) snapshotSelf(ctx context.Context, f syncsrv.Filter) ([]*syncsrv.Event, error) {
	var u usermodel.User
	err := s.UserColl.FindOne(ctx, bson.M{"user_id": f.UserID}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "snapshot user", "user", f.UserID)
	}
	return []*syncsrv.Event{{
		ID:     u.UserID,
		Kind:   syncsrv.KindAdded,
		Entity: syncsrv.EntityUser,
		Doc: map[string]any{
			"user_id":   u.UserID,
			"username":  u.Username,
			"full_name": u.FullName,
			"face_url":  u.FaceURL,
			"bio":       u.Bio,
			"verified":  u.Verified,
		},
		EmitTime: time.Now(),
	}}, nil
}
