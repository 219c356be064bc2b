package service

import (
	"context"
	"time"

	"ChatX/logger"
	chatmodel "ChatX/module/chat/model"
	usermodel "ChatX/module/user/model"
	syncsrv "ChatX/service/sync"
	"ChatX/tools/errs"
	ids "ChatX/tools/ids"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RequestStore 会话申请工作流。pending -> accepted/rejected，
// 终态不可再迁移；accept 与建会话同事务。
type RequestStore struct {
	client   *mongo.Client
	reqColl  *mongo.Collection
	userColl *mongo.Collection
	convColl *mongo.Collection
	conv     *ConversationStore
	pub      syncsrv.Publisher
}

func NewRequestStore(client *mongo.Client, db *mongo.Database, conv *ConversationStore, pub syncsrv.Publisher) *RequestStore {
	if pub == nil {
		pub = syncsrv.NopPublisher{}
	}
	var r chatmodel.ChatRequest
	var u usermodel.User
	var c chatmodel.Conversation
	return &RequestStore{
		client:   client,
		reqColl:  db.Collection(r.GetTableName()),
		userColl: db.Collection(u.GetTableName()),
		convColl: db.Collection(c.GetTableName()),
		conv:     conv,
		pub:      pub,
	}
}

// EnsureIndexes request_id 唯一；(from,to) 上的部分唯一索引只覆盖
// pending 态，同一有序对最多一条待处理申请，终态记录不占坑。
func (s *RequestStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.reqColl.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "request_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "from_user_id", Value: 1}, {Key: "to_user_id", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"status": chatmodel.RequestPending}),
		},
		{
			Keys: bson.D{{Key: "to_user_id", Value: 1}, {Key: "update_time", Value: -1}},
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure chat_request indexes")
	}
	return nil
}

// Send 发起会话申请。对方关闭申请开关给 PermissionDenied；
// 已有直聊会话或已有 pending 申请都给 Conflict（可区分）。
func (s *RequestStore) Send(ctx context.Context, fromUserID, toUserID string) (*chatmodel.ChatRequest, error) {
	if fromUserID == "" || toUserID == "" || fromUserID == toUserID {
		return nil, errs.ErrInvalidArgument.WrapMsg("bad request pair", "from", fromUserID, "to", toUserID)
	}

	receiver, err := s.findUser(ctx, toUserID)
	if err != nil {
		return nil, err
	}
	if !receiver.Privacy.AllowChatRequests {
		return nil, errs.ErrPermissionDenied.WrapMsg("receiver disabled chat requests", "to", toUserID)
	}

	pairID := chatmodel.DirectConversationID(fromUserID, toUserID)
	if _, err := s.conv.Get(ctx, pairID); err == nil {
		return nil, errs.ErrConflict.WrapMsg("direct conversation already exists", "conversation", pairID)
	} else if !errs.IsCode(err, errs.CodeNotFound) {
		return nil, err
	}

	sender, err := s.findUser(ctx, fromUserID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	req := &chatmodel.ChatRequest{
		RequestID:  ids.GenerateString(),
		FromUserID: fromUserID,
		ToUserID:   toUserID,
		Status:     chatmodel.RequestPending,
		SenderSnapshot: chatmodel.SenderSnapshot{
			Username: sender.Username,
			FullName: sender.FullName,
			FaceURL:  sender.FaceURL,
			Verified: sender.Verified,
		},
		CreateTime: now,
		UpdateTime: now,
	}

	if _, err := s.reqColl.InsertOne(ctx, req); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, errs.ErrConflict.WrapMsg("pending request already exists", "from", fromUserID, "to", toUserID)
		}
		return nil, errs.WrapMsg(err, "insert chat request")
	}

	s.publish(syncsrv.KindAdded, req)
	return req, nil
}

// Accept 受理申请。置 accepted 与建直聊会话在同一事务里，
// 不存在"已同意却没有会话"的中间态。仅接收方可操作。
func (s *RequestStore) Accept(ctx context.Context, requestID, actor string) (*chatmodel.ChatRequest, *chatmodel.Conversation, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.ToUserID != actor {
		return nil, nil, errs.ErrPermissionDenied.WrapMsg("only receiver accepts", "actor", actor)
	}
	if req.IsTerminal() {
		return nil, nil, errs.ErrInvalidState.WrapMsg("request already handled", "status", chatmodel.StatusText(req.Status))
	}

	pairID := chatmodel.DirectConversationID(req.FromUserID, req.ToUserID)
	now := time.Now()

	sess, err := s.client.StartSession()
	if err != nil {
		return nil, nil, errs.WrapMsg(err, "start mongo session")
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		res, e := s.reqColl.UpdateOne(sc,
			bson.M{"request_id": requestID, "status": chatmodel.RequestPending},
			bson.M{"$set": bson.M{
				"status":      chatmodel.RequestAccepted,
				"handle_time": now,
				"update_time": now,
			}})
		if e != nil {
			return nil, e
		}
		if res.ModifiedCount == 0 {
			return nil, errs.ErrInvalidState.WrapMsg("request no longer pending", "request", requestID)
		}
		// 幂等建会话：并发双方同时 createDirect 也收敛到同一条
		_, e = s.convColl.UpdateOne(sc,
			bson.M{"conversation_id": pairID},
			bson.M{"$setOnInsert": bson.M{
				"type":         chatmodel.ConversationDirect,
				"participants": []string{req.FromUserID, req.ToUserID},
				"create_time":  now,
				"update_time":  now,
			}},
			options.Update().SetUpsert(true))
		return nil, e
	})
	if err != nil {
		if errs.IsCode(err, errs.CodeInvalidState) {
			return nil, nil, err
		}
		return nil, nil, errs.WrapMsg(err, "accept chat request", "request", requestID)
	}

	req.Status = chatmodel.RequestAccepted
	req.HandleTime = now
	req.UpdateTime = now

	conv, err := s.conv.Get(ctx, pairID)
	if err != nil {
		return nil, nil, err
	}

	s.publish(syncsrv.KindModified, req)
	s.publishConversation(conv)
	return req, conv, nil
}

// Reject 拒绝申请，仅接收方可操作，非 pending 给 InvalidState。
func (s *RequestStore) Reject(ctx context.Context, requestID, actor string) (*chatmodel.ChatRequest, error) {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.ToUserID != actor {
		return nil, errs.ErrPermissionDenied.WrapMsg("only receiver rejects", "actor", actor)
	}

	now := time.Now()
	res, err := s.reqColl.UpdateOne(ctx,
		bson.M{"request_id": requestID, "status": chatmodel.RequestPending},
		bson.M{"$set": bson.M{
			"status":      chatmodel.RequestRejected,
			"handle_time": now,
			"update_time": now,
		}})
	if err != nil {
		return nil, errs.WrapMsg(err, "reject chat request", "request", requestID)
	}
	if res.ModifiedCount == 0 {
		return nil, errs.ErrInvalidState.WrapMsg("request no longer pending", "request", requestID, "status", chatmodel.StatusText(req.Status))
	}

	req.Status = chatmodel.RequestRejected
	req.HandleTime = now
	req.UpdateTime = now
	s.publish(syncsrv.KindModified, req)
	return req, nil
}

// Delete 清理已处理完的申请记录。pending 不可删（先处理再删）。
func (s *RequestStore) Delete(ctx context.Context, requestID, actor string) error {
	req, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}
	if req.FromUserID != actor && req.ToUserID != actor {
		return errs.ErrPermissionDenied.WrapMsg("not a party of the request", "actor", actor)
	}
	if !req.IsTerminal() {
		return errs.ErrInvalidState.WrapMsg("pending request cannot be deleted", "request", requestID)
	}

	if _, err := s.reqColl.DeleteOne(ctx, bson.M{"request_id": requestID}); err != nil {
		return errs.WrapMsg(err, "delete chat request", "request", requestID)
	}
	s.publishRemoved(req)
	return nil
}

// Get 按ID取申请。
func (s *RequestStore) Get(ctx context.Context, requestID string) (*chatmodel.ChatRequest, error) {
	var req chatmodel.ChatRequest
	err := s.reqColl.FindOne(ctx, bson.M{"request_id": requestID}).Decode(&req)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("request not found", "request", requestID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find chat request", "request", requestID)
	}
	return &req, nil
}

// ListForUser 与我相关的申请（双向），按更新时间倒序。
func (s *RequestStore) ListForUser(ctx context.Context, userID string) ([]*chatmodel.ChatRequest, error) {
	cur, err := s.reqColl.Find(ctx,
		bson.M{"$or": []bson.M{{"to_user_id": userID}, {"from_user_id": userID}}},
		options.Find().SetSort(bson.D{{Key: "update_time", Value: -1}}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list chat requests", "user", userID)
	}
	defer cur.Close(ctx)

	var out []*chatmodel.ChatRequest
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode chat requests")
	}
	return out, nil
}

func (s *RequestStore) findUser(ctx context.Context, userID string) (*usermodel.User, error) {
	var u usermodel.User
	err := s.userColl.FindOne(ctx, bson.M{"user_id": userID}).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("user not found", "user", userID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find user", "user", userID)
	}
	return &u, nil
}

func (s *RequestStore) publish(kind syncsrv.Kind, req *chatmodel.ChatRequest) {
	ev := &syncsrv.Event{
		ID:       ids.GenerateString(),
		Kind:     kind,
		Entity:   syncsrv.EntityRequest,
		Targets:  []string{req.FromUserID, req.ToUserID},
		Doc:      requestDoc(req),
		EmitTime: time.Now(),
	}
	if err := s.pub.PublishControl(ev); err != nil {
		logger.Errorf("[request] publish %s event: %v", kind, err)
	}
}

func (s *RequestStore) publishRemoved(req *chatmodel.ChatRequest) {
	ev := &syncsrv.Event{
		ID:       ids.GenerateString(),
		Kind:     syncsrv.KindRemoved,
		Entity:   syncsrv.EntityRequest,
		Targets:  []string{req.FromUserID, req.ToUserID},
		Doc:      map[string]any{"request_id": req.RequestID},
		EmitTime: time.Now(),
	}
	if err := s.pub.PublishControl(ev); err != nil {
		logger.Errorf("[request] publish removed event: %v", err)
	}
}

func (s *RequestStore) publishConversation(conv *chatmodel.Conversation) {
	ev := &syncsrv.Event{
		ID:             ids.GenerateString(),
		Kind:           syncsrv.KindAdded,
		Entity:         syncsrv.EntityConversation,
		ConversationID: conv.ConversationID,
		Targets:        conv.Participants,
		Doc:            conversationDoc(conv),
		EmitTime:       time.Now(),
	}
	if err := s.pub.PublishControl(ev); err != nil {
		logger.Errorf("[request] publish conversation event: %v", err)
	}
}

func requestDoc(r *chatmodel.ChatRequest) map[string]any {
	return map[string]any{
		"request_id":   r.RequestID,
		"from_user_id": r.FromUserID,
		"to_user_id":   r.ToUserID,
		"status":       r.Status,
		"sender_snapshot": map[string]any{
			"username":  r.SenderSnapshot.Username,
			"full_name": r.SenderSnapshot.FullName,
			"face_url":  r.SenderSnapshot.FaceURL,
			"verified":  r.SenderSnapshot.Verified,
		},
		"create_time": r.CreateTime,
		"handle_time": r.HandleTime,
		"update_time": r.UpdateTime,
	}
}
