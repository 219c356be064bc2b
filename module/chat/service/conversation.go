package service

import (
	"context"
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

// ConversationStore 会话存储。直聊会话以规范化对键做 _id，
// 唯一索引天然去重；群聊用雪花ID。
type ConversationStore struct {
	coll *mongo.Collection
	pub  syncsrv.Publisher
}

func NewConversationStore(db *mongo.Database, pub syncsrv.Publisher) *ConversationStore {
	if pub == nil {
		pub = syncsrv.NopPublisher{}
	}
	var m chatmodel.Conversation
	return &ConversationStore{coll: db.Collection(m.GetTableName()), pub: pub}
}

// EnsureIndexes 建索引：conversation_id 唯一 + participants 查询索引。
func (s *ConversationStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "participants", Value: 1}, {Key: "update_time", Value: -1}},
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "ensure conversation indexes")
	}
	return nil
}

// CreateDirect 建直聊会话。同一对用户重复创建命中唯一索引，
// 返回已有会话并以 Conflict 标识。
func (s *ConversationStore) CreateDirect(ctx context.Context, a, b string) (*chatmodel.Conversation, error) {
	now := time.Now()
	conv := &chatmodel.Conversation{
		ConversationID: chatmodel.DirectConversationID(a, b),
		Type:           chatmodel.ConversationDirect,
		Participants:   []string{a, b},
		CreateTime:     now,
		UpdateTime:     now,
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.coll.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			existing, gerr := s.Get(ctx, conv.ConversationID)
			if gerr != nil {
				return nil, gerr
			}
			return existing, errs.ErrConflict.WrapMsg("direct conversation exists", "conversation", existing.ConversationID)
		}
		return nil, errs.WrapMsg(err, "insert direct conversation")
	}

	s.publish(syncsrv.KindAdded, conv)
	return conv, nil
}

// CreateGroup 建群。创建者即群主与首个管理员。
func (s *ConversationStore) CreateGroup(ctx context.Context, owner, name, description string, members []string) (*chatmodel.Conversation, error) {
	if owner == "" {
		return nil, errs.ErrInvalidArgument.WrapMsg("owner required")
	}
	participants := dedupWith(members, owner)

	now := time.Now()
	conv := &chatmodel.Conversation{
		ConversationID: "grp:" + ids.GenerateString(),
		Type:           chatmodel.ConversationGroup,
		Participants:   participants,
		Group: &chatmodel.GroupInfo{
			Name:        name,
			Description: description,
			OwnerID:     owner,
			AdminIDs:    []string{owner},
		},
		CreateTime: now,
		UpdateTime: now,
	}
	if err := conv.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.coll.InsertOne(ctx, conv); err != nil {
		return nil, errs.WrapMsg(err, "insert group conversation")
	}
	s.publish(syncsrv.KindAdded, conv)
	return conv, nil
}

// EnsureBroadcast 保证全站广播会话存在（启动时调用，幂等）。
func (s *ConversationStore) EnsureBroadcast(ctx context.Context) error {
	now := time.Now()
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"conversation_id": chatmodel.BroadcastConversationID},
		bson.M{
			"$setOnInsert": bson.M{
				"type":        chatmodel.ConversationBroadcast,
				"create_time": now,
				"update_time": now,
			},
		},
		options.Update().SetUpsert(true))
	if err != nil {
		return errs.WrapMsg(err, "ensure broadcast conversation")
	}
	return nil
}

// GroupPatch 群资料可改字段，nil 表示不动。
type GroupPatch struct {
	Name        *string
	Description *string
	FaceURL     *string
}

// UpdateGroupInfo 改群资料，仅管理员可操作。
func (s *ConversationStore) UpdateGroupInfo(ctx context.Context, actor, conversationID string, patch GroupPatch) (*chatmodel.Conversation, error) {
	conv, err := s.requireGroupAdmin(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}

	set := bson.M{"update_time": time.Now()}
	if patch.Name != nil {
		if *patch.Name == "" {
			return nil, errs.ErrInvalidArgument.WrapMsg("group name cannot be blank")
		}
		set["group.name"] = *patch.Name
	}
	if patch.Description != nil {
		set["group.description"] = *patch.Description
	}
	if patch.FaceURL != nil {
		set["group.face_url"] = *patch.FaceURL
	}

	if err := s.findOneAndUpdate(ctx, conv.ConversationID, bson.M{"$set": set}, conv); err != nil {
		return nil, err
	}
	s.publish(syncsrv.KindModified, conv)
	return conv, nil
}

// AddMembers 拉人入群，幂等（$addToSet）。仅管理员可操作。
func (s *ConversationStore) AddMembers(ctx context.Context, actor, conversationID string, userIDs []string) (*chatmodel.Conversation, error) {
	if len(userIDs) == 0 {
		return nil, errs.ErrInvalidArgument.WrapMsg("no members to add")
	}
	conv, err := s.requireGroupAdmin(ctx, actor, conversationID)
	if err != nil {
		return nil, err
	}

	update := bson.M{
		"$addToSet": bson.M{"participants": bson.M{"$each": userIDs}},
		"$set":      bson.M{"update_time": time.Now()},
	}
	if err := s.findOneAndUpdate(ctx, conv.ConversationID, update, conv); err != nil {
		return nil, err
	}
	s.publish(syncsrv.KindModified, conv)
	return conv, nil
}

// PromoteAdmin 提升管理员，仅群主可操作，目标必须已在群内。
func (s *ConversationStore) PromoteAdmin(ctx context.Context, actor, conversationID, userID string) (*chatmodel.Conversation, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup() {
		return nil, errs.ErrInvalidArgument.WrapMsg("not a group conversation", "conversation", conversationID)
	}
	if conv.Group.OwnerID != actor {
		return nil, errs.ErrPermissionDenied.WrapMsg("only owner promotes admins", "actor", actor)
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.ErrInvalidArgument.WrapMsg("user not in group", "user", userID)
	}

	update := bson.M{
		"$addToSet": bson.M{"group.admin_ids": userID},
		"$set":      bson.M{"update_time": time.Now()},
	}
	if err := s.findOneAndUpdate(ctx, conversationID, update, conv); err != nil {
		return nil, err
	}
	s.publish(syncsrv.KindModified, conv)
	return conv, nil
}

// Get 按ID取会话。
func (s *ConversationStore) Get(ctx context.Context, conversationID string) (*chatmodel.Conversation, error) {
	var conv chatmodel.Conversation
	err := s.coll.FindOne(ctx, bson.M{"conversation_id": conversationID}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, errs.ErrNotFound.WrapMsg("conversation not found", "conversation", conversationID)
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "find conversation", "conversation", conversationID)
	}
	return &conv, nil
}

// ListByParticipant 列出用户所在的全部会话（含广播），按活跃时间倒序。
func (s *ConversationStore) ListByParticipant(ctx context.Context, userID string) ([]*chatmodel.Conversation, error) {
	filter := bson.M{"$or": []bson.M{
		{"participants": userID},
		{"type": chatmodel.ConversationBroadcast},
	}}
	cur, err := s.coll.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "update_time", Value: -1}}))
	if err != nil {
		return nil, errs.WrapMsg(err, "list conversations", "user", userID)
	}
	defer cur.Close(ctx)

	var out []*chatmodel.Conversation
	if err := cur.All(ctx, &out); err != nil {
		return nil, errs.WrapMsg(err, "decode conversations")
	}
	return out, nil
}

func (s *ConversationStore) requireGroupAdmin(ctx context.Context, actor, conversationID string) (*chatmodel.Conversation, error) {
	conv, err := s.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conv.IsGroup() {
		return nil, errs.ErrInvalidArgument.WrapMsg("not a group conversation", "conversation", conversationID)
	}
	if !conv.IsAdmin(actor) {
		return nil, errs.ErrPermissionDenied.WrapMsg("admin only", "actor", actor)
	}
	return conv, nil
}

func (s *ConversationStore) findOneAndUpdate(ctx context.Context, conversationID string, update bson.M, out *chatmodel.Conversation) error {
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"conversation_id": conversationID},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(out)
	if err == mongo.ErrNoDocuments {
		return errs.ErrNotFound.WrapMsg("conversation not found", "conversation", conversationID)
	}
	if err != nil {
		return errs.WrapMsg(err, "update conversation", "conversation", conversationID)
	}
	return nil
}

func (s *ConversationStore) publish(kind syncsrv.Kind, conv *chatmodel.Conversation) {
	ev := &syncsrv.Event{
		ID:             ids.GenerateString(),
		Kind:           kind,
		Entity:         syncsrv.EntityConversation,
		ConversationID: conv.ConversationID,
		Targets:        conv.Participants,
		Doc:            conversationDoc(conv),
		EmitTime:       time.Now(),
	}
	if conv.IsBroadcast() {
		ev.Targets = nil // 广播会话全员可见
	}
	if err := s.pub.PublishControl(ev); err != nil {
		logger.Errorf("[conversation] publish %s event: %v", kind, err)
	}
}

func conversationDoc(c *chatmodel.Conversation) map[string]any {
	doc := map[string]any{
		"conversation_id": c.ConversationID,
		"type":            c.Type,
		"participants":    c.Participants,
		"max_seq":         c.MaxSeq,
		"create_time":     c.CreateTime,
		"update_time":     c.UpdateTime,
	}
	if c.Group != nil {
		doc["group"] = map[string]any{
			"name":        c.Group.Name,
			"description": c.Group.Description,
			"face_url":    c.Group.FaceURL,
			"owner_id":    c.Group.OwnerID,
			"admin_ids":   c.Group.AdminIDs,
		}
	}
	if c.LastMessage != nil {
		doc["last_message"] = map[string]any{
			"text":      c.LastMessage.Text,
			"send_id":   c.LastMessage.SendID,
			"seq":       c.LastMessage.Seq,
			"send_time": c.LastMessage.SendTime,
		}
	}
	return doc
}

// dedupWith 去重并保证 extra 在集合内。
func dedupWith(list []string, extra string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(list)+1)
	for _, v := range append([]string{extra}, list...) {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
