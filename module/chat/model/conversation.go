package model

import (
	"sort"
	"strings"
	"time"

	mgo "ChatX/service/mgo"
	"ChatX/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
)

// 会话类型（带标签的变体：每个消费点都必须穷举处理）
const (
	ConversationDirect    int32 = 1 // 单聊：恰好2个参与者，无群元数据
	ConversationGroup     int32 = 2 // 群聊：带群元数据与管理员集合
	ConversationBroadcast int32 = 3 // 全站广播房间：开放成员资格
)

// BroadcastConversationID 全站广播房间的固定会话ID。
const BroadcastConversationID = "global"

// GroupInfo 群聊元数据；仅 ConversationGroup 持有。
type GroupInfo struct {
	Name        string   `bson:"name" json:"name"`
	Description string   `bson:"description" json:"description"`
	FaceURL     string   `bson:"face_url" json:"face_url"`
	AdminIDs    []string `bson:"admin_ids" json:"admin_ids"` // 始终 ≥1
	OwnerID     string   `bson:"owner_id" json:"owner_id"`   // 必须 ∈ AdminIDs
}

// LastMessage 会话最近一条消息的摘要（与消息写入同事务更新）。
type LastMessage struct {
	Text     string `bson:"text" json:"text"`
	SendID   string `bson:"send_id" json:"send_id"`
	Seq      int64  `bson:"seq" json:"seq"`
	SendTime int64  `bson:"send_time" json:"send_time"` // Unix ms
}

// Conversation 会话主档。
// ConversationID 规则：单聊=p2p:<min>:<max>，群聊=grp:<snowflake>，广播=global。
// 单聊的会话ID本身就是规范配对键：唯一索引保证 {a,b} 至多一条单聊。
type Conversation struct {
	ConversationID string       `bson:"conversation_id" json:"conversation_id"`
	Type           int32        `bson:"type" json:"type"`
	Participants   []string     `bson:"participants" json:"participants"` // 广播会话不维护此集合
	Group          *GroupInfo   `bson:"group,omitempty" json:"group,omitempty"`
	LastMessage    *LastMessage `bson:"last_message,omitempty" json:"last_message,omitempty"`

	MaxSeq int64 `bson:"max_seq" json:"max_seq"` // 影子水位 = SeqConversation.MaxSeq

	CreateTime time.Time `bson:"create_time" json:"create_time"`
	UpdateTime time.Time `bson:"update_time" json:"update_time"`
}

func (c *Conversation) GetTableName() string {
	return "conversation"
}

func (c *Conversation) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(c.GetTableName())
}

// DirectConversationID 规范配对键："p2p:<min>:<max>"（无序对 → 唯一键）。
func DirectConversationID(a, b string) string {
	p := []string{a, b}
	sort.Strings(p)
	return "p2p:" + p[0] + ":" + p[1]
}

// IsDirectConversationID 判断是否为单聊会话ID。
func IsDirectConversationID(id string) bool {
	return strings.HasPrefix(id, "p2p:")
}

func (c *Conversation) IsDirect() bool    { return c.Type == ConversationDirect }
func (c *Conversation) IsGroup() bool     { return c.Type == ConversationGroup }
func (c *Conversation) IsBroadcast() bool { return c.Type == ConversationBroadcast }

// HasParticipant 广播会话对所有人开放。
func (c *Conversation) HasParticipant(userID string) bool {
	if c.IsBroadcast() {
		return userID != ""
	}
	for _, p := range c.Participants {
		if p == userID {
			return true
		}
	}
	return false
}

// IsAdmin 仅群聊有管理员语义。
func (c *Conversation) IsAdmin(userID string) bool {
	if !c.IsGroup() || c.Group == nil {
		return false
	}
	for _, a := range c.Group.AdminIDs {
		if a == userID {
			return true
		}
	}
	return false
}

// Validate 按变体穷举校验不变量。
func (c *Conversation) Validate() error {
	switch c.Type {
	case ConversationDirect:
		if len(c.Participants) != 2 {
			return errs.ErrInvalidArgument.WrapMsg("direct conversation needs exactly 2 participants", "got", len(c.Participants))
		}
		if c.Participants[0] == c.Participants[1] {
			return errs.ErrInvalidArgument.WrapMsg("direct conversation with self")
		}
		if c.Group != nil {
			return errs.ErrInvalidArgument.WrapMsg("direct conversation must not carry group info")
		}
		if c.ConversationID != DirectConversationID(c.Participants[0], c.Participants[1]) {
			return errs.ErrInvalidArgument.WrapMsg("conversation id does not match pair key", "id", c.ConversationID)
		}
		return nil
	case ConversationGroup:
		if c.Group == nil {
			return errs.ErrInvalidArgument.WrapMsg("group conversation missing group info")
		}
		if strings.TrimSpace(c.Group.Name) == "" {
			return errs.ErrInvalidArgument.WrapMsg("group name empty")
		}
		if len(c.Participants) < 2 {
			return errs.ErrInvalidArgument.WrapMsg("group needs at least 2 participants", "got", len(c.Participants))
		}
		if len(c.Group.AdminIDs) == 0 {
			return errs.ErrInvalidArgument.WrapMsg("group needs at least one admin")
		}
		ownerIsAdmin := false
		for _, a := range c.Group.AdminIDs {
			if a == c.Group.OwnerID {
				ownerIsAdmin = true
				break
			}
		}
		if !ownerIsAdmin {
			return errs.ErrInvalidArgument.WrapMsg("owner must be admin", "owner", c.Group.OwnerID)
		}
		return nil
	case ConversationBroadcast:
		if c.ConversationID != BroadcastConversationID {
			return errs.ErrInvalidArgument.WrapMsg("broadcast id must be fixed", "id", c.ConversationID)
		}
		return nil
	default:
		return errs.ErrInvalidArgument.WrapMsg("unknown conversation type", "type", c.Type)
	}
}
