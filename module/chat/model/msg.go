package model

import (
	mgo "ChatX/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

const MsgTableName = "message"

// MessageModel 一条消息的主干数据。创建后不可变（无编辑/撤回语义），
// 仅 read_by 集合允许追加。
type MessageModel struct {
	// 路由/标识
	ServerMsgID    string `bson:"server_msg_id" json:"server_msg_id"` // 服务端分配的全局消息ID（雪花）
	ConversationID string `bson:"conversation_id" json:"conversation_id"`
	SendID         string `bson:"send_id" json:"send_id"` // 发送者ID

	// 内容
	Content string `bson:"content" json:"content"` // 文本（trim 后非空）

	// 序号/时间：Seq 为会话内严格单调序列，消息全序 = Seq
	Seq      int64 `bson:"seq" json:"seq"`
	SendTime int64 `bson:"send_time" json:"send_time"` // 发号时刻(Unix ms)，服务端赋值

	// 已读集合
	ReadBy []string `bson:"read_by" json:"read_by"`
}

func (*MessageModel) GetTableName() string { return MsgTableName }

func (m *MessageModel) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(m.GetTableName())
}

// IsReadBy 是否已被某用户读过。
func (m *MessageModel) IsReadBy(userID string) bool {
	for _, u := range m.ReadBy {
		if u == userID {
			return true
		}
	}
	return false
}
