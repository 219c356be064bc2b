package model

import (
	"time"

	mgo "ChatX/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// 申请处理结果：pending 为唯一非终态，终态不可再变。
const (
	RequestPending  int32 = 0
	RequestAccepted int32 = 1
	RequestRejected int32 = 2
)

// SenderSnapshot 发起方资料快照（接收方列表展示用，申请创建时固化）。
type SenderSnapshot struct {
	Username string `bson:"username" json:"username"`
	FullName string `bson:"full_name" json:"full_name"`
	FaceURL  string `bson:"face_url" json:"face_url"`
	Verified bool   `bson:"verified" json:"verified"`
}

// ChatRequest 表示一次会话申请的完整生命周期（FromUserID -> ToUserID 的单次申请）。
// 不变量：同一有序对 (from,to) 至多一条 pending（部分唯一索引保证）；
// accepted 的同一事务内必须创建对应单聊会话。
type ChatRequest struct {
	RequestID  string `bson:"request_id" json:"request_id"` // 全局唯一请求ID（幂等处理用）
	FromUserID string `bson:"from_user_id" json:"from_user_id"`
	ToUserID   string `bson:"to_user_id" json:"to_user_id"`

	Status         int32          `bson:"status" json:"status"` // 0=待处理,1=同意,2=拒绝
	SenderSnapshot SenderSnapshot `bson:"sender_snapshot" json:"sender_snapshot"`

	CreateTime time.Time `bson:"create_time" json:"create_time"`
	HandleTime time.Time `bson:"handle_time,omitempty" json:"handle_time"` // 处理时间（终态时有值）
	UpdateTime time.Time `bson:"update_time" json:"update_time"`
}

func (r *ChatRequest) GetTableName() string {
	return "chat_request"
}

func (r *ChatRequest) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(r.GetTableName())
}

// IsTerminal 终态判定（终态不允许任何状态迁移）。
func (r *ChatRequest) IsTerminal() bool {
	return r.Status == RequestAccepted || r.Status == RequestRejected
}

// StatusText 对外展示值。
func StatusText(s int32) string {
	switch s {
	case RequestPending:
		return "pending"
	case RequestAccepted:
		return "accepted"
	case RequestRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
