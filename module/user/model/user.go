package model

import (
	"time"

	mgo "ChatX/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// Presence 展示值（允许轻微不一致，真实来源是 Redis TTL key）
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
	PresenceHidden  = "hidden" // 用户关闭了在线状态展示
)

// PrivacySettings 用户隐私开关。
type PrivacySettings struct {
	AllowChatRequests bool `bson:"allow_chat_requests" json:"allow_chat_requests"` // 是否允许陌生人发会话申请
	ShowOnlineStatus  bool `bson:"show_online_status" json:"show_online_status"`   // 是否展示在线状态
}

// User 表示系统中的用户主档。
// 仅放关键信息；会话/设备/日志等拆表。
type User struct {
	// —— 基础标识 ——
	UserID   string `bson:"user_id" json:"user_id"`   // 全局唯一、不可变的用户ID（主键）
	Email    string `bson:"email" json:"email"`       // 登录邮箱（唯一）
	Username string `bson:"username" json:"username"` // 全局唯一用户名；与 usernames 预留表强一致
	FullName string `bson:"full_name" json:"full_name"`
	FaceURL  string `bson:"face_url" json:"face_url"`     // 头像URL
	Bio      string `bson:"bio,omitempty" json:"bio"`     // 个性签名/简介（可选）
	Verified bool   `bson:"verified" json:"verified"`     // 认证标记（verification_request 通过后置位）

	// —— 凭据（仅存哈希） ——
	PasswordHash string `bson:"password_hash" json:"-"`

	// —— 隐私 ——
	Privacy PrivacySettings `bson:"privacy" json:"privacy"`

	// —— 时间 ——
	CreateTime time.Time `bson:"create_time" json:"create_time"` // 创建时间
	UpdateTime time.Time `bson:"update_time" json:"update_time"` // 最后更新时间（任何字段变化都刷新）
}

func (u *User) GetUserID() string { return u.UserID }

func (u *User) GetTableName() string {
	return "user"
}

func (u *User) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(u.GetTableName())
}
