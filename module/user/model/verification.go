package model

import (
	"time"

	mgo "ChatX/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// 认证申请处理结果
const (
	VerificationPending  int32 = 0
	VerificationApproved int32 = 1
	VerificationDenied   int32 = 2
)

// VerificationSnapshot 申请时的用户快照（审核展示用）。
type VerificationSnapshot struct {
	Username string `bson:"username" json:"username"`
	Email    string `bson:"email" json:"email"`
	FullName string `bson:"full_name" json:"full_name"`
}

// VerificationRequest 账号认证申请。
// 每个用户至多一条 pending；approved 后回写 User.Verified。
type VerificationRequest struct {
	RequestID  string               `bson:"request_id" json:"request_id"`
	UserID     string               `bson:"user_id" json:"user_id"`
	Status     int32                `bson:"status" json:"status"` // 0=待审,1=通过,2=拒绝
	Snapshot   VerificationSnapshot `bson:"snapshot" json:"snapshot"`
	CreateTime time.Time            `bson:"create_time" json:"create_time"`
	HandleTime time.Time            `bson:"handle_time,omitempty" json:"handle_time"`
}

func (v *VerificationRequest) GetTableName() string {
	return "verification_request"
}

func (v *VerificationRequest) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(v.GetTableName())
}
