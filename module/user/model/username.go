package model

import (
	"time"

	mgo "ChatX/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// UsernameReservation 用户名预留记录：username 全局唯一，回指 user_id。
// 不变量：User.Username = u ⟺ usernames 表存在 {username:u, user_id:User.UserID}。
// 改名必须在同一事务里：删旧预留 + 插新预留 + 更新用户主档。
type UsernameReservation struct {
	Username   string    `bson:"_id" json:"username"` // 主键即用户名，天然唯一
	UserID     string    `bson:"user_id" json:"user_id"`
	CreateTime time.Time `bson:"create_time" json:"create_time"`
}

func (r *UsernameReservation) GetTableName() string {
	return "usernames"
}

func (r *UsernameReservation) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(r.GetTableName())
}
