package model

import (
	"time"

	mgo "ChatX/service/mgo"

	"go.mongodb.org/mongo-driver/mongo"
)

// seq_conversation 字段名（DAO 查询/更新共用）
const (
	SeqConvFieldConversationID = "conversation_id"
	SeqConvFieldMaxSeq         = "max_seq"
	SeqConvFieldMinSeq         = "min_seq"
	SeqConvFieldIssuedSeq      = "issued_seq"
	SeqConvFieldCreateTime     = "create_time"
	SeqConvFieldUpdateTime     = "update_time"
)

// SeqConversation 维护某个会话消息流的全局水位。
// MaxSeq=已提交可读的最大序号；IssuedSeq=已预分配的最大序号（>= MaxSeq，
// 两阶段写时用于监控缺口）；MinSeq=历史清理后的读下界。
type SeqConversation struct {
	ConversationID string `bson:"conversation_id"`
	MaxSeq         int64  `bson:"max_seq"`
	MinSeq         int64  `bson:"min_seq"`
	IssuedSeq      int64  `bson:"issued_seq,omitempty"`

	CreateTime time.Time `bson:"create_time"`
	UpdateTime time.Time `bson:"update_time"`
}

func (s *SeqConversation) GetTableName() string {
	return "seq_conversation"
}

func (s *SeqConversation) Collection() *mongo.Collection {
	return mgo.GetDB().Collection(s.GetTableName())
}
