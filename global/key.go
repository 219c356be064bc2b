package global

import "hash/crc32"

// 平台事件主题/路由名。Kafka 承载消息流水（按会话key分区保序），
// NATS 承载控制面变更（会话/请求/用户资料）。
const (
	TopicMessageEvents = "chatx_message_events"

	BizConversationEvents = "conversation.events"
	BizRequestEvents      = "request.events"
	BizUserEvents         = "user.events"

	SubjectConversationEvents = "chatx.sync.conversation"
	SubjectRequestEvents      = "chatx.sync.request"
	SubjectUserEvents         = "chatx.sync.user"
)

// TopicKeyConversation 消息事件的 Kafka key：同会话恒同 key，
// 落同分区，消费端按序。
func TopicKeyConversation(conversationID string) string {
	return "conv:" + conversationID
}

// HashPartition 数值型分区计算（监控/排障用）
func HashPartition(key string, numPartitions int) int32 {
	checksum := crc32.ChecksumIEEE([]byte(key))
	return int32(checksum % uint32(numPartitions))
}
