package sync

import (
	"encoding/json"
	"time"
)

// Kind 变更类别
type Kind string

const (
	KindAdded    Kind = "added"
	KindModified Kind = "modified"
	KindRemoved  Kind = "removed"
	KindResync   Kind = "resync" // 快照即将重放，客户端应清空本地状态
)

// Entity 变更实体
type Entity string

const (
	EntityMessage      Entity = "message"
	EntityConversation Entity = "conversation"
	EntityRequest      Entity = "request"
	EntityUser         Entity = "user"
)

// Event 同步流中的一条变更。消息事件带 ConversationID+Seq（会话内
// 严格递增，既是排序键也是缺口探测器）；控制面事件用 Targets 指定
// 应看到该变更的用户集合，空 Targets 表示广播。
type Event struct {
	ID             string         `json:"id"`
	Kind           Kind           `json:"kind"`
	Entity         Entity         `json:"entity"`
	ConversationID string         `json:"conversation_id,omitempty"`
	Seq            int64          `json:"seq,omitempty"`
	Targets        []string       `json:"targets,omitempty"`
	Doc            map[string]any `json:"doc,omitempty"`
	EmitTime       time.Time      `json:"emit_time"`
}

func (e *Event) Encode() ([]byte, error) { return json.Marshal(e) }

func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// VisibleTo 判断某用户是否应收到该事件。
func (e *Event) VisibleTo(userID string) bool {
	if len(e.Targets) == 0 {
		return true
	}
	for _, t := range e.Targets {
		if t == userID {
			return true
		}
	}
	return false
}

// Publisher 存储层写路径完成后发布变更的出口。消息走 Kafka
// （key=会话ID 保序），控制面走 NATS。
type Publisher interface {
	PublishMessage(e *Event) error
	PublishControl(e *Event) error
}

// NopPublisher 测试与降级时的占位实现。
type NopPublisher struct{}

func (NopPublisher) PublishMessage(*Event) error { return nil }
func (NopPublisher) PublishControl(*Event) error { return nil }
