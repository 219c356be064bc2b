package sync

import (
	"context"

	"ChatX/global"
	"ChatX/logger"
	kafka "ChatX/service/dispatcher/kafka"
	"ChatX/service/natsx"
	"ChatX/tools/decode"
	"ChatX/tools/errs"
)

// BrokerPublisher 事件出口。消息流水走 Kafka（key=会话ID，
// 同会话同分区保序）；控制面变更走 NATS。
type BrokerPublisher struct {
	Nats  *natsx.NatsManager
	Topic string
}

func NewBrokerPublisher(nats *natsx.NatsManager, topic string) *BrokerPublisher {
	if topic == "" {
		topic = global.TopicMessageEvents
	}
	return &BrokerPublisher{Nats: nats, Topic: topic}
}

func (p *BrokerPublisher) PublishMessage(e *Event) error {
	data, err := e.Encode()
	if err != nil {
		return errs.WrapMsg(err, "encode message event")
	}
	kafka.SendAsync(p.Topic, global.TopicKeyConversation(e.ConversationID), data)
	return nil
}

func (p *BrokerPublisher) PublishControl(e *Event) error {
	data, err := e.Encode()
	if err != nil {
		return errs.WrapMsg(err, "encode control event")
	}
	biz, err := controlBiz(e.Entity)
	if err != nil {
		return err
	}
	return p.Nats.PublishOnce(context.Background(), biz, data, nil, e.ID)
}

func controlBiz(entity Entity) (string, error) {
	switch entity {
	case EntityConversation:
		return global.BizConversationEvents, nil
	case EntityRequest:
		return global.BizRequestEvents, nil
	case EntityUser:
		return global.BizUserEvents, nil
	default:
		return "", errs.ErrInvalidArgument.WrapMsg("no control route for entity", "entity", string(entity))
	}
}

// ControlRoutes 控制面三条 NATS 路由。不用 queue 组：每个节点
// 都要收到全部控制事件，各自推给本地订阅。
func ControlRoutes() []natsx.NatsxRoute {
	return []natsx.NatsxRoute{
		{Biz: global.BizConversationEvents, Subject: global.SubjectConversationEvents, Mode: natsx.Core},
		{Biz: global.BizRequestEvents, Subject: global.SubjectRequestEvents, Mode: natsx.Core},
		{Biz: global.BizUserEvents, Subject: global.SubjectUserEvents, Mode: natsx.Core},
	}
}

// checkMessageDoc 校验消息事件信封和负载一致。生产端和消费端
// 各自演进，seq/会话对不上的事件宁可丢掉触发重同步，也不能
// 推给客户端造成乱序。
func checkMessageDoc(ev *Event) error {
	if ev.Entity != EntityMessage || ev.Kind == KindResync {
		return nil
	}
	if ev.Doc == nil {
		return errs.ErrInvalidArgument.WrapMsg("message event without doc", "id", ev.ID)
	}
	doc, err := decode.DecodeMap[messageEnvelope](ev.Doc)
	if err != nil {
		return errs.WrapMsg(err, "decode message doc", "id", ev.ID)
	}
	if doc.ConversationID != ev.ConversationID {
		return errs.ErrInvalidArgument.WrapMsg("doc conversation mismatch",
			"envelope", ev.ConversationID, "doc", doc.ConversationID)
	}
	if doc.Seq != ev.Seq {
		return errs.ErrInvalidArgument.WrapMsg("doc seq mismatch",
			"envelope", ev.Seq, "doc", doc.Seq)
	}
	return nil
}

type messageEnvelope struct {
	ConversationID string `json:"conversation_id"`
	Seq            int64  `json:"seq"`
}

// WireConsumers 把两条总线的入流接到引擎：Kafka 消息事件 +
// NATS 控制面事件，解码后统一从 Engine.Publish 进。
func WireConsumers(engine *Engine, nats *natsx.NatsManager, topic string) error {
	if topic == "" {
		topic = global.TopicMessageEvents
	}

	if _, dup := kafka.RegisterHandler(topic, func(t string, key, value []byte) error {
		ev, err := DecodeEvent(value)
		if err != nil {
			logger.Errorf("[sync] bad message event on %s: %v", t, err)
			return nil // 毒消息跳过，不卡分区
		}
		if err := checkMessageDoc(ev); err != nil {
			logger.Errorf("[sync] drop message event %s: %v", ev.ID, err)
			return nil
		}
		engine.Publish(ev)
		return nil
	}); dup {
		logger.Warnf("[sync] message handler already registered on %s", topic)
	}

	natsHandler := func(ctx context.Context, msg natsx.NatsxMessage) error {
		ev, err := DecodeEvent(msg.Data)
		if err != nil {
			logger.Errorf("[sync] bad control event on %s: %v", msg.Subject, err)
			return nil
		}
		engine.Publish(ev)
		return nil
	}
	for _, biz := range []string{global.BizConversationEvents, global.BizRequestEvents, global.BizUserEvents} {
		if err := nats.Subscribe(biz, natsHandler); err != nil {
			return errs.WrapMsg(err, "subscribe control events", "biz", biz)
		}
	}
	return nil
}
