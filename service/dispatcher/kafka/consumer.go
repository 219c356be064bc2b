package kafka

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

type ConsumerGroupHandler struct{}

func (h *ConsumerGroupHandler) Setup(sarama.ConsumerGroupSession) error {
	glog.Info("consumer group setup")
	return nil
}

func (h *ConsumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error {
	glog.Info("consumer group cleanup")
	return nil
}

func (h *ConsumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		handler, err := GetHandler(msg.Topic)
		if err != nil {
			glog.Warningf("no handler for topic %s: %v", msg.Topic, err)
		} else {
			if err := handler(msg.Topic, msg.Key, msg.Value); err != nil {
				glog.Errorf("handler error topic=%s partition=%d offset=%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
			}
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

// StartConsumerGroup 阻塞消费直到 ctx 取消；放入 safe.Go 运行。
func StartConsumerGroup(ctx context.Context, groupID string, topics []string) error {
	group, err := sarama.NewConsumerGroupFromClient(groupID, KafkaClient)
	if err != nil {
		return err
	}
	defer func() { _ = group.Close() }()

	go func() {
		for err := range group.Errors() {
			glog.Errorf("consumer group error: %v", err)
		}
	}()

	for {
		if err := group.Consume(ctx, topics, &ConsumerGroupHandler{}); err != nil {
			glog.Errorf("consume quit: %v", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// 组重平衡后继续消费
	}
}
