package kafka

import (
	"github.com/Shopify/sarama"
	"github.com/golang/glog"
)

var AsyncProd sarama.AsyncProducer

func InitAsyncProducerFromClient() error {
	p, err := sarama.NewAsyncProducerFromClient(KafkaClient)
	if err != nil {
		return err
	}
	AsyncProd = p

	go func() {
		for {
			select {
			case msg, ok := <-AsyncProd.Successes():
				if !ok {
					return
				}
				glog.V(2).Infof("async message sent topic=%s partition=%d offset=%d", msg.Topic, msg.Partition, msg.Offset)
			case err, ok := <-AsyncProd.Errors():
				if !ok {
					return
				}
				glog.Errorf("async message error: %v", err)
			}
		}
	}()

	return nil
}

// SendAsync 按 key 分区发送：同一 key（会话ID）永远命中同一分区，保序。
func SendAsync(topic, key string, value []byte) {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	}
	AsyncProd.Input() <- msg
}

func CloseAsyncProducer() error {
	if AsyncProd != nil {
		return AsyncProd.Close()
	}
	return nil
}
