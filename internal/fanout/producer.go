// Package fanout moves persisted messages between nodes through a Kafka
// topic keyed by room id, so each room's traffic stays ordered within one
// partition. Every node consumes the whole topic under its own group and
// delivers to the recipients it can reach.
package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/dongzzi101/chat-sevice/internal/domain"
	"github.com/dongzzi101/chat-sevice/pkg/log"
)

type Producer struct {
	producer *kafka.Producer
	topic    string
	doneCh   chan struct{}
}

func NewProducer(brokers, topic string, partitions int) (*Producer, error) {
	if err := ensureTopic(brokers, topic, partitions); err != nil {
		log.L().Warn().Str("topic", topic).Err(err).
			Msg("failed to ensure topic (may already exist)")
	}

	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	fp := &Producer{
		producer: p,
		topic:    topic,
		doneCh:   make(chan struct{}),
	}

	go fp.deliveryReportHandler()

	return fp, nil
}

func ensureTopic(brokers, topic string, partitions int) error {
	admin, err := kafka.NewAdminClient(&kafka.ConfigMap{
		"bootstrap.servers": brokers,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := admin.CreateTopics(ctx, []kafka.TopicSpecification{
		{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		},
	})
	if err != nil {
		return err
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError && result.Error.Code() != kafka.ErrTopicAlreadyExists {
			return fmt.Errorf("failed to create topic %s: %v", result.Topic, result.Error)
		}
	}

	return nil
}

func (fp *Producer) deliveryReportHandler() {
	for e := range fp.producer.Events() {
		switch ev := e.(type) {
		case *kafka.Message:
			if ev.TopicPartition.Error != nil {
				log.L().Error().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
			}
		}
	}
	close(fp.doneCh)
}

// Publish enqueues a fanout event keyed by room id. Messages of the same
// room always land on the same partition, preserving per-room order.
func (fp *Producer) Publish(ctx context.Context, event *domain.Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal fanout event: %w", err)
	}

	err = fp.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &fp.topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(strconv.FormatInt(event.ChatRoomID, 10)),
		Value: value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce fanout event: %w", err)
	}

	return nil
}

func (fp *Producer) Close() error {
	fp.producer.Flush(5000)
	fp.producer.Close()
	<-fp.doneCh
	return nil
}
