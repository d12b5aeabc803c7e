package fanout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"github.com/dongzzi101/chat-sevice/pkg/log"
)

// retryBackoff spaces out retries of an event whose handler failed, so a
// store outage does not turn the poll loop into a busy spin.
const retryBackoff = time.Second

// Consumer reads the fanout topic under this node's own consumer group,
// so every node sees every event. Offsets are committed manually after the
// handler has run; a crash before commit replays the event on restart.
type Consumer struct {
	consumer *kafka.Consumer
	topic    string
	groupID  string
	handler  *Handler
}

// GroupID derives a stable consumer-group name from a node's advertise
// address. Each node keeps its own offsets under its own group.
func GroupID(advertiseAddress string) string {
	sanitized := strings.NewReplacer(":", "-", "/", "-").Replace(advertiseAddress)
	return "chat-node-" + sanitized
}

func NewConsumer(brokers, topic, groupID string, handler *Handler) (*Consumer, error) {
	c, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"group.id":           groupID,
		"auto.offset.reset":  "latest",
		"enable.auto.commit": false,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	return &Consumer{
		consumer: c,
		topic:    topic,
		groupID:  groupID,
		handler:  handler,
	}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	if err := c.consumer.Subscribe(c.topic, nil); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", c.topic, err)
	}

	log.L().Info().Str("topic", c.topic).Str("group", c.groupID).Msg("fanout consumer started")

	for {
		select {
		case <-ctx.Done():
			log.L().Info().Msg("fanout consumer stopping")
			return nil
		default:
		}

		ev := c.consumer.Poll(500)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			// Handler errors are transient store or directory failures;
			// malformed events are skipped inside the handler and return
			// nil. On error the offset is not committed and the consumer
			// seeks back, so the event is polled again.
			if err := c.handler.Handle(ctx, e.Value); err != nil {
				log.Ctx(ctx).Error().
					Int32("partition", int32(e.TopicPartition.Partition)).
					Str("offset", e.TopicPartition.Offset.String()).
					Err(err).Msg("fanout handler error, event will be redelivered")
				if seekErr := c.consumer.Seek(e.TopicPartition, 0); seekErr != nil {
					log.Ctx(ctx).Error().Err(seekErr).Msg("seek to failed offset failed")
				}
				time.Sleep(retryBackoff)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("offset commit failed")
			}
		case kafka.Error:
			log.L().Error().Err(e).Bool("fatal", e.IsFatal()).Msg("kafka error")
			if e.IsFatal() {
				return fmt.Errorf("fatal kafka error: %w", e)
			}
		default:
			// Ignore other events (rebalance, stats, etc.)
		}
	}
}

func (c *Consumer) Close() error {
	log.L().Info().Msg("closing fanout consumer")
	return c.consumer.Close()
}
