package publish

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/deenoize/crypto-p2p-ai/internal/engine"
	"github.com/deenoize/crypto-p2p-ai/internal/logger"
	"github.com/deenoize/crypto-p2p-ai/internal/poller"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a writer for topic on the given brokers.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
	}
}

// OpportunityEvent is the message value published for each opportunity.
type OpportunityEvent struct {
	CycleID     string             `json:"cycleId"`
	Pair        string             `json:"pair"`
	Opportunity engine.Opportunity `json:"opportunity"`
}

// KafkaPublisher streams every opportunity of every cycle to a topic, one
// message per opportunity keyed by pair.
type KafkaPublisher struct {
	writer MessageWriter
	feed   <-chan poller.Result
	log    *logger.Logger
}

// NewKafkaPublisher creates a KafkaPublisher reading from a Broadcaster
// subscription.
func NewKafkaPublisher(writer MessageWriter, feed <-chan poller.Result, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: writer,
		feed:   feed,
		log:    log.With(logger.F("component", "kafka_publisher")),
	}
}

// Run publishes until ctx is cancelled or the feed closes, then closes the
// writer.
func (p *KafkaPublisher) Run(ctx context.Context) {
	defer func() {
		if err := p.writer.Close(); err != nil {
			p.log.Error(err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-p.feed:
			if !ok {
				return
			}
			if err := p.Publish(ctx, res); err != nil {
				p.log.Error(err, logger.F("cycle_id", res.CycleID))
			}
		}
	}
}

// Publish writes the opportunities of one cycle as a single batch.
func (p *KafkaPublisher) Publish(ctx context.Context, res poller.Result) error {
	if len(res.Opportunities) == 0 {
		return nil
	}

	key := []byte(res.Pair.Key())
	msgs := make([]kafka.Message, 0, len(res.Opportunities))
	for _, o := range res.Opportunities {
		value, err := json.Marshal(OpportunityEvent{CycleID: res.CycleID, Pair: res.Pair.Key(), Opportunity: o})
		if err != nil {
			return fmt.Errorf("encoding opportunity %s/%s: %w", o.BuyOrderID, o.SellOrderID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   key,
			Value: value,
			Headers: []kafka.Header{
				{Key: "cycle-id", Value: []byte(res.CycleID)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publishing %d opportunities: %w", len(msgs), err)
	}
	p.log.Debug("published opportunities", logger.F("count", len(msgs)), logger.F("cycle_id", res.CycleID))
	return nil
}
