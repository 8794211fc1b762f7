package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// Config selects the transport
type Config struct {
	Topic        string
	KafkaBrokers []string
}

// New creates a publisher for cfg. Without brokers messages stay in
// process and the returned subscriber can consume them; with Kafka the
// subscriber is nil.
func New(cfg Config, logger *slog.Logger) (*Publisher, message.Subscriber, error) {
	wmLogger := watermill.NewSlogLogger(logger)

	if len(cfg.KafkaBrokers) == 0 {
		pubSub := NewGoChannel(wmLogger)
		return NewPublisher(pubSub, cfg.Topic), pubSub, nil
	}

	pub, err := NewKafkaPublisher(cfg.KafkaBrokers, wmLogger)
	if err != nil {
		return nil, nil, err
	}
	return NewPublisher(pub, cfg.Topic), nil, nil
}

// NewGoChannel creates the in-memory pub/sub used without a broker
func NewGoChannel(logger watermill.LoggerAdapter) *gochannel.GoChannel {
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            1000,
			Persistent:                     false,
			BlockPublishUntilSubscriberAck: false,
		},
		logger,
	)
}

// NewKafkaPublisher creates a Kafka publisher for the given brokers
func NewKafkaPublisher(brokers []string, logger watermill.LoggerAdapter) (*kafka.Publisher, error) {
	if len(brokers) == 0 || brokers[0] == "" {
		return nil, errors.New("no kafka brokers configured")
	}

	saramaPublisherConfig := sarama.NewConfig()
	saramaPublisherConfig.Producer.Return.Successes = true

	return kafka.NewPublisher(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: saramaPublisherConfig,
			OTELEnabled:           true,
		},
		logger,
	)
}

// Handler receives decoded notifications; exactly one of job or run is set
type Handler func(ctx context.Context, job *JobFinished, run *RunFinished) error

// Listen consumes notifications from sub until ctx is done
func Listen(ctx context.Context, sub message.Subscriber, topic string, handler Handler) error {
	if topic == "" {
		topic = DefaultTopic
	}

	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var (
				job *JobFinished
				run *RunFinished
				err error
			)

			switch msg.Metadata.Get(EventTypeMetadataKey) {
			case JobFinishedEvent:
				job = &JobFinished{}
				err = json.Unmarshal(msg.Payload, job)
			case RunFinishedEvent:
				run = &RunFinished{}
				err = json.Unmarshal(msg.Payload, run)
			default:
				msg.Ack()
				continue
			}

			// undecodable messages are dropped
			if err != nil {
				msg.Ack()
				continue
			}
			if err := handler(msg.Context(), job, run); err != nil {
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}()

	return nil
}
