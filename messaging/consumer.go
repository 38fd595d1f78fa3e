package messaging

import "go.uber.org/zap"

// Subscriber is the receiving half of Client.
type Subscriber interface {
	Subscribe(topic string, handler Handler) error
}

// RawHandler consumes undecoded bus messages; protocol.Ingestor satisfies it.
type RawHandler interface {
	HandleRaw(data []byte)
}

// Consumer routes every message on its topics to a RawHandler.
type Consumer struct {
	sub     Subscriber
	topics  []string
	handler RawHandler
	log     *zap.Logger
}

func NewConsumer(sub Subscriber, handler RawHandler, log *zap.Logger, topics ...string) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{sub: sub, topics: topics, handler: handler, log: log.Named("consumer")}
}

func (c *Consumer) Start() error {
	for _, topic := range c.topics {
		if topic == "" {
			continue
		}
		if err := c.sub.Subscribe(topic, c.handler.HandleRaw); err != nil {
			return err
		}
		c.log.Info("subscribed", zap.String("topic", topic))
	}
	return nil
}
