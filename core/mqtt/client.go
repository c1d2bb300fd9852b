package mqtt

import "context"

// Handler receives an inbound message.
type Handler func(topic string, payload []byte)

// Publisher sends messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retained bool, payload []byte) error
}

// Subscriber registers handlers for topic filters. Subscriptions survive
// reconnects.
type Subscriber interface {
	Subscribe(topic string, qos byte, h Handler) error
}

// Client is a connected broker session.
type Client interface {
	Publisher
	Subscriber
	Disconnect()
}
