package mqtt

import (
	"context"
	"fmt"
	"strings"
	"sync"

	coremqtt "github.com/reliefgrid/coordinator/core/mqtt"
)

// Message is a payload recorded by MockClient.
type Message struct {
	Topic    string
	QoS      byte
	Retained bool
	Payload  []byte
}

// MockClient is an in-process broker used in tests. Published messages are
// recorded and delivered to matching subscriptions.
type MockClient struct {
	// FailTopics makes Publish fail for the listed topics.
	FailTopics map[string]bool

	mu        sync.Mutex
	messages  []Message
	subs      map[string]coremqtt.Handler
	connected bool
}

var _ coremqtt.Client = (*MockClient)(nil)

// NewMockClient creates a connected MockClient.
func NewMockClient() *MockClient {
	return &MockClient{FailTopics: map[string]bool{}, subs: map[string]coremqtt.Handler{}, connected: true}
}

// Publish records the message and delivers it to matching subscribers.
func (m *MockClient) Publish(_ context.Context, topic string, qos byte, retained bool, payload []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return coremqtt.ErrNotConnected
	}
	if m.FailTopics[topic] {
		m.mu.Unlock()
		return fmt.Errorf("publish to %s failed", topic)
	}
	m.messages = append(m.messages, Message{Topic: topic, QoS: qos, Retained: retained, Payload: append([]byte(nil), payload...)})
	var hs []coremqtt.Handler
	for filter, h := range m.subs {
		if TopicMatches(filter, topic) {
			hs = append(hs, h)
		}
	}
	m.mu.Unlock()
	for _, h := range hs {
		h(topic, payload)
	}
	return nil
}

// Subscribe registers h for the topic filter.
func (m *MockClient) Subscribe(topic string, _ byte, h coremqtt.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[topic] = h
	return nil
}

// Disconnect marks the client closed.
func (m *MockClient) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
}

// Messages returns the published messages, optionally only those under
// prefix.
func (m *MockClient) Messages(prefix string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.messages {
		if strings.HasPrefix(msg.Topic, prefix) {
			out = append(out, msg)
		}
	}
	return out
}

// TopicMatches reports whether topic matches the MQTT filter, honouring the
// + and # wildcards.
func TopicMatches(filter, topic string) bool {
	fs := strings.Split(filter, "/")
	ts := strings.Split(topic, "/")
	for i, f := range fs {
		if f == "#" {
			return true
		}
		if i >= len(ts) {
			return false
		}
		if f != "+" && f != ts[i] {
			return false
		}
	}
	return len(fs) == len(ts)
}
