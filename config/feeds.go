package config

import (
	"fmt"
	"strings"
)

// NotifierConfig controls the outbound event feed.
type NotifierConfig struct {
	Enabled bool `json:"enabled"`
	// TopicPrefix is prepended to <kind>/<entity>.
	TopicPrefix string `json:"topic_prefix"`
	QoS         byte   `json:"qos"`
	Retained    bool   `json:"retained"`
	// Buffer is the per-subscriber event queue length.
	Buffer int `json:"buffer"`
}

// SetDefaults applies default values.
func (c *NotifierConfig) SetDefaults() {
	if c.TopicPrefix == "" {
		c.TopicPrefix = "coordination/events"
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
}

// Validate checks the topic and QoS.
func (c NotifierConfig) Validate() error {
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("notifier: topic_prefix must not contain wildcards")
	}
	return validQoS("notifier", c.QoS)
}

// DirectoryConfig controls the responder directory feed.
type DirectoryConfig struct {
	Enabled bool `json:"enabled"`
	// StatePrefix is the prefix of the per-responder status topics. The
	// last topic level is used as responder id when the payload has none.
	StatePrefix string `json:"state_topic_prefix"`
	// SyncTopic, when set, receives a request for a full snapshot at
	// start and every SyncIntervalSeconds.
	SyncTopic           string `json:"sync_topic"`
	SyncIntervalSeconds int    `json:"sync_interval_seconds"`
	TimeoutSeconds      int    `json:"timeout_seconds"`
	QoS                 byte   `json:"qos"`
}

// SetDefaults applies default values.
func (c *DirectoryConfig) SetDefaults() {
	if c.StatePrefix == "" {
		c.StatePrefix = "coordination/responders"
	}
}

// Validate checks intervals and QoS.
func (c DirectoryConfig) Validate() error {
	if c.SyncIntervalSeconds < 0 || c.TimeoutSeconds < 0 {
		return fmt.Errorf("directory: intervals must not be negative")
	}
	return validQoS("directory", c.QoS)
}

// Timeout bounds the handling of one message.
func (c DirectoryConfig) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return 3
	}
	return c.TimeoutSeconds
}

// IntakeConfig controls normalized request intake.
type IntakeConfig struct {
	Enabled bool   `json:"enabled"`
	Topic   string `json:"topic"`
	// ReplyTopic, when set, receives the outcome of every submission.
	ReplyTopic     string `json:"reply_topic"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	QoS            byte   `json:"qos"`
	// DedupWindow is how many recent message ids are remembered to drop
	// broker redeliveries.
	DedupWindow int `json:"dedup_window"`
}

// SetDefaults applies default values.
func (c *IntakeConfig) SetDefaults() {
	if c.Topic == "" {
		c.Topic = "coordination/intake"
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 1024
	}
}

// Validate checks the topics and QoS.
func (c IntakeConfig) Validate() error {
	if c.ReplyTopic != "" && c.ReplyTopic == c.Topic {
		return fmt.Errorf("intake: reply_topic must differ from topic")
	}
	if c.TimeoutSeconds < 0 {
		return fmt.Errorf("intake: timeout_seconds must not be negative")
	}
	return validQoS("intake", c.QoS)
}

// Timeout bounds one submission.
func (c IntakeConfig) Timeout() int {
	if c.TimeoutSeconds <= 0 {
		return 10
	}
	return c.TimeoutSeconds
}

func validQoS(section string, q byte) error {
	if q > 2 {
		return fmt.Errorf("%s: qos must be 0, 1 or 2", section)
	}
	return nil
}
