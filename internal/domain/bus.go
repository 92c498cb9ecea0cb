package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string `koanf:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `koanf:"channel_buffer_size"`

	// NATS settings (Pro tier)
	NATSUrl           string `koanf:"nats_url"`
	NATSToken         string `koanf:"nats_token"`
	NATSMaxReconnects int    `koanf:"nats_max_reconnects"`
	NATSReconnectWait int    `koanf:"nats_reconnect_wait"` // seconds
}

// Standard topic names for the analysis pipeline.
const (
	TopicAnalysisRequested = "simguard.analysis.requested"
	TopicAnalysisCompleted = "simguard.analysis.completed"
	TopicAlert             = "simguard.alert"
)

// AnalysisRequest is published to request an asynchronous analysis of the
// current upload.
type AnalysisRequest struct {
	RequestID string `json:"requestId"`
	UploadID  string `json:"uploadId"`
}

// AnalysisCompleted is published once an analysis finished. A failed analysis
// carries Error and no AnalysisID.
type AnalysisCompleted struct {
	RequestID       string     `json:"requestId,omitempty"`
	AnalysisID      string     `json:"analysisId,omitempty"`
	UsersAnalyzed   int        `json:"usersAnalyzed"`
	SuspiciousCount int        `json:"suspiciousCount"`
	TierCounts      TierCounts `json:"tierCounts"`
	Error           string     `json:"error,omitempty"`
}

// Alert is published for every HIGH tier user.
type Alert struct {
	AnalysisID string    `json:"analysisId"`
	UserID     string    `json:"userId"`
	RiskScore  int       `json:"riskScore"`
	Tier       AlertTier `json:"tier"`
	Reasons    []string  `json:"reasons"`
}
