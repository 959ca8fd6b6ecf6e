package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Event names published to inbox subscribers
const (
	EventNewConversation = "new-conversation"
	EventNewMessage      = "new-message"
)

// Envelope is the wire format of one published notification
type Envelope struct {
	Event  string      `json:"event"`
	Data   interface{} `json:"data"`
	SentAt time.Time   `json:"sent_at"`
}

// Publisher pushes realtime inbox notifications over Redis pub/sub.
// Delivery is fire-and-forget: a failed publish is logged, never propagated,
// because the database write it announces has already happened.
type Publisher struct {
	client *redis.Client
}

// NewPublisher creates a Redis-backed notification publisher
func NewPublisher(addr, password string, db int) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info().Str("addr", addr).Msg("Connected to Redis successfully")

	return &Publisher{client: client}, nil
}

// NewPublisherFromClient wraps an existing Redis client.
// This is useful for testing with miniredis.
func NewPublisherFromClient(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PageChannel is the channel carrying page-wide events (new conversations)
func PageChannel(pageID int64) string {
	return fmt.Sprintf("page.%d", pageID)
}

// ConversationChannel is the channel carrying one thread's events
func ConversationChannel(conversationID int64) string {
	return fmt.Sprintf("conversation.%d", conversationID)
}

// Publish sends one event to a channel. Errors are logged and swallowed.
func (p *Publisher) Publish(ctx context.Context, channel, event string, data interface{}) {
	payload, err := json.Marshal(Envelope{
		Event:  event,
		Data:   data,
		SentAt: time.Now(),
	})
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Str("event", event).Msg("Failed to marshal notification")
		return
	}

	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		log.Error().Err(err).Str("channel", channel).Str("event", event).Msg("Failed to publish notification")
	}
}

// Close releases the Redis connection
func (p *Publisher) Close() error {
	return p.client.Close()
}
