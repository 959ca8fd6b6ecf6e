package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Target kinds for legacy reply jobs
const (
	TargetKindComment = "comment"
	TargetKindPSID    = "psid"
)

// ReplyJob is one queued legacy auto-reply send
type ReplyJob struct {
	PageID     int64  `json:"page_id"`
	RuleID     int64  `json:"rule_id"`
	TargetID   string `json:"target_id"`
	TargetKind string `json:"target_kind"` // "comment" or "psid"
	Reply      string `json:"reply"`
}

// Publisher pushes reply jobs onto a durable RabbitMQ queue. When no broker
// URL is configured the publisher is a no-op and jobs are silently dropped.
type Publisher struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	enabled   bool
}

// NewPublisher connects to RabbitMQ and declares the job queue. An empty URL
// returns a disabled publisher, not an error.
func NewPublisher(url, queueName string) (*Publisher, error) {
	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set. Reply job queue disabled.")
		return &Publisher{queueName: queueName}, nil
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if _, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	log.Info().Str("queue", queueName).Msg("RabbitMQ connection established")

	return &Publisher{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		enabled:   true,
	}, nil
}

// Enabled reports whether a broker connection is live
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishReply enqueues one reply job
func (p *Publisher) PublishReply(ctx context.Context, job ReplyJob) error {
	if !p.enabled {
		log.Debug().Int64("ruleID", job.RuleID).Msg("Queue disabled, dropping reply job")
		return nil
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal reply job: %w", err)
	}

	err = p.channel.PublishWithContext(ctx,
		"",          // exchange (default)
		p.queueName, // routing key = queue
		false,       // mandatory
		false,       // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish reply job: %w", err)
	}

	log.Debug().Int64("ruleID", job.RuleID).Str("target", job.TargetID).Msg("Published reply job")
	return nil
}

// Close releases the broker connection
func (p *Publisher) Close() {
	if !p.enabled {
		return
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
