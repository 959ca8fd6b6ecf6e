package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/pagepilot/pagepilot/internal/graph"
	"github.com/pagepilot/pagepilot/internal/models"
)

// PageStore resolves pages for job execution
type PageStore interface {
	GetPageByID(ctx context.Context, id int64) (*models.Page, error)
}

// Gateway is the subset of the Graph client the worker needs
type Gateway interface {
	PostCommentReply(ctx context.Context, commentID, message, imageURL, token string) error
	SendMessage(ctx context.Context, psid string, payload graph.MessagePayload, token string) error
}

// Executor performs reply jobs against the Graph API
type Executor struct {
	store   PageStore
	gateway Gateway
}

// NewExecutor creates a job executor
func NewExecutor(store PageStore, gateway Gateway) *Executor {
	return &Executor{store: store, gateway: gateway}
}

// Execute performs one reply job using the page's access token
func (e *Executor) Execute(ctx context.Context, job ReplyJob) error {
	page, err := e.store.GetPageByID(ctx, job.PageID)
	if err != nil {
		return fmt.Errorf("failed to load page for job: %w", err)
	}
	if page == nil {
		return fmt.Errorf("page %d not found for reply job", job.PageID)
	}

	switch job.TargetKind {
	case TargetKindComment:
		if err := e.gateway.PostCommentReply(ctx, job.TargetID, job.Reply, "", page.AccessToken); err != nil {
			return fmt.Errorf("failed to reply to comment: %w", err)
		}
	case TargetKindPSID:
		payload := graph.MessagePayload{Text: job.Reply}
		if err := e.gateway.SendMessage(ctx, job.TargetID, payload, page.AccessToken); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	default:
		return fmt.Errorf("unknown target kind: %s", job.TargetKind)
	}

	return nil
}

// Worker drains the reply job queue and executes sends against the Graph
// API. Failed jobs are logged and acked: a reply that cannot be sent is not
// worth a redelivery storm.
type Worker struct {
	conn      *amqp091.Connection
	channel   *amqp091.Channel
	queueName string
	executor  *Executor
	stopCh    chan struct{}
}

// NewWorker connects a consumer to the reply job queue
func NewWorker(url, queueName string, store PageStore, gateway Gateway) (*Worker, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open RabbitMQ channel: %w", err)
	}

	if _, err := channel.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}

	return &Worker{
		conn:      conn,
		channel:   channel,
		queueName: queueName,
		executor:  NewExecutor(store, gateway),
		stopCh:    make(chan struct{}),
	}, nil
}

// Start begins consuming jobs in a background goroutine
func (w *Worker) Start() error {
	deliveries, err := w.channel.Consume(
		w.queueName,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case <-w.stopCh:
				return
			case delivery, ok := <-deliveries:
				if !ok {
					return
				}
				w.handleDelivery(delivery)
			}
		}
	}()

	log.Info().Str("queue", w.queueName).Msg("Reply job worker started")
	return nil
}

func (w *Worker) handleDelivery(delivery amqp091.Delivery) {
	// Ack no matter what; executed below with best-effort semantics
	defer delivery.Ack(false)

	var job ReplyJob
	if err := json.Unmarshal(delivery.Body, &job); err != nil {
		log.Warn().Err(err).Msg("Dropping malformed reply job")
		return
	}

	if err := w.executor.Execute(context.Background(), job); err != nil {
		log.Error().Err(err).
			Int64("pageID", job.PageID).
			Int64("ruleID", job.RuleID).
			Str("target", job.TargetID).
			Msg("Failed to execute reply job")
	}
}

// Stop halts the consumer and releases the connection
func (w *Worker) Stop() {
	close(w.stopCh)
	if w.channel != nil {
		w.channel.Close()
	}
	if w.conn != nil {
		w.conn.Close()
	}
}
