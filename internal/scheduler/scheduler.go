package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagepilot/pagepilot/internal/graph"
	"github.com/pagepilot/pagepilot/internal/models"
)

// Store is the persistence surface the scheduler needs
type Store interface {
	GetDuePrivateReplies(ctx context.Context, now time.Time, limit int) ([]models.PendingPrivateReply, error)
	MarkPrivateReplyStatus(ctx context.Context, id int64, status string, failureReason *string) error
	GetPageByID(ctx context.Context, id int64) (*models.Page, error)
}

// Gateway is the subset of the Graph client the scheduler needs
type Gateway interface {
	SendMessage(ctx context.Context, psid string, payload graph.MessagePayload, token string) error
}

// Scheduler drains due private replies on a fixed interval
type Scheduler struct {
	store    Store
	gateway  Gateway
	ticker   *time.Ticker
	stopCh   chan struct{}
	interval time.Duration
}

// NewScheduler creates a private reply scheduler
func NewScheduler(store Store, gateway Gateway, interval time.Duration) *Scheduler {
	return &Scheduler{
		store:    store,
		gateway:  gateway,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the scheduler loop
func (s *Scheduler) Start() {
	s.ticker = time.NewTicker(s.interval)
	go s.run()
	log.Info().Dur("interval", s.interval).Msg("Private reply scheduler started")
}

// Stop halts the scheduler
func (s *Scheduler) Stop() {
	close(s.stopCh)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	log.Info().Msg("Private reply scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	// Drain anything already due on startup
	s.ProcessDueReplies(context.Background())

	for {
		select {
		case <-s.ticker.C:
			s.ProcessDueReplies(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// ProcessDueReplies sends every pending reply whose delay has elapsed and
// records the outcome per row
func (s *Scheduler) ProcessDueReplies(ctx context.Context) {
	due, err := s.store.GetDuePrivateReplies(ctx, time.Now(), 100)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load due private replies")
		return
	}
	if len(due) == 0 {
		return
	}

	log.Debug().Int("count", len(due)).Msg("Processing due private replies")

	for _, reply := range due {
		s.processReply(ctx, reply)
	}
}

func (s *Scheduler) processReply(ctx context.Context, reply models.PendingPrivateReply) {
	page, err := s.store.GetPageByID(ctx, reply.PageID)
	if err != nil || page == nil {
		reason := "page not found"
		if err != nil {
			reason = err.Error()
		}
		log.Warn().Int64("replyID", reply.ID).Str("reason", reason).Msg("Cannot send private reply")
		s.markStatus(ctx, reply.ID, models.PrivateReplyFailed, &reason)
		return
	}

	payload := graph.MessagePayload{Text: reply.Message}
	if err := s.gateway.SendMessage(ctx, reply.PSID, payload, page.AccessToken); err != nil {
		// Usually the 24h messaging window closed before the delay elapsed
		reason := err.Error()
		log.Warn().Err(err).Int64("replyID", reply.ID).Str("psid", reply.PSID).Msg("Private reply send failed")
		s.markStatus(ctx, reply.ID, models.PrivateReplyFailed, &reason)
		return
	}

	s.markStatus(ctx, reply.ID, models.PrivateReplySent, nil)
}

func (s *Scheduler) markStatus(ctx context.Context, id int64, status string, reason *string) {
	if err := s.store.MarkPrivateReplyStatus(ctx, id, status, reason); err != nil {
		log.Error().Err(err).Int64("replyID", id).Msg("Failed to update private reply status")
	}
}
