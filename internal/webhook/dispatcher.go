package webhook

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/pagepilot/pagepilot/internal/automation"
	"github.com/pagepilot/pagepilot/internal/inbox"
	"github.com/pagepilot/pagepilot/internal/models"
	"github.com/pagepilot/pagepilot/internal/recovery"
)

// PageResolver looks up connected pages by external ID
type PageResolver interface {
	GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error)
}

// CommentEngine processes comment events
type CommentEngine interface {
	ProcessComment(ctx context.Context, page *models.Page, event automation.CommentEvent) error
	ProcessLiveComment(ctx context.Context, page *models.Page, event automation.CommentEvent) error
}

// MessageRouter processes inbound messenger events
type MessageRouter interface {
	HandleMessagingEvent(ctx context.Context, event inbox.MessagingEvent) error
}

// Dispatcher fans webhook entries out to the comment engine and inbox
// router. Every item runs isolated: a panic or error in one never stops the
// others and never surfaces to the HTTP layer.
type Dispatcher struct {
	pages  PageResolver
	engine CommentEngine
	router MessageRouter
}

// NewDispatcher creates a webhook dispatcher
func NewDispatcher(pages PageResolver, engine CommentEngine, router MessageRouter) *Dispatcher {
	return &Dispatcher{
		pages:  pages,
		engine: engine,
		router: router,
	}
}

// Dispatch routes every item of an envelope
func (d *Dispatcher) Dispatch(ctx context.Context, envelope *Envelope) {
	for i := range envelope.Entry {
		entry := &envelope.Entry[i]

		for j := range entry.Changes {
			change := &entry.Changes[j]
			recovery.RunIsolated(func() {
				d.dispatchChange(ctx, entry.ID, change)
			}, map[string]string{
				"type":  "webhook_change",
				"page":  entry.ID,
				"field": change.Field,
			}, nil)
		}

		for j := range entry.Messaging {
			messaging := &entry.Messaging[j]
			recovery.RunIsolated(func() {
				d.dispatchMessaging(ctx, messaging)
			}, map[string]string{
				"type": "webhook_messaging",
				"page": entry.ID,
			}, nil)
		}
	}
}

func (d *Dispatcher) dispatchChange(ctx context.Context, pageExternalID string, change *Change) {
	switch change.Field {
	case "comments", "feed":
		d.dispatchComment(ctx, pageExternalID, change, false)
	case "live_videos":
		d.dispatchComment(ctx, pageExternalID, change, true)
	default:
		log.Debug().Str("field", change.Field).Msg("Ignoring webhook field")
	}
}

func (d *Dispatcher) dispatchComment(ctx context.Context, pageExternalID string, change *Change, live bool) {
	value := &change.Value
	if !live && value.Item != "comment" {
		log.Debug().Str("item", value.Item).Msg("Ignoring non-comment feed item")
		return
	}
	// Only fresh comments trigger automation; edits and removals do not
	if value.Verb != "" && value.Verb != "add" {
		return
	}
	if value.CommentID == "" || value.From == nil {
		log.Warn().Str("field", change.Field).Msg("Skipping malformed comment event")
		return
	}

	page, err := d.pages.GetPageByExternalID(ctx, pageExternalID)
	if err != nil {
		log.Error().Err(err).Str("pageID", pageExternalID).Msg("Failed to resolve page for comment")
		return
	}
	if page == nil {
		log.Debug().Str("pageID", pageExternalID).Msg("Comment for unknown page, ignoring")
		return
	}

	event := automation.CommentEvent{
		CommentID:     value.CommentID,
		PostID:        value.PostID,
		Text:          value.Message,
		CommenterID:   value.From.ID,
		CommenterName: value.From.Name,
	}

	if live {
		err = d.engine.ProcessLiveComment(ctx, page, event)
	} else {
		err = d.engine.ProcessComment(ctx, page, event)
	}
	if err != nil {
		log.Error().Err(err).Str("commentID", event.CommentID).Bool("live", live).
			Msg("Failed to process comment event")
	}
}

func (d *Dispatcher) dispatchMessaging(ctx context.Context, messaging *Messaging) {
	// Delivery receipts, read receipts and echoes of our own sends are not
	// inbound messages
	if messaging.Message == nil || messaging.Message.IsEcho {
		return
	}

	event := inbox.MessagingEvent{
		SenderID:    messaging.Sender.ID,
		RecipientID: messaging.Recipient.ID,
		MID:         messaging.Message.MID,
		Text:        messaging.Message.Text,
	}
	for _, att := range messaging.Message.Attachments {
		raw, _ := json.Marshal(att)
		event.Attachments = append(event.Attachments, inbox.AttachmentEvent{
			Type: att.Type,
			URL:  att.Payload.URL,
			Raw:  raw,
		})
	}

	if err := d.router.HandleMessagingEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("mid", event.MID).Msg("Failed to route messaging event")
	}
}
