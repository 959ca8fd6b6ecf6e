package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagepilot/pagepilot/internal/database"
	"github.com/pagepilot/pagepilot/internal/graph"
	"github.com/pagepilot/pagepilot/internal/models"
	"github.com/pagepilot/pagepilot/internal/notify"
)

// Store is the persistence surface the router needs
type Store interface {
	GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error)
	GetPageByID(ctx context.Context, id int64) (*models.Page, error)
	UpsertPageUser(ctx context.Context, pageID int64, psid string, name, profilePic *string) (*models.PageUser, error)
	GetPageUser(ctx context.Context, id int64) (*models.PageUser, error)
	GetOrCreateConversation(ctx context.Context, pageID, pageUserID int64) (*models.Conversation, bool, error)
	InsertMessage(ctx context.Context, conversationID int64, fromType, messageType, content string, attachment json.RawMessage, externalMID string, sentAt time.Time) (*models.Message, error)
	IncrementUnread(ctx context.Context, conversationID int64, lastMessage string, at time.Time) error
	UpdateLastMessage(ctx context.Context, conversationID int64, lastMessage string, at time.Time) error
	ResetUnread(ctx context.Context, conversationID int64) error
}

// Gateway is the subset of the Graph client the router needs
type Gateway interface {
	FetchUserProfile(ctx context.Context, psid, token string) (*graph.Profile, error)
	SendMessage(ctx context.Context, psid string, payload graph.MessagePayload, token string) error
}

// Notifier fans out realtime inbox events
type Notifier interface {
	Publish(ctx context.Context, channel, event string, data interface{})
}

// RuleEngine runs legacy keyword rules against inbox messages
type RuleEngine interface {
	ProcessLegacyRules(ctx context.Context, page *models.Page, ruleType, text, targetID string) error
}

// MessagingEvent is one inbound messenger event
type MessagingEvent struct {
	SenderID    string
	RecipientID string
	MID         string
	Text        string
	Attachments []AttachmentEvent
}

// AttachmentEvent is one attachment on an inbound message
type AttachmentEvent struct {
	Type string // image/audio/video/file/template/fallback
	URL  string
	Raw  json.RawMessage
}

// OutgoingMessage is a message composed in the inbox UI
type OutgoingMessage struct {
	Text           string
	AttachmentType string
	AttachmentURL  string
}

// Router turns messenger webhook events into stored conversations, messages
// and realtime notifications
type Router struct {
	store    Store
	gateway  Gateway
	notifier Notifier
	rules    RuleEngine
}

// NewRouter creates an inbox webhook router
func NewRouter(store Store, gateway Gateway, notifier Notifier, rules RuleEngine) *Router {
	return &Router{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		rules:    rules,
	}
}

// messageKind maps a platform attachment type onto the stored message kind
func messageKind(attachmentType string) string {
	switch attachmentType {
	case "image":
		return models.MessageTypeImage
	case "audio":
		return models.MessageTypeVoice
	case "video":
		return models.MessageTypeVideo
	case "file":
		return models.MessageTypeFile
	case "template":
		return models.MessageTypeTemplate
	default:
		return models.MessageTypeFile
	}
}

// HandleMessagingEvent processes one inbound user message end to end:
// resolve page, upsert the sender, find or create the thread, store the
// message, bump counters and notify subscribers.
func (r *Router) HandleMessagingEvent(ctx context.Context, event MessagingEvent) error {
	page, err := r.store.GetPageByExternalID(ctx, event.RecipientID)
	if err != nil {
		return fmt.Errorf("failed to resolve page: %w", err)
	}
	if page == nil {
		// Webhook subscribed but page not connected here; not our traffic
		log.Debug().Str("recipientID", event.RecipientID).Msg("Message for unknown page, ignoring")
		return nil
	}

	// Best-effort profile fetch; a failure just means we store the PSID bare
	var name, profilePic *string
	if profile, err := r.gateway.FetchUserProfile(ctx, event.SenderID, page.AccessToken); err != nil {
		log.Debug().Err(err).Str("psid", event.SenderID).Msg("Profile unavailable")
	} else {
		if profile.Name != "" {
			name = &profile.Name
		}
		if profile.ProfilePic != "" {
			profilePic = &profile.ProfilePic
		}
	}

	user, err := r.store.UpsertPageUser(ctx, page.ID, event.SenderID, name, profilePic)
	if err != nil {
		return fmt.Errorf("failed to upsert page user: %w", err)
	}

	conv, created, err := r.store.GetOrCreateConversation(ctx, page.ID, user.ID)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}

	if created {
		r.notifier.Publish(ctx, notify.PageChannel(page.ID), notify.EventNewConversation, map[string]interface{}{
			"conversation_id": conv.ID,
			"page_id":         page.ID,
			"psid":            event.SenderID,
			"name":            name,
		})
	}

	kind := models.MessageTypeText
	content := event.Text
	var rawAttachment json.RawMessage
	if len(event.Attachments) > 0 {
		att := event.Attachments[0]
		kind = messageKind(att.Type)
		content = att.URL
		rawAttachment = att.Raw
	}

	now := time.Now()
	msg, err := r.store.InsertMessage(ctx, conv.ID, models.FromTypeUser, kind, content, rawAttachment, event.MID, now)
	if err != nil {
		if errors.Is(err, database.ErrDuplicateMessage) {
			// Platform redelivered the webhook; the first delivery already
			// counted and notified
			log.Debug().Str("mid", event.MID).Msg("Duplicate message delivery, ignoring")
			return nil
		}
		return fmt.Errorf("failed to store message: %w", err)
	}

	if err := r.store.IncrementUnread(ctx, conv.ID, content, now); err != nil {
		log.Error().Err(err).Int64("conversationID", conv.ID).Msg("Failed to bump unread counter")
	}

	r.notifier.Publish(ctx, notify.ConversationChannel(conv.ID), notify.EventNewMessage, map[string]interface{}{
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
		"from_type":       models.FromTypeUser,
		"message_type":    kind,
		"message":         content,
		"sent_at":         now,
	})

	if err := r.rules.ProcessLegacyRules(ctx, page, models.RuleTypeInbox, event.Text, event.SenderID); err != nil {
		log.Error().Err(err).Int64("pageID", page.ID).Msg("Failed to run inbox rules")
	}

	return nil
}

// SendPageMessage delivers a message composed in the inbox on behalf of the
// page. The local write happens even when the platform send fails, so agents
// see what they tried to send.
func (r *Router) SendPageMessage(ctx context.Context, conv *models.Conversation, out OutgoingMessage) (*models.Message, error) {
	if out.Text == "" && out.AttachmentURL == "" {
		return nil, fmt.Errorf("message must have text or an attachment")
	}

	page, err := r.store.GetPageByID(ctx, conv.PageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load page: %w", err)
	}
	if page == nil {
		return nil, fmt.Errorf("page %d not found", conv.PageID)
	}

	user, err := r.store.GetPageUser(ctx, conv.PageUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load page user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("page user %d not found", conv.PageUserID)
	}

	kind := models.MessageTypeText
	content := out.Text
	var payload graph.MessagePayload
	if out.AttachmentURL != "" {
		kind = messageKind(out.AttachmentType)
		content = out.AttachmentURL
		payload = graph.MessagePayload{
			Attachment: &graph.Attachment{
				Type:    out.AttachmentType,
				Payload: graph.AttachmentPayload{URL: out.AttachmentURL, IsReusable: true},
			},
		}
	} else {
		payload = graph.MessagePayload{Text: out.Text}
	}

	if err := r.gateway.SendMessage(ctx, user.PSID, payload, page.AccessToken); err != nil {
		log.Error().Err(err).Str("psid", user.PSID).Msg("Failed to deliver page message")
	}

	now := time.Now()
	msg, err := r.store.InsertMessage(ctx, conv.ID, models.FromTypePage, kind, content, nil, "", now)
	if err != nil {
		return nil, fmt.Errorf("failed to store page message: %w", err)
	}

	// Page-sent messages refresh the preview but never bump unread
	if err := r.store.UpdateLastMessage(ctx, conv.ID, content, now); err != nil {
		log.Error().Err(err).Int64("conversationID", conv.ID).Msg("Failed to update conversation preview")
	}

	r.notifier.Publish(ctx, notify.ConversationChannel(conv.ID), notify.EventNewMessage, map[string]interface{}{
		"conversation_id": conv.ID,
		"message_id":      msg.ID,
		"from_type":       models.FromTypePage,
		"message_type":    kind,
		"message":         content,
		"sent_at":         now,
	})

	return msg, nil
}

// MarkConversationRead zeroes the unread counter
func (r *Router) MarkConversationRead(ctx context.Context, conversationID int64) error {
	return r.store.ResetUnread(ctx, conversationID)
}
