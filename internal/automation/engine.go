package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pagepilot/pagepilot/internal/database"
	"github.com/pagepilot/pagepilot/internal/graph"
	"github.com/pagepilot/pagepilot/internal/models"
	"github.com/pagepilot/pagepilot/internal/queue"
)

// Fallback when an AI campaign has no reply text configured. The AI strategy
// is an extension point; no model is called yet.
const defaultAIReply = "Thank you for your comment!"

// Store is the persistence surface the engine needs
type Store interface {
	ListActiveCampaignsForPage(ctx context.Context, page *models.Page) ([]models.AutomationCampaign, error)
	WasProcessed(ctx context.Context, campaignID int64, commentID string) (bool, error)
	RecordLog(ctx context.Context, entry *models.AutomationLog) error
	EnqueuePrivateReply(ctx context.Context, pageID int64, psid, message string, sendAfter time.Time) (int64, error)
	ListActiveRules(ctx context.Context, pageID int64, ruleType string) ([]models.AutoReplyRule, error)
}

// Gateway is the subset of the Graph client the engine needs
type Gateway interface {
	PostCommentReply(ctx context.Context, commentID, message, imageURL, token string) error
	LikeObject(ctx context.Context, objectID, token string) error
	HideComment(ctx context.Context, commentID string, hidden bool, token string) error
	DeleteObject(ctx context.Context, objectID, token string) error
	SendMessage(ctx context.Context, psid string, payload graph.MessagePayload, token string) error
}

// JobPublisher queues legacy reply sends for async execution
type JobPublisher interface {
	PublishReply(ctx context.Context, job queue.ReplyJob) error
}

// CommentEvent is one comment delivered by the webhook
type CommentEvent struct {
	CommentID     string
	PostID        string
	Text          string
	CommenterID   string
	CommenterName string
}

// Engine runs comment automation campaigns against incoming comments
type Engine struct {
	store   Store
	gateway Gateway
	jobs    JobPublisher
}

// NewEngine creates a comment automation engine
func NewEngine(store Store, gateway Gateway, jobs JobPublisher) *Engine {
	return &Engine{
		store:   store,
		gateway: gateway,
		jobs:    jobs,
	}
}

// ProcessComment evaluates every campaign targeting the page against one
// comment. Campaigns are independent: a Graph API failure inside one never
// stops its own remaining steps or sibling campaigns.
func (e *Engine) ProcessComment(ctx context.Context, page *models.Page, event CommentEvent) error {
	// The page replying to its own content must never trigger automation,
	// otherwise campaign replies would feed back into the engine
	if event.CommenterID == page.PageID {
		log.Debug().Str("commentID", event.CommentID).Msg("Skipping page's own comment")
		return nil
	}

	campaigns, err := e.store.ListActiveCampaignsForPage(ctx, page)
	if err != nil {
		return fmt.Errorf("failed to load campaigns: %w", err)
	}

	for i := range campaigns {
		e.processCampaign(ctx, page, &campaigns[i], event)
	}

	return nil
}

func (e *Engine) processCampaign(ctx context.Context, page *models.Page, campaign *models.AutomationCampaign, event CommentEvent) {
	if !campaign.AllowMultipleReplies {
		processed, err := e.store.WasProcessed(ctx, campaign.ID, event.CommentID)
		if err != nil {
			log.Error().Err(err).Int64("campaignID", campaign.ID).Str("commentID", event.CommentID).
				Msg("Failed to check dedup ledger, skipping campaign")
			return
		}
		if processed {
			log.Debug().Int64("campaignID", campaign.ID).Str("commentID", event.CommentID).
				Msg("Comment already processed by campaign")
			return
		}
	}

	entry := &models.AutomationLog{
		CampaignID:  campaign.ID,
		PageID:      page.ID,
		CommentID:   event.CommentID,
		CommenterID: event.CommenterID,
		CommentText: event.Text,
	}

	// Offensive comments short-circuit the campaign: delete, optionally
	// notify the commenter privately, log, done
	if campaign.DeleteOffensive && ContainsOffensive(event.Text, campaign.OffensiveKeywordList()) {
		if err := e.gateway.DeleteObject(ctx, event.CommentID, page.AccessToken); err != nil {
			log.Error().Err(err).Str("commentID", event.CommentID).Msg("Failed to delete offensive comment")
		}

		if campaign.OffensiveReplyTemplate != "" {
			payload := graph.MessagePayload{Text: campaign.OffensiveReplyTemplate}
			if err := e.gateway.SendMessage(ctx, event.CommenterID, payload, page.AccessToken); err != nil {
				// Usually the 24h messaging window; the deletion still stands
				log.Warn().Err(err).Str("commenterID", event.CommenterID).
					Msg("Failed to message commenter about removed comment")
			}
		}

		entry.Action = models.ActionDeleted
		entry.IsOffensive = true
		e.writeLog(ctx, entry, campaign.AllowMultipleReplies)
		return
	}

	var actions []string

	if campaign.LikeComment {
		if err := e.gateway.LikeObject(ctx, event.CommentID, page.AccessToken); err != nil {
			log.Error().Err(err).Str("commentID", event.CommentID).Msg("Failed to like comment")
		} else {
			actions = append(actions, models.ActionLiked)
		}
	}

	if campaign.EnableCommentReply {
		reply := buildReply(campaign, event.Text)
		if reply != "" {
			if err := e.gateway.PostCommentReply(ctx, event.CommentID, reply, campaign.ReplyImageURL, page.AccessToken); err != nil {
				log.Error().Err(err).Str("commentID", event.CommentID).Msg("Failed to reply to comment")
			} else {
				actions = append(actions, models.ActionReplied)
				entry.ReplyText = &reply
			}
		}
	}

	if campaign.HideAfterReply {
		if err := e.gateway.HideComment(ctx, event.CommentID, true, page.AccessToken); err != nil {
			log.Error().Err(err).Str("commentID", event.CommentID).Msg("Failed to hide comment")
		} else {
			actions = append(actions, models.ActionHidden)
		}
	}

	if campaign.PrivateReplyEnabled && campaign.PrivateReplyMessage != "" {
		sendAfter := time.Now().Add(time.Duration(campaign.PrivateReplyDelaySecs) * time.Second)
		if _, err := e.store.EnqueuePrivateReply(ctx, page.ID, event.CommenterID, campaign.PrivateReplyMessage, sendAfter); err != nil {
			log.Error().Err(err).Int64("campaignID", campaign.ID).Msg("Failed to enqueue private reply")
		}
	}

	if len(actions) == 0 {
		return
	}

	entry.Action = strings.Join(actions, ",")
	e.writeLog(ctx, entry, campaign.AllowMultipleReplies)
}

// writeLog records the audit row. A duplicate-key loss to a racing worker is
// benign; campaigns allowing repeat replies store extra passes under a
// suffixed comment id so the unique key never blocks them.
func (e *Engine) writeLog(ctx context.Context, entry *models.AutomationLog, allowMultiple bool) {
	err := e.store.RecordLog(ctx, entry)
	if err == nil {
		return
	}

	if errors.Is(err, database.ErrDuplicateLog) {
		if !allowMultiple {
			log.Debug().Int64("campaignID", entry.CampaignID).Str("commentID", entry.CommentID).
				Msg("Log row already written by another worker")
			return
		}

		base := entry.CommentID
		for attempt := 2; attempt <= 10; attempt++ {
			entry.CommentID = fmt.Sprintf("%s#%d", base, attempt)
			err = e.store.RecordLog(ctx, entry)
			if err == nil || !errors.Is(err, database.ErrDuplicateLog) {
				break
			}
		}
	}

	if err != nil {
		log.Error().Err(err).Int64("campaignID", entry.CampaignID).Str("commentID", entry.CommentID).
			Msg("Failed to record automation log")
	}
}

// buildReply resolves the reply text for a campaign against a comment
func buildReply(campaign *models.AutomationCampaign, text string) string {
	switch campaign.ReplyType {
	case models.ReplyTypeFiltered:
		keywords := campaign.FilterKeywordList()
		if len(keywords) == 0 {
			return campaign.NoMatchReply
		}
		if _, ok := FirstFilterMatch(text, keywords, campaign.MatchType); ok {
			return campaign.CommentReplyMessage
		}
		return campaign.NoMatchReply
	case models.ReplyTypeAI:
		if campaign.CommentReplyMessage != "" {
			return campaign.CommentReplyMessage
		}
		return defaultAIReply
	default:
		return campaign.CommentReplyMessage
	}
}

// ProcessLiveComment runs the legacy rule path for live video comments
func (e *Engine) ProcessLiveComment(ctx context.Context, page *models.Page, event CommentEvent) error {
	return e.ProcessLegacyRules(ctx, page, models.RuleTypeLive, event.Text, event.CommentID)
}

// ProcessLegacyRules queues a reply job for every enabled per-page rule whose
// keyword appears in the text. There is no dedup ledger on this path: a
// redelivered webhook fires the rules again (kept for parity with the
// pre-campaign behavior).
func (e *Engine) ProcessLegacyRules(ctx context.Context, page *models.Page, ruleType, text, targetID string) error {
	rules, err := e.store.ListActiveRules(ctx, page.ID, ruleType)
	if err != nil {
		return fmt.Errorf("failed to load auto reply rules: %w", err)
	}

	targetKind := queue.TargetKindComment
	if ruleType == models.RuleTypeInbox {
		targetKind = queue.TargetKindPSID
	}

	lowered := strings.ToLower(text)
	for _, rule := range rules {
		keyword := strings.ToLower(strings.TrimSpace(rule.Keyword))
		if keyword == "" || !strings.Contains(lowered, keyword) {
			continue
		}

		job := queue.ReplyJob{
			PageID:     page.ID,
			RuleID:     rule.ID,
			TargetID:   targetID,
			TargetKind: targetKind,
			Reply:      rule.Reply,
		}
		if err := e.jobs.PublishReply(ctx, job); err != nil {
			log.Error().Err(err).Int64("ruleID", rule.ID).Msg("Failed to queue reply job")
		}
	}

	return nil
}
