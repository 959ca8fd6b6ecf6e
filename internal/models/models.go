package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Page represents a connected Facebook Page
type Page struct {
	ID          int64     `db:"id"`
	UserID      int64     `db:"user_id"`
	PageID      string    `db:"page_id"` // External Facebook page ID
	Name        string    `db:"name"`
	AccessToken string    `db:"access_token"` // Decrypted in memory, encrypted at rest
	IsActive    bool      `db:"is_active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

// PageUser is a Facebook end-user scoped to one page (PSID)
type PageUser struct {
	ID                int64     `db:"id"`
	PageID            int64     `db:"page_id"`
	PSID              string    `db:"psid"`
	Name              *string   `db:"name"`        // Nullable until profile fetch succeeds
	ProfilePic        *string   `db:"profile_pic"` // Nullable until profile fetch succeeds
	LastInteractionAt time.Time `db:"last_interaction_at"`
	CreatedAt         time.Time `db:"created_at"`
}

// Conversation is one chat thread between a page and a page user
type Conversation struct {
	ID            int64      `db:"id"`
	PageID        int64      `db:"page_id"`
	PageUserID    int64      `db:"page_user_id"`
	UnreadCount   int        `db:"unread_count"`
	LastMessage   string     `db:"last_message"`
	LastMessageAt *time.Time `db:"last_message_at"`
	CreatedAt     time.Time  `db:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"`
}

// Message is one chat message within a conversation. Rows are immutable:
// they are only ever inserted, never edited.
type Message struct {
	ID             int64           `db:"id"`
	ConversationID int64           `db:"conversation_id"`
	FromType       string          `db:"from_type"`    // "page" or "user"
	MessageType    string          `db:"message_type"` // text/image/voice/video/file/emoji/template
	Message        string          `db:"message"`      // Text content or attachment URL
	Attachment     json.RawMessage `db:"attachment"`   // Raw attachment payload, nullable
	ExternalMID    string          `db:"external_mid"` // Platform message id, dedup key ("" when unknown)
	SentAt         time.Time       `db:"sent_at"`
	CreatedAt      time.Time       `db:"created_at"`
}

// AutomationCampaign is a user-defined ruleset for comment automation
type AutomationCampaign struct {
	ID                     int64     `db:"id"`
	UserID                 int64     `db:"user_id"`
	Name                   string    `db:"name"`
	ApplyToAllPages        bool      `db:"apply_to_all_pages"`
	DeleteOffensive        bool      `db:"delete_offensive"`
	OffensiveKeywords      string    `db:"offensive_keywords"` // Comma-separated
	OffensiveReplyTemplate string    `db:"offensive_reply_template"`
	AllowMultipleReplies   bool      `db:"allow_multiple_replies"`
	EnableCommentReply     bool      `db:"enable_comment_reply"`
	LikeComment            bool      `db:"like_comment"`
	HideAfterReply         bool      `db:"hide_after_reply"`
	ReplyType              string    `db:"reply_type"`      // "ai", "generic" or "filtered"
	MatchType              string    `db:"match_type"`      // "exact" or "any"
	FilterKeywords         string    `db:"filter_keywords"` // Comma-separated
	CommentReplyMessage    string    `db:"comment_reply_message"`
	ReplyImageURL          string    `db:"reply_image_url"`
	NoMatchReply           string    `db:"no_match_reply"`
	PrivateReplyEnabled    bool      `db:"private_reply_enabled"`
	PrivateReplyMessage    string    `db:"private_reply_message"`
	PrivateReplyDelaySecs  int       `db:"private_reply_delay_seconds"`
	IsActive               bool      `db:"is_active"`
	CreatedAt              time.Time `db:"created_at"`
}

// OffensiveKeywordList splits the stored comma list into trimmed keywords
func (c *AutomationCampaign) OffensiveKeywordList() []string {
	return splitKeywords(c.OffensiveKeywords)
}

// FilterKeywordList splits the stored comma list into trimmed keywords
func (c *AutomationCampaign) FilterKeywordList() []string {
	return splitKeywords(c.FilterKeywords)
}

func splitKeywords(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keywords := make([]string, 0, len(parts))
	for _, p := range parts {
		if kw := strings.TrimSpace(p); kw != "" {
			keywords = append(keywords, kw)
		}
	}
	return keywords
}

// AutomationLog is an immutable audit record of one (campaign, comment)
// processing pass. The unique (campaign_id, comment_id) key doubles as the
// deduplication ledger.
type AutomationLog struct {
	ID          int64     `db:"id"`
	CampaignID  int64     `db:"campaign_id"`
	PageID      int64     `db:"page_id"`
	CommentID   string    `db:"comment_id"`
	CommenterID string    `db:"commenter_id"`
	CommentText string    `db:"comment_text"`
	Action      string    `db:"action"` // Comma-joined tags: liked,replied,hidden,deleted
	ReplyText   *string   `db:"reply_text"`
	IsOffensive bool      `db:"is_offensive"`
	CreatedAt   time.Time `db:"created_at"`
}

// AutoReplyRule is the legacy per-page single-keyword rule. It has no
// deduplication ledger and may fire repeatedly on webhook retries.
type AutoReplyRule struct {
	ID        int64     `db:"id"`
	PageID    int64     `db:"page_id"`
	RuleType  string    `db:"rule_type"` // "comment", "inbox" or "live"
	Keyword   string    `db:"keyword"`
	Reply     string    `db:"reply"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
}

// PendingPrivateReply is a delayed private message scheduled by a campaign
type PendingPrivateReply struct {
	ID            int64     `db:"id"`
	PageID        int64     `db:"page_id"`
	PSID          string    `db:"psid"`
	Message       string    `db:"message"`
	SendAfter     time.Time `db:"send_after"`
	Status        string    `db:"status"`
	FailureReason *string   `db:"failure_reason"`
	CreatedAt     time.Time `db:"created_at"`
}

// Sender role constants
const (
	FromTypePage = "page"
	FromTypeUser = "user"
)

// Message content kind constants
const (
	MessageTypeText     = "text"
	MessageTypeImage    = "image"
	MessageTypeVoice    = "voice"
	MessageTypeVideo    = "video"
	MessageTypeFile     = "file"
	MessageTypeEmoji    = "emoji"
	MessageTypeTemplate = "template"
)

// Reply strategy constants
const (
	ReplyTypeAI       = "ai"
	ReplyTypeGeneric  = "generic"
	ReplyTypeFiltered = "filtered"
)

// Keyword match mode constants
const (
	MatchTypeExact = "exact"
	MatchTypeAny   = "any"
)

// Action tag constants
const (
	ActionLiked   = "liked"
	ActionReplied = "replied"
	ActionHidden  = "hidden"
	ActionDeleted = "deleted"
)

// Legacy rule type constants
const (
	RuleTypeComment = "comment"
	RuleTypeInbox   = "inbox"
	RuleTypeLive    = "live"
)

// Private reply status constants
const (
	PrivateReplyPending = "pending"
	PrivateReplySent    = "sent"
	PrivateReplyFailed  = "failed"
)
