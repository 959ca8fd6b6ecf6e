package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pagepilot/pagepilot/internal/models"
)

const campaignColumns = `id, user_id, name, apply_to_all_pages, delete_offensive,
	COALESCE(offensive_keywords, '') as offensive_keywords,
	COALESCE(offensive_reply_template, '') as offensive_reply_template,
	allow_multiple_replies, enable_comment_reply, like_comment, hide_after_reply,
	reply_type, match_type,
	COALESCE(filter_keywords, '') as filter_keywords,
	COALESCE(comment_reply_message, '') as comment_reply_message,
	COALESCE(reply_image_url, '') as reply_image_url,
	COALESCE(no_match_reply, '') as no_match_reply,
	private_reply_enabled,
	COALESCE(private_reply_message, '') as private_reply_message,
	private_reply_delay_seconds, is_active, created_at`

// ListActiveCampaignsForPage retrieves every active campaign that targets the
// given page: campaigns owned by the page's user that either apply to all
// pages or name this page in campaign_pages. Ordered by id so campaigns are
// always evaluated in creation order.
func (r *Repository) ListActiveCampaignsForPage(ctx context.Context, page *models.Page) ([]models.AutomationCampaign, error) {
	var campaigns []models.AutomationCampaign
	query := fmt.Sprintf(`SELECT %s FROM automation_campaigns c
		WHERE c.is_active = TRUE
		  AND c.user_id = ?
		  AND (c.apply_to_all_pages = TRUE
		       OR EXISTS (SELECT 1 FROM campaign_pages cp WHERE cp.campaign_id = c.id AND cp.page_id = ?))
		ORDER BY c.id ASC`, campaignColumns)

	err := r.mysql.db.SelectContext(ctx, &campaigns, query, page.UserID, page.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns for page: %w", err)
	}

	return campaigns, nil
}

// GetCampaign retrieves a campaign by ID
func (r *Repository) GetCampaign(ctx context.Context, id int64) (*models.AutomationCampaign, error) {
	var campaign models.AutomationCampaign
	query := fmt.Sprintf(`SELECT %s FROM automation_campaigns WHERE id = ?`, campaignColumns)

	err := r.mysql.db.GetContext(ctx, &campaign, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

// ListCampaignsForUser retrieves all campaigns owned by a user
func (r *Repository) ListCampaignsForUser(ctx context.Context, userID int64) ([]models.AutomationCampaign, error) {
	var campaigns []models.AutomationCampaign
	query := fmt.Sprintf(`SELECT %s FROM automation_campaigns WHERE user_id = ? ORDER BY id ASC`, campaignColumns)

	err := r.mysql.db.SelectContext(ctx, &campaigns, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}

	return campaigns, nil
}

// CreateCampaign inserts a campaign and its target page join rows. A campaign
// that does not apply to all pages must name at least one target page.
func (r *Repository) CreateCampaign(ctx context.Context, campaign *models.AutomationCampaign, targetPageIDs []int64) (int64, error) {
	if !campaign.ApplyToAllPages && len(targetPageIDs) == 0 {
		return 0, fmt.Errorf("campaign must target at least one page or apply to all pages")
	}

	tx, err := r.mysql.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO automation_campaigns
		(user_id, name, apply_to_all_pages, delete_offensive, offensive_keywords,
		 offensive_reply_template, allow_multiple_replies, enable_comment_reply,
		 like_comment, hide_after_reply, reply_type, match_type, filter_keywords,
		 comment_reply_message, reply_image_url, no_match_reply,
		 private_reply_enabled, private_reply_message, private_reply_delay_seconds, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := tx.ExecContext(ctx, query,
		campaign.UserID, campaign.Name, campaign.ApplyToAllPages, campaign.DeleteOffensive,
		campaign.OffensiveKeywords, campaign.OffensiveReplyTemplate, campaign.AllowMultipleReplies,
		campaign.EnableCommentReply, campaign.LikeComment, campaign.HideAfterReply,
		campaign.ReplyType, campaign.MatchType, campaign.FilterKeywords,
		campaign.CommentReplyMessage, campaign.ReplyImageURL, campaign.NoMatchReply,
		campaign.PrivateReplyEnabled, campaign.PrivateReplyMessage, campaign.PrivateReplyDelaySecs,
		campaign.IsActive)
	if err != nil {
		return 0, fmt.Errorf("failed to create campaign: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	if !campaign.ApplyToAllPages {
		for _, pageID := range targetPageIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO campaign_pages (campaign_id, page_id) VALUES (?, ?)`, id, pageID); err != nil {
				return 0, fmt.Errorf("failed to link campaign to page %d: %w", pageID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit campaign: %w", err)
	}

	return id, nil
}

// UpdateCampaign rewrites a campaign and replaces its target page join rows
func (r *Repository) UpdateCampaign(ctx context.Context, campaign *models.AutomationCampaign, targetPageIDs []int64) error {
	if !campaign.ApplyToAllPages && len(targetPageIDs) == 0 {
		return fmt.Errorf("campaign must target at least one page or apply to all pages")
	}

	tx, err := r.mysql.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE automation_campaigns SET
		name = ?, apply_to_all_pages = ?, delete_offensive = ?, offensive_keywords = ?,
		offensive_reply_template = ?, allow_multiple_replies = ?, enable_comment_reply = ?,
		like_comment = ?, hide_after_reply = ?, reply_type = ?, match_type = ?,
		filter_keywords = ?, comment_reply_message = ?, reply_image_url = ?,
		no_match_reply = ?, private_reply_enabled = ?, private_reply_message = ?,
		private_reply_delay_seconds = ?, is_active = ?
		WHERE id = ?`

	_, err = tx.ExecContext(ctx, query,
		campaign.Name, campaign.ApplyToAllPages, campaign.DeleteOffensive, campaign.OffensiveKeywords,
		campaign.OffensiveReplyTemplate, campaign.AllowMultipleReplies, campaign.EnableCommentReply,
		campaign.LikeComment, campaign.HideAfterReply, campaign.ReplyType, campaign.MatchType,
		campaign.FilterKeywords, campaign.CommentReplyMessage, campaign.ReplyImageURL,
		campaign.NoMatchReply, campaign.PrivateReplyEnabled, campaign.PrivateReplyMessage,
		campaign.PrivateReplyDelaySecs, campaign.IsActive, campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM campaign_pages WHERE campaign_id = ?`, campaign.ID); err != nil {
		return fmt.Errorf("failed to clear campaign pages: %w", err)
	}

	if !campaign.ApplyToAllPages {
		for _, pageID := range targetPageIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO campaign_pages (campaign_id, page_id) VALUES (?, ?)`, campaign.ID, pageID); err != nil {
				return fmt.Errorf("failed to link campaign to page %d: %w", pageID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit campaign update: %w", err)
	}

	return nil
}

// DeleteCampaign removes a campaign; join rows and logs cascade
func (r *Repository) DeleteCampaign(ctx context.Context, id int64) error {
	query := `DELETE FROM automation_campaigns WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	return nil
}
