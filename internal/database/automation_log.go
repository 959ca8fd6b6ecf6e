package database

import (
	"context"
	"fmt"

	"github.com/pagepilot/pagepilot/internal/models"
)

// WasProcessed reports whether a campaign has already acted on a comment.
// Backed by the unique (campaign_id, comment_id) key on automation_logs.
func (r *Repository) WasProcessed(ctx context.Context, campaignID int64, commentID string) (bool, error) {
	var count int
	query := `SELECT COUNT(*) FROM automation_logs WHERE campaign_id = ? AND comment_id = ?`

	err := r.mysql.db.GetContext(ctx, &count, query, campaignID, commentID)
	if err != nil {
		return false, fmt.Errorf("failed to check automation log: %w", err)
	}

	return count > 0, nil
}

// RecordLog writes one audit row for a (campaign, comment) pass. When two
// workers race on the same comment the unique key rejects the loser and
// ErrDuplicateLog is returned; callers treat it as benign, the other writer
// won.
func (r *Repository) RecordLog(ctx context.Context, entry *models.AutomationLog) error {
	query := `INSERT INTO automation_logs
		(campaign_id, page_id, comment_id, commenter_id, comment_text, action, reply_text, is_offensive)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.mysql.db.ExecContext(ctx, query,
		entry.CampaignID, entry.PageID, entry.CommentID, entry.CommenterID,
		entry.CommentText, entry.Action, entry.ReplyText, entry.IsOffensive)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateLog
		}
		return fmt.Errorf("failed to record automation log: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id

	return nil
}

// CountLogsForCampaign returns how many comments a campaign has acted on
func (r *Repository) CountLogsForCampaign(ctx context.Context, campaignID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM automation_logs WHERE campaign_id = ?`

	err := r.mysql.db.GetContext(ctx, &count, query, campaignID)
	if err != nil {
		return 0, fmt.Errorf("failed to count automation logs: %w", err)
	}

	return count, nil
}

// ListLogsForCampaign retrieves recent audit rows for a campaign, newest first
func (r *Repository) ListLogsForCampaign(ctx context.Context, campaignID int64, limit int) ([]models.AutomationLog, error) {
	var logs []models.AutomationLog
	query := `SELECT id, campaign_id, page_id, comment_id, commenter_id,
		COALESCE(comment_text, '') as comment_text, action, reply_text, is_offensive, created_at
		FROM automation_logs WHERE campaign_id = ?
		ORDER BY id DESC LIMIT ?`

	err := r.mysql.db.SelectContext(ctx, &logs, query, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list automation logs: %w", err)
	}

	return logs, nil
}
