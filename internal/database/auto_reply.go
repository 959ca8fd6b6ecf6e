package database

import (
	"context"
	"fmt"
	"time"

	"github.com/pagepilot/pagepilot/internal/models"
)

// ListActiveRules retrieves enabled legacy rules for a page and trigger kind
func (r *Repository) ListActiveRules(ctx context.Context, pageID int64, ruleType string) ([]models.AutoReplyRule, error) {
	var rules []models.AutoReplyRule
	query := `SELECT id, page_id, rule_type, keyword, reply, is_active, created_at
		FROM auto_reply_rules WHERE page_id = ? AND rule_type = ? AND is_active = TRUE
		ORDER BY id ASC`

	err := r.mysql.db.SelectContext(ctx, &rules, query, pageID, ruleType)
	if err != nil {
		return nil, fmt.Errorf("failed to list auto reply rules: %w", err)
	}

	return rules, nil
}

// CreateRule inserts a legacy auto-reply rule
func (r *Repository) CreateRule(ctx context.Context, rule *models.AutoReplyRule) (int64, error) {
	query := `INSERT INTO auto_reply_rules (page_id, rule_type, keyword, reply, is_active)
		VALUES (?, ?, ?, ?, TRUE)`

	result, err := r.mysql.db.ExecContext(ctx, query, rule.PageID, rule.RuleType, rule.Keyword, rule.Reply)
	if err != nil {
		return 0, fmt.Errorf("failed to create auto reply rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// DeleteRule removes a legacy auto-reply rule
func (r *Repository) DeleteRule(ctx context.Context, id int64) error {
	query := `DELETE FROM auto_reply_rules WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete auto reply rule: %w", err)
	}

	return nil
}

// EnqueuePrivateReply schedules a delayed private message for the scheduler
// to drain
func (r *Repository) EnqueuePrivateReply(ctx context.Context, pageID int64, psid, message string, sendAfter time.Time) (int64, error) {
	query := `INSERT INTO pending_private_replies (page_id, psid, message, send_after, status)
		VALUES (?, ?, ?, ?, 'pending')`

	result, err := r.mysql.db.ExecContext(ctx, query, pageID, psid, message, sendAfter)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue private reply: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return id, nil
}

// GetDuePrivateReplies retrieves pending private replies whose send_after has
// passed, oldest first
func (r *Repository) GetDuePrivateReplies(ctx context.Context, now time.Time, limit int) ([]models.PendingPrivateReply, error) {
	var replies []models.PendingPrivateReply
	query := `SELECT id, page_id, psid, message, send_after, status, failure_reason, created_at
		FROM pending_private_replies
		WHERE status = 'pending' AND send_after <= ?
		ORDER BY send_after ASC LIMIT ?`

	err := r.mysql.db.SelectContext(ctx, &replies, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get due private replies: %w", err)
	}

	return replies, nil
}

// MarkPrivateReplyStatus records the outcome of a send attempt
func (r *Repository) MarkPrivateReplyStatus(ctx context.Context, id int64, status string, failureReason *string) error {
	query := `UPDATE pending_private_replies SET status = ?, failure_reason = ? WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, status, failureReason, id)
	if err != nil {
		return fmt.Errorf("failed to update private reply status: %w", err)
	}

	return nil
}
