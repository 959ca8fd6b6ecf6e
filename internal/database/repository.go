package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/pagepilot/pagepilot/internal/models"
	"github.com/pagepilot/pagepilot/internal/utils/crypto"
)

var (
	// ErrDuplicateLog is returned when another worker already recorded a log
	// for the same (campaign, comment) pair
	ErrDuplicateLog = errors.New("automation log already recorded for this comment")

	// ErrDuplicateMessage is returned when a message with the same external
	// mid already exists in the conversation
	ErrDuplicateMessage = errors.New("message already stored for this mid")
)

// isDuplicateKey reports whether err is a MySQL unique constraint violation
func isDuplicateKey(err error) bool {
	var mysqlErr *gomysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

// Repository handles all database operations
type Repository struct {
	mysql         *MySQL
	encryptionKey string
}

// NewRepository creates a new repository instance
func NewRepository(mysql *MySQL, encryptionKey string) *Repository {
	return &Repository{
		mysql:         mysql,
		encryptionKey: encryptionKey,
	}
}

// UpsertPage inserts a page connection or refreshes its token and name.
// The access token is encrypted before it touches the database.
func (r *Repository) UpsertPage(ctx context.Context, userID int64, pageID, name, accessToken string) (*models.Page, error) {
	encryptedToken, err := crypto.EncryptToken(accessToken, r.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	query := `INSERT INTO pages (user_id, page_id, name, access_token, is_active)
		VALUES (?, ?, ?, ?, TRUE)
		ON DUPLICATE KEY UPDATE
			id = LAST_INSERT_ID(id),
			name = VALUES(name),
			access_token = VALUES(access_token),
			is_active = TRUE`

	result, err := r.mysql.db.ExecContext(ctx, query, userID, pageID, name, encryptedToken)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert page: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return &models.Page{
		ID:          id,
		UserID:      userID,
		PageID:      pageID,
		Name:        name,
		AccessToken: accessToken, // Return plaintext token to caller
		IsActive:    true,
		CreatedAt:   time.Now(),
	}, nil
}

// GetPageByExternalID retrieves an active page by its Facebook page ID.
// Returns (nil, nil) when no active page is connected for that ID.
func (r *Repository) GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error) {
	var page models.Page
	query := `SELECT id, user_id, page_id, name, access_token, is_active, created_at, updated_at
		FROM pages WHERE page_id = ? AND is_active = TRUE LIMIT 1`

	err := r.mysql.db.GetContext(ctx, &page, query, pageID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}

	decrypted, err := crypto.DecryptToken(page.AccessToken, r.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("database data corruption: failed to decrypt page token (ID: %d): %w", page.ID, err)
	}
	page.AccessToken = decrypted

	return &page, nil
}

// GetPageByID retrieves a page by its internal ID
func (r *Repository) GetPageByID(ctx context.Context, id int64) (*models.Page, error) {
	var page models.Page
	query := `SELECT id, user_id, page_id, name, access_token, is_active, created_at, updated_at
		FROM pages WHERE id = ?`

	err := r.mysql.db.GetContext(ctx, &page, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get page: %w", err)
	}

	decrypted, err := crypto.DecryptToken(page.AccessToken, r.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("database data corruption: failed to decrypt page token (ID: %d): %w", page.ID, err)
	}
	page.AccessToken = decrypted

	return &page, nil
}

// ListPagesForUser retrieves all pages connected by a user
func (r *Repository) ListPagesForUser(ctx context.Context, userID int64) ([]models.Page, error) {
	var pages []models.Page
	query := `SELECT id, user_id, page_id, name, access_token, is_active, created_at, updated_at
		FROM pages WHERE user_id = ? ORDER BY id ASC`

	err := r.mysql.db.SelectContext(ctx, &pages, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}

	for i := range pages {
		decrypted, err := crypto.DecryptToken(pages[i].AccessToken, r.encryptionKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt page token (ID: %d): %w", pages[i].ID, err)
		}
		pages[i].AccessToken = decrypted
	}

	return pages, nil
}

// GetActivePageForUser retrieves one active page owned by a user.
// Returns (nil, nil) when the user has no active page.
func (r *Repository) GetActivePageForUser(ctx context.Context, userID int64) (*models.Page, error) {
	var page models.Page
	query := `SELECT id, user_id, page_id, name, access_token, is_active, created_at, updated_at
		FROM pages WHERE user_id = ? AND is_active = TRUE ORDER BY id ASC LIMIT 1`

	err := r.mysql.db.GetContext(ctx, &page, query, userID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get active page: %w", err)
	}

	decrypted, err := crypto.DecryptToken(page.AccessToken, r.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("database data corruption: failed to decrypt page token (ID: %d): %w", page.ID, err)
	}
	page.AccessToken = decrypted

	return &page, nil
}

// DeletePage removes a page and all dependent rows via cascade
func (r *Repository) DeletePage(ctx context.Context, id int64) error {
	query := `DELETE FROM pages WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete page: %w", err)
	}

	return nil
}

// SetPageActive toggles the active flag of a page
func (r *Repository) SetPageActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE pages SET is_active = ? WHERE id = ?`

	_, err := r.mysql.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("failed to update page status: %w", err)
	}

	return nil
}
