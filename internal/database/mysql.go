package database

import (
	"context"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// MySQL wraps the sqlx.DB connection
type MySQL struct {
	db *sqlx.DB
}

// NewMySQL creates a new MySQL connection with retry logic
func NewMySQL(dsn string) (*MySQL, error) {
	var db *sqlx.DB
	var err error

	// Retry connection with exponential backoff
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		db, err = sqlx.Connect("mysql", dsn)
		if err == nil {
			break
		}

		waitTime := time.Duration(1<<uint(i)) * time.Second
		log.Warn().Err(err).
			Int("attempt", i+1).
			Int("maxRetries", maxRetries).
			Dur("retryIn", waitTime).
			Msg("Failed to connect to MySQL, retrying")
		time.Sleep(waitTime)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to MySQL after %d attempts: %w", maxRetries, err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	mysql := &MySQL{db: db}

	// Run migrations
	if err := mysql.migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Connected to MySQL successfully")
	return mysql, nil
}

// migrate creates the required tables
func (m *MySQL) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			page_id VARCHAR(64) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			is_active BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uk_user_page (user_id, page_id),
			INDEX idx_page_id (page_id)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS page_users (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			page_id BIGINT NOT NULL,
			psid VARCHAR(64) NOT NULL,
			name VARCHAR(255) NULL,
			profile_pic TEXT NULL,
			last_interaction_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uk_page_psid (page_id, psid),
			FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			page_id BIGINT NOT NULL,
			page_user_id BIGINT NOT NULL,
			unread_count INT NOT NULL DEFAULT 0,
			last_message TEXT,
			last_message_at TIMESTAMP NULL DEFAULT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
			UNIQUE KEY uk_page_user (page_id, page_user_id),
			FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE,
			FOREIGN KEY (page_user_id) REFERENCES page_users(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			conversation_id BIGINT NOT NULL,
			from_type ENUM('page','user') NOT NULL,
			message_type VARCHAR(16) NOT NULL DEFAULT 'text',
			message TEXT,
			attachment JSON NULL,
			external_mid VARCHAR(128) NULL,
			sent_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uk_conv_mid (conversation_id, external_mid),
			INDEX idx_conversation (conversation_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS automation_campaigns (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name VARCHAR(255) NOT NULL,
			apply_to_all_pages BOOLEAN DEFAULT FALSE,
			delete_offensive BOOLEAN DEFAULT FALSE,
			offensive_keywords TEXT,
			offensive_reply_template TEXT,
			allow_multiple_replies BOOLEAN DEFAULT FALSE,
			enable_comment_reply BOOLEAN DEFAULT FALSE,
			like_comment BOOLEAN DEFAULT FALSE,
			hide_after_reply BOOLEAN DEFAULT FALSE,
			reply_type VARCHAR(16) NOT NULL DEFAULT 'generic',
			match_type VARCHAR(16) NOT NULL DEFAULT 'any',
			filter_keywords TEXT,
			comment_reply_message TEXT,
			reply_image_url TEXT,
			no_match_reply TEXT,
			private_reply_enabled BOOLEAN DEFAULT FALSE,
			private_reply_message TEXT,
			private_reply_delay_seconds INT NOT NULL DEFAULT 0,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_user (user_id),
			INDEX idx_active (is_active)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS campaign_pages (
			campaign_id BIGINT NOT NULL,
			page_id BIGINT NOT NULL,
			UNIQUE KEY uk_campaign_page (campaign_id, page_id),
			FOREIGN KEY (campaign_id) REFERENCES automation_campaigns(id) ON DELETE CASCADE,
			FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS automation_logs (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			campaign_id BIGINT NOT NULL,
			page_id BIGINT NOT NULL,
			comment_id VARCHAR(128) NOT NULL,
			commenter_id VARCHAR(64) NOT NULL DEFAULT '',
			comment_text TEXT,
			action VARCHAR(64) NOT NULL,
			reply_text TEXT NULL,
			is_offensive BOOLEAN DEFAULT FALSE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE KEY uk_campaign_comment (campaign_id, comment_id),
			INDEX idx_page (page_id),
			FOREIGN KEY (campaign_id) REFERENCES automation_campaigns(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS auto_reply_rules (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			page_id BIGINT NOT NULL,
			rule_type ENUM('comment','inbox','live') NOT NULL,
			keyword VARCHAR(255) NOT NULL,
			reply TEXT NOT NULL,
			is_active BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_page_type (page_id, rule_type),
			FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,

		`CREATE TABLE IF NOT EXISTS pending_private_replies (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			page_id BIGINT NOT NULL,
			psid VARCHAR(64) NOT NULL,
			message TEXT NOT NULL,
			send_after TIMESTAMP NOT NULL,
			status ENUM('pending','sent','failed') NOT NULL DEFAULT 'pending',
			failure_reason TEXT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			INDEX idx_due (status, send_after),
			FOREIGN KEY (page_id) REFERENCES pages(id) ON DELETE CASCADE
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci;`,
	}

	for _, query := range queries {
		if _, err := m.db.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// DB returns the underlying sqlx.DB for advanced operations
func (m *MySQL) DB() *sqlx.DB {
	return m.db
}

// Close closes the database connection
func (m *MySQL) Close() error {
	return m.db.Close()
}

// Ping checks if database connection is alive
func (m *MySQL) Ping(ctx context.Context) error {
	return m.db.PingContext(ctx)
}
