package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables the service needs.  Statements are idempotent so
// Migrate can run on every start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		identifier  VARCHAR(320) NOT NULL,
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_users_identifier (identifier)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS profiles (
		user_id   BIGINT UNSIGNED PRIMARY KEY,
		is_admin  BOOLEAN NULL,
		CONSTRAINT fk_profiles_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		user_id     BIGINT UNSIGNED NOT NULL,
		token_hash  CHAR(64) NOT NULL,
		expires_at  DATETIME NOT NULL,
		revoked_at  DATETIME NULL,
		created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE KEY uq_refresh_hash (token_hash),
		KEY idx_refresh_user (user_id),
		CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS media (
		id              CHAR(26) PRIMARY KEY,
		type            VARCHAR(16) NOT NULL DEFAULT 'image',
		url             MEDIUMTEXT NOT NULL,
		thumbnail       MEDIUMTEXT NOT NULL,
		title           VARCHAR(255) NOT NULL,
		date            VARCHAR(64) NOT NULL DEFAULT '',
		description     TEXT NOT NULL,
		aspect_ratio    VARCHAR(32) NOT NULL DEFAULT 'aspect-square',
		uploaded_by     VARCHAR(320) NULL,
		created_at      DATETIME(3) NOT NULL,
		liked           BOOLEAN NOT NULL DEFAULT FALSE,
		poetic_caption  TEXT NULL,
		KEY idx_media_created (created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate step %d: %w", i+1, err)
		}
	}
	return nil
}
