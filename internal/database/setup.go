package database

import (
	"database/sql"
	"fmt"

	"guildchat-backend/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

func setPragmaValues(db *sql.DB) error {
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return err
	}

	// these next 2 extremely speed up performance of sqlite
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return err
	}

	if _, err := db.Exec("PRAGMA synchronous = normal"); err != nil {
		return err
	}

	return nil
}

// OpenSqlite opens a standalone sqlite database at path and creates
// the schema. Used for the self-contained mode and by tests.
func OpenSqlite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	err = setPragmaValues(db)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	err = createTables(db)
	if err != nil {
		return nil, err
	}

	return db, nil
}

// Setup opens mysql, or a local sqlite file in self-contained mode,
// and creates the schema.
func Setup(cfg *config.Config) (*sql.DB, error) {
	if cfg.SelfContained {
		return OpenSqlite("./guildchat.db")
	}

	connString := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&timeout=10s",
		cfg.DbUser, cfg.DbPassword, cfg.DbAddress, cfg.DbPort, cfg.DbDatabase)

	db, err := sql.Open("mysql", connString)
	if err != nil {
		return nil, err
	}

	err = db.Ping()
	if err != nil {
		return nil, err
	}

	err = createTables(db)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id BIGINT PRIMARY KEY,
			username VARCHAR(32) NOT NULL,
			discriminator VARCHAR(4) NOT NULL,
			password VARCHAR(128) NOT NULL,
			UNIQUE (username, discriminator)
		);`,

		`CREATE TABLE IF NOT EXISTS guilds (
			id BIGINT PRIMARY KEY,
			owner_id BIGINT NOT NULL,
			name VARCHAR(64) NOT NULL,
			FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS channels (
			id BIGINT PRIMARY KEY,
			guild_id BIGINT,
			type VARCHAR(16) NOT NULL,
			parent_id BIGINT,
			name VARCHAR(32) NOT NULL,
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS roles (
			id BIGINT PRIMARY KEY,
			guild_id BIGINT NOT NULL,
			name VARCHAR(32) NOT NULL,
			position INT NOT NULL,
			permissions BIGINT NOT NULL,
			is_everyone BOOLEAN NOT NULL,
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS members (
			guild_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			joined_at BIGINT NOT NULL,
			PRIMARY KEY (guild_id, user_id),
			FOREIGN KEY (guild_id) REFERENCES guilds(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS member_roles (
			guild_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			role_id BIGINT NOT NULL,
			PRIMARY KEY (guild_id, user_id, role_id),
			FOREIGN KEY (guild_id, user_id) REFERENCES members(guild_id, user_id) ON DELETE CASCADE,
			FOREIGN KEY (role_id) REFERENCES roles(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS messages (
			id BIGINT PRIMARY KEY,
			channel_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			content TEXT NOT NULL,
			edited BOOLEAN NOT NULL,
			FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS reactions (
			message_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			emoji VARCHAR(32) NOT NULL,
			PRIMARY KEY (message_id, user_id, emoji),
			FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,

		`CREATE TABLE IF NOT EXISTS dm_recipients (
			channel_id BIGINT NOT NULL,
			user_id BIGINT NOT NULL,
			PRIMARY KEY (channel_id, user_id),
			FOREIGN KEY (channel_id) REFERENCES channels(id) ON DELETE CASCADE,
			FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
		);`,
	}

	for i := range statements {
		_, err := db.Exec(statements[i])
		if err != nil {
			return err
		}
	}

	return nil
}
