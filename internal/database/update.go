package database

import (
	"database/sql"
	"time"
)

func InsertIntoWhitelist(db *sql.DB, username string, id int64) error {
	_, err := db.Exec(`INSERT OR IGNORE INTO whitelist (user_id, username) VALUES (?, ?)`, id, username)
	return err
}

// TouchUser records that a user talked to the bot.
func TouchUser(db *sql.DB, id int64, username string) error {
	now := time.Now().Unix()
	_, err := db.Exec(`INSERT INTO users (user_id, username, first_seen, last_seen) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET username = excluded.username, last_seen = excluded.last_seen`,
		id, username, now, now)
	return err
}

// Download is one row of the download history.
type Download struct {
	UserID    int64
	URL       string
	Kind      string
	Transport string
	Size      int64
	Success   bool
	Error     string
	CreatedAt time.Time
}

func RecordDownload(db *sql.DB, d Download) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := db.Exec(`INSERT INTO history (user_id, url, kind, transport, size, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.UserID, d.URL, d.Kind, d.Transport, d.Size, d.Success, d.Error, d.CreatedAt.Unix())
	return err
}
