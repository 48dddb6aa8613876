package database

import (
	"database/sql"
	"fmt"
	"time"
)

func GetAllWhitelist(db *sql.DB) ([]int64, []string, error) {
	rows, err := db.Query("SELECT user_id, username FROM whitelist ORDER BY user_id")
	if err != nil {
		return nil, nil, fmt.Errorf("query whitelist: %w", err)
	}
	defer rows.Close()

	var allID []int64
	var usernames []string
	for rows.Next() {
		var id int64
		var username sql.NullString
		if err := rows.Scan(&id, &username); err != nil {
			return nil, nil, err
		}
		allID = append(allID, id)
		usernames = append(usernames, username.String)
	}
	return allID, usernames, rows.Err()
}

// Stats summarizes bot usage.
type Stats struct {
	Users     int
	Downloads int
	Failed    int
	Bytes     int64
}

func GetStats(db *sql.DB) (Stats, error) {
	var s Stats
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&s.Users); err != nil {
		return s, fmt.Errorf("count users: %w", err)
	}
	err := db.QueryRow(`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(size), 0) FROM history`).Scan(&s.Downloads, &s.Failed, &s.Bytes)
	if err != nil {
		return s, fmt.Errorf("summarize history: %w", err)
	}
	return s, nil
}

// RecentDownloads returns the newest limit history rows, newest first.
func RecentDownloads(db *sql.DB, limit int) ([]Download, error) {
	rows, err := db.Query(`SELECT user_id, url, kind, transport, size, success, error, created_at
		FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Download
	for rows.Next() {
		var d Download
		var created int64
		if err := rows.Scan(&d.UserID, &d.URL, &d.Kind, &d.Transport, &d.Size, &d.Success, &d.Error, &created); err != nil {
			return nil, err
		}
		d.CreatedAt = time.Unix(created, 0)
		out = append(out, d)
	}
	return out, rows.Err()
}
