package database

import (
	"database/sql"
	"errors"
	"fmt"
)

func IsUserWhitelisted(db *sql.DB, userID int64) (bool, error) {
	var exists bool
	err := db.QueryRow("SELECT EXISTS(SELECT 1 FROM whitelist WHERE user_id = ?)", userID).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("check whitelist: %w", err)
	}
	return exists, nil
}
