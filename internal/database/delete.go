package database

import (
	"database/sql"
	"fmt"
)

// DeleteUser removes username from the whitelist and reports whether a row
// was actually deleted.
func DeleteUser(db *sql.DB, username string) (bool, error) {
	res, err := db.Exec("DELETE FROM whitelist WHERE username = ?", username)
	if err != nil {
		return false, fmt.Errorf("delete %s from whitelist: %w", username, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
