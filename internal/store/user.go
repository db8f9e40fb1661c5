package store

import "fmt"

// WipeUserData deletes every contact, draft and batch owned by the user.
// Used on logout and account switch.
func (db *DB) WipeUserData(userID string) error {
	tx, err := db.Begin()
	if err != nil {
		return wrap("wipe user data", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"cached_contacts", "draft_messages", "queued_batches"} {
		if _, err := tx.Exec(`DELETE FROM `+table+` WHERE user_id = ?`, userID); err != nil {
			return wrap("wipe user data", fmt.Errorf("clear %s: %w", table, err))
		}
	}
	return wrap("wipe user data", tx.Commit())
}

// GetStorageCounts returns how many rows of each family the user owns.
func (db *DB) GetStorageCounts(userID string) (*StorageCounts, error) {
	var c StorageCounts
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM cached_contacts WHERE user_id = ?),
			(SELECT COUNT(*) FROM draft_messages WHERE user_id = ?),
			(SELECT COUNT(*) FROM queued_batches WHERE user_id = ?)`,
		userID, userID, userID).Scan(&c.Contacts, &c.Drafts, &c.QueuedBatches)
	if err != nil {
		return nil, wrap("storage counts", err)
	}
	return &c, nil
}
