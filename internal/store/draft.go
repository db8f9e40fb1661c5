package store

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertDraft inserts or updates a draft. RecipientCount is recomputed from
// ContactIDs.
func (db *DB) UpsertDraft(d *DraftMessage) error {
	ids, err := encodeIDs(d.ContactIDs)
	if err != nil {
		return wrap("upsert draft", err)
	}
	d.RecipientCount = len(d.ContactIDs)
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.UpdatedAt
	}

	_, err = db.Exec(`
		INSERT INTO draft_messages (id, user_id, title, content, recipient_count, contact_ids, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			recipient_count = excluded.recipient_count,
			contact_ids = excluded.contact_ids,
			updated_at = excluded.updated_at`,
		d.ID, d.UserID, d.Title, d.Content, d.RecipientCount, ids,
		d.CreatedAt.UnixMilli(), d.UpdatedAt.UnixMilli())
	return wrap("upsert draft", err)
}

func scanDraft(scan func(dest ...any) error) (*DraftMessage, error) {
	var (
		d                    DraftMessage
		ids                  string
		createdAt, updatedAt int64
	)
	if err := scan(&d.ID, &d.UserID, &d.Title, &d.Content, &d.RecipientCount, &ids, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	contactIDs, err := decodeIDs(ids)
	if err != nil {
		return nil, err
	}
	d.ContactIDs = contactIDs
	d.CreatedAt = fromMillis(createdAt)
	d.UpdatedAt = fromMillis(updatedAt)
	return &d, nil
}

// ListDraftsForUser returns the user's drafts, most recently updated first.
func (db *DB) ListDraftsForUser(userID string) ([]DraftMessage, error) {
	rows, err := db.Query(`
		SELECT id, user_id, title, content, recipient_count, contact_ids, created_at, updated_at
		FROM draft_messages
		WHERE user_id = ?
		ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, wrap("list drafts", err)
	}
	defer func() { _ = rows.Close() }()

	var drafts []DraftMessage
	for rows.Next() {
		d, err := scanDraft(rows.Scan)
		if err != nil {
			return nil, wrap("list drafts", err)
		}
		drafts = append(drafts, *d)
	}
	return drafts, wrap("list drafts", rows.Err())
}

// GetDraft returns one of the user's drafts.
func (db *DB) GetDraft(userID, draftID string) (*DraftMessage, error) {
	row := db.QueryRow(`
		SELECT id, user_id, title, content, recipient_count, contact_ids, created_at, updated_at
		FROM draft_messages
		WHERE user_id = ? AND id = ?`, userID, draftID)
	d, err := scanDraft(row.Scan)
	if err == sql.ErrNoRows {
		return nil, wrap("get draft", fmt.Errorf("draft %q: %w", draftID, ErrNotFound))
	}
	if err != nil {
		return nil, wrap("get draft", err)
	}
	return d, nil
}

// DeleteDraft removes one of the user's drafts.
func (db *DB) DeleteDraft(userID, draftID string) error {
	_, err := db.Exec(`DELETE FROM draft_messages WHERE user_id = ? AND id = ?`, userID, draftID)
	return wrap("delete draft", err)
}
