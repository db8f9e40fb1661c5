package store

import (
	"database/sql"
	"fmt"
	"time"
)

const batchColumns = `id, user_id, message_id, contact_ids, message, status, priority, scheduled_at, error_message, created_at, updated_at`

func scanBatch(scan func(dest ...any) error) (*QueuedBatch, error) {
	var (
		b                    QueuedBatch
		ids, status          string
		scheduledAt          sql.NullInt64
		errMsg               sql.NullString
		createdAt, updatedAt int64
	)
	if err := scan(&b.ID, &b.UserID, &b.MessageID, &ids, &b.Message, &status, &b.Priority, &scheduledAt, &errMsg, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	contactIDs, err := decodeIDs(ids)
	if err != nil {
		return nil, err
	}
	b.ContactIDs = contactIDs
	b.Status = BatchStatus(status)
	b.ScheduledAt = timePtr(scheduledAt)
	b.ErrorMessage = errMsg.String
	b.CreatedAt = fromMillis(createdAt)
	b.UpdatedAt = fromMillis(updatedAt)
	return &b, nil
}

// EnqueueBatch appends a new batch to the queue in pending status. Queue
// entries are never upserted: a duplicate id is an error.
func (db *DB) EnqueueBatch(b *QueuedBatch) error {
	ids, err := encodeIDs(b.ContactIDs)
	if err != nil {
		return wrap("enqueue batch", err)
	}
	now := time.Now()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = b.CreatedAt
	b.Status = BatchPending
	b.ErrorMessage = ""

	_, err = db.Exec(`
		INSERT INTO queued_batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?)`,
		b.ID, b.UserID, b.MessageID, ids, b.Message, string(b.Status), b.Priority,
		nullMillis(b.ScheduledAt), b.CreatedAt.UnixMilli(), b.UpdatedAt.UnixMilli())
	return wrap("enqueue batch", err)
}

// ListBatches returns the user's batches in drain order: highest priority
// first, then oldest first. A nil status returns every batch.
func (db *DB) ListBatches(userID string, status *BatchStatus) ([]QueuedBatch, error) {
	q := `SELECT ` + batchColumns + ` FROM queued_batches WHERE user_id = ?`
	args := []any{userID}
	if status != nil {
		q += " AND status = ?"
		args = append(args, string(*status))
	}
	q += " ORDER BY priority DESC, created_at ASC, id ASC"

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, wrap("list batches", err)
	}
	defer func() { _ = rows.Close() }()

	var batches []QueuedBatch
	for rows.Next() {
		b, err := scanBatch(rows.Scan)
		if err != nil {
			return nil, wrap("list batches", err)
		}
		batches = append(batches, *b)
	}
	return batches, wrap("list batches", rows.Err())
}

// GetBatch returns a batch by id.
func (db *DB) GetBatch(batchID string) (*QueuedBatch, error) {
	row := db.QueryRow(`SELECT `+batchColumns+` FROM queued_batches WHERE id = ?`, batchID)
	b, err := scanBatch(row.Scan)
	if err == sql.ErrNoRows {
		return nil, wrap("get batch", fmt.Errorf("batch %q: %w", batchID, ErrNotFound))
	}
	if err != nil {
		return nil, wrap("get batch", err)
	}
	return b, nil
}

// UpdateBatchStatus moves a batch along pending -> sending -> completed|failed.
// Any other transition returns a *TransitionError and leaves the row as is.
// errMsg is stored only for BatchFailed.
func (db *DB) UpdateBatchStatus(batchID string, status BatchStatus, errMsg string) error {
	tx, err := db.Begin()
	if err != nil {
		return wrap("update batch status", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRow(`SELECT status FROM queued_batches WHERE id = ?`, batchID).Scan(&current)
	if err == sql.ErrNoRows {
		return wrap("update batch status", fmt.Errorf("batch %q: %w", batchID, ErrNotFound))
	}
	if err != nil {
		return wrap("update batch status", err)
	}

	from := BatchStatus(current)
	if !CanTransition(from, status) {
		return &TransitionError{BatchID: batchID, From: from, To: status}
	}

	var stored sql.NullString
	if status == BatchFailed {
		stored = nullString(errMsg)
	}
	if _, err := tx.Exec(`
		UPDATE queued_batches SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), stored, time.Now().UnixMilli(), batchID); err != nil {
		return wrap("update batch status", err)
	}
	return wrap("update batch status", tx.Commit())
}

// DeleteBatch permanently removes a batch.
func (db *DB) DeleteBatch(batchID string) error {
	_, err := db.Exec(`DELETE FROM queued_batches WHERE id = ?`, batchID)
	return wrap("delete batch", err)
}
