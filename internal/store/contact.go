package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const contactColumns = `id, user_id, name, phone, source, server_id, last_synced, created_at, updated_at`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

const insertContactSQL = `
		INSERT INTO cached_contacts (` + contactColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

func contactArgs(c *CachedContact) []any {
	return []any{
		c.ID, c.UserID, c.Name, c.Phone, string(c.Source),
		nullString(c.ServerID), nullMillis(c.LastSynced),
		toMillis(c.CreatedAt), toMillis(c.UpdatedAt),
	}
}

// insertContact writes c, replacing any row of the same user with the same id.
func insertContact(ex execer, c *CachedContact) error {
	_, err := ex.Exec(insertContactSQL+`
		ON CONFLICT(user_id, id) DO UPDATE SET
			name = excluded.name,
			phone = excluded.phone,
			source = excluded.source,
			server_id = excluded.server_id,
			last_synced = excluded.last_synced,
			updated_at = excluded.updated_at`,
		contactArgs(c)...)
	return err
}

func scanContactRow(scan interface{ Scan(dest ...any) error }) (*CachedContact, error) {
	var (
		c                    CachedContact
		source               string
		serverID             sql.NullString
		lastSynced           sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := scan.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &source, &serverID, &lastSynced, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.Source = ContactSource(source)
	c.ServerID = serverID.String
	c.LastSynced = timePtr(lastSynced)
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updatedAt)
	return &c, nil
}

func scanContacts(rows *sql.Rows) ([]CachedContact, error) {
	defer func() { _ = rows.Close() }()

	var contacts []CachedContact
	for rows.Next() {
		c, err := scanContactRow(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// ReplaceContactsForUser deletes every cached contact of the user and inserts
// the given set in one transaction. Only meant for a full refresh; the
// reconciler uses MergeServerContacts so unsynced rows survive.
func (db *DB) ReplaceContactsForUser(userID string, contacts []CachedContact) error {
	tx, err := db.Begin()
	if err != nil {
		return wrap("replace contacts", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM cached_contacts WHERE user_id = ?`, userID); err != nil {
		return wrap("replace contacts", fmt.Errorf("clear: %w", err))
	}
	for i := range contacts {
		c := contacts[i]
		c.UserID = userID
		if err := insertContact(tx, &c); err != nil {
			return wrap("replace contacts", fmt.Errorf("insert %q: %w", c.ID, err))
		}
	}
	return wrap("replace contacts", tx.Commit())
}

// ListContactsForUser returns the user's contacts sorted by name.
func (db *DB) ListContactsForUser(userID string) ([]CachedContact, error) {
	rows, err := db.Query(`
		SELECT `+contactColumns+`
		FROM cached_contacts
		WHERE user_id = ?
		ORDER BY name ASC, id ASC`, userID)
	if err != nil {
		return nil, wrap("list contacts", err)
	}
	contacts, err := scanContacts(rows)
	return contacts, wrap("list contacts", err)
}

// GetContactsByID returns the user's contacts with the given ids, in name
// order. Unknown ids are skipped.
func (db *DB) GetContactsByID(userID string, ids []string) ([]CachedContact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := db.Query(`
		SELECT `+contactColumns+`
		FROM cached_contacts
		WHERE user_id = ? AND id IN (`+placeholders+`)
		ORDER BY name ASC, id ASC`, args...)
	if err != nil {
		return nil, wrap("get contacts", err)
	}
	contacts, err := scanContacts(rows)
	return contacts, wrap("get contacts", err)
}

// GetContact returns one of the user's contacts.
func (db *DB) GetContact(userID, contactID string) (*CachedContact, error) {
	row := db.QueryRow(`SELECT `+contactColumns+` FROM cached_contacts WHERE user_id = ? AND id = ?`, userID, contactID)
	c, err := scanContactRow(row)
	if err == sql.ErrNoRows {
		return nil, wrap("get contact", fmt.Errorf("contact %q: %w", contactID, ErrNotFound))
	}
	if err != nil {
		return nil, wrap("get contact", err)
	}
	return c, nil
}

// UpsertContact inserts or replaces a contact by id within its user.
func (db *DB) UpsertContact(c *CachedContact) error {
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = c.UpdatedAt
	}
	return wrap("upsert contact", insertContact(db, c))
}

// DeleteContact removes one of the user's contacts.
func (db *DB) DeleteContact(userID, contactID string) error {
	_, err := db.Exec(`DELETE FROM cached_contacts WHERE user_id = ? AND id = ?`, userID, contactID)
	return wrap("delete contact", err)
}

// MarkContactSynced records the server id of a local contact and stamps the
// sync time.
func (db *DB) MarkContactSynced(userID, localID, serverID string) error {
	now := time.Now().UnixMilli()
	res, err := db.Exec(`
		UPDATE cached_contacts
		SET server_id = ?, last_synced = ?, updated_at = ?
		WHERE user_id = ? AND id = ?`,
		serverID, now, now, userID, localID)
	if err != nil {
		return wrap("mark contact synced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("mark contact synced", err)
	}
	if n == 0 {
		return wrap("mark contact synced", fmt.Errorf("contact %q: %w", localID, ErrNotFound))
	}
	return nil
}

// upsertServerContact writes one server contact: a row already carrying
// its server id is updated in place and keeps its local id; otherwise a new
// row is inserted under the server id, or under a fresh id when a local row
// already holds that id.
func upsertServerContact(tx *sql.Tx, userID string, sc CachedContact, now int64) (*CachedContact, error) {
	if sc.ServerID == "" {
		sc.ServerID = sc.ID
	}
	res, err := tx.Exec(`
		UPDATE cached_contacts
		SET name = ?, phone = ?, source = ?, last_synced = ?, updated_at = ?
		WHERE user_id = ? AND server_id = ?`,
		sc.Name, sc.Phone, string(sc.Source), now, toMillis(sc.UpdatedAt), userID, sc.ServerID)
	if err != nil {
		return nil, fmt.Errorf("update %q: %w", sc.ServerID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		row, err := scanContactRow(tx.QueryRow(`SELECT `+contactColumns+` FROM cached_contacts WHERE user_id = ? AND server_id = ?`, userID, sc.ServerID))
		if err != nil {
			return nil, fmt.Errorf("reload %q: %w", sc.ServerID, err)
		}
		return row, nil
	}

	rowID := sc.ServerID
	var taken int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM cached_contacts WHERE user_id = ? AND id = ?`, userID, rowID).Scan(&taken); err != nil {
		return nil, fmt.Errorf("check id %q: %w", rowID, err)
	}
	if taken > 0 {
		rowID = uuid.NewString()
	}

	synced := fromMillis(now)
	row := &CachedContact{
		ID:         rowID,
		UserID:     userID,
		Name:       sc.Name,
		Phone:      sc.Phone,
		Source:     sc.Source,
		ServerID:   sc.ServerID,
		LastSynced: &synced,
		CreatedAt:  sc.CreatedAt,
		UpdatedAt:  sc.UpdatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = synced
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = synced
	}
	if _, err := tx.Exec(insertContactSQL, contactArgs(row)...); err != nil {
		return nil, fmt.Errorf("insert %q: %w", sc.ServerID, err)
	}
	return row, nil
}

// SaveServerContacts stores contacts the server just created or returned,
// marked synced, without pruning anything. It returns the stored rows in
// input order.
func (db *DB) SaveServerContacts(userID string, server []CachedContact) ([]CachedContact, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, wrap("save server contacts", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	out := make([]CachedContact, 0, len(server))
	for _, sc := range server {
		row, err := upsertServerContact(tx, userID, sc, now)
		if err != nil {
			return nil, wrap("save server contacts", err)
		}
		out = append(out, *row)
	}
	if err := tx.Commit(); err != nil {
		return nil, wrap("save server contacts", err)
	}
	return out, nil
}

// MergeServerContacts folds the server's contact list into the cache without
// touching local-only rows. Each server contact is written as in
// SaveServerContacts; a synced row whose server id is gone from the list is
// removed, unless its server id is in protect.
//
// Every written row gets last_synced = now.
func (db *DB) MergeServerContacts(userID string, server []CachedContact, protect []string) error {
	tx, err := db.Begin()
	if err != nil {
		return wrap("merge contacts", fmt.Errorf("begin tx: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	seen := make(map[string]struct{}, len(server)+len(protect))
	for _, id := range protect {
		seen[id] = struct{}{}
	}

	for _, sc := range server {
		row, err := upsertServerContact(tx, userID, sc, now)
		if err != nil {
			return wrap("merge contacts", err)
		}
		seen[row.ServerID] = struct{}{}
	}

	rows, err := tx.Query(`SELECT id, server_id FROM cached_contacts WHERE user_id = ? AND server_id IS NOT NULL`, userID)
	if err != nil {
		return wrap("merge contacts", fmt.Errorf("scan synced: %w", err))
	}
	var stale []string
	for rows.Next() {
		var id, serverID string
		if err := rows.Scan(&id, &serverID); err != nil {
			_ = rows.Close()
			return wrap("merge contacts", err)
		}
		if _, ok := seen[serverID]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return wrap("merge contacts", err)
	}
	_ = rows.Close()

	for _, id := range stale {
		if _, err := tx.Exec(`DELETE FROM cached_contacts WHERE user_id = ? AND id = ?`, userID, id); err != nil {
			return wrap("merge contacts", fmt.Errorf("prune %q: %w", id, err))
		}
	}

	return wrap("merge contacts", tx.Commit())
}
