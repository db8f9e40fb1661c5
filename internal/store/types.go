package store

import (
	"slices"
	"time"
)

// ContactSource is the provenance tag of a cached contact.
type ContactSource string

const (
	SourceManual    ContactSource = "manual"
	SourcePhonebook ContactSource = "phonebook"
	SourceServer    ContactSource = "server"
)

// SyncState is derived from the presence of a server id and a sync timestamp.
type SyncState int

const (
	LocalOnly SyncState = iota
	Synced
)

func (s SyncState) String() string {
	if s == Synced {
		return "synced"
	}
	return "local-only"
}

// CachedContact is a contact cached on the device for one user.
type CachedContact struct {
	ID         string
	UserID     string
	Name       string
	Phone      string
	Source     ContactSource
	ServerID   string     // empty until the server assigns one
	LastSynced *time.Time // nil means the contact only exists locally
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsLocalOnly reports whether the contact has never reached the server.
func (c *CachedContact) IsLocalOnly() bool {
	return c.ServerID == "" && c.LastSynced == nil
}

// SyncState returns the sync state of the contact.
func (c *CachedContact) SyncState() SyncState {
	if c.IsLocalOnly() {
		return LocalOnly
	}
	return Synced
}

// DraftMessage is a saved, unsent composition.
type DraftMessage struct {
	ID             string
	UserID         string
	Title          string
	Content        string
	RecipientCount int // denormalized from ContactIDs on save
	ContactIDs     []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BatchStatus is the delivery state of a queued batch.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchSending   BatchStatus = "sending"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// batchTransitions defines the allowed status transitions for a queued batch.
// Terminal states have no entry.
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending: {BatchSending},
	BatchSending: {BatchCompleted, BatchFailed},
}

// Valid reports whether s is a known status.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchPending, BatchSending, BatchCompleted, BatchFailed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed
}

// CanTransition reports whether a batch may move from one status to another.
func CanTransition(from, to BatchStatus) bool {
	return slices.Contains(batchTransitions[from], to)
}

// QueuedBatch is a durable outbound message awaiting delivery.
type QueuedBatch struct {
	ID           string
	UserID       string
	MessageID    string
	ContactIDs   []string
	Message      string
	Status       BatchStatus
	Priority     int // higher drains first
	ScheduledAt  *time.Time
	ErrorMessage string // set only when Status is BatchFailed
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// StorageCounts summarizes what the store holds for one user.
type StorageCounts struct {
	Contacts      int64
	Drafts        int64
	QueuedBatches int64
}
