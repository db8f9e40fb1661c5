package api

import (
	"context"
	"errors"
	"time"

	"github.com/matheus3301/smsq/internal/advisory"
	"github.com/matheus3301/smsq/internal/contacts"
	"github.com/matheus3301/smsq/internal/network"
	"github.com/matheus3301/smsq/internal/outbox"
	"github.com/matheus3301/smsq/internal/remote"
	"github.com/matheus3301/smsq/internal/store"
	intsync "github.com/matheus3301/smsq/internal/sync"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ControlService implements ControlServer for one profile and user.
type ControlService struct {
	profile    string
	userID     string
	startedAt  time.Time
	machine    *network.Machine
	advisory   *advisory.Advisory
	db         *store.DB
	reconciler *intsync.Reconciler
	composer   *outbox.Composer
	contacts   *contacts.Service
}

// NewControlService creates the control service.
func NewControlService(profile, userID string, machine *network.Machine, adv *advisory.Advisory, db *store.DB, r *intsync.Reconciler, c *outbox.Composer, cs *contacts.Service) *ControlService {
	return &ControlService{
		profile:    profile,
		userID:     userID,
		startedAt:  time.Now(),
		machine:    machine,
		advisory:   adv,
		db:         db,
		reconciler: r,
		composer:   c,
		contacts:   cs,
	}
}

func (s *ControlService) Status(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	out := map[string]any{
		"profile":   s.profile,
		"user_id":   s.userID,
		"network":   string(s.machine.Current()),
		"uptime_ms": time.Since(s.startedAt).Milliseconds(),
	}
	if s.advisory != nil {
		out["advisory"] = s.advisory.Current()
	}
	if counts, err := s.db.GetStorageCounts(s.userID); err == nil {
		out["counts"] = countsMap(counts)
	}
	return toStruct(out)
}

func (s *ControlService) ReconcileContacts(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	res, err := s.reconciler.Reconcile(ctx, s.userID)
	if errors.Is(err, intsync.ErrInProgress) {
		return toStruct(map[string]any{"skipped": true})
	}
	if err != nil && store.IsStorageError(err) {
		return nil, grpcstatus.Errorf(codes.Internal, "reconcile: %v", err)
	}
	out := map[string]any{
		"contacts":    len(res.Contacts),
		"pushed":      res.Pushed,
		"push_failed": res.PushFailed,
		"offline":     res.Offline,
		"skipped":     false,
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return toStruct(out)
}

func (s *ControlService) ListBatches(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var filter *store.BatchStatus
	if v := stringField(in, "status"); v != "" {
		st := store.BatchStatus(v)
		if !st.Valid() {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "unknown status %q", v)
		}
		filter = &st
	}
	batches, err := s.db.ListBatches(s.userID, filter)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list batches: %v", err)
	}
	list := make([]any, 0, len(batches))
	for _, b := range batches {
		item := map[string]any{
			"id":         b.ID,
			"status":     string(b.Status),
			"priority":   b.Priority,
			"message":    b.Message,
			"recipients": len(b.ContactIDs),
			"created_at": b.CreatedAt.Format(time.RFC3339),
		}
		if b.ScheduledAt != nil {
			item["scheduled_at"] = b.ScheduledAt.Format(time.RFC3339)
		}
		if b.ErrorMessage != "" {
			item["error"] = b.ErrorMessage
		}
		list = append(list, item)
	}
	return toStruct(map[string]any{"batches": list})
}

func (s *ControlService) StorageCounts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	counts, err := s.db.GetStorageCounts(s.userID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "storage counts: %v", err)
	}
	return toStruct(countsMap(counts))
}

func (s *ControlService) WipeUserData(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if !boolField(in, "confirm") {
		return nil, grpcstatus.Error(codes.FailedPrecondition, "wipe requires confirm=true")
	}
	if err := s.db.WipeUserData(s.userID); err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "wipe: %v", err)
	}
	return toStruct(map[string]any{"wiped": true})
}

func (s *ControlService) SendMessage(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req := outbox.ComposeRequest{
		UserID:     s.userID,
		ContactIDs: stringsField(in, "contact_ids"),
		Text:       stringField(in, "text"),
		Priority:   int(numberField(in, "priority")),
	}
	if v := stringField(in, "scheduled_at"); v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, grpcstatus.Errorf(codes.InvalidArgument, "scheduled_at: %v", err)
		}
		req.ScheduledAt = &at
	}
	q, err := s.composer.Send(req)
	if errors.Is(err, outbox.ErrEmptyMessage) || errors.Is(err, outbox.ErrNoRecipients) {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "send: %v", err)
	}
	return queuedStruct(q)
}

func (s *ControlService) CancelBatch(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ownBatch(stringField(in, "id")); err != nil {
		return nil, err
	}
	err := s.composer.Cancel(stringField(in, "id"))
	if errors.Is(err, outbox.ErrNotCancellable) {
		return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "cancel: %v", err)
	}
	return toStruct(map[string]any{"cancelled": true})
}

func (s *ControlService) RetryBatch(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ownBatch(stringField(in, "id")); err != nil {
		return nil, err
	}
	q, err := s.composer.Retry(stringField(in, "id"))
	if errors.Is(err, outbox.ErrNotRetryable) {
		return nil, grpcstatus.Error(codes.FailedPrecondition, err.Error())
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "retry: %v", err)
	}
	return queuedStruct(q)
}

func (s *ControlService) ListContacts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	list, err := s.contacts.List(s.userID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list contacts: %v", err)
	}
	return toStruct(map[string]any{"contacts": contactList(list)})
}

func (s *ControlService) AddContact(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	out, err := s.contacts.Add(ctx, s.userID, contacts.Entry{
		Name:  stringField(in, "name"),
		Phone: stringField(in, "phone"),
	})
	if err != nil {
		return nil, contactError("add contact", err)
	}
	return outcomeStruct(out)
}

func (s *ControlService) ImportContacts(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var entries []contacts.Entry
	for _, c := range structsField(in, "contacts") {
		entries = append(entries, contacts.Entry{Name: stringField(c, "name"), Phone: stringField(c, "phone")})
	}
	out, err := s.contacts.Import(ctx, s.userID, entries)
	if err != nil {
		return nil, contactError("import contacts", err)
	}
	return outcomeStruct(out)
}

func (s *ControlService) DeleteContact(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	out, err := s.contacts.Delete(ctx, s.userID, id)
	if err != nil {
		return nil, contactError("delete contact", err)
	}
	return toStruct(map[string]any{"deleted": true, "offline": out.Offline})
}

func (s *ControlService) SaveDraft(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	d, err := s.composer.SaveDraft(outbox.DraftRequest{
		UserID:     s.userID,
		ID:         stringField(in, "id"),
		Title:      stringField(in, "title"),
		Text:       stringField(in, "text"),
		ContactIDs: stringsField(in, "contact_ids"),
	})
	if errors.Is(err, outbox.ErrEmptyDraft) {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "save draft: %v", err)
	}
	return toStruct(draftMap(d))
}

func (s *ControlService) ListDrafts(_ context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	drafts, err := s.composer.ListDrafts(s.userID)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "list drafts: %v", err)
	}
	list := make([]any, 0, len(drafts))
	for i := range drafts {
		list = append(list, draftMap(&drafts[i]))
	}
	return toStruct(map[string]any{"drafts": list})
}

func (s *ControlService) LoadDraft(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	sess, err := s.composer.LoadDraft(s.userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, grpcstatus.Errorf(codes.NotFound, "draft %s not found", id)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "load draft: %v", err)
	}
	return toStruct(map[string]any{
		"draft_id":        sess.DraftID,
		"text":            sess.Text,
		"contact_ids":     anyList(sess.ContactIDs),
		"recipient_count": sess.RecipientCount,
		"estimate_cost":   outbox.EstimateMessage(sess.Text, sess.RecipientCount).Cost,
	})
}

func (s *ControlService) DeleteDraft(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(in, "id")
	if id == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	err := s.composer.DeleteDraft(s.userID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, grpcstatus.Errorf(codes.NotFound, "draft %s not found", id)
	}
	if err != nil {
		return nil, grpcstatus.Errorf(codes.Internal, "delete draft: %v", err)
	}
	return toStruct(map[string]any{"deleted": true})
}

// contactError maps contact service errors to gRPC codes. A backend
// rejection is reported with its message.
func contactError(op string, err error) error {
	var apiErr *remote.APIError
	switch {
	case errors.Is(err, contacts.ErrInvalidContact), errors.Is(err, contacts.ErrNothingToImport):
		return grpcstatus.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return grpcstatus.Errorf(codes.NotFound, "%s: %v", op, err)
	case errors.As(err, &apiErr):
		return grpcstatus.Errorf(codes.FailedPrecondition, "%s: %v", op, err)
	default:
		return grpcstatus.Errorf(codes.Internal, "%s: %v", op, err)
	}
}

// ownBatch rejects ids that are missing or belong to another user.
func (s *ControlService) ownBatch(id string) error {
	if id == "" {
		return grpcstatus.Error(codes.InvalidArgument, "id is required")
	}
	b, err := s.db.GetBatch(id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && b.UserID != s.userID) {
		return grpcstatus.Errorf(codes.NotFound, "batch %s not found", id)
	}
	if err != nil {
		return grpcstatus.Errorf(codes.Internal, "get batch: %v", err)
	}
	return nil
}

func queuedStruct(q *outbox.Queued) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"batch_id":   q.BatchID,
		"message_id": q.MessageID,
		"offline":    q.Offline,
		"segments":   q.Estimate.Segments,
		"cost":       q.Estimate.Cost,
	})
}

func countsMap(c *store.StorageCounts) map[string]any {
	return map[string]any{
		"contacts":       c.Contacts,
		"drafts":         c.Drafts,
		"queued_batches": c.QueuedBatches,
	}
}

func contactMap(c *store.CachedContact) map[string]any {
	m := map[string]any{
		"id":     c.ID,
		"name":   c.Name,
		"phone":  c.Phone,
		"source": string(c.Source),
		"synced": !c.IsLocalOnly(),
	}
	if c.ServerID != "" {
		m["server_id"] = c.ServerID
	}
	return m
}

func contactList(cs []store.CachedContact) []any {
	list := make([]any, 0, len(cs))
	for i := range cs {
		list = append(list, contactMap(&cs[i]))
	}
	return list
}

func outcomeStruct(o *contacts.Outcome) (*structpb.Struct, error) {
	return toStruct(map[string]any{
		"contacts": contactList(o.Contacts),
		"offline":  o.Offline,
	})
}

func draftMap(d *store.DraftMessage) map[string]any {
	return map[string]any{
		"id":              d.ID,
		"title":           d.Title,
		"text":            d.Content,
		"contact_ids":     anyList(d.ContactIDs),
		"recipient_count": d.RecipientCount,
		"updated_at":      d.UpdatedAt.Format(time.RFC3339),
	}
}
