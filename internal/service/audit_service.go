package service

import (
	"context"

	"survey-platform/internal/model"
)

type AuditStore interface {
	Record(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error)
}

// AuditService exposes the audit trail to the transport layer. Writes happen
// in the services that perform the audited action; this is the read side plus
// a Record passthrough for callers outside a transaction.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

func (s *AuditService) Record(ctx context.Context, entry model.AuditEntry) error {
	return s.store.Record(ctx, entry)
}

func (s *AuditService) Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, model.Meta, error) {
	return s.store.Query(ctx, query)
}
