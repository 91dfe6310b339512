package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DocumentStore stores rendered bill documents
type DocumentStore struct {
	store  ObjectStore
	logger *zap.Logger
}

// NewDocumentStore creates a DocumentStore
func NewDocumentStore(store ObjectStore, logger *zap.Logger) *DocumentStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentStore{store: store, logger: logger}
}

// BillKey returns the object key of a bill document. Keys are per bill, so
// two attempts at billing the same reading never write the same object.
func BillKey(meterCode string, month, year int, billID uuid.UUID) string {
	return fmt.Sprintf("bills/%s/bill-%s-%02d-%04d-%s.pdf", meterCode, meterCode, month, year, billID)
}

// PutBill uploads a PDF and returns its reference
func (s *DocumentStore) PutBill(ctx context.Context, key string, pdf []byte) (Ref, error) {
	if err := s.store.Upload(ctx, key, pdf, "application/pdf"); err != nil {
		return Ref{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return Ref{Key: key, URL: s.store.URL(key)}, nil
}

// Delete removes a document, logging failures
func (s *DocumentStore) Delete(ctx context.Context, ref Ref) {
	if ref.Key == "" {
		return
	}
	if err := s.store.DeleteObject(ctx, ref.Key); err != nil {
		s.logger.Error("failed to delete document", zap.String("key", ref.Key), zap.Error(err))
	}
}
