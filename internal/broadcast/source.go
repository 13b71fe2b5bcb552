package broadcast

import (
	"context"

	"referbot/internal/storage"
)

// RecipientSource supplies the audience of a run. It is queried once per run.
type RecipientSource interface {
	ListRecipients(ctx context.Context) ([]Recipient, error)
}

// SourceFunc adapts a function to RecipientSource.
type SourceFunc func(ctx context.Context) ([]Recipient, error)

func (f SourceFunc) ListRecipients(ctx context.Context) ([]Recipient, error) { return f(ctx) }

// StoreSource reads every registered user from the store.
type StoreSource struct {
	Store storage.Store
}

func (s StoreSource) ListRecipients(ctx context.Context) ([]Recipient, error) {
	if s.Store == nil {
		return nil, storage.ErrDisabled
	}
	ids, err := s.Store.ListUserIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, len(ids))
	for i, id := range ids {
		out[i] = Recipient(id)
	}
	return out, nil
}
