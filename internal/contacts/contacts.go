// Package contacts holds the operations the UI performs on the contact and profile tables. Each
// operation is a single round trip to the backend; nothing is retried.
package contacts

import (
	"context"

	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

// Repository performs contact operations with the caller's table client.
type Repository struct {
	tables backend.Tables
}

// NewRepository creates a Repository on top of the given tables.
func NewRepository(tables backend.Tables) *Repository {
	return &Repository{tables: tables}
}

// Insert creates a contact owned by ownerID. A missing full name is rejected here, before anything
// is sent; the backend still has the final word on everything else.
func (r *Repository) Insert(ctx context.Context, ownerID string, fields model.ContactFields) (*model.Contact, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}
	return r.tables.InsertContact(ctx, ownerID, fields)
}

// List returns the contacts of ownerID, newest first. It never returns a nil slice on success.
func (r *Repository) List(ctx context.Context, ownerID string) ([]model.Contact, error) {
	contacts, err := r.tables.ListContacts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if contacts == nil {
		contacts = []model.Contact{}
	}
	return contacts, nil
}

// Update replaces all fields of the contact. There is no concurrency check: the last write wins.
func (r *Repository) Update(ctx context.Context, id string, fields model.ContactFields) error {
	if err := fields.Validate(); err != nil {
		return err
	}
	return r.tables.UpdateContact(ctx, id, fields)
}

// Delete removes the contact. Deleting an id that no longer exists succeeds.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.tables.DeleteContact(ctx, id)
}

// EnsureProfile makes sure a profile row exists for the identity. It is best effort: failures are
// logged and otherwise ignored, and the session continues either way. The write is an
// insert-if-absent on the backend, so two first logins racing each other both succeed.
func EnsureProfile(ctx context.Context, tables backend.Tables, identity model.Identity, logger *zap.Logger) {
	_, found, err := tables.FindProfile(ctx, identity.ID)
	if err != nil {
		logger.Warn("profile lookup failed, trying upsert", zap.String("user_id", identity.ID), zap.Error(err))
	}
	if found {
		return
	}
	if err := tables.UpsertProfile(ctx, model.Profile{ID: identity.ID, Email: identity.Email}); err != nil {
		logger.Warn("profile upsert failed", zap.String("user_id", identity.ID), zap.Error(err))
		return
	}
	logger.Info("profile created", zap.String("user_id", identity.ID))
}
