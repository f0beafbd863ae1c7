// Package backend describes the hosted service the contacts UI talks to: password authentication
// and row-level-secured tables. Implementations live in the sub-packages.
package backend

import (
	"context"
	"errors"
	"fmt"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

// Errors shared by all backend implementations.
var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrUserExists         = errors.New("user already registered")
	ErrUnauthorized       = errors.New("not authenticated")
	ErrForbidden          = errors.New("new row violates row-level security policy")
)

// APIError is an error reported by the service. Its message is shown to the user as is. Err, if
// set, is one of the sentinel errors above so that callers can still use errors.Is.
type APIError struct {
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("request failed with status %d", e.Status)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Auth covers the password sign-in and sign-up operations of the service.
type Auth interface {
	// SignIn exchanges e-mail and password for an identity and an access token.
	SignIn(ctx context.Context, email, password string) (*model.Credentials, error)

	// SignUp registers a new identity. The returned credentials are nil when the service requires
	// the e-mail address to be confirmed before the first sign-in.
	SignUp(ctx context.Context, email, password string) (*model.Identity, *model.Credentials, error)
}

// Tables are the table operations available to one caller. Which rows they see and touch is
// decided by the service based on the caller's token.
type Tables interface {
	// FindProfile reports whether a profile with the given id exists. A missing profile is not an
	// error.
	FindProfile(ctx context.Context, id string) (*model.Profile, bool, error)

	// UpsertProfile inserts the profile unless one with the same id already exists.
	UpsertProfile(ctx context.Context, profile model.Profile) error

	InsertContact(ctx context.Context, userID string, fields model.ContactFields) (*model.Contact, error)

	// ListContacts returns the contacts owned by ownerID, newest first.
	ListContacts(ctx context.Context, ownerID string) ([]model.Contact, error)

	// UpdateContact replaces all user-editable fields of the contact with the given id.
	UpdateContact(ctx context.Context, id string, fields model.ContactFields) error

	// DeleteContact removes the contact with the given id. Deleting a missing id is not an error.
	DeleteContact(ctx context.Context, id string) error
}

// Backend is the whole service: authentication plus a factory for table clients.
type Backend interface {
	Auth

	// Client returns table access carrying the given bearer token. An empty token returns an
	// anonymous client.
	Client(token string) Tables
}
