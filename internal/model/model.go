package model

import (
	"errors"
	"strings"
	"time"
)

// ErrFullNameRequired is returned when a contact is submitted without a name.
var ErrFullNameRequired = errors.New("full name is required")

// Identity is the authenticated user as known to the auth service. It is created by the service on
// sign-up and never modified by this application.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Credentials are the result of a successful sign-in: who the user is and the bearer token that
// proves it to the backend.
type Credentials struct {
	Identity    Identity
	AccessToken string
}

// Profile is the per-user record kept next to the auth identity. Its id equals the identity id.
type Profile struct {
	ID    string `json:"id"    db:"id"`
	Email string `json:"email" db:"email"`
}

// Contact is the data structure for a person that we know.
// All fields with the exception of Id, UserId, FullName and CreatedAt are optional. A nil value
// marks an absent field; empty strings are never stored.
type Contact struct {
	Id        string    `json:"id"         db:"id"`
	UserId    string    `json:"user_id"    db:"user_id"`
	FullName  string    `json:"full_name"  db:"full_name"`
	Phone     *string   `json:"phone"      db:"phone"`
	Email     *string   `json:"email"      db:"email"`
	Notes     *string   `json:"notes"      db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Fields returns the user-editable part of the contact.
func (c Contact) Fields() ContactFields {
	return ContactFields{
		FullName: c.FullName,
		Phone:    c.Phone,
		Email:    c.Email,
		Notes:    c.Notes,
	}
}

// ContactFields holds the values a user submits when creating or editing a contact. An update
// always replaces all four of them.
type ContactFields struct {
	FullName string  `json:"full_name" db:"full_name"`
	Phone    *string `json:"phone"     db:"phone"`
	Email    *string `json:"email"     db:"email"`
	Notes    *string `json:"notes"     db:"notes"`
}

// NewContactFields builds the fields from raw form input. All values are trimmed, and optional
// values that end up blank become nil.
func NewContactFields(fullName, phone, email, notes string) ContactFields {
	return ContactFields{
		FullName: strings.TrimSpace(fullName),
		Phone:    optional(phone),
		Email:    optional(email),
		Notes:    optional(notes),
	}
}

// Validate checks the fields before they are sent anywhere.
func (f ContactFields) Validate() error {
	if strings.TrimSpace(f.FullName) == "" {
		return ErrFullNameRequired
	}
	return nil
}

// Value returns the string behind an optional field, or "" if it is absent.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
