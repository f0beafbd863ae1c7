// Package memory is an in-process stand-in for the hosted service. It keeps users, profiles and
// contacts in maps and applies the same row-level rules as the hosted tables: a caller only sees
// and changes rows it owns.
package memory

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/auth"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

type user struct {
	identity     model.Identity
	passwordHash string
}

type row struct {
	contact model.Contact
	seq     int64
}

// Backend implements backend.Backend in memory.
type Backend struct {
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	now       func() time.Time

	mu       sync.RWMutex
	users    map[string]user // by e-mail
	profiles map[string]model.Profile
	contacts map[string]*row
	seq      int64
}

// New creates an empty Backend.
func New(tokens *auth.TokenService, passwords *auth.PasswordService) *Backend {
	return &Backend{
		tokens:    tokens,
		passwords: passwords,
		now:       func() time.Time { return time.Now().UTC() },
		users:     make(map[string]user),
		profiles:  make(map[string]model.Profile),
		contacts:  make(map[string]*row),
	}
}

func (b *Backend) SignUp(ctx context.Context, email, password string) (*model.Identity, *model.Credentials, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, missingCredentials()
	}
	hash, err := b.passwords.Hash(password)
	if err != nil {
		return nil, nil, &backend.APIError{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: err.Error()}
	}

	b.mu.Lock()
	if _, exists := b.users[email]; exists {
		b.mu.Unlock()
		return nil, nil, backend.ErrUserExists
	}
	identity := model.Identity{ID: uuid.NewString(), Email: email}
	b.users[email] = user{identity: identity, passwordHash: hash}
	b.mu.Unlock()

	token, err := b.tokens.Generate(identity)
	if err != nil {
		return nil, nil, err
	}
	return &identity, &model.Credentials{Identity: identity, AccessToken: token}, nil
}

func (b *Backend) SignIn(ctx context.Context, email, password string) (*model.Credentials, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, missingCredentials()
	}
	b.mu.RLock()
	u, exists := b.users[email]
	b.mu.RUnlock()
	if !exists || !b.passwords.Verify(u.passwordHash, password) {
		return nil, backend.ErrInvalidCredentials
	}
	token, err := b.tokens.Generate(u.identity)
	if err != nil {
		return nil, err
	}
	return &model.Credentials{Identity: u.identity, AccessToken: token}, nil
}

// Client returns the tables as seen by the holder of token.
func (b *Backend) Client(token string) backend.Tables {
	return &tables{backend: b, token: token}
}

type tables struct {
	backend *Backend
	token   string
}

// caller resolves the token to the identity every row-level rule is checked against.
func (t *tables) caller() (model.Identity, error) {
	if t.token == "" {
		return model.Identity{}, backend.ErrUnauthorized
	}
	identity, err := t.backend.tokens.Validate(t.token)
	if err != nil {
		return model.Identity{}, fmt.Errorf("%w: %v", backend.ErrUnauthorized, err)
	}
	return identity, nil
}

func (t *tables) FindProfile(ctx context.Context, id string) (*model.Profile, bool, error) {
	caller, err := t.caller()
	if err != nil {
		return nil, false, err
	}
	if id != caller.ID {
		return nil, false, nil
	}
	t.backend.mu.RLock()
	defer t.backend.mu.RUnlock()
	p, exists := t.backend.profiles[id]
	if !exists {
		return nil, false, nil
	}
	return &p, true, nil
}

func (t *tables) UpsertProfile(ctx context.Context, profile model.Profile) error {
	caller, err := t.caller()
	if err != nil {
		return err
	}
	if profile.ID != caller.ID {
		return backend.ErrForbidden
	}
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	if _, exists := t.backend.profiles[profile.ID]; !exists {
		t.backend.profiles[profile.ID] = profile
	}
	return nil
}

func (t *tables) InsertContact(ctx context.Context, userID string, fields model.ContactFields) (*model.Contact, error) {
	caller, err := t.caller()
	if err != nil {
		return nil, err
	}
	if userID != caller.ID {
		return nil, backend.ErrForbidden
	}
	if err := checkFields(fields); err != nil {
		return nil, err
	}

	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	t.backend.seq++
	contact := model.Contact{
		Id:        uuid.NewString(),
		UserId:    userID,
		FullName:  fields.FullName,
		Phone:     fields.Phone,
		Email:     fields.Email,
		Notes:     fields.Notes,
		CreatedAt: t.backend.now(),
	}
	t.backend.contacts[contact.Id] = &row{contact: contact, seq: t.backend.seq}
	return &contact, nil
}

func (t *tables) ListContacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	caller, err := t.caller()
	if err != nil {
		return nil, err
	}

	t.backend.mu.RLock()
	var rows []*row
	for _, r := range t.backend.contacts {
		if r.contact.UserId == ownerID && r.contact.UserId == caller.ID {
			rows = append(rows, r)
		}
	}
	t.backend.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].contact.CreatedAt.Equal(rows[j].contact.CreatedAt) {
			return rows[i].contact.CreatedAt.After(rows[j].contact.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	contacts := make([]model.Contact, 0, len(rows))
	for _, r := range rows {
		contacts = append(contacts, r.contact)
	}
	return contacts, nil
}

func (t *tables) UpdateContact(ctx context.Context, id string, fields model.ContactFields) error {
	caller, err := t.caller()
	if err != nil {
		return err
	}
	if err := checkFields(fields); err != nil {
		return err
	}
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	r, exists := t.backend.contacts[id]
	if !exists || r.contact.UserId != caller.ID {
		return nil
	}
	r.contact.FullName = fields.FullName
	r.contact.Phone = fields.Phone
	r.contact.Email = fields.Email
	r.contact.Notes = fields.Notes
	return nil
}

func (t *tables) DeleteContact(ctx context.Context, id string) error {
	caller, err := t.caller()
	if err != nil {
		return err
	}
	t.backend.mu.Lock()
	defer t.backend.mu.Unlock()
	if r, exists := t.backend.contacts[id]; exists && r.contact.UserId == caller.ID {
		delete(t.backend.contacts, id)
	}
	return nil
}

// checkFields mirrors the NOT NULL and non-blank constraint on full_name.
func checkFields(fields model.ContactFields) error {
	if err := fields.Validate(); err != nil {
		return &backend.APIError{Status: http.StatusBadRequest, Code: "23514", Message: err.Error()}
	}
	return nil
}

func missingCredentials() error {
	return &backend.APIError{Status: http.StatusBadRequest, Code: "validation_failed", Message: "email and password are required"}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
