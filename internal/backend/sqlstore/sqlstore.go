// Package sqlstore is a self-hosted stand-in for the hosted service, backed by MySQL. It issues its
// own access tokens and enforces the row-level rules itself: every statement that touches a table
// is scoped to the user the caller's token was issued for.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/auth"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/config"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

// errDuplicateEntry is the MySQL error number for a unique key violation.
const errDuplicateEntry = 1062

// user is a row of the users table.
type user struct {
	Id           string `db:"id"`
	Email        string `db:"email"`
	PasswordHash string `db:"password_hash"`
}

// Store implements backend.Backend on a MySQL database.
type Store struct {
	db        *sqlx.DB
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	now       func() time.Time

	insertUser            *sqlx.NamedStmt
	selectUserByEmail     *sqlx.Stmt
	selectProfileWhereId  *sqlx.Stmt
	upsertProfile         *sqlx.Stmt
	insertContact         *sqlx.NamedStmt
	selectContactsByOwner *sqlx.Stmt
	updateContact         *sqlx.Stmt
	deleteContact         *sqlx.Stmt
}

// OpenDatabase opens a connection pool to the configured MySQL database.
func OpenDatabase(cfg config.Database) (*sql.DB, error) {
	dsn := mysql.NewConfig()
	dsn.User = cfg.User
	dsn.Passwd = cfg.Password
	dsn.Net = "tcp"
	dsn.Addr = cfg.Host
	dsn.DBName = cfg.Name
	dsn.ParseTime = true
	dsn.Loc = time.UTC
	sqlDB, err := sql.Open("mysql", dsn.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return sqlDB, nil
}

// New wraps the sql database and prepares all statements. The database can be a real one for
// production use or a mock database within unit tests.
func New(sqlDB *sql.DB, tokens *auth.TokenService, passwords *auth.PasswordService) (*Store, error) {
	s := &Store{
		db:        sqlx.NewDb(sqlDB, "mysql"),
		tokens:    tokens,
		passwords: passwords,
		now:       func() time.Time { return time.Now().UTC() },
	}

	var err error
	if s.insertUser, err = s.db.PrepareNamed(`
		INSERT INTO users (id, email, password_hash)
		VALUES (:id, :email, :password_hash)
	`); err != nil {
		return nil, fmt.Errorf("preparing user insert: %w", err)
	}
	if s.selectUserByEmail, err = s.db.Preparex(`
		SELECT id, email, password_hash FROM users WHERE email = ?
	`); err != nil {
		return nil, fmt.Errorf("preparing user select: %w", err)
	}
	if s.selectProfileWhereId, err = s.db.Preparex(`
		SELECT id, email FROM profiles WHERE id = ?
	`); err != nil {
		return nil, fmt.Errorf("preparing profile select: %w", err)
	}
	// A concurrent first login of the same user ends up as a no-op update instead of a duplicate
	// key error.
	if s.upsertProfile, err = s.db.Preparex(`
		INSERT INTO profiles (id, email) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE id = id
	`); err != nil {
		return nil, fmt.Errorf("preparing profile upsert: %w", err)
	}
	if s.insertContact, err = s.db.PrepareNamed(`
		INSERT INTO contacts (id, user_id, full_name, phone, email, notes, created_at)
		VALUES (:id, :user_id, :full_name, :phone, :email, :notes, :created_at)
	`); err != nil {
		return nil, fmt.Errorf("preparing contact insert: %w", err)
	}
	// Inserts within the same microsecond keep their insertion order through seq.
	if s.selectContactsByOwner, err = s.db.Preparex(`
		SELECT id, user_id, full_name, phone, email, notes, created_at
		FROM contacts WHERE user_id = ? ORDER BY created_at DESC, seq DESC
	`); err != nil {
		return nil, fmt.Errorf("preparing contact select: %w", err)
	}
	if s.updateContact, err = s.db.Preparex(`
		UPDATE contacts SET full_name = ?, phone = ?, email = ?, notes = ?
		WHERE id = ? AND user_id = ?
	`); err != nil {
		return nil, fmt.Errorf("preparing contact update: %w", err)
	}
	if s.deleteContact, err = s.db.Preparex(`
		DELETE FROM contacts WHERE id = ? AND user_id = ?
	`); err != nil {
		return nil, fmt.Errorf("preparing contact delete: %w", err)
	}
	return s, nil
}

// Close releases the prepared statements and the database handle.
func (s *Store) Close() error {
	for _, stmt := range []interface{ Close() error }{
		s.insertUser, s.selectUserByEmail, s.selectProfileWhereId, s.upsertProfile,
		s.insertContact, s.selectContactsByOwner, s.updateContact, s.deleteContact,
	} {
		_ = stmt.Close()
	}
	return s.db.Close()
}

func (s *Store) SignUp(ctx context.Context, email, password string) (*model.Identity, *model.Credentials, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, nil, &backend.APIError{Status: http.StatusBadRequest, Code: "validation_failed", Message: "email and password are required"}
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, nil, &backend.APIError{Status: http.StatusUnprocessableEntity, Code: "weak_password", Message: err.Error()}
	}

	u := user{Id: uuid.NewString(), Email: email, PasswordHash: hash}
	if _, err := s.insertUser.ExecContext(ctx, &u); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
			return nil, nil, backend.ErrUserExists
		}
		return nil, nil, fmt.Errorf("inserting user: %w", err)
	}

	identity := model.Identity{ID: u.Id, Email: u.Email}
	token, err := s.tokens.Generate(identity)
	if err != nil {
		return nil, nil, err
	}
	return &identity, &model.Credentials{Identity: identity, AccessToken: token}, nil
}

func (s *Store) SignIn(ctx context.Context, email, password string) (*model.Credentials, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var u user
	if err := s.selectUserByEmail.GetContext(ctx, &u, email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("selecting user: %w", err)
	}
	if !s.passwords.Verify(u.PasswordHash, password) {
		return nil, backend.ErrInvalidCredentials
	}
	identity := model.Identity{ID: u.Id, Email: u.Email}
	token, err := s.tokens.Generate(identity)
	if err != nil {
		return nil, err
	}
	return &model.Credentials{Identity: identity, AccessToken: token}, nil
}

// Client returns the tables as seen by the holder of token.
func (s *Store) Client(token string) backend.Tables {
	return &tables{store: s, token: token}
}

type tables struct {
	store *Store
	token string
}

func (t *tables) caller() (model.Identity, error) {
	if t.token == "" {
		return model.Identity{}, backend.ErrUnauthorized
	}
	identity, err := t.store.tokens.Validate(t.token)
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
	var profiles []model.Profile
	if err := t.store.selectProfileWhereId.SelectContext(ctx, &profiles, id); err != nil {
		return nil, false, fmt.Errorf("selecting profile: %w", err)
	}
	if len(profiles) == 0 {
		return nil, false, nil
	}
	return &profiles[0], true, nil
}

func (t *tables) UpsertProfile(ctx context.Context, profile model.Profile) error {
	caller, err := t.caller()
	if err != nil {
		return err
	}
	if profile.ID != caller.ID {
		return backend.ErrForbidden
	}
	if _, err := t.store.upsertProfile.ExecContext(ctx, profile.ID, profile.Email); err != nil {
		return fmt.Errorf("upserting profile: %w", err)
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
	contact := model.Contact{
		Id:        uuid.NewString(),
		UserId:    userID,
		FullName:  fields.FullName,
		Phone:     fields.Phone,
		Email:     fields.Email,
		Notes:     fields.Notes,
		CreatedAt: t.store.now(),
	}
	if _, err := t.store.insertContact.ExecContext(ctx, &contact); err != nil {
		return nil, fmt.Errorf("inserting contact: %w", err)
	}
	return &contact, nil
}

func (t *tables) ListContacts(ctx context.Context, ownerID string) ([]model.Contact, error) {
	caller, err := t.caller()
	if err != nil {
		return nil, err
	}
	contacts := []model.Contact{}
	if ownerID != caller.ID {
		return contacts, nil
	}
	if err := t.store.selectContactsByOwner.SelectContext(ctx, &contacts, ownerID); err != nil {
		return nil, fmt.Errorf("selecting contacts: %w", err)
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
	// Zero affected rows means the id is unknown or owned by someone else. Neither is reported.
	if _, err := t.store.updateContact.ExecContext(ctx,
		fields.FullName, fields.Phone, fields.Email, fields.Notes, id, caller.ID); err != nil {
		return fmt.Errorf("updating contact: %w", err)
	}
	return nil
}

func (t *tables) DeleteContact(ctx context.Context, id string) error {
	caller, err := t.caller()
	if err != nil {
		return err
	}
	if _, err := t.store.deleteContact.ExecContext(ctx, id, caller.ID); err != nil {
		return fmt.Errorf("deleting contact: %w", err)
	}
	return nil
}

func checkFields(fields model.ContactFields) error {
	if err := fields.Validate(); err != nil {
		return &backend.APIError{Status: http.StatusBadRequest, Code: "23514", Message: err.Error()}
	}
	return nil
}
