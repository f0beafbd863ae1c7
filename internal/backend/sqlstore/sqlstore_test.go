package sqlstore

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/auth"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/model"
)

var erika = model.Identity{ID: "0b5c1f2e-7d1a-4c43-9a55-0f5e1d8e2a11", Email: "erika@example.com"}

var contactColumns = []string{"id", "user_id", "full_name", "phone", "email", "notes", "created_at"}

// createMockObjects builds a mock database handle and a mock object for defining our expected SQL
// calls.
func createMockObjects(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("an error '%s' was not expected when opening a stub database connection", err)
	}
	return db, mock
}

// expectPreparedStatements instructs the mock object to expect that all statements are being
// prepared, in the order in which New prepares them.
func expectPreparedStatements(mock sqlmock.Sqlmock) {
	mock.ExpectPrepare("INSERT INTO users")
	mock.ExpectPrepare("SELECT id, email, password_hash FROM users WHERE email = \\?")
	mock.ExpectPrepare("SELECT id, email FROM profiles WHERE id = \\?")
	mock.ExpectPrepare("INSERT INTO profiles .* ON DUPLICATE KEY UPDATE")
	mock.ExpectPrepare("INSERT INTO contacts")
	mock.ExpectPrepare("SELECT .* FROM contacts WHERE user_id = \\? ORDER BY created_at DESC, seq DESC")
	mock.ExpectPrepare("UPDATE contacts SET")
	mock.ExpectPrepare("DELETE FROM contacts WHERE id = \\? AND user_id = \\?")
}

// createStore sets up the store with the mock database and returns it together with the token
// service it signs with.
func createStore(t *testing.T, db *sql.DB) (*Store, *auth.TokenService) {
	tokens, err := auth.NewTokenService("sqlstore-test-secret")
	require.NoError(t, err)
	store, err := New(db, tokens, auth.NewPasswordServiceWithCost(bcrypt.MinCost))
	require.NoError(t, err)
	return store, tokens
}

// tokenFor returns a valid access token for the identity.
func tokenFor(t *testing.T, tokens *auth.TokenService, identity model.Identity) string {
	token, err := tokens.Generate(identity)
	require.NoError(t, err)
	return token
}

func strPtr(s string) *string {
	return &s
}

// TestSignUp inserts a new user and expects credentials for it.
func TestSignUp(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	// Define expectations on SQL statements
	expectPreparedStatements(mock)
	mock.ExpectExec("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "erika@example.com", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Run test and compare results
	store, tokens := createStore(t, db)
	identity, creds, err := store.SignUp(context.Background(), " Erika@Example.com", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, "erika@example.com", identity.Email)
	assert.NotEmpty(t, identity.ID)
	require.NotNil(t, creds)
	fromToken, err := tokens.Validate(creds.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, *identity, fromToken)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSignUpDuplicate expects that a unique key violation is reported as an existing user.
func TestSignUpDuplicate(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	mock.ExpectExec("INSERT INTO users").
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'erika@example.com' for key 'email'"})

	store, _ := createStore(t, db)
	_, _, err := store.SignUp(context.Background(), "erika@example.com", "secret-password")
	assert.ErrorIs(t, err, backend.ErrUserExists)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSignUpWeakPassword expects that a short password never reaches the database.
func TestSignUpWeakPassword(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)

	store, _ := createStore(t, db)
	_, _, err := store.SignUp(context.Background(), "erika@example.com", "123")
	var apiErr *backend.APIError
	assert.ErrorAs(t, err, &apiErr)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestSignIn checks the password against the stored hash.
func TestSignIn(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	hash, err := bcrypt.GenerateFromPassword([]byte("secret-password"), bcrypt.MinCost)
	require.NoError(t, err)

	expectPreparedStatements(mock)
	for i := 0; i < 2; i++ {
		mock.ExpectQuery("SELECT id, email, password_hash FROM users WHERE email = \\?").
			WithArgs("erika@example.com").
			WillReturnRows(mock.NewRows([]string{"id", "email", "password_hash"}).
				AddRow(erika.ID, erika.Email, string(hash)))
	}
	mock.ExpectQuery("SELECT id, email, password_hash FROM users WHERE email = \\?").
		WithArgs("nobody@example.com").
		WillReturnRows(mock.NewRows([]string{"id", "email", "password_hash"}))

	store, _ := createStore(t, db)
	creds, err := store.SignIn(context.Background(), "erika@example.com", "secret-password")
	require.NoError(t, err)
	assert.Equal(t, erika, creds.Identity)
	assert.NotEmpty(t, creds.AccessToken)

	_, err = store.SignIn(context.Background(), "erika@example.com", "wrong-password")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)

	_, err = store.SignIn(context.Background(), "nobody@example.com", "secret-password")
	assert.ErrorIs(t, err, backend.ErrInvalidCredentials)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestListContacts selects the contacts of the caller and keeps the database order.
func TestListContacts(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	rows := mock.NewRows(contactColumns).
		AddRow("c3", erika.ID, "Carla", "+420 333", nil, nil, time.Date(2024, time.March, 3, 0, 0, 0, 0, time.UTC)).
		AddRow("c2", erika.ID, "Berta", nil, "berta@example.com", nil, time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC)).
		AddRow("c1", erika.ID, "Aaron", nil, nil, "old friend", time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC))
	mock.ExpectQuery("SELECT .* FROM contacts WHERE user_id = \\? ORDER BY created_at DESC, seq DESC").
		WithArgs(erika.ID).
		WillReturnRows(rows)

	store, tokens := createStore(t, db)
	contacts, err := store.Client(tokenFor(t, tokens, erika)).ListContacts(context.Background(), erika.ID)
	require.NoError(t, err)
	require.Len(t, contacts, 3)
	assert.Equal(t, "Carla", contacts[0].FullName)
	assert.Equal(t, "+420 333", model.Value(contacts[0].Phone))
	assert.Nil(t, contacts[0].Email)
	assert.Equal(t, "Berta", contacts[1].FullName)
	assert.Equal(t, "berta@example.com", model.Value(contacts[1].Email))
	assert.Equal(t, "Aaron", contacts[2].FullName)
	assert.Equal(t, "old friend", model.Value(contacts[2].Notes))
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestListContactsOfOtherOwner expects an empty result without touching the table.
func TestListContactsOfOtherOwner(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)

	store, tokens := createStore(t, db)
	contacts, err := store.Client(tokenFor(t, tokens, erika)).ListContacts(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.NotNil(t, contacts)
	assert.Empty(t, contacts)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestInsertContact(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	mock.ExpectExec("INSERT INTO contacts").
		WithArgs(sqlmock.AnyArg(), erika.ID, "Marie Tremblay", "+1 514", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store, tokens := createStore(t, db)
	contact, err := store.Client(tokenFor(t, tokens, erika)).InsertContact(context.Background(), erika.ID,
		model.NewContactFields("Marie Tremblay", "+1 514", "", ""))
	require.NoError(t, err)
	assert.NotEmpty(t, contact.Id)
	assert.Equal(t, erika.ID, contact.UserId)
	assert.False(t, contact.CreatedAt.IsZero())
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestInsertContactRejected covers the row-level and constraint checks that happen before any
// statement is executed.
func TestInsertContactRejected(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)

	store, tokens := createStore(t, db)
	ctx := context.Background()
	_, err := store.Client("").InsertContact(ctx, erika.ID, model.NewContactFields("Marie", "", "", ""))
	assert.ErrorIs(t, err, backend.ErrUnauthorized)

	tables := store.Client(tokenFor(t, tokens, erika))
	_, err = tables.InsertContact(ctx, "someone-else", model.NewContactFields("Marie", "", "", ""))
	assert.ErrorIs(t, err, backend.ErrForbidden)

	var apiErr *backend.APIError
	_, err = tables.InsertContact(ctx, erika.ID, model.NewContactFields("  ", "", "", ""))
	assert.ErrorAs(t, err, &apiErr)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestUpdateContact replaces all fields and scopes the statement to the caller.
func TestUpdateContact(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	mock.ExpectExec("UPDATE contacts SET full_name = \\?, phone = \\?, email = \\?, notes = \\?").
		WithArgs("Rudi Völler", nil, "rudi@example.com", nil, "c1", erika.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE contacts SET").
		WithArgs("Rudi Völler", nil, nil, nil, "unknown", erika.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, tokens := createStore(t, db)
	tables := store.Client(tokenFor(t, tokens, erika))
	err := tables.UpdateContact(context.Background(), "c1", model.ContactFields{FullName: "Rudi Völler", Email: strPtr("rudi@example.com")})
	assert.NoError(t, err)
	err = tables.UpdateContact(context.Background(), "unknown", model.ContactFields{FullName: "Rudi Völler"})
	assert.NoError(t, err)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestDeleteContactTwice expects no error when the row is already gone.
func TestDeleteContactTwice(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	mock.ExpectExec("DELETE FROM contacts WHERE id = \\? AND user_id = \\?").
		WithArgs("c1", erika.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM contacts WHERE id = \\? AND user_id = \\?").
		WithArgs("c1", erika.ID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, tokens := createStore(t, db)
	tables := store.Client(tokenFor(t, tokens, erika))
	assert.NoError(t, tables.DeleteContact(context.Background(), "c1"))
	assert.NoError(t, tables.DeleteContact(context.Background(), "c1"))
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

// TestProfile looks a profile up, finds none, and upserts it.
func TestProfile(t *testing.T) {
	db, mock := createMockObjects(t)
	defer db.Close()

	expectPreparedStatements(mock)
	mock.ExpectQuery("SELECT id, email FROM profiles WHERE id = \\?").
		WithArgs(erika.ID).
		WillReturnRows(mock.NewRows([]string{"id", "email"}))
	mock.ExpectExec("INSERT INTO profiles").
		WithArgs(erika.ID, erika.Email).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT id, email FROM profiles WHERE id = \\?").
		WithArgs(erika.ID).
		WillReturnRows(mock.NewRows([]string{"id", "email"}).AddRow(erika.ID, erika.Email))

	store, tokens := createStore(t, db)
	tables := store.Client(tokenFor(t, tokens, erika))
	ctx := context.Background()

	_, found, err := tables.FindProfile(ctx, erika.ID)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tables.UpsertProfile(ctx, model.Profile{ID: erika.ID, Email: erika.Email}))

	profile, found, err := tables.FindProfile(ctx, erika.ID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, erika.Email, profile.Email)

	assert.ErrorIs(t, tables.UpsertProfile(ctx, model.Profile{ID: "someone-else"}), backend.ErrForbidden)
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
