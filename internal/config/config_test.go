package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv resets every variable the configuration reads, so that the developer's own
// environment does not leak into the tests.
func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CONTACTS_BACKEND", "SUPABASE_URL", "SUPABASE_ANON_KEY", "DBHOST", "DBUSER", "DBPWD",
		"DBNAME", "JWT_SECRET", "PORT", "GIN_LOGGING", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestSupabaseDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("SUPABASE_URL", "https://xyz.supabase.co/")
	t.Setenv("SUPABASE_ANON_KEY", "anon-key")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendSupabase, cfg.Backend)
	assert.Equal(t, "https://xyz.supabase.co", cfg.Supabase.URL)
	assert.Equal(t, "anon-key", cfg.Supabase.AnonKey)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.True(t, cfg.GinLogging)
	assert.Equal(t, "info", cfg.LogLevel)
}

// TestSupabaseMissing verifies that a missing URL or key is reported with all missing names.
func TestSupabaseMissing(t *testing.T) {
	clearEnv(t)

	_, err := FromEnv()
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"SUPABASE_URL", "SUPABASE_ANON_KEY"}, missing.Keys)

	t.Setenv("SUPABASE_URL", "https://xyz.supabase.co")
	_, err = FromEnv()
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"SUPABASE_ANON_KEY"}, missing.Keys)
}

func TestMySQL(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTACTS_BACKEND", "MySQL")
	t.Setenv("DBHOST", "localhost:3306")
	t.Setenv("DBUSER", "dirk")
	t.Setenv("DBPWD", "bullo92")
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("PORT", "9090")
	t.Setenv("GIN_LOGGING", "OFF")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendMySQL, cfg.Backend)
	assert.Equal(t, Database{Host: "localhost:3306", User: "dirk", Password: "bullo92", Name: "contacts"}, cfg.Database)
	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.GinLogging)
}

func TestMySQLMissing(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTACTS_BACKEND", "mysql")

	_, err := FromEnv()
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"DBHOST", "DBUSER", "JWT_SECRET"}, missing.Keys)
}

func TestInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTACTS_BACKEND", "memory")

	t.Setenv("PORT", "eighty")
	_, err := FromEnv()
	assert.Error(t, err)

	t.Setenv("PORT", "")
	t.Setenv("JWT_SECRET", "short")
	_, err = FromEnv()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "")
	t.Setenv("CONTACTS_BACKEND", "postgres")
	_, err = FromEnv()
	assert.Error(t, err)
}

func TestMemoryNeedsNothing(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTACTS_BACKEND", "memory")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.Backend)
}

// TestDatabaseFromEnv verifies that the database tools ignore the backend selection.
func TestDatabaseFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONTACTS_BACKEND", "supabase")

	_, err := DatabaseFromEnv()
	var missing *MissingError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"DBHOST", "DBUSER"}, missing.Keys)

	t.Setenv("DBHOST", "localhost:3306")
	t.Setenv("DBUSER", "dirk")
	t.Setenv("DBNAME", "contacts_test")
	db, err := DatabaseFromEnv()
	require.NoError(t, err)
	assert.Equal(t, Database{Host: "localhost:3306", User: "dirk", Name: "contacts_test"}, db)
}
