// Package config reads the service configuration from the environment. An optional .env file in
// the working directory is loaded first; variables already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Backend selects the service implementation the UI talks to.
type Backend string

const (
	// BackendSupabase is the hosted authentication and database service.
	BackendSupabase Backend = "supabase"
	// BackendMySQL is the self-hosted stand-in on a MySQL database.
	BackendMySQL Backend = "mysql"
	// BackendMemory keeps everything in process memory. Data is lost on restart.
	BackendMemory Backend = "memory"
)

// Supabase holds the connection values for the hosted service.
type Supabase struct {
	URL     string
	AnonKey string
}

// Database holds the connection values for the MySQL stand-in.
type Database struct {
	Host     string
	User     string
	Password string
	Name     string
}

// Config is the complete service configuration.
type Config struct {
	Backend    Backend
	Supabase   Supabase
	Database   Database
	JWTSecret  string
	Port       int
	GinLogging bool
	LogLevel   string
}

// MissingError lists the required variables that are not set.
type MissingError struct {
	Keys []string
}

func (e *MissingError) Error() string {
	return "missing configuration: " + strings.Join(e.Keys, ", ")
}

// Load reads the .env file, if any, and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("reading .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only.
//
// Usage example:
// > SUPABASE_URL=https://xyz.supabase.co SUPABASE_ANON_KEY=eyJ... PORT=8080 go run ./cmd/service
// > CONTACTS_BACKEND=mysql DBHOST=localhost:3306 DBUSER=dirk DBPWD=bullo92 JWT_SECRET=... go run ./cmd/service
func FromEnv() (*Config, error) {
	cfg := &Config{
		Backend: Backend(strings.ToLower(getenv("CONTACTS_BACKEND", string(BackendSupabase)))),
		Supabase: Supabase{
			URL:     strings.TrimRight(strings.TrimSpace(os.Getenv("SUPABASE_URL")), "/"),
			AnonKey: strings.TrimSpace(os.Getenv("SUPABASE_ANON_KEY")),
		},
		Database:   readDatabase(),
		JWTSecret:  os.Getenv("JWT_SECRET"),
		GinLogging: !strings.EqualFold(os.Getenv("GIN_LOGGING"), "off"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
	}

	port, err := strconv.Atoi(getenv("PORT", "8080"))
	if err != nil || port < 1 || port > 65535 {
		return nil, fmt.Errorf("could not parse PORT env variable %q", os.Getenv("PORT"))
	}
	cfg.Port = port

	var missing []string
	switch cfg.Backend {
	case BackendSupabase:
		if cfg.Supabase.URL == "" {
			missing = append(missing, "SUPABASE_URL")
		}
		if cfg.Supabase.AnonKey == "" {
			missing = append(missing, "SUPABASE_ANON_KEY")
		}
	case BackendMySQL:
		missing = cfg.Database.missing()
		if cfg.JWTSecret == "" {
			missing = append(missing, "JWT_SECRET")
		}
	case BackendMemory:
	default:
		return nil, fmt.Errorf("unknown CONTACTS_BACKEND %q", cfg.Backend)
	}
	if len(missing) > 0 {
		return nil, &MissingError{Keys: missing}
	}
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 16 {
		return nil, errors.New("JWT_SECRET must be at least 16 characters")
	}
	return cfg, nil
}

// DatabaseFromEnv reads the MySQL connection values only. The tools that work on the database
// directly use it, whatever backend the service is configured for.
func DatabaseFromEnv() (Database, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Database{}, fmt.Errorf("reading .env file: %w", err)
	}
	db := readDatabase()
	if missing := db.missing(); len(missing) > 0 {
		return Database{}, &MissingError{Keys: missing}
	}
	return db, nil
}

func readDatabase() Database {
	return Database{
		Host:     os.Getenv("DBHOST"),
		User:     os.Getenv("DBUSER"),
		Password: os.Getenv("DBPWD"),
		Name:     getenv("DBNAME", "contacts"),
	}
}

func (d Database) missing() []string {
	var keys []string
	if d.Host == "" {
		keys = append(keys, "DBHOST")
	}
	if d.User == "" {
		keys = append(keys, "DBUSER")
	}
	return keys
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
