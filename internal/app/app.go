// Package app wires the configured backend together. Both the service and the benchmark client
// use it.
package app

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/dirk.krummacker/contacts-ui/internal/auth"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend/memory"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend/rest"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/backend/sqlstore"
	"gitlab.com/dirk.krummacker/contacts-ui/internal/config"
)

// OpenBackend creates the backend selected by the configuration. The returned function releases
// its resources.
func OpenBackend(cfg *config.Config, logger *zap.Logger) (backend.Backend, func(), error) {
	switch cfg.Backend {
	case config.BackendMySQL:
		tokens, err := auth.NewTokenService(cfg.JWTSecret)
		if err != nil {
			return nil, nil, err
		}
		sqlDB, err := sqlstore.OpenDatabase(cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		store, err := sqlstore.New(sqlDB, tokens, auth.NewPasswordService())
		if err != nil {
			_ = sqlDB.Close()
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.BackendMemory:
		secret := cfg.JWTSecret
		if secret == "" {
			// Tokens only need to survive as long as the process.
			secret = uuid.NewString()
		}
		tokens, err := auth.NewTokenService(secret)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("using the in-memory backend, all data is lost on restart")
		return memory.New(tokens, auth.NewPasswordService()), func() {}, nil
	default:
		return rest.New(cfg.Supabase.URL, cfg.Supabase.AnonKey), func() {}, nil
	}
}
