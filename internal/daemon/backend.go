package daemon

import (
	"os"
	"path/filepath"

	"github.com/matheus3301/chatterbox/internal/bus"
	"github.com/matheus3301/chatterbox/internal/config"
	"github.com/matheus3301/chatterbox/internal/remote"
	"github.com/matheus3301/chatterbox/internal/session"
	"github.com/matheus3301/chatterbox/internal/store"
	"github.com/matheus3301/chatterbox/internal/supabase"
	"go.uber.org/zap"
)

// Backend is the configured record store with its account provider and
// change feed.
type Backend struct {
	Kind  string
	Store remote.Store
	Auth  remote.Authenticator
	Feed  store.Feed
	close func() error
}

// Close releases the backend's connections.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	return b.close()
}

func openBackend(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*Backend, error) {
	tokens := session.NewFileTokens(session.AuthPath(p.SessionName))

	switch cfg.Backend.Kind {
	case config.BackendSupabase:
		sb, err := supabase.New(supabase.Options{
			URL:     cfg.Backend.URL,
			AnonKey: cfg.Backend.AnonKey,
			Tokens:  tokens,
			Bus:     b,
			Logger:  logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("backend ready", zap.String("kind", cfg.Backend.Kind), zap.String("url", cfg.Backend.URL))
		return &Backend{Kind: cfg.Backend.Kind, Store: sb, Auth: sb.Auth, Feed: sb}, nil

	case config.BackendPostgres:
		db, err := store.OpenPostgres(cfg.Backend.DSN, b, logger)
		if err != nil {
			return nil, err
		}
		if err := migrate(db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("backend ready", zap.String("kind", cfg.Backend.Kind))
		return &Backend{
			Kind:  cfg.Backend.Kind,
			Store: db,
			Auth:  store.NewLocalAuth(db, tokens),
			Feed:  db.NewFeed(cfg.Backend.DSN),
			close: db.Close,
		}, nil

	default:
		path := cfg.Backend.Path
		if path == "" {
			path = session.SharedDBPath()
		}
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
		db, err := store.Open(path, b, logger)
		if err != nil {
			return nil, err
		}
		if err := migrate(db, logger); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("backend ready", zap.String("kind", config.BackendSQLite), zap.String("path", path))
		return &Backend{
			Kind:  config.BackendSQLite,
			Store: db,
			Auth:  store.NewLocalAuth(db, tokens),
			Feed:  db.NewFeed(""),
			close: db.Close,
		}, nil
	}
}

func migrate(db *store.DB, logger *zap.Logger) error {
	result, err := db.Migrate()
	if err != nil {
		return err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	return nil
}
