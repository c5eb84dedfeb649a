package main

import (
	"fmt"

	"github.com/rohankatakam/homergraph/internal/store"
)

// openStore opens the store backend selected by configuration, defaulting
// to the embedded SQLite store used for local development.
func openStore() (store.Store, error) {
	switch cfg.Storage.Type {
	case "postgres":
		s, err := store.NewPostgresStore(cfg.Storage.PostgresDSN, "", logger)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return s, nil
	case "", "sqlite":
		s, err := store.NewSQLiteStore(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}
