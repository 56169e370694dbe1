package cmd

import (
	"context"
	"fmt"

	"github.com/deckward/deckward/internal/config"
	"github.com/deckward/deckward/internal/guard/state"
)

func openStore(ctx context.Context) (*state.LibsqlStore, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	store, err := state.OpenLibsql(ctx, state.LibsqlConfig{
		Path:      cfg.Store.Path,
		URL:       cfg.Store.URL,
		AuthToken: cfg.Store.AuthToken,
	})
	if err != nil {
		return nil, err
	}

	return store, nil
}
