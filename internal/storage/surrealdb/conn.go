// Package surrealdb owns the shared SurrealDB connection setup used by
// JobStore and ControlCatalog. Each of those packages defines its own
// tables and queries against the *surrealdb.DB handle returned here.
package surrealdb

import (
	"context"
	"fmt"

	sdk "github.com/surrealdb/surrealdb.go"

	"github.com/ctrlmap/mapper/internal/common"
)

// Config carries the connection parameters for a SurrealDB endpoint.
type Config struct {
	Address   string
	Username  string
	Password  string
	Namespace string
	Database  string
}

// Connect dials SurrealDB, signs in, selects the namespace/database, and
// defines the tables this module owns. Tables are defined SCHEMALESS,
// matching the teacher's own table-bootstrap idiom, since SurrealDB errors
// on querying a table that has never been defined.
func Connect(ctx context.Context, cfg Config, logger *common.Logger) (*sdk.DB, error) {
	db, err := sdk.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	tables := []string{"job", "framework", "control"}
	for _, table := range tables {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := sdk.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB connection established")

	return db, nil
}
