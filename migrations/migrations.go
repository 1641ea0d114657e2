// Package migrations embeds the goose SQL migrations so the server, the
// migrate command and integration tests share one schema source.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"sync"

	"github.com/pressly/goose/v3"
)

// FS holds every *.sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS

var setupOnce sync.Once
var setupErr error

// Setup points goose at the embedded migrations. goose keeps this state in
// package globals, so it only needs doing once per process.
func Setup() error {
	setupOnce.Do(func() {
		goose.SetBaseFS(FS)
		setupErr = goose.SetDialect("postgres")
	})
	return setupErr
}

// Up applies every pending migration.
func Up(ctx context.Context, db *sql.DB) error {
	if err := Setup(); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}
