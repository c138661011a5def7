package store

import (
	"embed"
	stderrors "errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded schema migrations.
// direction is "up" or "down"; steps 0 means all.
func Migrate(dsn, direction string, steps int) error {
	if dsn == "" {
		return errors.ValidationError("database url is required to migrate")
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.InternalError("load embedded migrations", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return errors.Wrap(errors.CodeUnavailable, "failed to open migration target", err)
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return errors.ValidationError(fmt.Sprintf("unknown direction: %s", direction))
	}

	if stderrors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	if err != nil {
		return errors.StorageError("migrate "+direction, err)
	}
	return nil
}
