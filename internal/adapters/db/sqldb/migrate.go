package sqldb

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
	"gorm.io/gorm"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

func RunMigrations(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	var dialect, dir string
	switch db.Dialector.Name() {
	case "sqlite":
		dialect, dir = "sqlite3", "migrations/sqlite"
	case "postgres":
		dialect, dir = "postgres", "migrations/postgres"
	default:
		return fmt.Errorf("no migrations for dialect %q", db.Dialector.Name())
	}

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	goose.SetBaseFS(migrationsFS)
	if err := goose.UpContext(ctx, sqlDB, dir); err != nil {
		return err
	}

	return nil
}
