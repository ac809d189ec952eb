package data

import (
	"database/sql"
	"errors"

	"mediaguard/internal/conf"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/file"
)

const defaultMigrations = "internal/data/migrations"

func RunMigrate(c *conf.Data, db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}
	path := c.Database.Migrations
	if path == "" {
		path = defaultMigrations
	}
	src, err := (&file.File{}).Open("file://" + path)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("file", src, "postgres", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
