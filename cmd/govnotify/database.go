package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-govnotify/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type persistenceConfig struct {
	driver      string
	dsn         string
	debug       bool
	pingTimeout time.Duration
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.dsn }
func (c persistenceConfig) GetPingTimeout() time.Duration { return c.pingTimeout }
func (c persistenceConfig) GetOtelIdentifier() string     { return "govnotify" }

// openDatabase returns the persistence client and its migration dialect.
func openDatabase(cfg DatabaseConfig) (*persistence.Client, string, error) {
	dialect, err := migrations.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, "", err
	}
	var client *persistence.Client
	switch dialect {
	case migrations.DialectSQLite:
		sqlDB, openErr := openSQL("sqlite3", cfg.DSN)
		if openErr != nil {
			return nil, "", openErr
		}
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(newPersistenceConfig("sqlite3", cfg), sqlDB, sqlitedialect.New())
		if err != nil {
			_ = sqlDB.Close()
		}
	case migrations.DialectPostgres:
		sqlDB, openErr := openSQL("postgres", cfg.DSN)
		if openErr != nil {
			return nil, "", openErr
		}
		client, err = persistence.New(newPersistenceConfig("postgres", cfg), sqlDB, pgdialect.New())
		if err != nil {
			_ = sqlDB.Close()
		}
	default:
		return nil, "", fmt.Errorf("database: unsupported dialect %q", dialect)
	}
	if err != nil {
		return nil, "", fmt.Errorf("database: connect: %w", err)
	}
	return client, dialect, nil
}

func openSQL(driver string, dsn string) (*sql.DB, error) {
	sqlDB, err := sql.Open(driver, strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("database: open %s: %w", driver, err)
	}
	return sqlDB, nil
}

func newPersistenceConfig(driver string, cfg DatabaseConfig) persistenceConfig {
	return persistenceConfig{
		driver:      driver,
		dsn:         strings.TrimSpace(cfg.DSN),
		debug:       cfg.Debug,
		pingTimeout: cfg.PingTimeout,
	}
}

func migrate(ctx context.Context, client *persistence.Client, dialect string) error {
	if _, err := migrations.Apply(ctx, client, dialect); err != nil {
		return err
	}
	return nil
}
