package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	govnotify "github.com/goliatone/go-govnotify"
	persistence "github.com/goliatone/go-persistence-bun"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const rootPath = "data/sql/migrations"

// DialectForDriver maps a database/sql driver name onto a migration dialect.
func DialectForDriver(driver string) (string, error) {
	switch strings.TrimSpace(strings.ToLower(driver)) {
	case "postgres", "pgx", "pq":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: unsupported driver %q", driver)
	}
}

// Source is the migration tree of one dialect. Postgres files sit at the
// root and the sqlite variants in a sqlite/ subdirectory.
type Source struct {
	Dialect string
	Path    string
	FS      fs.FS
}

// Sources resolves both dialect trees from root, or from the embedded
// migrations when root is nil. Every tree must hold at least one up file.
func Sources(root fs.FS) ([]Source, error) {
	if root == nil {
		root = govnotify.GetMigrationsFS()
	}
	base, err := fs.Sub(root, rootPath)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s not found: %w", rootPath, err)
	}
	sqliteFS, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve sqlite tree: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Path: rootPath, FS: base},
		{Dialect: DialectSQLite, Path: rootPath + "/sqlite", FS: sqliteFS},
	}
	for _, source := range sources {
		ups, err := fs.Glob(source.FS, "*.up.sql")
		if err != nil {
			return nil, fmt.Errorf("migrations: glob %s: %w", source.Path, err)
		}
		if len(ups) == 0 {
			return nil, fmt.Errorf("migrations: %s tree %q has no *.up.sql files", source.Dialect, source.Path)
		}
	}
	return sources, nil
}

// SourceFor returns the embedded tree for dialect.
func SourceFor(dialect string) (Source, error) {
	dialect = strings.TrimSpace(strings.ToLower(dialect))
	sources, err := Sources(nil)
	if err != nil {
		return Source{}, err
	}
	for _, source := range sources {
		if source.Dialect == dialect {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: unsupported dialect %q", dialect)
}

// Apply registers the dialect's tree on the persistence client and runs
// every pending migration.
func Apply(ctx context.Context, client *persistence.Client, dialect string) (Source, error) {
	if client == nil {
		return Source{}, fmt.Errorf("migrations: persistence client is required")
	}
	source, err := SourceFor(dialect)
	if err != nil {
		return Source{}, err
	}
	client.RegisterSQLMigrations(source.FS)
	if err := client.Migrate(ctx); err != nil {
		return source, fmt.Errorf("migrations: migrate %s: %w", source.Dialect, err)
	}
	return source, nil
}
