package migrations

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	govnotify "github.com/goliatone/go-govnotify"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type sqliteConfig struct {
	dsn string
}

func (c sqliteConfig) GetDebug() bool                { return false }
func (c sqliteConfig) GetDriver() string             { return "sqlite3" }
func (c sqliteConfig) GetServer() string             { return c.dsn }
func (c sqliteConfig) GetPingTimeout() time.Duration { return time.Second }
func (c sqliteConfig) GetOtelIdentifier() string     { return "govnotify-migrations-tests" }

func TestSources_ReturnsPostgresAndSQLite(t *testing.T) {
	sources, err := Sources(nil)
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(sources))
	}
	found := map[string]bool{}
	for _, source := range sources {
		matches, globErr := fs.Glob(source.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", source.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", source.Dialect)
		}
		found[source.Dialect] = true
	}
	if !found[DialectPostgres] || !found[DialectSQLite] {
		t.Fatalf("expected postgres and sqlite sources, got %v", found)
	}
}

func TestSources_RejectsTreeWithoutMigrations(t *testing.T) {
	root := fstest.MapFS{
		"data/sql/migrations/sqlite/001_init.up.sql": {Data: []byte("SELECT 1;")},
	}
	if _, err := Sources(root); err == nil {
		t.Fatalf("expected missing postgres migrations to fail")
	}
}

func TestSourceFor_UnknownDialect(t *testing.T) {
	source, err := SourceFor(" SQLite ")
	if err != nil || source.Path != "data/sql/migrations/sqlite" {
		t.Fatalf("expected sqlite source, got %+v %v", source, err)
	}
	if _, err := SourceFor("mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}

func TestMigrationPairs_ExistForBothDialects(t *testing.T) {
	root := govnotify.GetMigrationsFS()
	for _, dir := range []string{"data/sql/migrations", "data/sql/migrations/sqlite"} {
		ups, err := fs.Glob(root, dir+"/*.up.sql")
		if err != nil {
			t.Fatalf("glob %s: %v", dir, err)
		}
		for _, up := range ups {
			down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
			content, err := fs.ReadFile(root, down)
			if err != nil {
				t.Fatalf("missing down migration for %s: %v", up, err)
			}
			if strings.TrimSpace(string(content)) == "" {
				t.Fatalf("expected %s to have SQL content", down)
			}
		}
	}
}

func TestDialectForDriver(t *testing.T) {
	tests := map[string]string{
		"postgres": DialectPostgres,
		"pgx":      DialectPostgres,
		"sqlite3":  DialectSQLite,
		" SQLite ": DialectSQLite,
	}
	for driver, want := range tests {
		got, err := DialectForDriver(driver)
		if err != nil {
			t.Fatalf("driver %q: %v", driver, err)
		}
		if got != want {
			t.Fatalf("driver %q: expected %s, got %s", driver, want, got)
		}
	}
	if _, err := DialectForDriver("mysql"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestApply_CreatesSchemaOnSQLite(t *testing.T) {
	ctx := context.Background()
	dsn := fmt.Sprintf("file:govnotify-migrations-%d?mode=memory&cache=shared&_foreign_keys=on", time.Now().UnixNano())
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	client, err := persistence.New(sqliteConfig{dsn: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}
	defer func() { _ = client.Close() }()

	if _, err := Apply(ctx, client, DialectSQLite); err != nil {
		t.Fatalf("apply: %v", err)
	}
	for _, table := range []string{"events", "subscriptions", "subscription_terms", "match_records", "match_deliveries", "notification_outbox", "webhook_deliveries"} {
		var name string
		if err := client.DB().NewRaw(
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
			table,
		).Scan(ctx, &name); err != nil {
			t.Fatalf("lookup table %s: %v", table, err)
		}
		if name != table {
			t.Fatalf("expected table %s, got %q", table, name)
		}
	}
}
