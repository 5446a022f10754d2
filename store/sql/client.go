package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/thomasrutger/Connector/core"
	"github.com/thomasrutger/Connector/migrations"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

type clientConfig struct {
	cfg core.PersistenceConfig
}

func (c clientConfig) GetDebug() bool {
	return c.cfg.Debug
}

func (c clientConfig) GetDriver() string {
	return NormalizeDriver(c.cfg.Driver)
}

func (c clientConfig) GetServer() string {
	return c.cfg.DSN
}

func (c clientConfig) GetPingTimeout() time.Duration {
	if c.cfg.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.cfg.PingTimeout
}

func (c clientConfig) GetOtelIdentifier() string {
	return "connector"
}

func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", DriverSQLite:
		return DriverSQLite
	case "pg", "postgresql", DriverPostgres:
		return DriverPostgres
	default:
		return strings.TrimSpace(driver)
	}
}

// MigrationDialect maps a database/sql driver name to its migration tree.
func MigrationDialect(driver string) (string, error) {
	switch NormalizeDriver(driver) {
	case DriverSQLite:
		return migrations.DialectSQLite, nil
	case DriverPostgres:
		return migrations.DialectPostgres, nil
	default:
		return "", fmt.Errorf("sqlstore: driver %q is not supported", driver)
	}
}

// OpenClient opens the configured database and wraps it in a
// go-persistence-bun client. sqlite connections are pinned to a single
// connection so in-memory databases survive between queries.
func OpenClient(cfg core.PersistenceConfig) (*persistence.Client, error) {
	driver := NormalizeDriver(cfg.Driver)
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("sqlstore: persistence dsn is required")
	}

	var dialect schema.Dialect
	switch driver {
	case DriverSQLite:
		dialect = sqlitedialect.New()
	case DriverPostgres:
		dialect = pgdialect.New()
	default:
		return nil, fmt.Errorf("sqlstore: driver %q is not supported", cfg.Driver)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}

	cfg.Driver = driver
	cfg.DSN = dsn
	client, err := persistence.New(clientConfig{cfg: cfg}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}

// Migrate registers the connector migrations for the client's dialect and
// applies them.
func Migrate(ctx context.Context, client *persistence.Client, driver string) error {
	if client == nil {
		return fmt.Errorf("sqlstore: persistence client is required")
	}
	dialect, err := MigrationDialect(driver)
	if err != nil {
		return err
	}
	err = migrations.Register(ctx, func(_ context.Context, _ string, fsys fs.FS) error {
		client.RegisterSQLMigrations(fsys)
		return nil
	}, migrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("sqlstore: migrate: %w", err)
	}
	return nil
}

// Open is OpenClient followed by Migrate and BuildStores.
func Open(ctx context.Context, cfg core.PersistenceConfig) (*RepositoryFactory, *persistence.Client, error) {
	client, err := OpenClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	if err := Migrate(ctx, client, cfg.Driver); err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	factory, err := NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return factory, client, nil
}
