package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	connector "github.com/thomasrutger/Connector"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

const migrationsDir = "data/sql/migrations"

// RegisterFunc receives the migration tree of one dialect.
type RegisterFunc func(ctx context.Context, dialect string, fsys fs.FS) error

type Option func(*registration)

type registration struct {
	targets []string
}

// WithValidationTargets limits registration to the given dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *registration) {
		next := make([]string, 0, len(targets))
		for _, target := range targets {
			target = strings.TrimSpace(strings.ToLower(target))
			if target == "" || slices.Contains(next, target) {
				continue
			}
			next = append(next, target)
		}
		if len(next) > 0 {
			r.targets = next
		}
	}
}

// Register hands the embedded process-table migrations of every targeted
// dialect to registerFn. Both dialects are targeted by default.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) error {
	if registerFn == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	reg := registration{targets: []string{DialectPostgres, DialectSQLite}}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}

	root := connector.GetMigrationsFS()
	for _, dialect := range reg.targets {
		tree, err := dialectTree(root, dialect)
		if err != nil {
			return err
		}
		if err := registerFn(ctx, dialect, tree); err != nil {
			return fmt.Errorf("migrations: register %s: %w", dialect, err)
		}
	}
	return nil
}

// dialectTree resolves the directory holding one dialect's migrations. The
// postgres files live at the root of the tree, sqlite ones in a subdirectory.
func dialectTree(root fs.FS, dialect string) (fs.FS, error) {
	var dir string
	switch dialect {
	case DialectPostgres:
		dir = migrationsDir
	case DialectSQLite:
		dir = migrationsDir + "/sqlite"
	default:
		return nil, fmt.Errorf("migrations: unsupported dialect %q", dialect)
	}

	tree, err := fs.Sub(root, dir)
	if err != nil {
		return nil, fmt.Errorf("migrations: resolve %s tree: %w", dialect, err)
	}
	matches, err := fs.Glob(tree, "*.up.sql")
	if err != nil {
		return nil, fmt.Errorf("migrations: glob %s: %w", dir, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("migrations: %s has no *.up.sql files", dir)
	}
	return tree, nil
}
