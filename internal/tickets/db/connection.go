package db

import (
	"context"
	"database/sql"
	"fmt"

	"ms-checkin/internal/database/migrations"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Open connects to the device database at path (":memory:" for tests) and
// applies the schema. One connection serializes writers, which is what keeps
// SQLite from returning SQLITE_BUSY under overlapping commits.
func Open(ctx context.Context, path string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", path, err)
	}
	sqldb.SetMaxOpenConns(1)

	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to connect to sqlite %s: %w", path, err)
	}

	if path != ":memory:" {
		for _, pragma := range []string{"PRAGMA busy_timeout = 5000", "PRAGMA journal_mode = WAL"} {
			if _, err := sqldb.ExecContext(ctx, pragma); err != nil {
				sqldb.Close()
				return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
			}
		}
	}

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	if err := migrations.Apply(bunDB, migrations.DefaultOptions()); err != nil {
		bunDB.Close()
		return nil, err
	}
	return bunDB, nil
}
