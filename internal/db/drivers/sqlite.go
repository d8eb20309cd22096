package drivers

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
)

const LibSQLDriverName = "libsql"

// SQLiteShimName is the local SQLite driver registered by sqliteshim.
const SQLiteShimName = sqliteshim.ShimName

type SQLiteDriver struct {
	db *bun.DB
}

// NewSQLiteDriver opens dsn with the named database/sql driver and the
// SQLite dialect. name is SQLiteShimName for local files or
// LibSQLDriverName for libsql/turso URLs.
func NewSQLiteDriver(ctx context.Context, name, dsn string) (*SQLiteDriver, error) {
	sqldb, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}

	if name == SQLiteShimName {
		// Keeps shared in-memory databases on a single connection.
		sqldb.SetMaxOpenConns(1)
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteDriver{db: db}, nil
}

func (d *SQLiteDriver) GetDB() *bun.DB {
	return d.db
}

func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}
