package repository

import (
	"database/sql"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/driver/sqliteshim"
	"github.com/uptrace/bun/schema"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open returns a bun.DB for the given driver name and DSN
func Open(driver, dsn string) (*bun.DB, error) {
	sqldb, dialect, err := OpenSQL(driver, dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqldb, dialect), nil
}

// OpenSQL returns the raw connection pool and the bun dialect for driver.
// It is what persistence.New expects.
func OpenSQL(driver, dsn string) (*sql.DB, schema.Dialect, error) {
	switch driver {
	case DriverSQLite, "":
		sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, nil, err
		}
		// sqlite in memory databases are per connection
		sqldb.SetMaxOpenConns(1)
		return sqldb, sqlitedialect.New(), nil
	case DriverPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
		return sqldb, pgdialect.New(), nil
	default:
		return nil, nil, fmt.Errorf("unknown persistence driver %q", driver)
	}
}
