package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"
)

// DriverName is the database/sql driver registered by go-sql-driver/mysql.
const DriverName = "mysql"

// FormatDSN normalises a connection string: an optional mysql:// prefix is
// dropped, and times are parsed as UTC.
func FormatDSN(dsn string) (string, error) {
	cfg, err := gomysql.ParseDSN(strings.TrimPrefix(dsn, "mysql://"))
	if err != nil {
		return "", fmt.Errorf("invalid mysql DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg.FormatDSN(), nil
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	formatted, err := FormatDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(DriverName, formatted)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}
