// Package mariadb checks claimed identities against an electoral roll kept in MariaDB/MySQL.
package mariadb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/kozaktomas/voter-gate/internal/identity"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Pool manages a MariaDB connection pool.
type Pool struct {
	db    *sql.DB
	query string
}

// NewPool creates a new MariaDB connection pool for the given roll table.
// The table must have national_id, voter_id and active columns.
func NewPool(dsn, table string) (*Pool, error) {
	if dsn == "" {
		return nil, errors.New("MariaDB DSN is required")
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid roll table name %q", table)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MariaDB: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping MariaDB: %w", err)
	}

	return newPool(db, table), nil
}

func newPool(db *sql.DB, table string) *Pool {
	return &Pool{
		db:    db,
		query: "SELECT EXISTS(SELECT 1 FROM " + table + " WHERE national_id = ? AND voter_id = ? AND active = 1)",
	}
}

// OnRoll reports whether the identifier pair is an active roll entry.
// Identifiers are normalized the same way identity keys are.
func (p *Pool) OnRoll(ctx context.Context, primary, secondary string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx, p.query, identity.Normalize(primary), identity.Normalize(secondary)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query electoral roll: %w", err)
	}
	return exists, nil
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}
