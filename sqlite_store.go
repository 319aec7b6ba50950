package notary

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type sqliteStore struct{ db *sql.DB }

// OpenSQLiteStore opens the accounts database at dsn and creates the table if needed.
func OpenSQLiteStore(dsn string) (Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	// Per-connection PRAGMAs below only hold with a single pooled connection.
	db.SetMaxOpenConns(1)
	st := &sqliteStore{db: db}
	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=FULL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA wal_autocheckpoint=1000;",
	} {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set %s: %w", p, err)
		}
	}
	schema := `
CREATE TABLE IF NOT EXISTS accounts (
  address    BLOB    PRIMARY KEY CHECK(length(address)=32),
  data       BLOB    NOT NULL,      -- fixed-size record bytes, never resized
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) Load(ctx context.Context, addr Address) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM accounts WHERE address=?`, addr[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Create inserts the record inside a serializable transaction.
func (s *sqliteStore) Create(ctx context.Context, addr Address, data []byte) error {
	if len(data) != RecordSize {
		return ErrSizeMismatch
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE address=?`, addr[:]).Scan(&n); err != nil {
		return err
	}
	if n != 0 {
		return ErrRecordExists
	}

	now := time.Now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO accounts(address, data, created_at, updated_at) VALUES(?, ?, ?, ?)`,
		addr[:], data, now, now); err != nil {
		return err
	}
	return tx.Commit()
}

// Update rewrites the record only when the stored size matches.
func (s *sqliteStore) Update(ctx context.Context, addr Address, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var size int
	err = tx.QueryRowContext(ctx, `SELECT length(data) FROM accounts WHERE address=?`, addr[:]).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return err
	}
	if size != len(data) {
		return ErrSizeMismatch
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET data=?, updated_at=? WHERE address=?`,
		data, time.Now().UnixNano(), addr[:]); err != nil {
		return err
	}
	return tx.Commit()
}

// List returns all addresses in ascending order.
func (s *sqliteStore) List(ctx context.Context) ([]Address, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT address FROM accounts ORDER BY address ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Address
	for rows.Next() {
		var b []byte
		if err := rows.Scan(&b); err != nil {
			return nil, err
		}
		if len(b) != IdentitySize {
			continue
		}
		out = append(out, Address(b))
	}
	return out, rows.Err()
}

func (s *sqliteStore) Close() error { return s.db.Close() }
