package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS event_journal (
	event_key   TEXT        PRIMARY KEY,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type PostgresJournal struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate event_journal: %w", err)
	}
	return nil
}

func NewPostgresJournal(db *sql.DB) *PostgresJournal {
	return &PostgresJournal{db: db}
}

func (p *PostgresJournal) Record(ctx context.Context, key string) (bool, error) {
	res, err := p.db.ExecContext(ctx,
		`INSERT INTO event_journal(event_key) VALUES($1) ON CONFLICT DO NOTHING`, key)
	if err != nil {
		return false, fmt.Errorf("journal record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("journal record: %w", err)
	}
	return n == 1, nil
}

func (p *PostgresJournal) Seen(ctx context.Context, key string) (bool, error) {
	var one int
	err := p.db.QueryRowContext(ctx,
		`SELECT 1 FROM event_journal WHERE event_key = $1`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("journal seen: %w", err)
	}
	return true, nil
}
