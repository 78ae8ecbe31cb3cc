// Package sqlite stores checkpoints in a local SQLite database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fujin-io/evstore/public/cerr"
	"github.com/fujin-io/evstore/public/checkpoint"
	"github.com/fujin-io/evstore/public/types"
	"github.com/fujin-io/evstore/public/util"

	_ "modernc.org/sqlite" // register sqlite driver
)

func init() {
	if err := checkpoint.Register("sqlite", func(settings any, l *slog.Logger) (checkpoint.Store, error) {
		var conf Config
		if err := util.ConvertConfig(settings, &conf); err != nil {
			return nil, fmt.Errorf("convert config: %w", err)
		}
		return Open(context.Background(), conf, l)
	}); err != nil {
		panic(fmt.Sprintf("failed to register sqlite checkpoint store: %v", err))
	}
}

type Config struct {
	Path string `yaml:"path"`
}

func (c *Config) Validate() error {
	if c.Path == "" {
		return cerr.ValidationErr("sqlite checkpoint: path is required")
	}
	return nil
}

type Store struct {
	db *sql.DB
	l  *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	key          TEXT PRIMARY KEY,
	event_number INTEGER,
	commit_pos   INTEGER,
	prepare_pos  INTEGER,
	updated_at   INTEGER NOT NULL
);`

func Open(ctx context.Context, conf Config, l *slog.Logger) (*Store, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", conf.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer keeps SQLITE_BUSY away
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoints table: %w", err)
	}

	return &Store{db: db, l: l}, nil
}

func (s *Store) Load(ctx context.Context, key string) (checkpoint.Checkpoint, bool, error) {
	var eventNumber, commit, prepare sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT event_number, commit_pos, prepare_pos FROM checkpoints WHERE key = ?`, key,
	).Scan(&eventNumber, &commit, &prepare)
	if errors.Is(err, sql.ErrNoRows) {
		return checkpoint.Checkpoint{}, false, nil
	}
	if err != nil {
		return checkpoint.Checkpoint{}, false, fmt.Errorf("load checkpoint %q: %w", key, err)
	}

	var cp checkpoint.Checkpoint
	if eventNumber.Valid {
		n := eventNumber.Int64
		cp.EventNumber = &n
	}
	if commit.Valid && prepare.Valid {
		cp.Position = &types.Position{CommitPosition: commit.Int64, PreparePosition: prepare.Int64}
	}
	return cp, true, nil
}

func (s *Store) Save(ctx context.Context, key string, cp checkpoint.Checkpoint) error {
	var eventNumber, commit, prepare sql.NullInt64
	if cp.EventNumber != nil {
		eventNumber = sql.NullInt64{Int64: *cp.EventNumber, Valid: true}
	}
	if cp.Position != nil {
		commit = sql.NullInt64{Int64: cp.Position.CommitPosition, Valid: true}
		prepare = sql.NullInt64{Int64: cp.Position.PreparePosition, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints(key, event_number, commit_pos, prepare_pos, updated_at)
		VALUES(?, ?, ?, ?, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET
			event_number = excluded.event_number,
			commit_pos = excluded.commit_pos,
			prepare_pos = excluded.prepare_pos,
			updated_at = excluded.updated_at
	`, key, eventNumber, commit, prepare); err != nil {
		return fmt.Errorf("save checkpoint %q: %w", key, err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
