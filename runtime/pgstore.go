package runtime

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// PGSessionStore persists sessions as jsonb rows and serializes advance
// calls with Postgres advisory locks, so concurrent engine replicas agree
// on who may advance a session.
type PGSessionStore struct {
	db *sql.DB
}

func NewPGSessionStore(dsn string) (*PGSessionStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &PGSessionStore{db: db}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PGSessionStore) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
create table if not exists stepweave_sessions (
  id text primary key,
  payload jsonb not null,
  created_at timestamptz not null,
  updated_at timestamptz not null
);
`)
	return err
}

func (s *PGSessionStore) Create(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into stepweave_sessions (id, payload, created_at, updated_at) values ($1, $2, $3, $3)`,
		session.ID, payload, time.Now().UTC())
	return err
}

func (s *PGSessionStore) Get(ctx context.Context, sessionID string) (*Session, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`select payload from stepweave_sessions where id = $1`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewNotFoundError(CodeSessionNotFound, "session "+sessionID+" not found")
	}
	if err != nil {
		return nil, err
	}
	var session Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *PGSessionStore) Save(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`update stepweave_sessions set payload = $2, updated_at = $3 where id = $1`,
		session.ID, payload, time.Now().UTC())
	return err
}

// Acquire takes a Postgres advisory lock keyed by the session id. Advisory
// locks are connection-scoped, so the connection is pinned until release.
func (s *PGSessionStore) Acquire(ctx context.Context, sessionID string) (func(), error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, err
	}
	key := advisoryKey(sessionID)

	var locked bool
	if err := conn.QueryRowContext(ctx, `select pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if !locked {
		_ = conn.Close()
		return nil, NewConflictError(sessionID)
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `select pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
	return release, nil
}

func (s *PGSessionStore) Close() error {
	return s.db.Close()
}

func advisoryKey(sessionID string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sessionID))
	return int64(h.Sum64())
}
