package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists sessions and transcripts in PostgreSQL. The claim
// path is a single conditional UPDATE guarded on status, so N concurrent
// claims on one pending session produce exactly one matched row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initChatSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initChatSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chat_sessions (
			id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			status TEXT NOT NULL,
			volunteer_id TEXT NOT NULL DEFAULT '',
			declined_by TEXT[] NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			last_message_at TIMESTAMPTZ NOT NULL,
			handoff_requested_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_pending ON chat_sessions (status, handoff_requested_at);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_sessions_volunteer ON chat_sessions (volunteer_id, last_message_at DESC);`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES chat_sessions(id),
			seq BIGSERIAL,
			sender_role TEXT NOT NULL,
			channel TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			read_at TIMESTAMPTZ NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_order ON chat_messages (session_id, created_at, seq);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init chat schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const sessionColumns = `id, requester_id, mode, status, volunteer_id, declined_by,
	created_at, updated_at, last_message_at, handoff_requested_at`

func (s *PostgresStore) GetOrCreateSession(ctx context.Context, sessionID, requesterID string) (*Session, error) {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_sessions (id, requester_id, mode, status, created_at, updated_at, last_message_at)
		 VALUES ($1, $2, $3, $4, $5, $5, $5)
		 ON CONFLICT (id) DO NOTHING`,
		sessionID, requesterID, string(ModeAgent), string(StatusOpen), now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s.GetSession(ctx, sessionID)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions WHERE id=$1`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, sessionID string, patch SessionPatch) (*Session, error) {
	var statusArg, modeArg, volunteerArg *string
	if patch.Status != nil {
		v := string(*patch.Status)
		statusArg = &v
	}
	if patch.Mode != nil {
		v := string(*patch.Mode)
		modeArg = &v
	}
	if patch.VolunteerID != nil {
		volunteerArg = patch.VolunteerID
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE chat_sessions SET
			status = COALESCE($2, status),
			mode = COALESCE($3, mode),
			volunteer_id = COALESCE($4, volunteer_id),
			handoff_requested_at = COALESCE($5, handoff_requested_at),
			last_message_at = COALESCE($6, last_message_at),
			updated_at = $7
		 WHERE id=$1
		 RETURNING `+sessionColumns,
		sessionID, statusArg, modeArg, volunteerArg,
		patch.HandoffRequestedAt, patch.LastMessageAt, time.Now().UTC(),
	)
	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

func (s *PostgresStore) ClaimSession(ctx context.Context, sessionID, volunteerID string) (*Session, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE chat_sessions SET status=$3, mode=$4, volunteer_id=$2, updated_at=$5
		 WHERE id=$1 AND status=$6
		 RETURNING `+sessionColumns,
		sessionID, volunteerID, string(StatusActivePeer), string(ModePeer),
		time.Now().UTC(), string(StatusHandoffPending),
	)
	sess, err := scanSession(row)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim session: %w", err)
	}

	// The conditional write matched nothing: distinguish a missing session
	// from a lost race.
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return nil, ErrRaceLost
}

func (s *PostgresStore) AddDecline(ctx context.Context, sessionID, volunteerID string) (*Session, bool, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE chat_sessions SET declined_by=array_append(declined_by,$2), updated_at=$3
		 WHERE id=$1 AND status=$4 AND NOT ($2 = ANY(declined_by))
		 RETURNING `+sessionColumns,
		sessionID, volunteerID, time.Now().UTC(), string(StatusHandoffPending),
	)
	sess, err := scanSession(row)
	if err == nil {
		return sess, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("add decline: %w", err)
	}

	// Already declined, or no longer pending: both are no-op successes.
	sess, err = s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

func (s *PostgresStore) AppendMessage(ctx context.Context, msg *Message) (*Message, error) {
	stored := *msg
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO chat_messages (id, session_id, sender_role, channel, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING seq`,
		stored.ID, stored.SessionID, string(stored.SenderRole),
		string(stored.Channel), stored.Content, stored.CreatedAt,
	).Scan(&stored.Seq)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}
	return &stored, nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, sessionID string) ([]*Message, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, session_id, seq, sender_role, channel, content, created_at, read_at
		 FROM chat_messages WHERE session_id=$1
		 ORDER BY created_at ASC, seq ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		var (
			m      Message
			role   string
			chann  string
			readAt *time.Time
		)
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Seq, &role, &chann, &m.Content, &m.CreatedAt, &readAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		m.SenderRole = SenderRole(role)
		m.Channel = Channel(chann)
		m.ReadAt = readAt
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) ListPending(ctx context.Context, volunteerID string) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE status=$1 AND NOT ($2 = ANY(declined_by))
		 ORDER BY handoff_requested_at ASC NULLS LAST, created_at ASC`,
		string(StatusHandoffPending), volunteerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	return collectSessions(rows)
}

func (s *PostgresStore) ListActive(ctx context.Context, volunteerID string) ([]*Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM chat_sessions
		 WHERE status=$1 AND volunteer_id=$2
		 ORDER BY last_message_at DESC`,
		string(StatusActivePeer), volunteerID,
	)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	return collectSessions(rows)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func collectSessions(rows pgx.Rows) ([]*Session, error) {
	defer rows.Close()

	var out []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func scanSession(row pgx.Row) (*Session, error) {
	var (
		sess      Session
		mode      string
		status    string
		requested *time.Time
	)
	if err := row.Scan(
		&sess.ID,
		&sess.RequesterID,
		&mode,
		&status,
		&sess.VolunteerID,
		&sess.DeclinedBy,
		&sess.CreatedAt,
		&sess.UpdatedAt,
		&sess.LastMessageAt,
		&requested,
	); err != nil {
		return nil, err
	}
	sess.Mode = Mode(mode)
	sess.Status = Status(status)
	sess.HandoffRequestedAt = requested
	return &sess, nil
}
