package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arbor-coach/arbor/pkg/models"
)

const sessionColumns = `session_id, tenant_id, user_id, topic_id, status,
	turn, max_turns, message_count, history, in_flight_job_id,
	version, created_at, last_activity_at`

// PostgresSessionStore persists sessions. A partial unique index on
// (tenant_id, user_id, topic_id) WHERE status = 'active' backs the
// one-active-session invariant; all other writes are version CAS.
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore creates a session store over the shared pool.
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

// Create inserts a new session at version 1.
func (s *PostgresSessionStore) Create(ctx context.Context, session *models.Session) error {
	historyJSON, err := marshalHistory(session.History)
	if err != nil {
		return err
	}
	session.Version = 1
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, tenant_id, user_id, topic_id, status,
			turn, max_turns, message_count, history, in_flight_job_id,
			version, created_at, last_activity_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		session.ID, session.TenantID, session.UserID, session.TopicID, string(session.Status),
		session.Turn, session.MaxTurns, session.MessageCount, historyJSON, nullString(session.InFlightJobID),
		session.Version, session.CreatedAt, session.LastActivityAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// Get returns the session by id.
func (s *PostgresSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = $1`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// Update writes the mutable fields guarded by the version the caller read.
// On success session.Version is bumped to the stored value. Identity fields
// (tenant, user, topic, created_at) never change after Create.
func (s *PostgresSessionStore) Update(ctx context.Context, session *models.Session) error {
	historyJSON, err := marshalHistory(session.History)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = $2, turn = $3, max_turns = $4, message_count = $5,
			history = $6, in_flight_job_id = $7, last_activity_at = $8,
			version = version + 1
		WHERE session_id = $1 AND version = $9`,
		session.ID, string(session.Status), session.Turn, session.MaxTurns, session.MessageCount,
		historyJSON, nullString(session.InFlightJobID), session.LastActivityAt,
		session.Version,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if n == 0 {
		return s.updateMiss(ctx, session.ID)
	}
	session.Version++
	return nil
}

// FindActive returns the active session for the triple, if any.
func (s *PostgresSessionStore) FindActive(ctx context.Context, tenantID, userID, topicID string) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND user_id = $2 AND topic_id = $3 AND status = $4`,
		tenantID, userID, topicID, string(models.SessionStatusActive),
	)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return session, nil
}

// List returns the user's sessions, newest first.
func (s *PostgresSessionStore) List(ctx context.Context, tenantID, userID string, limit int) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND user_id = $2
		ORDER BY created_at DESC
		LIMIT $3`,
		tenantID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

func (s *PostgresSessionStore) updateMiss(ctx context.Context, id string) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM sessions WHERE session_id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session existence: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func marshalHistory(history []models.ChatMessage) ([]byte, error) {
	if history == nil {
		history = []models.ChatMessage{}
	}
	b, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("marshal session history: %w", err)
	}
	return b, nil
}

func scanSession(scanner rowScanner) (*models.Session, error) {
	var (
		session       models.Session
		status        string
		historyBytes  []byte
		inFlightJobID sql.NullString
	)
	if err := scanner.Scan(
		&session.ID, &session.TenantID, &session.UserID, &session.TopicID, &status,
		&session.Turn, &session.MaxTurns, &session.MessageCount, &historyBytes, &inFlightJobID,
		&session.Version, &session.CreatedAt, &session.LastActivityAt,
	); err != nil {
		return nil, err
	}
	session.Status = models.SessionStatus(status)
	if len(historyBytes) > 0 {
		if err := json.Unmarshal(historyBytes, &session.History); err != nil {
			return nil, fmt.Errorf("unmarshal session history: %w", err)
		}
	}
	if inFlightJobID.Valid {
		session.InFlightJobID = &inFlightJobID.String
	}
	return &session, nil
}
