package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Rrens/lean-coffee/internal/domain"
)

const sessionColumns = `id, title, description, status, facilitator_id,
	scheduled_start_time, scheduled_end_time, actual_start_time, actual_end_time,
	default_topic_duration_minutes, is_public, invite_code, ` + auditColumns

// SessionRepository implements domain.SessionRepository
type SessionRepository struct {
	db DBTX
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db DBTX) *SessionRepository {
	return &SessionRepository{db: db}
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var s domain.Session
	dest := append([]any{
		&s.ID,
		&s.Title,
		&s.Description,
		&s.Status,
		&s.FacilitatorID,
		&s.ScheduledStartTime,
		&s.ScheduledEndTime,
		&s.ActualStartTime,
		&s.ActualEndTime,
		&s.DefaultTopicDurationMins,
		&s.IsPublic,
		&s.InviteCode,
	}, auditDest(&s.Audit)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SessionRepository) Create(ctx context.Context, session *domain.Session) error {
	query := `
		INSERT INTO lean_coffee_sessions (` + sessionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	args := append([]any{
		session.ID,
		session.Title,
		session.Description,
		session.Status,
		session.FacilitatorID,
		session.ScheduledStartTime,
		session.ScheduledEndTime,
		session.ActualStartTime,
		session.ActualEndTime,
		session.DefaultTopicDurationMins,
		session.IsPublic,
		session.InviteCode,
	}, auditArgs(session.Audit)...)

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create session: %w", mapError(err, "session", session.ID))
	}
	return nil
}

func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM lean_coffee_sessions
		WHERE id = $1 AND NOT is_deleted
	`
	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", mapError(err, "session", id))
	}
	return s, nil
}

func (r *SessionRepository) ListByFacilitator(ctx context.Context, facilitatorID uuid.UUID, limit, offset int) ([]domain.Session, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query, args, err := psql.Select(sessionColumns).
		From("lean_coffee_sessions").
		Where(sq.Eq{"facilitator_id": facilitatorID, "is_deleted": false}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build session list query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return sessions, nil
}

func (r *SessionRepository) Update(ctx context.Context, session *domain.Session) error {
	query := `
		UPDATE lean_coffee_sessions
		SET title = $2, description = $3, status = $4,
			scheduled_start_time = $5, scheduled_end_time = $6,
			actual_start_time = $7, actual_end_time = $8,
			default_topic_duration_minutes = $9, is_public = $10,
			updated_at = $11, updated_by = $12,
			deleted_at = $13, deleted_by = $14, is_deleted = $15
		WHERE id = $1 AND NOT is_deleted
	`
	tag, err := r.db.Exec(ctx, query,
		session.ID,
		session.Title,
		session.Description,
		session.Status,
		session.ScheduledStartTime,
		session.ScheduledEndTime,
		session.ActualStartTime,
		session.ActualEndTime,
		session.DefaultTopicDurationMins,
		session.IsPublic,
		session.UpdatedAt,
		session.UpdatedBy,
		session.DeletedAt,
		session.DeletedBy,
		session.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", mapError(err, "session", session.ID))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update session: %w", mapError(pgx.ErrNoRows, "session", session.ID))
	}
	return nil
}
