package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Rrens/lean-coffee/internal/domain"
)

const participantColumns = `id, session_id, user_id, role, joined_at, left_at,
	is_active, is_push_subscribed, ` + auditColumns

// ParticipantRepository implements domain.ParticipantRepository
type ParticipantRepository struct {
	db DBTX
}

// NewParticipantRepository creates a new participant repository
func NewParticipantRepository(db DBTX) *ParticipantRepository {
	return &ParticipantRepository{db: db}
}

func scanParticipant(row pgx.Row) (*domain.Participant, error) {
	var p domain.Participant
	dest := append([]any{
		&p.ID,
		&p.SessionID,
		&p.UserID,
		&p.Role,
		&p.JoinedAt,
		&p.LeftAt,
		&p.IsActive,
		&p.IsPushSubscribed,
	}, auditDest(&p.Audit)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ParticipantRepository) Create(ctx context.Context, p *domain.Participant) error {
	query := `
		INSERT INTO lean_coffee_participants (` + participantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	args := append([]any{
		p.ID,
		p.SessionID,
		p.UserID,
		p.Role,
		p.JoinedAt,
		p.LeftAt,
		p.IsActive,
		p.IsPushSubscribed,
	}, auditArgs(p.Audit)...)

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create participant: %w", mapError(err, "participant", p.UserID))
	}
	return nil
}

func (r *ParticipantRepository) Get(ctx context.Context, sessionID, userID uuid.UUID) (*domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM lean_coffee_participants
		WHERE session_id = $1 AND user_id = $2 AND NOT is_deleted
	`
	p, err := scanParticipant(r.db.QueryRow(ctx, query, sessionID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", mapError(err, "participant", userID))
	}
	return p, nil
}

func (r *ParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	query := `
		UPDATE lean_coffee_participants
		SET role = $2, joined_at = $3, left_at = $4, is_active = $5, is_push_subscribed = $6,
			updated_at = $7, updated_by = $8
		WHERE id = $1 AND NOT is_deleted
	`
	tag, err := r.db.Exec(ctx, query,
		p.ID,
		p.Role,
		p.JoinedAt,
		p.LeftAt,
		p.IsActive,
		p.IsPushSubscribed,
		p.UpdatedAt,
		p.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("failed to update participant: %w", mapError(err, "participant", p.ID))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update participant: %w", mapError(pgx.ErrNoRows, "participant", p.ID))
	}
	return nil
}

func (r *ParticipantRepository) ListActive(ctx context.Context, sessionID uuid.UUID) ([]domain.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM lean_coffee_participants
		WHERE session_id = $1 AND is_active AND NOT is_deleted
		ORDER BY joined_at ASC
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	participants := []domain.Participant{}
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, *p)
	}
	return participants, rows.Err()
}
