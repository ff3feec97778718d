package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Rrens/lean-coffee/internal/domain"
)

const voteColumns = `id, topic_id, user_id, session_id, voted_at, ` + auditColumns

// VoteRepository implements domain.VoteRepository
type VoteRepository struct {
	db DBTX
}

// NewVoteRepository creates a new vote repository
func NewVoteRepository(db DBTX) *VoteRepository {
	return &VoteRepository{db: db}
}

func scanVote(row pgx.Row) (*domain.Vote, error) {
	var v domain.Vote
	dest := append([]any{&v.ID, &v.TopicID, &v.UserID, &v.SessionID, &v.VotedAt}, auditDest(&v.Audit)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &v, nil
}

// Create inserts a vote. The partial unique index on (topic_id, user_id)
// turns a second live vote into domain.ErrAlreadyExists.
func (r *VoteRepository) Create(ctx context.Context, vote *domain.Vote) error {
	query := `
		INSERT INTO lean_coffee_votes (` + voteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	args := append([]any{vote.ID, vote.TopicID, vote.UserID, vote.SessionID, vote.VotedAt}, auditArgs(vote.Audit)...)
	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create vote: %w", mapError(err, "vote", vote.TopicID))
	}
	return nil
}

func (r *VoteRepository) GetLive(ctx context.Context, topicID, userID uuid.UUID) (*domain.Vote, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM lean_coffee_votes
		WHERE topic_id = $1 AND user_id = $2 AND NOT is_deleted
	`
	v, err := scanVote(r.db.QueryRow(ctx, query, topicID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get vote: %w", mapError(err, "vote", topicID))
	}
	return v, nil
}

// Delete removes the vote row for good.
func (r *VoteRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM lean_coffee_votes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete vote: %w", mapError(err, "vote", id))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to delete vote: %w", mapError(pgx.ErrNoRows, "vote", id))
	}
	return nil
}

func (r *VoteRepository) CountLive(ctx context.Context, topicID uuid.UUID) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM lean_coffee_votes
		WHERE topic_id = $1 AND NOT is_deleted
	`, topicID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", mapError(err, "topic", topicID))
	}
	return count, nil
}

func (r *VoteRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.Vote, error) {
	query := `
		SELECT ` + voteColumns + `
		FROM lean_coffee_votes
		WHERE session_id = $1 AND NOT is_deleted
		ORDER BY voted_at ASC
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list votes: %w", err)
	}
	defer rows.Close()

	votes := []domain.Vote{}
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vote: %w", err)
		}
		votes = append(votes, *v)
	}
	return votes, rows.Err()
}
