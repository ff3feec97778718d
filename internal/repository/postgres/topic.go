package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Rrens/lean-coffee/internal/domain"
)

const topicColumns = `id, session_id, submitter_id, title, description, status, vote_count,
	display_order, discussion_started_at, discussion_ended_at, is_anonymous, ` + auditColumns

// TopicRepository implements domain.TopicRepository
type TopicRepository struct {
	db DBTX
}

// NewTopicRepository creates a new topic repository
func NewTopicRepository(db DBTX) *TopicRepository {
	return &TopicRepository{db: db}
}

func scanTopic(row pgx.Row) (*domain.Topic, error) {
	var t domain.Topic
	dest := append([]any{
		&t.ID,
		&t.SessionID,
		&t.SubmitterID,
		&t.Title,
		&t.Description,
		&t.Status,
		&t.VoteCount,
		&t.DisplayOrder,
		&t.DiscussionStartedAt,
		&t.DiscussionEndedAt,
		&t.IsAnonymous,
	}, auditDest(&t.Audit)...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TopicRepository) Create(ctx context.Context, topic *domain.Topic) error {
	query := `
		INSERT INTO lean_coffee_topics (` + topicColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	args := append([]any{
		topic.ID,
		topic.SessionID,
		topic.SubmitterID,
		topic.Title,
		topic.Description,
		topic.Status,
		topic.VoteCount,
		topic.DisplayOrder,
		topic.DiscussionStartedAt,
		topic.DiscussionEndedAt,
		topic.IsAnonymous,
	}, auditArgs(topic.Audit)...)

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create topic: %w", mapError(err, "topic", topic.ID))
	}
	return nil
}

func (r *TopicRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Topic, error) {
	query := `
		SELECT ` + topicColumns + `
		FROM lean_coffee_topics
		WHERE id = $1 AND NOT is_deleted
	`
	t, err := scanTopic(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get topic: %w", mapError(err, "topic", id))
	}
	return t, nil
}

// Update writes the editable fields and status stamps. vote_count is left
// alone; it is only written by RecomputeVoteCount.
func (r *TopicRepository) Update(ctx context.Context, topic *domain.Topic) error {
	query := `
		UPDATE lean_coffee_topics
		SET title = $2, description = $3, status = $4, display_order = $5,
			discussion_started_at = $6, discussion_ended_at = $7, is_anonymous = $8,
			updated_at = $9, updated_by = $10,
			deleted_at = $11, deleted_by = $12, is_deleted = $13
		WHERE id = $1 AND NOT is_deleted
	`
	tag, err := r.db.Exec(ctx, query,
		topic.ID,
		topic.Title,
		topic.Description,
		topic.Status,
		topic.DisplayOrder,
		topic.DiscussionStartedAt,
		topic.DiscussionEndedAt,
		topic.IsAnonymous,
		topic.UpdatedAt,
		topic.UpdatedBy,
		topic.DeletedAt,
		topic.DeletedBy,
		topic.IsDeleted,
	)
	if err != nil {
		return fmt.Errorf("failed to update topic: %w", mapError(err, "topic", topic.ID))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("failed to update topic: %w", mapError(pgx.ErrNoRows, "topic", topic.ID))
	}
	return nil
}

func (r *TopicRepository) List(ctx context.Context, filter domain.TopicFilter) ([]domain.Topic, error) {
	builder := psql.Select(topicColumns).
		From("lean_coffee_topics").
		Where(sq.Eq{"session_id": filter.SessionID, "is_deleted": false})

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		builder = builder.Where(sq.Eq{"status": statuses})
	}

	query, args, err := builder.OrderBy("display_order ASC", "created_at ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build topic list query: %w", err)
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list topics: %w", err)
	}
	defer rows.Close()

	topics := []domain.Topic{}
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan topic: %w", err)
		}
		topics = append(topics, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate topics: %w", err)
	}
	return topics, nil
}

func (r *TopicRepository) NextDisplayOrder(ctx context.Context, sessionID uuid.UUID) (int, error) {
	query := `
		SELECT COALESCE(MAX(display_order), -1) + 1
		FROM lean_coffee_topics
		WHERE session_id = $1 AND NOT is_deleted
	`
	var next int
	if err := r.db.QueryRow(ctx, query, sessionID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to get next display order: %w", mapError(err, "session", sessionID))
	}
	return next, nil
}

// RecomputeVoteCount locks the topic row, counts its live votes and stores
// the result. The count runs after the lock is taken, so the last
// recompute to commit has seen every vote committed before it.
func (r *TopicRepository) RecomputeVoteCount(ctx context.Context, topicID, actor uuid.UUID, at time.Time) (int, error) {
	var count int
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `
			SELECT id FROM lean_coffee_topics
			WHERE id = $1 AND NOT is_deleted
			FOR UPDATE
		`, topicID).Scan(&locked); err != nil {
			return err
		}

		if err := tx.QueryRow(ctx, `
			SELECT COUNT(*) FROM lean_coffee_votes
			WHERE topic_id = $1 AND NOT is_deleted
		`, topicID).Scan(&count); err != nil {
			return err
		}

		_, err := tx.Exec(ctx, `
			UPDATE lean_coffee_topics
			SET vote_count = $2, updated_at = $3, updated_by = $4
			WHERE id = $1
		`, topicID, count, at, actor)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to recompute vote count: %w", mapError(err, "topic", topicID))
	}
	return count, nil
}
