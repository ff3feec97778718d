package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rrens/lean-coffee/internal/domain"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

var auditCols = []string{"created_at", "created_by", "updated_at", "updated_by", "deleted_at", "deleted_by", "is_deleted"}

func cols(names ...string) []string {
	return append(names, auditCols...)
}

func auditRow(at time.Time, by uuid.UUID) []any {
	return []any{at, by, (*time.Time)(nil), (*uuid.UUID)(nil), (*time.Time)(nil), (*uuid.UUID)(nil), false}
}

func TestMapError(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: pgx.ErrNoRows, want: domain.ErrNotFound},
		{name: "unique violation", err: &pgconn.PgError{Code: "23505"}, want: domain.ErrAlreadyExists},
		{name: "foreign key violation", err: &pgconn.PgError{Code: "23503"}, want: domain.ErrNotFound},
		{name: "check violation", err: &pgconn.PgError{Code: "23514"}, want: domain.ErrValidation},
		{name: "deadline passes through", err: context.DeadlineExceeded, want: context.DeadlineExceeded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.err, "topic", id), tt.want)
		})
	}

	assert.NoError(t, mapError(nil, "topic", id))
	other := errors.New("boom")
	assert.ErrorIs(t, mapError(other, "topic", id), other)
}

func TestTopicRepository_GetByID(t *testing.T) {
	topicID, sessionID, userID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantErr error
		check   func(t *testing.T, topic *domain.Topic)
	}{
		{
			name: "found",
			setup: func(mock pgxmock.PgxPoolIface) {
				row := append([]any{
					topicID, sessionID, userID, "Remote work", "", domain.TopicToDiscuss, 3,
					0, (*time.Time)(nil), (*time.Time)(nil), false,
				}, auditRow(now, userID)...)
				rows := pgxmock.NewRows(cols("id", "session_id", "submitter_id", "title", "description", "status",
					"vote_count", "display_order", "discussion_started_at", "discussion_ended_at", "is_anonymous")).
					AddRow(row...)
				mock.ExpectQuery(`(?s)SELECT .+ FROM lean_coffee_topics`).
					WithArgs(topicID).
					WillReturnRows(rows)
			},
			check: func(t *testing.T, topic *domain.Topic) {
				assert.Equal(t, topicID, topic.ID)
				assert.Equal(t, "Remote work", topic.Title)
				assert.Equal(t, 3, topic.VoteCount)
				assert.Equal(t, domain.TopicToDiscuss, topic.Status)
			},
		},
		{
			name: "not found",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`(?s)SELECT .+ FROM lean_coffee_topics`).
					WithArgs(topicID).
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr: domain.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := newMock(t)
			tt.setup(mock)

			topic, err := NewTopicRepository(mock).GetByID(context.Background(), topicID)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				tt.check(t, topic)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestTopicRepository_List(t *testing.T) {
	sessionID := uuid.New()
	mock := newMock(t)

	mock.ExpectQuery(`(?s)SELECT .+ FROM lean_coffee_topics WHERE .*status IN \(\$\d+,\$\d+\).* ORDER BY display_order ASC, created_at ASC`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "ToDiscuss", "Discussing").
		WillReturnRows(pgxmock.NewRows(cols("id", "session_id", "submitter_id", "title", "description", "status",
			"vote_count", "display_order", "discussion_started_at", "discussion_ended_at", "is_anonymous")))

	topics, err := NewTopicRepository(mock).List(context.Background(), domain.TopicFilter{
		SessionID: sessionID,
		Statuses:  []domain.TopicStatus{domain.TopicToDiscuss, domain.TopicDiscussing},
	})
	require.NoError(t, err)
	assert.Empty(t, topics)
	assert.NotNil(t, topics)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTopicRepository_RecomputeVoteCount(t *testing.T) {
	topicID, actor := uuid.New(), uuid.New()
	at := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	t.Run("locks, counts and stores", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`(?s)SELECT id FROM lean_coffee_topics.*FOR UPDATE`).
			WithArgs(topicID).
			WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(topicID))
		mock.ExpectQuery(`SELECT COUNT`).
			WithArgs(topicID).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
		mock.ExpectExec(`UPDATE lean_coffee_topics`).
			WithArgs(topicID, 2, at, actor).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		count, err := NewTopicRepository(mock).RecomputeVoteCount(context.Background(), topicID, actor, at)
		require.NoError(t, err)
		assert.Equal(t, 2, count)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing topic rolls back", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).
			WithArgs(topicID).
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		_, err := NewTopicRepository(mock).RecomputeVoteCount(context.Background(), topicID, actor, at)
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVoteRepository_Create(t *testing.T) {
	vote := &domain.Vote{
		ID:        uuid.New(),
		TopicID:   uuid.New(),
		UserID:    uuid.New(),
		SessionID: uuid.New(),
		VotedAt:   time.Now(),
	}

	t.Run("inserted", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO lean_coffee_votes`).
			WithArgs(vote.ID, vote.TopicID, vote.UserID, vote.SessionID, vote.VotedAt,
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
				pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, NewVoteRepository(mock).Create(context.Background(), vote))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate live vote", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`INSERT INTO lean_coffee_votes`).
			WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_lc_votes_topic_user_live"})

		err := NewVoteRepository(mock).Create(context.Background(), vote)
		assert.ErrorIs(t, err, domain.ErrAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestVoteRepository_Delete(t *testing.T) {
	id := uuid.New()

	t.Run("deleted", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM lean_coffee_votes`).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, NewVoteRepository(mock).Delete(context.Background(), id))
	})

	t.Run("already gone", func(t *testing.T) {
		mock := newMock(t)
		mock.ExpectExec(`DELETE FROM lean_coffee_votes`).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, NewVoteRepository(mock).Delete(context.Background(), id), domain.ErrNotFound)
	})
}

func TestParticipantRepository_ListActive(t *testing.T) {
	sessionID, userID := uuid.New(), uuid.New()
	joined := time.Now()
	mock := newMock(t)

	row := append([]any{uuid.New(), sessionID, userID, domain.RoleParticipant, joined, (*time.Time)(nil), true, false},
		auditRow(joined, userID)...)
	mock.ExpectQuery(`FROM lean_coffee_participants\s+WHERE session_id = \$1 AND is_active`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows(cols("id", "session_id", "user_id", "role", "joined_at", "left_at",
			"is_active", "is_push_subscribed")).AddRow(row...))

	participants, err := NewParticipantRepository(mock).ListActive(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, userID, participants[0].UserID)
	assert.True(t, participants[0].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionRepository_Update_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec(`UPDATE lean_coffee_sessions`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := NewSessionRepository(mock).Update(context.Background(), &domain.Session{ID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTopicRepository_NextDisplayOrder(t *testing.T) {
	sessionID := uuid.New()
	mock := newMock(t)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(display_order\), -1\) \+ 1`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(4))

	next, err := NewTopicRepository(mock).NextDisplayOrder(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, 4, next)
}

func TestDeviceTokenRepository_Upsert(t *testing.T) {
	userID := uuid.New()
	storedID := uuid.New()
	created := time.Now().Add(-time.Hour)
	device := &domain.DeviceToken{ID: uuid.New(), UserID: userID, Token: "tok", Platform: "android"}
	device.Created(userID, time.Now())

	mock := newMock(t)
	mock.ExpectQuery(`(?s)INSERT INTO device_tokens.*ON CONFLICT \(user_id, token\) DO UPDATE`).
		WithArgs(device.ID, userID, "tok", "android", device.CreatedAt, userID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "created_by"}).AddRow(storedID, created, userID))

	require.NoError(t, NewDeviceTokenRepository(mock).Upsert(context.Background(), device))
	assert.Equal(t, storedID, device.ID)
	assert.Equal(t, created, device.CreatedAt)
	assert.True(t, device.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}
