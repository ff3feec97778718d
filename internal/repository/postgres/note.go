package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Rrens/lean-coffee/internal/domain"
)

const noteColumns = `id, session_id, topic_id, content, note_type, author_id, ` + auditColumns

// NoteRepository implements domain.NoteRepository
type NoteRepository struct {
	db DBTX
}

// NewNoteRepository creates a new note repository
func NewNoteRepository(db DBTX) *NoteRepository {
	return &NoteRepository{db: db}
}

func (r *NoteRepository) Create(ctx context.Context, note *domain.SessionNote) error {
	query := `
		INSERT INTO lean_coffee_session_notes (` + noteColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	args := append([]any{
		note.ID,
		note.SessionID,
		nilIfZero(note.TopicID),
		note.Content,
		note.NoteType,
		note.AuthorID,
	}, auditArgs(note.Audit)...)

	if _, err := r.db.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to create note: %w", mapError(err, "note", note.ID))
	}
	return nil
}

func (r *NoteRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]domain.SessionNote, error) {
	query := `
		SELECT ` + noteColumns + `
		FROM lean_coffee_session_notes
		WHERE session_id = $1 AND NOT is_deleted
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	notes := []domain.SessionNote{}
	for rows.Next() {
		var n domain.SessionNote
		dest := append([]any{&n.ID, &n.SessionID, &n.TopicID, &n.Content, &n.NoteType, &n.AuthorID}, auditDest(&n.Audit)...)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}
