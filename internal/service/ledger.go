package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/google/uuid"
)

// VoteResult is returned by vote commands
type VoteResult struct {
	TopicID   uuid.UUID `json:"topicId"`
	SessionID uuid.UUID `json:"sessionId"`
	UserID    uuid.UUID `json:"userId"`
	VoteCount int       `json:"voteCount"`
}

// VoteLedger keeps at most one live vote per (topic, user) and derives
// every topic's vote count from the ledger.
type VoteLedger struct {
	topics domain.TopicRepository
	votes  domain.VoteRepository
	now    Clock
}

// NewVoteLedger creates a new vote ledger
func NewVoteLedger(topics domain.TopicRepository, votes domain.VoteRepository, now Clock) *VoteLedger {
	if now == nil {
		now = utcNow
	}
	return &VoteLedger{topics: topics, votes: votes, now: now}
}

// Cast records a vote and recomputes the topic's count. The storage
// uniqueness rule is authoritative; the read beforehand only fails fast.
func (l *VoteLedger) Cast(ctx context.Context, sessionID, topicID, userID uuid.UUID) (VoteResult, error) {
	if err := requireIDs(map[string]uuid.UUID{"sessionId": sessionID, "topicId": topicID, "userId": userID}); err != nil {
		return VoteResult{}, err
	}

	topic, err := l.topics.GetByID(ctx, topicID)
	if err != nil {
		return VoteResult{}, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
	}
	if topic.SessionID != sessionID {
		return VoteResult{}, domain.NewValidationError("sessionId", "does not match the topic's session")
	}

	if _, err := l.votes.GetLive(ctx, topicID, userID); err == nil {
		return VoteResult{}, domain.NewError(domain.CodeVoteAlreadyExists, "user has already voted for topic %s", topicID)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return VoteResult{}, fmt.Errorf("failed to get vote: %w", err)
	}

	now := l.now()
	vote := &domain.Vote{
		ID:        uuid.New(),
		TopicID:   topicID,
		UserID:    userID,
		SessionID: topic.SessionID,
		VotedAt:   now,
	}
	vote.Created(userID, now)

	if err := l.votes.Create(ctx, vote); err != nil {
		switch {
		case errors.Is(err, domain.ErrAlreadyExists):
			return VoteResult{}, domain.NewError(domain.CodeVoteAlreadyExists, "user has already voted for topic %s", topicID)
		case errors.Is(err, domain.ErrNotFound):
			return VoteResult{}, domain.NewError(domain.CodeTopicNotFound, "topic %s not found", topicID)
		}
		return VoteResult{}, fmt.Errorf("failed to create vote: %w", err)
	}

	return l.recompute(ctx, topic, userID)
}

// Remove hard-deletes the user's live vote and recomputes the count
func (l *VoteLedger) Remove(ctx context.Context, topicID, userID uuid.UUID) (VoteResult, error) {
	if err := requireIDs(map[string]uuid.UUID{"topicId": topicID, "userId": userID}); err != nil {
		return VoteResult{}, err
	}

	topic, err := l.topics.GetByID(ctx, topicID)
	if err != nil {
		return VoteResult{}, lookupError(err, domain.CodeTopicNotFound, "topic", topicID)
	}

	vote, err := l.votes.GetLive(ctx, topicID, userID)
	if err != nil {
		return VoteResult{}, lookupError(err, domain.CodeVoteNotFound, "vote on topic", topicID)
	}

	if err := l.votes.Delete(ctx, vote.ID); err != nil {
		return VoteResult{}, lookupError(err, domain.CodeVoteNotFound, "vote on topic", topicID)
	}

	return l.recompute(ctx, topic, userID)
}

func (l *VoteLedger) recompute(ctx context.Context, topic *domain.Topic, actor uuid.UUID) (VoteResult, error) {
	count, err := l.topics.RecomputeVoteCount(ctx, topic.ID, actor, l.now())
	if err != nil {
		return VoteResult{}, fmt.Errorf("failed to recompute vote count: %w", err)
	}
	return VoteResult{
		TopicID:   topic.ID,
		SessionID: topic.SessionID,
		UserID:    actor,
		VoteCount: count,
	}, nil
}
