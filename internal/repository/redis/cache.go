package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Rrens/lean-coffee/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	boardCachePrefix  = "board:"
	generationPrefix  = "boardgen:"
	defaultBoardTTL   = 30 * time.Second
	generationTTL     = 24 * time.Hour
	flushScanPageSize = 100
)

// BoardCache caches the assembled session board. Every dispatched event
// invalidates the session's entry and bumps its generation; a board loaded
// before an invalidation is never written back.
type BoardCache struct {
	client *Client
	ttl    time.Duration
}

// NewBoardCache creates a new board cache
func NewBoardCache(client *Client, ttl time.Duration) *BoardCache {
	if ttl <= 0 {
		ttl = defaultBoardTTL
	}
	return &BoardCache{client: client, ttl: ttl}
}

func boardKey(sessionID uuid.UUID) string {
	return boardCachePrefix + sessionID.String()
}

func generationKey(sessionID uuid.UUID) string {
	return generationPrefix + sessionID.String()
}

// Get returns the cached board, or nil on a miss, together with the
// session's current generation. Pass the generation to Set.
func (c *BoardCache) Get(ctx context.Context, sessionID uuid.UUID) (*domain.SessionBoard, uint64, error) {
	vals, err := c.client.rdb.MGet(ctx, generationKey(sessionID), boardKey(sessionID)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read board cache: %w", err)
	}

	generation, err := parseGeneration(vals[0])
	if err != nil {
		return nil, 0, err
	}

	raw, ok := vals[1].(string)
	if !ok {
		return nil, generation, nil
	}

	var board domain.SessionBoard
	if err := json.Unmarshal([]byte(raw), &board); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal board: %w", err)
	}

	return &board, generation, nil
}

func parseGeneration(val any) (uint64, error) {
	raw, ok := val.(string)
	if !ok {
		return 0, nil
	}
	generation, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid board generation %q: %w", raw, err)
	}
	return generation, nil
}

// Set caches the board if the session's generation still equals the one
// observed by Get before the board was loaded. A stale board is dropped
// silently.
func (c *BoardCache) Set(ctx context.Context, board *domain.SessionBoard, generation uint64) error {
	data, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("failed to marshal board: %w", err)
	}

	sessionID := board.Session.ID
	genKey := generationKey(sessionID)

	err = c.client.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Uint64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return errStaleBoard
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, boardKey(sessionID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)

	switch {
	case err == nil, errors.Is(err, errStaleBoard), errors.Is(err, redis.TxFailedErr):
		return nil
	}
	return fmt.Errorf("failed to write board cache: %w", err)
}

var errStaleBoard = errors.New("board generation changed")

// Invalidate implements events.BoardInvalidator
func (c *BoardCache) Invalidate(ctx context.Context, sessionID uuid.UUID) error {
	genKey := generationKey(sessionID)
	_, err := c.client.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, boardKey(sessionID))
		return nil
	})
	return err
}

// FlushAll removes all cached boards
func (c *BoardCache) FlushAll(ctx context.Context) (int64, error) {
	pattern := boardCachePrefix + "*"
	var cursor uint64
	var deleted int64

	for {
		keys, nextCursor, err := c.client.rdb.Scan(ctx, cursor, pattern, flushScanPageSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys: %w", err)
		}

		if len(keys) > 0 {
			count, err := c.client.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += count
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	return deleted, nil
}
