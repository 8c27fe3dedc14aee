package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

// QuestionCache caches approved question pools in Redis and falls back to a
// loader on cache miss, so every instance shares one copy per game.
// Pools are stored as: SET quiz:questions:{gameID} <json array>
type QuestionCache struct {
	client *redis.Client
	loader memory.QuestionLoader
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, loader memory.QuestionLoader, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Approved draws count random questions from the game's approved pool.
func (c *QuestionCache) Approved(ctx context.Context, gameID string, count int) ([]domain.QuizQuestion, error) {
	pool, err := c.pool(ctx, gameID)
	if err != nil {
		return nil, err
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return domain.PickQuestions(pool, count, c.rnd)
}

func (c *QuestionCache) pool(ctx context.Context, gameID string) ([]domain.QuizQuestion, error) {
	if pool, ok := c.cached(ctx, gameID); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(gameID, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if pool, ok := c.cached(ctx, gameID); ok {
			return pool, nil
		}

		pool, err := c.loader.LoadApproved(ctx, gameID)
		if err != nil {
			return nil, err
		}
		if raw, err := json.Marshal(pool); err == nil {
			_ = c.client.Set(ctx, c.key(gameID), raw, c.ttlWithJitter()).Err()
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuizQuestion), nil
}

func (c *QuestionCache) cached(ctx context.Context, gameID string) ([]domain.QuizQuestion, bool) {
	raw, err := c.client.Get(ctx, c.key(gameID)).Bytes()
	if err != nil {
		return nil, false
	}
	var pool []domain.QuizQuestion
	if err := json.Unmarshal(raw, &pool); err != nil {
		return nil, false
	}
	return pool, true
}

// Invalidate drops a cached pool, e.g. after a moderator approves new questions.
func (c *QuestionCache) Invalidate(ctx context.Context, gameID string) error {
	err := c.client.Del(ctx, c.key(gameID)).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("invalidate question pool: %w", err)
	}
	return nil
}

func (c *QuestionCache) key(gameID string) string {
	return "quiz:questions:" + gameID
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
