package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"quizroom-service/internal/domain"
)

// QuestionLoader fetches a game's approved question pool from a backing store.
type QuestionLoader interface {
	LoadApproved(ctx context.Context, gameID string) ([]domain.QuizQuestion, error)
}

// QuestionBank caches approved pools with TTL to avoid repeated DB hits and
// draws a random selection per game start.
type QuestionBank struct {
	loader QuestionLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedPool
}

type cachedPool struct {
	questions []domain.QuizQuestion
	expiresAt time.Time
}

func NewQuestionBank(loader QuestionLoader, ttl time.Duration) *QuestionBank {
	return &QuestionBank{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPool),
	}
}

func (b *QuestionBank) Approved(ctx context.Context, gameID string, count int) ([]domain.QuizQuestion, error) {
	pool, err := b.pool(ctx, gameID)
	if err != nil {
		return nil, err
	}
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return domain.PickQuestions(pool, count, b.rnd)
}

func (b *QuestionBank) pool(ctx context.Context, gameID string) ([]domain.QuizQuestion, error) {
	now := b.clock()

	b.mu.RLock()
	if entry, ok := b.cache[gameID]; ok && entry.expiresAt.After(now) {
		b.mu.RUnlock()
		return entry.questions, nil
	}
	b.mu.RUnlock()

	result, err, _ := b.sf.Do(gameID, func() (interface{}, error) {
		now := b.clock()
		b.mu.RLock()
		if entry, ok := b.cache[gameID]; ok && entry.expiresAt.After(now) {
			b.mu.RUnlock()
			return entry.questions, nil
		}
		b.mu.RUnlock()

		questions, err := b.loader.LoadApproved(ctx, gameID)
		if err != nil {
			return nil, err
		}

		b.mu.Lock()
		b.cache[gameID] = cachedPool{
			questions: questions,
			expiresAt: now.Add(b.ttlWithJitter()),
		}
		b.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.QuizQuestion), nil
}

// Invalidate drops a cached pool, e.g. after a moderator approves new questions.
func (b *QuestionBank) Invalidate(gameID string) {
	b.mu.Lock()
	delete(b.cache, gameID)
	b.mu.Unlock()
}

func (b *QuestionBank) ttlWithJitter() time.Duration {
	if b.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(b.ttl) / 10
	b.rndMu.Lock()
	defer b.rndMu.Unlock()
	return b.ttl + time.Duration(b.rnd.Int63n(jitterMax+1))
}

// StaticQuestionLoader is a loader backed by an in-memory map (useful for tests/demos).
type StaticQuestionLoader struct {
	pools map[string][]domain.QuizQuestion
}

func NewStaticQuestionLoader(pools map[string][]domain.QuizQuestion) *StaticQuestionLoader {
	return &StaticQuestionLoader{pools: pools}
}

func (l *StaticQuestionLoader) LoadApproved(_ context.Context, gameID string) ([]domain.QuizQuestion, error) {
	return append([]domain.QuizQuestion(nil), l.pools[gameID]...), nil
}
