package memory

import (
	"context"
	"fmt"
	"sync"

	"quizroom-service/internal/domain"
)

// GameCatalog is a fixed set of games.
type GameCatalog struct {
	games map[string]domain.Game
}

func NewGameCatalog(games ...domain.Game) *GameCatalog {
	c := &GameCatalog{games: make(map[string]domain.Game, len(games))}
	for _, g := range games {
		c.games[g.ID] = g
	}
	return c
}

func (c *GameCatalog) Game(_ context.Context, gameID string) (domain.Game, error) {
	g, ok := c.games[gameID]
	if !ok {
		return domain.Game{}, domain.ErrGameNotFound
	}
	return g, nil
}

// StaticGenerator fabricates deterministic questions for local runs and tests.
type StaticGenerator struct {
	mu    sync.Mutex
	calls []GenerateCall
	Err   error
}

// GenerateCall records the arguments of one Generate invocation.
type GenerateCall struct {
	GameName   string
	Count      int
	Categories []string
	Difficulty domain.Difficulty
}

func (g *StaticGenerator) Generate(_ context.Context, gameName string, count int, categories []string, difficulty domain.Difficulty) ([]domain.QuizQuestion, error) {
	g.mu.Lock()
	g.calls = append(g.calls, GenerateCall{GameName: gameName, Count: count, Categories: categories, Difficulty: difficulty})
	err := g.Err
	g.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([]domain.QuizQuestion, 0, count)
	for i := 0; i < count; i++ {
		category := "general"
		if len(categories) > 0 {
			category = categories[i%len(categories)]
		}
		out = append(out, domain.QuizQuestion{
			Question:      fmt.Sprintf("%s question %d (%s)", gameName, i+1, difficulty),
			Options:       []string{"A", "B", "C", "D"},
			CorrectAnswer: "A",
			Type:          "text",
			Category:      category,
		})
	}
	return out, nil
}

func (g *StaticGenerator) Calls() []GenerateCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GenerateCall(nil), g.calls...)
}

// Outbox collects notifications, reports, points log entries and achievement
// grants in memory.
type Outbox struct {
	mu            sync.Mutex
	notifications map[string][]domain.Notification
	reports       []domain.QuestionReport
	points        []domain.PointsChange
	achievements  map[string]map[string]struct{}
}

func NewOutbox() *Outbox {
	return &Outbox{
		notifications: make(map[string][]domain.Notification),
		achievements:  make(map[string]map[string]struct{}),
	}
}

func (o *Outbox) Send(_ context.Context, uid string, n domain.Notification) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifications[uid] = append(o.notifications[uid], n)
	return nil
}

func (o *Outbox) Report(_ context.Context, report domain.QuestionReport) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reports = append(o.reports, report)
	return nil
}

func (o *Outbox) Log(_ context.Context, change domain.PointsChange) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.points = append(o.points, change)
	return nil
}

func (o *Outbox) Grant(_ context.Context, uid, achievementID string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.achievements[uid] == nil {
		o.achievements[uid] = make(map[string]struct{})
	}
	if _, ok := o.achievements[uid][achievementID]; ok {
		return false, nil
	}
	o.achievements[uid][achievementID] = struct{}{}
	return true, nil
}

func (o *Outbox) Notifications(uid string) []domain.Notification {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.Notification(nil), o.notifications[uid]...)
}

func (o *Outbox) Reports() []domain.QuestionReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.QuestionReport(nil), o.reports...)
}

func (o *Outbox) PointsLog() []domain.PointsChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.PointsChange(nil), o.points...)
}

func (o *Outbox) HasAchievement(uid, achievementID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.achievements[uid][achievementID]
	return ok
}
