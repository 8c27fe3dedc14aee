package app_test

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 11, 22, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) app.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Pending counts armed, unfired timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Due reports whether a live timer fires exactly d from now.
func (c *fakeClock) Due(d time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at := c.now.Add(d)
	for _, t := range c.timers {
		if !t.stopped && t.at.Equal(at) {
			return true
		}
	}
	return false
}

// Advance moves time forward and runs every timer that became due.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	live := c.timers[:0]
	for _, t := range c.timers {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.stopped = true
			due = append(due, t)
		default:
			live = append(live, t)
		}
	}
	c.timers = live
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

type fixture struct {
	ctx       context.Context
	svc       *app.RoomService
	store     *memory.Store
	clock     *fakeClock
	outbox    *memory.Outbox
	generator *memory.StaticGenerator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	outbox := memory.NewOutbox()
	generator := &memory.StaticGenerator{}
	clock := newFakeClock()
	bank := memory.NewQuestionBank(memory.NewStaticQuestionLoader(map[string][]domain.QuizQuestion{
		"trivia": communityPool(12),
	}), time.Minute)
	svc := app.NewRoomService(app.Deps{
		Store:        store,
		Games:        memory.NewGameCatalog(domain.Game{ID: "trivia", Name: "Trivia"}, domain.Game{ID: "chess", Name: "Chess"}),
		Generator:    generator,
		Bank:         bank,
		Notifier:     outbox,
		Reports:      outbox,
		Points:       outbox,
		Achievements: outbox,
	}, app.Options{
		Clock:  clock,
		Logger: zerolog.Nop(),
		Rand:   rand.New(rand.NewSource(1)),
	})
	return &fixture{ctx: context.Background(), svc: svc, store: store, clock: clock, outbox: outbox, generator: generator}
}

func communityPool(n int) []domain.QuizQuestion {
	out := make([]domain.QuizQuestion, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, domain.QuizQuestion{
			Question:      "community " + string(rune('a'+i)),
			Options:       []string{"yes", "no", "maybe", "never"},
			CorrectAnswer: "yes",
		})
	}
	return out
}

func (f *fixture) user(t *testing.T, uid string, points int) {
	t.Helper()
	require.NoError(t, f.store.PutUser(f.ctx, domain.UserProfile{UID: uid, Username: "user-" + uid, Points: points}))
}

func (f *fixture) points(t *testing.T, uid string) int {
	t.Helper()
	u, err := f.store.GetUser(f.ctx, uid)
	require.NoError(t, err)
	return u.Points
}

func (f *fixture) room(t *testing.T, id string) domain.QuizRoom {
	t.Helper()
	r, err := f.store.GetRoom(f.ctx, id)
	require.NoError(t, err)
	return r
}

// readyRoom creates a room hosted by host with every other uid joined and ready.
func (f *fixture) readyRoom(t *testing.T, cfg app.RoomConfig, host string, others ...string) domain.QuizRoom {
	t.Helper()
	room, err := f.svc.CreateRoom(f.ctx, host, cfg, "")
	require.NoError(t, err)
	for _, uid := range others {
		_, err := f.svc.JoinRoom(f.ctx, room.ID, uid, cfg.Password, false)
		require.NoError(t, err)
	}
	for _, uid := range append([]string{host}, others...) {
		ready, err := f.svc.ToggleReady(f.ctx, room.ID, uid)
		require.NoError(t, err)
		require.True(t, ready)
	}
	return f.room(t, room.ID)
}

// drain consumes controller events in the background until the session ends.
func drain(c *app.RoomController) *eventLog {
	log := &eventLog{}
	go func() {
		for e := range c.Events() {
			log.add(e)
		}
	}()
	return log
}

type eventLog struct {
	mu     sync.Mutex
	events []app.Event
}

func (l *eventLog) add(e app.Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) find(kind app.EventKind) (app.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Kind == kind {
			return e, true
		}
	}
	return app.Event{}, false
}

func (l *eventLog) last(kind app.EventKind) (app.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Kind == kind {
			return l.events[i], true
		}
	}
	return app.Event{}, false
}

func (l *eventLog) count(kind app.EventKind) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func (l *eventLog) views() []app.View {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []app.View
	for _, e := range l.events {
		if e.Kind == app.EventRender {
			out = append(out, e.View)
		}
	}
	return out
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond
