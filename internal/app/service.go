package app

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"quizroom-service/internal/domain"
)

// Timings are the host timer budgets for each phase.
type Timings struct {
	StartCountdown time.Duration
	GetReady       time.Duration
	QuestionTime   time.Duration
	Reveal         time.Duration
	Interstitial   time.Duration
	// BubbleLifetime is how long a chat bubble stays over an avatar.
	BubbleLifetime time.Duration
	// BubbleMaxAge hides bubbles for messages older than this at render time.
	BubbleMaxAge time.Duration
}

// DefaultTimings mirrors the client defaults: 4s countdown, 30s questions, 5s overlays.
func DefaultTimings() Timings {
	return Timings{
		StartCountdown: 4 * time.Second,
		GetReady:       2 * time.Second,
		QuestionTime:   30 * time.Second,
		Reveal:         5 * time.Second,
		Interstitial:   5 * time.Second,
		BubbleLifetime: 3 * time.Second,
		BubbleMaxAge:   5 * time.Second,
	}
}

// Economy holds the settlement knobs.
type Economy struct {
	WinnerShare float64
	MinBet      int
}

func DefaultEconomy() Economy {
	return Economy{WinnerShare: 0.8, MinBet: 20}
}

// Deps are the collaborators the room service drives.
type Deps struct {
	Store        Store
	Games        GameCatalog
	Generator    QuestionGenerator
	Bank         QuestionBank
	Notifier     Notifier
	Reports      ReportSink
	Points       PointsLog
	Achievements AchievementGranter
}

// Options tune the service; zero values fall back to defaults.
type Options struct {
	Timings     Timings
	Economy     Economy
	ChatHistory int
	Clock       Clock
	Logger      zerolog.Logger
	// Rand drives fifty-fifty eliminations. Seeded from time when nil.
	Rand *rand.Rand
}

// RoomService contains the quiz room use cases.
type RoomService struct {
	Deps
	timings     Timings
	economy     Economy
	chatHistory int
	clock       Clock
	log         zerolog.Logger

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewRoomService(deps Deps, opts Options) *RoomService {
	if opts.Timings == (Timings{}) {
		opts.Timings = DefaultTimings()
	}
	if opts.Economy == (Economy{}) {
		opts.Economy = DefaultEconomy()
	}
	if opts.ChatHistory <= 0 {
		opts.ChatHistory = 30
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &RoomService{
		Deps:        deps,
		timings:     opts.Timings,
		economy:     opts.Economy,
		chatHistory: opts.ChatHistory,
		clock:       opts.Clock,
		log:         opts.Logger.With().Str("component", "room-service").Logger(),
		rnd:         opts.Rand,
	}
}

// Timings exposes the configured phase budgets.
func (s *RoomService) Timings() Timings { return s.timings }

func (s *RoomService) now() time.Time { return s.clock.Now() }

func (s *RoomService) shuffle(n int, swap func(i, j int)) {
	s.rndMu.Lock()
	defer s.rndMu.Unlock()
	s.rnd.Shuffle(n, swap)
}

// hostRoom loads a room and checks the actor drives it.
func (s *RoomService) hostRoom(ctx context.Context, roomID, actorUID string) (domain.QuizRoom, error) {
	room, err := s.Store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.QuizRoom{}, err
	}
	if room.HostID != actorUID {
		return domain.QuizRoom{}, domain.ErrUnauthorized
	}
	return room, nil
}

// logPoints writes an audit entry. Failures never undo the balance change.
func (s *RoomService) logPoints(ctx context.Context, uid string, change int, reason string) {
	if s.Points == nil || change == 0 {
		return
	}
	entry := domain.PointsChange{UserID: uid, Change: change, Reason: reason, At: s.now()}
	if err := s.Points.Log(ctx, entry); err != nil {
		s.log.Warn().Err(err).Str("user", uid).Int("change", change).Msg("failed to log points change")
	}
}

func (s *RoomService) notify(ctx context.Context, uid string, n domain.Notification) error {
	if s.Notifier == nil {
		return nil
	}
	if err := s.Notifier.Send(ctx, uid, n); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}
