package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
)

func TestNewLoggerWritesJSONAtConfiguredLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, "WARN", false)
	logger.Info().Msg("hidden")
	logger.Warn().Str("room", "r1").Msg("shown")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %q", buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal(lines[0], &entry); err != nil {
		t.Fatalf("expected JSON log line: %v", err)
	}
	if entry["message"] != "shown" || entry["room"] != "r1" || entry["level"] != "warn" {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestNewLoggerDefaultsToInfo(t *testing.T) {
	for _, level := range []string{"", "loud"} {
		logger := newLogger(&bytes.Buffer{}, level, true)
		if logger.GetLevel() != zerolog.InfoLevel {
			t.Fatalf("level %q: expected info, got %s", level, logger.GetLevel())
		}
	}
}

func TestServiceOptionsOverlayDefaults(t *testing.T) {
	var cfg config.Config
	cfg.Room.QuestionTime = "20s"
	cfg.Room.Reveal = "nonsense"
	cfg.Room.ChatHistory = 50
	cfg.Economy.WinnerShare = 0.7
	cfg.Economy.MinBet = -5

	opts := serviceOptions(cfg, zerolog.Nop())
	def := app.DefaultTimings()
	if opts.Timings.QuestionTime != 20*time.Second {
		t.Fatalf("expected question time 20s, got %s", opts.Timings.QuestionTime)
	}
	if opts.Timings.Reveal != def.Reveal || opts.Timings.StartCountdown != def.StartCountdown {
		t.Fatalf("expected defaults for unset or bad durations, got %+v", opts.Timings)
	}
	if opts.Economy.WinnerShare != 0.7 || opts.Economy.MinBet != app.DefaultEconomy().MinBet {
		t.Fatalf("unexpected economy %+v", opts.Economy)
	}
	if opts.ChatHistory != 50 {
		t.Fatalf("expected chat history 50, got %d", opts.ChatHistory)
	}
}

func TestSeedDemoUsersKeepsExistingProfiles(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := seedDemoUsers(ctx, store); err != nil {
		t.Fatalf("seed: %v", err)
	}
	alice, err := store.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("get alice: %v", err)
	}
	alice.Points = 7
	if err := store.PutUser(ctx, alice); err != nil {
		t.Fatalf("put alice: %v", err)
	}
	if err := seedDemoUsers(ctx, store); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	alice, _ = store.GetUser(ctx, "alice")
	if alice.Points != 7 {
		t.Fatalf("expected seeding to leave alice alone, got %d points", alice.Points)
	}
	admin, err := store.GetUser(ctx, "admin")
	if err != nil || !admin.IsAdmin() {
		t.Fatalf("expected admin profile, got %+v %v", admin, err)
	}
}

func TestWireDepsFallsBackToMemory(t *testing.T) {
	deps, closeDeps, err := wireDeps(context.Background(), config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer closeDeps()
	if _, ok := deps.Store.(*memory.Store); !ok {
		t.Fatalf("expected memory store, got %T", deps.Store)
	}
	if _, ok := deps.Bank.(*memory.QuestionBank); !ok {
		t.Fatalf("expected memory question bank, got %T", deps.Bank)
	}
	qs, err := deps.Bank.Approved(context.Background(), "math", 5)
	if err != nil || len(qs) != 5 {
		t.Fatalf("expected 5 demo questions, got %d %v", len(qs), err)
	}
	game, err := deps.Games.Game(context.Background(), "geo")
	if err != nil || game.Name != "Geography" {
		t.Fatalf("expected demo game, got %+v %v", game, err)
	}
}

func TestWireDepsSeedsDemoUsersOnlyInMemory(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	var cfg config.Config
	cfg.Redis.Addr = mr.Addr()

	deps, closeDeps, err := wireDeps(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer closeDeps()
	if _, ok := deps.Store.(*memory.Store); ok {
		t.Fatalf("expected redis store when an address is configured")
	}
	if _, err := deps.Store.GetUser(ctx, "alice"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected no demo users in redis, got %v", err)
	}

	memDeps, closeMem, err := wireDeps(ctx, config.Config{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("wire memory: %v", err)
	}
	defer closeMem()
	if _, err := memDeps.Store.GetUser(ctx, "alice"); err != nil {
		t.Fatalf("expected demo users in memory store: %v", err)
	}
}
