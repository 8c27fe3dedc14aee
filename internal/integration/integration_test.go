package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
	"quizroom-service/internal/infra/memory"
	"quizroom-service/internal/infra/postgres"
	pgmigrations "quizroom-service/internal/infra/postgres/migrations"
	infraredis "quizroom-service/internal/infra/redis"
)

// TestCommunityMatchEndToEnd runs a community-question room against real
// Postgres and Redis: escrow at start, a question report, and a refund when
// the room disappears mid-game.
func TestCommunityMatchEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	seedBank(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	defer redisClient.Close()

	store := infraredis.NewStore(redisClient, time.Hour)
	outbox := postgres.NewOutbox(pool)
	service := app.NewRoomService(app.Deps{
		Store:        store,
		Games:        postgres.NewGameCatalog(pool),
		Generator:    &memory.StaticGenerator{},
		Bank:         infraredis.NewQuestionCache(redisClient, postgres.NewQuestionLoader(pool), 5*time.Minute),
		Notifier:     outbox,
		Reports:      outbox,
		Points:       outbox,
		Achievements: outbox,
	}, app.Options{Logger: zerolog.Nop()})

	for _, uid := range []string{"host", "p2"} {
		if err := store.PutUser(ctx, domain.UserProfile{UID: uid, Username: uid, Points: 500}); err != nil {
			t.Fatalf("put user: %v", err)
		}
	}

	room, err := service.CreateRoom(ctx, "host", app.RoomConfig{
		GameID:        "geo",
		EntryFee:      100,
		GameLength:    3,
		QuestionTopic: domain.SourceCommunity,
	}, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if room.GameName != "Geography" {
		t.Fatalf("expected game name from catalog, got %q", room.GameName)
	}
	if _, err := service.JoinRoom(ctx, room.ID, "p2", "", false); err != nil {
		t.Fatalf("join: %v", err)
	}
	for _, uid := range []string{"host", "p2"} {
		if _, err := service.ToggleReady(ctx, room.ID, uid); err != nil {
			t.Fatalf("ready %s: %v", uid, err)
		}
	}
	if err := service.StartGame(ctx, room.ID, "host"); err != nil {
		t.Fatalf("start: %v", err)
	}

	started, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if len(started.Questions) != 3 {
		t.Fatalf("expected 3 approved questions, got %d", len(started.Questions))
	}
	for _, q := range started.Questions {
		if strings.HasPrefix(q.Question, "pending") {
			t.Fatalf("unapproved question dealt: %q", q.Question)
		}
	}
	for _, uid := range []string{"host", "p2"} {
		if got := points(t, ctx, store, uid); got != 400 {
			t.Fatalf("expected %s escrowed to 400, got %d", uid, got)
		}
	}
	if n := countRows(t, ctx, pool, `SELECT count(*) FROM points_log WHERE user_id = 'p2' AND change = -100`); n != 1 {
		t.Fatalf("expected one escrow log row, got %d", n)
	}

	g := app.PhaseGuard{HostID: started.HostID, Epoch: started.HostEpoch}
	if err := service.BeginQuestions(ctx, room.ID, g); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := service.StampQuestionStart(ctx, room.ID, g); err != nil {
		t.Fatalf("stamp: %v", err)
	}
	if err := service.ReportQuestion(ctx, room.ID, "p2"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if n := countRows(t, ctx, pool, `SELECT count(*) FROM question_reports WHERE room_id = $1`, room.ID); n != 1 {
		t.Fatalf("expected one question report, got %d", n)
	}

	last, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get room: %v", err)
	}
	if err := service.CloseRoom(ctx, room.ID, "host"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := store.GetRoom(ctx, room.ID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected room gone, got %v", err)
	}
	if _, err := store.FindRoomByShortID(ctx, last.ShortID); !errors.Is(err, domain.ErrRoomNotFound) {
		t.Fatalf("expected short id released, got %v", err)
	}

	for i := 0; i < 2; i++ {
		out, err := service.HandleUnexpectedClosure(ctx, last, "p2")
		if err != nil {
			t.Fatalf("closure: %v", err)
		}
		if out.Kind != app.ClosedRefunded {
			t.Fatalf("expected refund outcome, got %s", out.Kind)
		}
	}
	if got := points(t, ctx, store, "p2"); got != 500 {
		t.Fatalf("expected p2 refunded exactly once to 500, got %d", got)
	}

	granted, err := outbox.Grant(ctx, "p2", "first_win")
	if err != nil || !granted {
		t.Fatalf("expected first grant, got %v %v", granted, err)
	}
	granted, err = outbox.Grant(ctx, "p2", "first_win")
	if err != nil || granted {
		t.Fatalf("expected duplicate grant to be a no-op, got %v %v", granted, err)
	}
}

func points(t *testing.T, ctx context.Context, store *infraredis.Store, uid string) int {
	t.Helper()
	u, err := store.GetUser(ctx, uid)
	if err != nil {
		t.Fatalf("get user %s: %v", uid, err)
	}
	return u.Points
}

func countRows(t *testing.T, ctx context.Context, pool *pgxpool.Pool, query string, args ...any) int {
	t.Helper()
	var n int
	if err := pool.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	url := fmt.Sprintf("redis://%s:%s", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

// seedBank migrates the schema and loads one game with four approved
// questions and one still pending review.
func seedBank(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO games (id, name) VALUES ('geo', 'Geography')`); err != nil {
		t.Fatalf("insert game: %v", err)
	}
	rows := []struct {
		question, answer, status string
	}{
		{"Capital of Japan?", "Tokyo", "approved"},
		{"Capital of Canada?", "Ottawa", "approved"},
		{"Capital of Kenya?", "Nairobi", "approved"},
		{"Capital of Peru?", "Lima", "approved"},
		{"pending: Capital of Mars?", "None", "pending"},
	}
	for _, r := range rows {
		options := fmt.Sprintf(`["%s", "Paris", "Oslo", "Rome"]`, r.answer)
		_, err := db.ExecContext(ctx, `
			INSERT INTO community_questions (game_id, question, options, correct_answer, status)
			VALUES ('geo', ?, ?::jsonb, ?, ?)`, r.question, options, r.answer, r.status)
		if err != nil {
			t.Fatalf("insert question: %v", err)
		}
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
