package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
	"quizroom-service/internal/infra/memory"
	"quizroom-service/internal/infra/nats"
	"quizroom-service/internal/infra/postgres"
	redisstore "quizroom-service/internal/infra/redis"
	transport "quizroom-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz room server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(os.Stderr, cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, logger); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	deps, closeDeps, err := wireDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeDeps()

	service := app.NewRoomService(deps, serviceOptions(cfg, logger))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	transport.NewWSHandler(service, logger).Register(mux)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("starting quiz room service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// wireDeps picks Redis, Postgres and NATS backends when configured and the
// in-memory ones otherwise. The returned func releases every connection.
func wireDeps(ctx context.Context, cfg config.Config, logger zerolog.Logger) (app.Deps, func(), error) {
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			_ = redisClient.Close()
			return app.Deps{}, nil, err
		}
		closers = append(closers, func() { _ = redisClient.Close() })
	}

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		var err error
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			closeAll()
			return app.Deps{}, nil, err
		}
		closers = append(closers, pool.Close)
	}

	var deps app.Deps

	var store app.Store
	if redisClient != nil {
		store = redisstore.NewStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 24*time.Hour))
	} else {
		store = memory.NewStore()
	}
	deps.Store = store

	var loader memory.QuestionLoader = memory.NewStaticQuestionLoader(demoQuestions())
	if pool != nil {
		loader = postgres.NewQuestionLoader(pool)
		outbox := postgres.NewOutbox(pool)
		deps.Games = postgres.NewGameCatalog(pool)
		deps.Notifier, deps.Reports, deps.Points, deps.Achievements = outbox, outbox, outbox, outbox
	} else {
		outbox := memory.NewOutbox()
		deps.Games = memory.NewGameCatalog(demoGames()...)
		deps.Notifier, deps.Reports, deps.Points, deps.Achievements = outbox, outbox, outbox, outbox
	}

	cacheTTL := config.TTLDuration(cfg.Questions.CacheTTL, 10*time.Minute)
	if redisClient != nil {
		deps.Bank = redisstore.NewQuestionCache(redisClient, loader, cacheTTL)
	} else {
		deps.Bank = memory.NewQuestionBank(loader, cacheTTL)
	}

	if cfg.NATS.URL != "" {
		conn, err := nats.Connect(cfg.NATS.URL, logger)
		if err != nil {
			closeAll()
			return app.Deps{}, nil, err
		}
		closers = append(closers, func() { _ = conn.Drain() })
		deps.Generator = nats.NewGenerator(conn, cfg.NATS.Subject, config.TTLDuration(cfg.NATS.Timeout, 0), logger)
	} else {
		deps.Generator = &memory.StaticGenerator{}
	}

	// Demo profiles only go into the throwaway memory store.
	if redisClient == nil {
		if err := seedDemoUsers(ctx, store); err != nil {
			closeAll()
			return app.Deps{}, nil, err
		}
	}

	logger.Info().
		Bool("redis", redisClient != nil).
		Bool("postgres", pool != nil).
		Bool("nats", cfg.NATS.URL != "").
		Msg("backends wired")
	return deps, closeAll, nil
}

// serviceOptions overlays configured timings and economy on the defaults.
func serviceOptions(cfg config.Config, logger zerolog.Logger) app.Options {
	t := app.DefaultTimings()
	t.StartCountdown = config.TTLDuration(cfg.Room.StartCountdown, t.StartCountdown)
	t.GetReady = config.TTLDuration(cfg.Room.GetReady, t.GetReady)
	t.QuestionTime = config.TTLDuration(cfg.Room.QuestionTime, t.QuestionTime)
	t.Reveal = config.TTLDuration(cfg.Room.Reveal, t.Reveal)
	t.Interstitial = config.TTLDuration(cfg.Room.Interstitial, t.Interstitial)
	t.BubbleLifetime = config.TTLDuration(cfg.Room.BubbleLifetime, t.BubbleLifetime)
	t.BubbleMaxAge = config.TTLDuration(cfg.Room.BubbleMaxAge, t.BubbleMaxAge)

	e := app.DefaultEconomy()
	if cfg.Economy.WinnerShare > 0 && cfg.Economy.WinnerShare <= 1 {
		e.WinnerShare = cfg.Economy.WinnerShare
	}
	if cfg.Economy.MinBet > 0 {
		e.MinBet = cfg.Economy.MinBet
	}

	return app.Options{
		Timings:     t,
		Economy:     e,
		ChatHistory: cfg.Room.ChatHistory,
		Logger:      logger,
	}
}
