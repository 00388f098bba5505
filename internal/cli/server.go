package cli

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/config"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/infra/postgres"
	redisinfra "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/logger"
	"quiz-session-service/internal/store"
	transport "quiz-session-service/internal/transport/http"
)

//go:embed sample_quiz.json
var sampleQuizJSON []byte

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the quiz session server",
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
	log, err := logger.New(cfg.Env)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
	}

	var kv store.KV
	switch {
	case cfg.Postgres.URL != "":
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		kv = postgres.NewKV(pool)
		log.Info("using postgres storage")
	case redisClient != nil:
		kv = redisinfra.NewKV(redisClient, cfg.Redis.Prefix)
		log.Info("using redis storage", zap.String("prefix", cfg.Redis.Prefix))
	default:
		kv = memory.NewKV()
		log.Warn("no storage configured, progress is kept in memory only")
	}

	catalog := store.NewQuizStore(kv)
	if cfg.Quiz.SeedSample {
		if err := seedSample(ctx, catalog, log); err != nil {
			return err
		}
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	var sessions app.SessionRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, catalog, quizTTL)
		sessions = redisinfra.NewSessionStore(redisClient, config.TTLDuration(cfg.Redis.TTL, 10*time.Minute))
	} else {
		quizRepo = memory.NewQuizRepository(catalog, quizTTL)
		sessions = memory.NewSessionStore()
	}

	service := app.NewQuizService(app.Dependencies{
		Sessions: sessions,
		Quizzes:  quizRepo,
		Catalog:  catalog,
		Saves:    store.NewSaveStore(kv, cfg.Session.MaxManualSlots),
		Results:  store.NewResultStore(kv),
	}, sessionConfig(cfg.Session), log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", transport.NewWSHandler(service, log).ServeWS)
	transport.NewAPIHandler(service, log).Register(mux)

	server := &http.Server{
		Addr:        ":" + finalPort,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting quiz session service", zap.String("port", finalPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sessionConfig maps YAML settings onto the session defaults.
func sessionConfig(c config.Session) app.SessionConfig {
	sc := app.DefaultSessionConfig()
	sc.AutosaveInterval = config.TTLDuration(c.AutosaveInterval, sc.AutosaveInterval)
	sc.TickInterval = config.TTLDuration(c.TickInterval, sc.TickInterval)
	sc.ResultRetryBackoff = config.TTLDuration(c.ResultRetryBackoff, sc.ResultRetryBackoff)
	if c.NegativeMark != nil && *c.NegativeMark >= 0 {
		sc.NegativeMark = *c.NegativeMark
	}
	if c.ResultSaveAttempts > 0 {
		sc.ResultSaveAttempts = c.ResultSaveAttempts
	}
	return sc
}

// seedSample adds the bundled quiz when the catalogue is empty.
func seedSample(ctx context.Context, catalog *store.QuizStore, log *zap.Logger) error {
	quizzes, err := catalog.List(ctx)
	if err != nil {
		return err
	}
	if len(quizzes) > 0 {
		return nil
	}
	quiz, err := domain.DecodeQuiz(bytes.NewReader(sampleQuizJSON))
	if err != nil {
		return err
	}
	if err := catalog.Put(ctx, quiz); err != nil {
		return err
	}
	log.Info("seeded sample quiz", zap.String("quiz_id", quiz.ID))
	return nil
}
