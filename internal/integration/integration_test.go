package integration

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	pgstore "quiz-session-service/internal/infra/postgres"
	pgmigrations "quiz-session-service/internal/infra/postgres/migrations"
	infraredis "quiz-session-service/internal/infra/redis"
	"quiz-session-service/internal/store"
)

func TestCompleteAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	kv := pgstore.NewKV(pool)
	catalog := store.NewQuizStore(kv)
	if err := catalog.Put(ctx, sampleQuiz()); err != nil {
		t.Fatalf("seed quiz: %v", err)
	}

	redisClient, err := redisClientFromURL(redisURL)
	if err != nil {
		t.Fatalf("redis client: %v", err)
	}
	saves := store.NewSaveStore(kv, store.DefaultMaxManualSlots)
	results := store.NewResultStore(kv)
	service := app.NewQuizService(app.Dependencies{
		Sessions: infraredis.NewSessionStore(redisClient, 5*time.Minute),
		Quizzes:  infraredis.NewQuizRepository(redisClient, catalog, 5*time.Minute),
		Catalog:  catalog,
		Saves:    saves,
		Results:  results,
	}, app.DefaultSessionConfig(), nil)

	session, err := service.Open(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer service.Discard("quiz-1")

	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.SelectAnswer("q1", "o2"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if _, err := session.CreateSave(ctx, "before finishing"); err != nil {
		t.Fatalf("manual save: %v", err)
	}
	conflict, err := service.CheckEditConflict(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("conflict: %v", err)
	}
	if conflict.SaveCount != 2 {
		t.Fatalf("expected autosave and manual save, got %+v", conflict)
	}

	result, err := session.Complete(ctx)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if result.Score.Correct != 1 || result.Score.Total != 1 {
		t.Fatalf("expected one correct answer, got %+v", result.Score)
	}

	stored, err := service.GetResult(ctx, result.ID)
	if err != nil {
		t.Fatalf("stored result: %v", err)
	}
	if stored.QuizSnapshot.Title != "Arithmetic" {
		t.Fatalf("expected quiz snapshot in stored result, got %+v", stored.QuizSnapshot)
	}
	if slots, _ := service.SaveSlots(ctx, "quiz-1"); len(slots) != 0 {
		t.Fatalf("expected saves cleared after completion, got %d", len(slots))
	}
}

func TestPostgresKVUpdateSerialises(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	migrateDB(t, ctx, pgURL)

	pool, err := pgxpool.Connect(ctx, pgURL)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	saves := store.NewSaveStore(pgstore.NewKV(pool), 50)
	state := domain.SessionState{Answers: map[string]string{"q1": ""}, TimeRemaining: 60, StartTime: 1}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := saves.Create(ctx, "quiz-1", fmt.Sprintf("slot %d", i), state); err != nil {
				t.Errorf("create %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	slots, err := saves.List(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(slots) != 10 {
		t.Fatalf("expected every concurrent save kept, got %d", len(slots))
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
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
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
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

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:          "quiz-1",
		Title:       "Arithmetic",
		Description: "One question",
		Settings:    domain.Settings{TimeLimit: 120},
		Questions: []domain.Question{
			{
				ID:            "q1",
				Type:          domain.QuestionTypeMCQ,
				Text:          "What is 2 + 2?",
				CorrectAnswer: "o2",
				Explanation:   "Two and two make four.",
				Choices: []domain.Choice{
					{ID: "o1", Text: "3"},
					{ID: "o2", Text: "4"},
					{ID: "o3", Text: "5"},
					{ID: "o4", Text: "22"},
				},
			},
		},
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
