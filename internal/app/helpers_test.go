package app_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/infra/memory"
	"quiz-session-service/internal/store"
	"quiz-session-service/internal/timer"
)

const (
	tickEvery     = 10 * time.Millisecond
	autosaveEvery = time.Hour
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

func (m *manualTicker) fire() {
	select {
	case m.ch <- time.Now():
	default:
	}
}

// tickerFactory hands out manual tickers keyed by interval so tests can drive the
// countdown and the autosave loop separately.
type tickerFactory struct {
	mu   sync.Mutex
	made map[time.Duration][]*manualTicker
}

func (f *tickerFactory) New(d time.Duration) timer.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.made == nil {
		f.made = make(map[time.Duration][]*manualTicker)
	}
	tk := &manualTicker{ch: make(chan time.Time, 1)}
	f.made[d] = append(f.made[d], tk)
	return tk
}

func (f *tickerFactory) last(t *testing.T, d time.Duration) *manualTicker {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.made[d]
	if len(list) == 0 {
		t.Fatalf("no ticker created for %s", d)
	}
	return list[len(list)-1]
}

// flakyResults fails Append while failing is set.
type flakyResults struct {
	*store.ResultStore
	failing  atomic.Bool
	attempts atomic.Int32
}

func (f *flakyResults) Append(ctx context.Context, result domain.QuizResult) error {
	f.attempts.Add(1)
	if f.failing.Load() {
		return errors.New("storage unavailable")
	}
	return f.ResultStore.Append(ctx, result)
}

type harness struct {
	service *app.QuizService
	kv      *memory.KV
	catalog *store.QuizStore
	saves   *store.SaveStore
	results *flakyResults
	clock   *fakeClock
	tickers *tickerFactory
}

func newHarness(t *testing.T, quizzes ...domain.Quiz) *harness {
	t.Helper()
	if len(quizzes) == 0 {
		quizzes = []domain.Quiz{sampleQuiz()}
	}

	ctx := context.Background()
	kv := memory.NewKV()
	catalog := store.NewQuizStore(kv)
	for _, q := range quizzes {
		if err := catalog.Put(ctx, q); err != nil {
			t.Fatalf("seed quiz: %v", err)
		}
	}

	h := &harness{
		kv:      kv,
		catalog: catalog,
		saves:   store.NewSaveStore(kv, store.DefaultMaxManualSlots),
		results: &flakyResults{ResultStore: store.NewResultStore(kv)},
		clock:   &fakeClock{now: time.UnixMilli(1_700_000_000_000)},
		tickers: &tickerFactory{},
	}

	cfg := app.SessionConfig{
		AutosaveInterval:   autosaveEvery,
		TickInterval:       tickEvery,
		NegativeMark:       app.DefaultNegativeMark,
		ResultSaveAttempts: 2,
		ResultRetryBackoff: time.Millisecond,
		Clock:              h.clock.Now,
		NewTicker:          h.tickers.New,
	}
	h.service = app.NewQuizService(app.Dependencies{
		Sessions: memory.NewSessionStore(),
		Quizzes:  memory.NewQuizRepository(catalog, time.Minute),
		Catalog:  catalog,
		Saves:    h.saves,
		Results:  h.results,
	}, cfg, nil)

	t.Cleanup(func() {
		for _, q := range quizzes {
			h.service.Discard(q.ID)
		}
	})
	return h
}

func (h *harness) open(t *testing.T, quizID string) *app.Session {
	t.Helper()
	session, err := h.service.Open(context.Background(), quizID)
	if err != nil {
		t.Fatalf("open %s: %v", quizID, err)
	}
	return session
}

func (h *harness) autosave(t *testing.T, quizID string) (domain.SaveSlot, bool) {
	t.Helper()
	slots, err := h.saves.List(context.Background(), quizID)
	if err != nil {
		t.Fatalf("list saves: %v", err)
	}
	for _, slot := range slots {
		if slot.IsAutosave {
			return slot, true
		}
	}
	return domain.SaveSlot{}, false
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID:          "quiz-1",
		Title:       "Basics",
		Description: "Three questions",
		Settings:    domain.Settings{TimeLimit: 60},
		Questions: []domain.Question{
			{
				ID: "q1", Type: domain.QuestionTypeMCQ, Text: "Pick a", CorrectAnswer: "a", Explanation: "a is right",
				Choices: []domain.Choice{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"}, {ID: "d", Text: "D"}},
			},
			{
				ID: "q2", Type: domain.QuestionTypeMCQ, Text: "Pick b", CorrectAnswer: "b", Explanation: "b is right",
				Choices: []domain.Choice{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"}, {ID: "d", Text: "D"}},
			},
			{
				ID: "q3", Type: domain.QuestionTypeMCQ, Text: "Pick c", CorrectAnswer: "c", Explanation: "c is right",
				Choices: []domain.Choice{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}, {ID: "c", Text: "C"}, {ID: "d", Text: "D"}},
			},
		},
	}
}
