package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/scoring"
)

// SessionRepository holds the live session of each quiz (in-memory, Redis-tracked, etc).
type SessionRepository interface {
	GetOrCreate(quizID string, create func() (*Session, error)) (*Session, error)
	Get(quizID string) (*Session, bool)
	Delete(quizID string) (*Session, bool)
	// DeleteIfIdle removes session when it is still the live one for quizID and has
	// no subscribers. It reports whether it did.
	DeleteIfIdle(quizID string, session *Session) bool
}

// QuizRepository loads quiz content (from cache/backing store).
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	Invalidate(ctx context.Context, quizID string) error
}

// QuizCatalog is the writable list of quizzes.
type QuizCatalog interface {
	List(ctx context.Context) ([]domain.Quiz, error)
	Add(ctx context.Context, quiz domain.Quiz) error
	Put(ctx context.Context, quiz domain.Quiz) error
	Delete(ctx context.Context, quizID string) error
}

// SaveRepository persists autosave and manual slots per quiz.
type SaveRepository interface {
	List(ctx context.Context, quizID string) ([]domain.SaveSlot, error)
	Autosave(ctx context.Context, quizID string, state domain.SessionState) (domain.SaveSlot, error)
	Create(ctx context.Context, quizID, name string, state domain.SessionState) (domain.SaveSlot, error)
	Get(ctx context.Context, quizID, id string) (domain.SaveSlot, error)
	Load(ctx context.Context, quizID, id string) (domain.SessionState, error)
	Delete(ctx context.Context, quizID, id string) (domain.SaveSlot, error)
	Clear(ctx context.Context, quizID string) error
}

// ResultRepository persists completed attempts.
type ResultRepository interface {
	Append(ctx context.Context, result domain.QuizResult) error
	List(ctx context.Context) ([]domain.QuizResult, error)
	ListByQuiz(ctx context.Context, quizID string) ([]domain.QuizResult, error)
	Get(ctx context.Context, id string) (domain.QuizResult, error)
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// QuizService contains the quiz-taking use cases.
type QuizService struct {
	sessions SessionRepository
	quizzes  QuizRepository
	catalog  QuizCatalog
	saves    SaveRepository
	results  ResultRepository
	cfg      SessionConfig
	log      *zap.Logger
}

// Dependencies groups the stores a QuizService works against.
type Dependencies struct {
	Sessions SessionRepository
	Quizzes  QuizRepository
	Catalog  QuizCatalog
	Saves    SaveRepository
	Results  ResultRepository
}

func NewQuizService(deps Dependencies, cfg SessionConfig, log *zap.Logger) *QuizService {
	if log == nil {
		log = zap.NewNop()
	}
	return &QuizService{
		sessions: deps.Sessions,
		quizzes:  deps.Quizzes,
		catalog:  deps.Catalog,
		saves:    deps.Saves,
		results:  deps.Results,
		cfg:      cfg,
		log:      log,
	}
}

// Open returns the live session of a quiz, creating a Fresh one when none exists.
func (s *QuizService) Open(ctx context.Context, quizID string) (*Session, error) {
	if session, ok := s.sessions.Get(quizID); ok {
		return session, nil
	}

	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return nil, err
	}
	return s.sessions.GetOrCreate(quizID, func() (*Session, error) {
		session, err := NewSession(quiz, s.saves, s.results, s.cfg, s.log)
		if err != nil {
			return nil, err
		}
		s.log.Info("session opened", zap.String("quiz_id", quizID))
		return session, nil
	})
}

// Session returns the live session of a quiz without creating one.
func (s *QuizService) Session(quizID string) (*Session, error) {
	session, ok := s.sessions.Get(quizID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

// Retry discards the current attempt and opens a new Fresh instance.
func (s *QuizService) Retry(ctx context.Context, quizID string) (*Session, error) {
	s.Discard(quizID)
	return s.Open(ctx, quizID)
}

// Discard tears down the live session of a quiz, if any.
func (s *QuizService) Discard(quizID string) {
	if session, ok := s.sessions.Delete(quizID); ok {
		session.Close()
		s.log.Info("session discarded", zap.String("quiz_id", quizID))
	}
}

// Release suspends a live session once its last host has gone. The attempt stays
// resumable from its autosave slot and nothing runs in the background.
func (s *QuizService) Release(ctx context.Context, quizID string, session *Session) {
	// an unsaved result is only held by the session; keep it for RetrySaveResult
	if _, saved, ok := session.Result(); ok && !saved {
		return
	}
	if !s.sessions.DeleteIfIdle(quizID, session) {
		return
	}
	session.Suspend(ctx)
	s.log.Info("session released", zap.String("quiz_id", quizID))
}

// SaveSlots lists the stored slots of a quiz.
func (s *QuizService) SaveSlots(ctx context.Context, quizID string) ([]domain.SaveSlot, error) {
	return s.saves.List(ctx, quizID)
}

// LoadSave returns the stored state of a slot sanitised against the current quiz.
func (s *QuizService) LoadSave(ctx context.Context, quizID, slotID string) (domain.SessionState, error) {
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		return domain.SessionState{}, err
	}
	state, err := s.saves.Load(ctx, quizID, slotID)
	if err != nil {
		return domain.SessionState{}, err
	}
	return state.Sanitize(quiz), nil
}

// CheckEditConflict reports whether editing a quiz could invalidate saved progress.
func (s *QuizService) CheckEditConflict(ctx context.Context, quizID string) (domain.EditConflict, error) {
	slots, err := s.saves.List(ctx, quizID)
	if err != nil {
		return domain.EditConflict{}, err
	}
	return domain.EditConflict{
		QuizID:    quizID,
		HasSaves:  len(slots) > 0,
		SaveCount: len(slots),
	}, nil
}

// UpdateQuiz replaces a quiz definition. With saved progress present the resolution
// decides: clear drops saves and the live session first, anyway keeps them, and
// anything else rejects the edit with domain.ErrEditConflict.
func (s *QuizService) UpdateQuiz(ctx context.Context, quiz domain.Quiz, resolution domain.EditResolution) error {
	if err := domain.ValidateImport(quiz); err != nil {
		return err
	}
	if _, err := s.quizzes.GetQuiz(ctx, quiz.ID); err != nil {
		return err
	}

	conflict, err := s.CheckEditConflict(ctx, quiz.ID)
	if err != nil {
		return err
	}
	if conflict.HasSaves {
		switch resolution {
		case domain.EditClearSaves:
			s.Discard(quiz.ID)
			if err := s.saves.Clear(ctx, quiz.ID); err != nil {
				return err
			}
		case domain.EditAnyway:
		default:
			return fmt.Errorf("%w: %d save(s) for %s", domain.ErrEditConflict, conflict.SaveCount, quiz.ID)
		}
	}

	if err := s.catalog.Put(ctx, quiz); err != nil {
		return err
	}
	s.invalidate(ctx, quiz.ID)
	s.log.Info("quiz updated",
		zap.String("quiz_id", quiz.ID),
		zap.String("resolution", string(resolution)),
		zap.Int("saves", conflict.SaveCount),
	)
	return nil
}

// ListQuizzes returns the catalogue in stored order.
func (s *QuizService) ListQuizzes(ctx context.Context) ([]domain.Quiz, error) {
	return s.catalog.List(ctx)
}

// ImportQuiz decodes and validates a quiz document and adds it to the catalogue. A
// document failing any rule is rejected whole, as is one reusing an existing id:
// replacing a quiz goes through UpdateQuiz and its conflict check.
func (s *QuizService) ImportQuiz(ctx context.Context, r io.Reader) (domain.Quiz, error) {
	quiz, err := domain.DecodeQuiz(r)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := s.catalog.Add(ctx, quiz); err != nil {
		return domain.Quiz{}, err
	}
	s.invalidate(ctx, quiz.ID)
	s.log.Info("quiz imported", zap.String("quiz_id", quiz.ID), zap.Int("questions", len(quiz.Questions)))
	return quiz, nil
}

// DeleteQuiz removes a quiz, its saves and its live session. Results are history
// and are kept.
func (s *QuizService) DeleteQuiz(ctx context.Context, quizID string) error {
	if err := s.catalog.Delete(ctx, quizID); err != nil {
		return err
	}
	s.Discard(quizID)
	s.invalidate(ctx, quizID)
	if err := s.saves.Clear(ctx, quizID); err != nil {
		return err
	}
	s.log.Info("quiz deleted", zap.String("quiz_id", quizID))
	return nil
}

func (s *QuizService) ListResults(ctx context.Context) ([]domain.QuizResult, error) {
	return s.results.List(ctx)
}

func (s *QuizService) ResultsForQuiz(ctx context.Context, quizID string) ([]domain.QuizResult, error) {
	return s.results.ListByQuiz(ctx, quizID)
}

func (s *QuizService) GetResult(ctx context.Context, id string) (domain.QuizResult, error) {
	return s.results.Get(ctx, id)
}

func (s *QuizService) DeleteResult(ctx context.Context, id string) error {
	return s.results.Delete(ctx, id)
}

func (s *QuizService) ClearResults(ctx context.Context) error {
	return s.results.Clear(ctx)
}

// Rescore returns a stored result recomputed under negativeMark. Storage is untouched.
func (s *QuizService) Rescore(ctx context.Context, id string, negativeMark float64) (domain.QuizResult, error) {
	if negativeMark < 0 {
		return domain.QuizResult{}, errors.New("negative mark must not be negative")
	}
	result, err := s.results.Get(ctx, id)
	if err != nil {
		return domain.QuizResult{}, err
	}
	return scoring.Rescore(result, negativeMark), nil
}

// NegativeMark is the penalty applied when sessions complete.
func (s *QuizService) NegativeMark() float64 {
	return s.cfg.withDefaults().NegativeMark
}

func (s *QuizService) invalidate(ctx context.Context, quizID string) {
	if err := s.quizzes.Invalidate(ctx, quizID); err != nil {
		s.log.Warn("invalidate quiz cache", zap.String("quiz_id", quizID), zap.Error(err))
	}
}
