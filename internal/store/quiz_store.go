package store

import (
	"context"
	"errors"
	"fmt"

	"quiz-session-service/internal/domain"
)

// QuizStore is the ordered quiz catalogue.
type QuizStore struct {
	kv KV
}

func NewQuizStore(kv KV) *QuizStore {
	return &QuizStore{kv: kv}
}

func (s *QuizStore) List(ctx context.Context) ([]domain.Quiz, error) {
	quizzes, err := getList[domain.Quiz](ctx, s.kv, QuizzesKey)
	if err != nil {
		return nil, fmt.Errorf("list quizzes: %w", err)
	}
	return quizzes, nil
}

// LoadQuiz returns one quiz or domain.ErrQuizNotFound.
func (s *QuizStore) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	quizzes, err := s.List(ctx)
	if err != nil {
		return domain.Quiz{}, err
	}
	for _, q := range quizzes {
		if q.ID == quizID {
			return q, nil
		}
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

// Add appends a quiz whose id is not yet in the catalogue. An existing id is
// rejected with a validation error naming the stored quiz.
func (s *QuizStore) Add(ctx context.Context, quiz domain.Quiz) error {
	err := updateList(ctx, s.kv, QuizzesKey, func(quizzes []domain.Quiz) ([]domain.Quiz, error) {
		for _, q := range quizzes {
			if q.ID == quiz.ID {
				return nil, &domain.ValidationError{
					Field:   "id",
					Message: fmt.Sprintf("quiz %q already exists as %q; edit it instead", quiz.ID, q.Title),
				}
			}
		}
		return append(quizzes, quiz), nil
	})
	if errors.Is(err, domain.ErrInvalidQuiz) {
		return err
	}
	if err != nil {
		return fmt.Errorf("add quiz: %w", err)
	}
	return nil
}

// Put inserts or replaces a quiz, keeping its position when it already exists.
func (s *QuizStore) Put(ctx context.Context, quiz domain.Quiz) error {
	err := updateList(ctx, s.kv, QuizzesKey, func(quizzes []domain.Quiz) ([]domain.Quiz, error) {
		for i := range quizzes {
			if quizzes[i].ID == quiz.ID {
				quizzes[i] = quiz
				return quizzes, nil
			}
		}
		return append(quizzes, quiz), nil
	})
	if err != nil {
		return fmt.Errorf("put quiz: %w", err)
	}
	return nil
}

func (s *QuizStore) Delete(ctx context.Context, quizID string) error {
	return updateList(ctx, s.kv, QuizzesKey, func(quizzes []domain.Quiz) ([]domain.Quiz, error) {
		out := make([]domain.Quiz, 0, len(quizzes))
		for _, q := range quizzes {
			if q.ID != quizID {
				out = append(out, q)
			}
		}
		if len(out) == len(quizzes) {
			return nil, domain.ErrQuizNotFound
		}
		return out, nil
	})
}
