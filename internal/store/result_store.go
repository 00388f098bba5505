package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"quiz-session-service/internal/domain"
)

// ResultStore keeps completed attempts, newest first.
type ResultStore struct {
	kv KV
}

func NewResultStore(kv KV) *ResultStore {
	return &ResultStore{kv: kv}
}

// Append stores a result and reads it back to confirm the write landed.
func (s *ResultStore) Append(ctx context.Context, result domain.QuizResult) error {
	err := updateList(ctx, s.kv, ResultsKey, func(results []domain.QuizResult) ([]domain.QuizResult, error) {
		out := make([]domain.QuizResult, 0, len(results)+1)
		out = append(out, result)
		for _, r := range results {
			if r.ID != result.ID {
				out = append(out, r)
			}
		}
		return out, nil
	})
	if err != nil {
		return fmt.Errorf("append result: %w", err)
	}
	if _, err := s.Get(ctx, result.ID); err != nil {
		return fmt.Errorf("verify result %s: %w", result.ID, err)
	}
	return nil
}

// List returns valid results ordered by timestamp, most recent first. Records
// without an id, quiz snapshot questions or answers are skipped.
func (s *ResultStore) List(ctx context.Context) ([]domain.QuizResult, error) {
	results, err := getList[domain.QuizResult](ctx, s.kv, ResultsKey)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	valid := results[:0]
	for _, r := range results {
		if r.ID == "" || len(r.QuizSnapshot.Questions) == 0 || r.State.Answers == nil {
			continue
		}
		valid = append(valid, r)
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Timestamp > valid[j].Timestamp
	})
	return valid, nil
}

// ListByQuiz returns the results of one quiz, most recent first.
func (s *ResultStore) ListByQuiz(ctx context.Context, quizID string) ([]domain.QuizResult, error) {
	results, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.QuizResult, 0, len(results))
	for _, r := range results {
		if r.QuizID == quizID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Get returns one result or domain.ErrResultNotFound.
func (s *ResultStore) Get(ctx context.Context, id string) (domain.QuizResult, error) {
	results, err := getList[domain.QuizResult](ctx, s.kv, ResultsKey)
	if err != nil {
		return domain.QuizResult{}, fmt.Errorf("get result: %w", err)
	}
	for _, r := range results {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.QuizResult{}, domain.ErrResultNotFound
}

// Delete removes one result.
func (s *ResultStore) Delete(ctx context.Context, id string) error {
	err := updateList(ctx, s.kv, ResultsKey, func(results []domain.QuizResult) ([]domain.QuizResult, error) {
		out := make([]domain.QuizResult, 0, len(results))
		for _, r := range results {
			if r.ID != id {
				out = append(out, r)
			}
		}
		if len(out) == len(results) {
			return nil, domain.ErrResultNotFound
		}
		return out, nil
	})
	if errors.Is(err, domain.ErrResultNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	return nil
}

// Clear removes every stored result.
func (s *ResultStore) Clear(ctx context.Context) error {
	if err := s.kv.Delete(ctx, ResultsKey); err != nil {
		return fmt.Errorf("clear results: %w", err)
	}
	return nil
}
