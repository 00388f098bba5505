package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"quiz-session-service/internal/domain"
)

// DefaultMaxManualSlots caps manual saves per quiz.
const DefaultMaxManualSlots = 3

// SaveStore keeps the autosave slot and the capped manual slots of each quiz.
type SaveStore struct {
	kv        KV
	maxManual int
	now       func() time.Time
	newID     func() string
}

func NewSaveStore(kv KV, maxManualSlots int) *SaveStore {
	if maxManualSlots <= 0 {
		maxManualSlots = DefaultMaxManualSlots
	}
	return &SaveStore{
		kv:        kv,
		maxManual: maxManualSlots,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// MaxManualSlots returns the configured manual slot cap.
func (s *SaveStore) MaxManualSlots() int {
	return s.maxManual
}

// List returns the slots of a quiz in insertion order. A list that cannot be decoded
// is removed and reported as empty.
func (s *SaveStore) List(ctx context.Context, quizID string) ([]domain.SaveSlot, error) {
	slots, err := getList[domain.SaveSlot](ctx, s.kv, SavesKey(quizID))
	if isCorrupt(err) {
		if delErr := s.kv.Delete(ctx, SavesKey(quizID)); delErr != nil {
			return nil, fmt.Errorf("drop corrupt saves: %w", delErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list saves: %w", err)
	}
	return slots, nil
}

// Has reports whether any slot exists for the quiz.
func (s *SaveStore) Has(ctx context.Context, quizID string) (bool, error) {
	slots, err := s.List(ctx, quizID)
	if err != nil {
		return false, err
	}
	return len(slots) > 0, nil
}

// Autosave writes state into the quiz's single autosave slot, replacing it in place.
func (s *SaveStore) Autosave(ctx context.Context, quizID string, state domain.SessionState) (domain.SaveSlot, error) {
	var saved domain.SaveSlot
	err := healList(ctx, s.kv, SavesKey(quizID), func(slots []domain.SaveSlot) ([]domain.SaveSlot, error) {
		out := make([]domain.SaveSlot, 0, len(slots)+1)
		idx := -1
		for _, slot := range slots {
			if slot.IsAutosave {
				if idx >= 0 {
					continue
				}
				idx = len(out)
			}
			out = append(out, slot)
		}

		saved = domain.SaveSlot{
			State:      state.Clone(),
			Timestamp:  s.now().UnixMilli(),
			Name:       domain.AutosaveName,
			IsAutosave: true,
		}
		if idx >= 0 {
			saved.ID = out[idx].ID
			out[idx] = saved
		} else {
			saved.ID = s.newID()
			out = append(out, saved)
		}
		return out, nil
	})
	if err != nil {
		return domain.SaveSlot{}, fmt.Errorf("autosave: %w", err)
	}
	return saved, nil
}

// Create appends a manual slot. It fails with domain.ErrSaveLimitReached once the
// quiz already has the maximum number of manual slots.
func (s *SaveStore) Create(ctx context.Context, quizID, name string, state domain.SessionState) (domain.SaveSlot, error) {
	var saved domain.SaveSlot
	err := healList(ctx, s.kv, SavesKey(quizID), func(slots []domain.SaveSlot) ([]domain.SaveSlot, error) {
		manual := 0
		for _, slot := range slots {
			if !slot.IsAutosave {
				manual++
			}
		}
		if manual >= s.maxManual {
			return nil, fmt.Errorf("%w (%d). Please delete a save first", domain.ErrSaveLimitReached, s.maxManual)
		}

		name = strings.TrimSpace(name)
		if name == "" {
			name = fmt.Sprintf("Save %d", manual+1)
		}
		saved = domain.SaveSlot{
			ID:        s.newID(),
			State:     state.Clone(),
			Timestamp: s.now().UnixMilli(),
			Name:      name,
		}
		return append(slots, saved), nil
	})
	if err != nil {
		return domain.SaveSlot{}, err
	}
	return saved, nil
}

// Get returns one slot or domain.ErrSaveNotFound.
func (s *SaveStore) Get(ctx context.Context, quizID, id string) (domain.SaveSlot, error) {
	slots, err := s.List(ctx, quizID)
	if err != nil {
		return domain.SaveSlot{}, err
	}
	for _, slot := range slots {
		if slot.ID == id {
			return slot, nil
		}
	}
	return domain.SaveSlot{}, domain.ErrSaveNotFound
}

// Load returns the stored state of a slot unmodified, or domain.ErrSaveNotFound.
func (s *SaveStore) Load(ctx context.Context, quizID, id string) (domain.SessionState, error) {
	slot, err := s.Get(ctx, quizID, id)
	if err != nil {
		return domain.SessionState{}, err
	}
	return slot.State, nil
}

// Delete removes one slot and returns it.
func (s *SaveStore) Delete(ctx context.Context, quizID, id string) (domain.SaveSlot, error) {
	var removed domain.SaveSlot
	found := false
	err := healList(ctx, s.kv, SavesKey(quizID), func(slots []domain.SaveSlot) ([]domain.SaveSlot, error) {
		found = false
		out := slots[:0:0]
		for _, slot := range slots {
			if slot.ID == id {
				removed, found = slot, true
				continue
			}
			out = append(out, slot)
		}
		if !found {
			return nil, domain.ErrSaveNotFound
		}
		return out, nil
	})
	if err != nil {
		return domain.SaveSlot{}, err
	}
	return removed, nil
}

// Clear removes every slot of the quiz.
func (s *SaveStore) Clear(ctx context.Context, quizID string) error {
	if err := s.kv.Delete(ctx, SavesKey(quizID)); err != nil {
		return fmt.Errorf("clear saves: %w", err)
	}
	return nil
}
