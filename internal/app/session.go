package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"quiz-session-service/internal/domain"
	"quiz-session-service/internal/scoring"
	"quiz-session-service/internal/timer"
)

// Phase is the lifecycle position of a session.
type Phase string

const (
	PhaseFresh    Phase = "fresh"
	PhaseActive   Phase = "active"
	PhasePaused   Phase = "paused"
	PhaseComplete Phase = "complete"
)

// EventType tags session events delivered to subscribers.
type EventType string

const (
	EventState     EventType = "state"
	EventNotice    EventType = "notice"
	EventCompleted EventType = "completed"
)

const (
	noticeAutosaveDeleted = "Autosave deleted. Quiz reset to start."
	noticeSaveDeleted     = "Loaded save deleted. Quiz reset to start."
	noticeSavesCleared    = "All saves cleared. Quiz reset to start."
	noticeSaveMissing     = "Save not found. Starting fresh."
	noticeSaveUnusable    = "Save cannot be resumed. Starting fresh."
	noticeResultNotSaved  = "Your result could not be saved. Retry before leaving."
)

// Event is a snapshot pushed to subscribers after every observable change.
type Event struct {
	Type     EventType               `json:"type"`
	Phase    Phase                   `json:"phase"`
	State    domain.SessionState     `json:"state"`
	Statuses []domain.QuestionStatus `json:"statuses"`
	// QuestionID is the question shown at the current display index.
	QuestionID string             `json:"questionId"`
	Notice     string             `json:"notice,omitempty"`
	Result     *domain.QuizResult `json:"result,omitempty"`
	Err        string             `json:"error,omitempty"`
}

// Session drives one attempt at one quiz: answers, navigation, review marks, the
// countdown, autosave checkpoints and completion.
//
// ioMu serialises every store write made on behalf of the session so a checkpoint
// always reflects the state at write time. Lock order is ioMu, mu, then the timer.
type Session struct {
	quiz    domain.Quiz
	saves   SaveRepository
	results ResultRepository
	cfg     SessionConfig
	log     *zap.Logger
	timer   *timer.Timer

	ioMu sync.Mutex

	mu           sync.Mutex
	state        domain.SessionState
	pausedAt     time.Time
	loadedSlotID string
	autosaveStop chan struct{}
	result       *domain.QuizResult
	resultSaved  bool
	closed       bool
	subscribers  map[chan Event]struct{}
}

// NewSession creates a Fresh session. The quiz must be structurally valid.
func NewSession(quiz domain.Quiz, saves SaveRepository, results ResultRepository, cfg SessionConfig, log *zap.Logger) (*Session, error) {
	if err := domain.ValidateStructure(quiz); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()

	s := &Session{
		quiz:        quiz,
		saves:       saves,
		results:     results,
		cfg:         cfg,
		log:         log.With(zap.String("quiz_id", quiz.ID)),
		state:       domain.NewSessionState(quiz, cfg.Clock()),
		subscribers: make(map[chan Event]struct{}),
	}
	s.timer = timer.New(quiz.Settings.TimeLimit,
		timer.WithClock(cfg.Clock),
		timer.WithTicker(cfg.NewTicker),
		timer.WithPollInterval(cfg.TickInterval),
		timer.OnTick(s.handleTick),
		timer.OnExpire(s.handleExpire),
	)
	return s, nil
}

// Quiz returns the quiz this session runs.
func (s *Session) Quiz() domain.Quiz {
	return s.quiz
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Result returns the scored result once the session is complete, and whether the
// result reached storage.
func (s *Session) Result() (domain.QuizResult, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return domain.QuizResult{}, false, false
	}
	return *s.result, s.resultSaved, true
}

// Start begins a Fresh session. It is Resume under its user-facing name.
func (s *Session) Start(ctx context.Context) error {
	return s.Resume(ctx)
}

// Resume moves a Fresh or Paused session to Active and writes a checkpoint at once.
func (s *Session) Resume(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	switch s.phaseLocked() {
	case PhaseComplete:
		s.mu.Unlock()
		return domain.ErrSessionComplete
	case PhaseActive:
		s.mu.Unlock()
		return nil
	}
	s.activateLocked()
	s.broadcastLocked(s.eventLocked(EventState, ""))
	s.mu.Unlock()

	s.checkpoint(ctx)
	return nil
}

// Pause stops the countdown and the autosave loop, then checkpoints the paused state.
func (s *Session) Pause(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	switch s.phaseLocked() {
	case PhaseComplete:
		s.mu.Unlock()
		return domain.ErrSessionComplete
	case PhaseActive:
	default:
		s.mu.Unlock()
		return nil
	}
	s.haltLocked()
	s.syncRemainingLocked()
	s.state.IsPaused = true
	s.pausedAt = s.cfg.Clock()
	s.broadcastLocked(s.eventLocked(EventState, ""))
	s.mu.Unlock()

	s.checkpoint(ctx)
	return nil
}

// TogglePause pauses an Active session or resumes any other non-complete one and
// returns the resulting phase.
func (s *Session) TogglePause(ctx context.Context) (Phase, error) {
	var err error
	if s.Phase() == PhaseActive {
		err = s.Pause(ctx)
	} else {
		err = s.Resume(ctx)
	}
	return s.Phase(), err
}

// SelectAnswer records choiceID as the answer to questionID, replacing any earlier
// choice. Selecting the same choice twice leaves the state unchanged.
func (s *Session) SelectAnswer(questionID, choiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsComplete {
		return domain.ErrSessionComplete
	}
	q, ok := s.quiz.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	if choiceID == "" || !q.HasChoice(choiceID) {
		return fmt.Errorf("%w: %s on %s", domain.ErrChoiceNotFound, choiceID, questionID)
	}
	if s.state.Answers[questionID] == choiceID {
		return nil
	}
	s.state.Answers[questionID] = choiceID
	s.broadcastLocked(s.eventLocked(EventState, ""))
	return nil
}

// Navigate moves to a display index. Out-of-range indices are rejected and leave
// the state unchanged.
func (s *Session) Navigate(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsComplete {
		return domain.ErrSessionComplete
	}
	if index < 0 || index >= len(s.quiz.Questions) {
		return fmt.Errorf("%w: %d", domain.ErrIndexOutOfRange, index)
	}
	if s.state.CurrentQuestionIndex != index {
		s.state.CurrentQuestionIndex = index
		s.broadcastLocked(s.eventLocked(EventState, ""))
	}
	return nil
}

// Next moves forward one question and stops at the last.
func (s *Session) Next() error {
	return s.step(1)
}

// Previous moves back one question and stops at the first.
func (s *Session) Previous() error {
	return s.step(-1)
}

func (s *Session) step(delta int) error {
	s.mu.Lock()
	idx := s.state.CurrentQuestionIndex + delta
	s.mu.Unlock()
	if idx < 0 || idx >= len(s.quiz.Questions) {
		return nil
	}
	return s.Navigate(idx)
}

// ToggleReview flips the review mark of a question and reports whether it is now marked.
func (s *Session) ToggleReview(questionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsComplete {
		return false, domain.ErrSessionComplete
	}
	if _, ok := s.quiz.Question(questionID); !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}

	marked := s.state.IsMarked(questionID)
	if marked {
		out := s.state.MarkedForReview[:0:0]
		for _, id := range s.state.MarkedForReview {
			if id != questionID {
				out = append(out, id)
			}
		}
		s.state.MarkedForReview = out
	} else {
		s.state.MarkedForReview = append(s.state.MarkedForReview, questionID)
	}
	s.broadcastLocked(s.eventLocked(EventState, ""))
	return !marked, nil
}

// Status returns the navigation status of one question.
func (s *Session) Status(questionID string) (domain.QuestionStatus, error) {
	if _, ok := s.quiz.Question(questionID); !ok {
		return "", fmt.Errorf("%w: %s", domain.ErrQuestionNotFound, questionID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.StatusOf(questionID), nil
}

// Statuses returns the status of every question in display order.
func (s *Session) Statuses() []domain.QuestionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusesLocked()
}

// CurrentQuestion returns the question at the current display index.
func (s *Session) CurrentQuestion() domain.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quiz.Questions[s.state.QuestionAt(s.state.CurrentQuestionIndex)]
}

// SaveSlots lists the stored slots of this quiz.
func (s *Session) SaveSlots(ctx context.Context) ([]domain.SaveSlot, error) {
	return s.saves.List(ctx, s.quiz.ID)
}

// CreateSave stores the current state in a new named slot.
func (s *Session) CreateSave(ctx context.Context, name string) (domain.SaveSlot, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	if s.state.IsComplete {
		s.mu.Unlock()
		return domain.SaveSlot{}, domain.ErrSessionComplete
	}
	s.syncRemainingLocked()
	state := s.state.Clone()
	s.mu.Unlock()

	return s.saves.Create(ctx, s.quiz.ID, name, state)
}

// LoadSave replaces the session state with a stored slot. A missing or unusable slot
// resets the session to Fresh and emits a notice.
func (s *Session) LoadSave(ctx context.Context, slotID string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if s.Phase() == PhaseComplete {
		return domain.ErrSessionComplete
	}

	slot, err := s.saves.Get(ctx, s.quiz.ID, slotID)
	if errors.Is(err, domain.ErrSaveNotFound) {
		s.resetWithNotice(noticeSaveMissing)
		return fmt.Errorf("%w: %s", domain.ErrSaveNotFound, slotID)
	}
	if err != nil {
		return fmt.Errorf("load save: %w", err)
	}

	state := slot.State.Sanitize(s.quiz)
	if state.IsComplete || state.TimeRemaining <= 0 {
		s.resetWithNotice(noticeSaveUnusable)
		return fmt.Errorf("%w: %s", domain.ErrUnusableSave, slotID)
	}

	s.mu.Lock()
	if s.state.IsComplete {
		s.mu.Unlock()
		return domain.ErrSessionComplete
	}
	s.haltLocked()
	resume := !state.IsPaused
	state.IsPaused = true
	s.state = state
	s.loadedSlotID = slot.ID
	s.pausedAt = s.cfg.Clock()
	s.timer.Reset(state.TimeRemaining)
	if resume {
		s.activateLocked()
	}
	s.broadcastLocked(s.eventLocked(EventState, ""))
	s.mu.Unlock()

	s.log.Info("save loaded", zap.String("slot_id", slot.ID), zap.Bool("autosave", slot.IsAutosave))
	if resume {
		s.checkpoint(ctx)
	}
	return nil
}

// DeleteSave removes one slot. Deleting the autosave slot or the slot the session was
// loaded from resets the in-memory session to Fresh.
func (s *Session) DeleteSave(ctx context.Context, slotID string) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	slot, err := s.saves.Delete(ctx, s.quiz.ID, slotID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	reset := !s.state.IsComplete && (slot.IsAutosave || slot.ID == s.loadedSlotID)
	s.mu.Unlock()
	if reset {
		notice := noticeSaveDeleted
		if slot.IsAutosave {
			notice = noticeAutosaveDeleted
		}
		s.resetWithNotice(notice)
	}
	return nil
}

// ClearSaves removes every slot of the quiz and resets the session to Fresh.
func (s *Session) ClearSaves(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	if err := s.saves.Clear(ctx, s.quiz.ID); err != nil {
		return err
	}
	if s.Phase() != PhaseComplete {
		s.resetWithNotice(noticeSavesCleared)
	}
	return nil
}

// Complete finalises the attempt, scores it and persists the result. It runs at most
// once; later calls return the same result. When the result cannot be stored the
// session stays complete, saves are kept and the error wraps domain.ErrResultNotSaved.
func (s *Session) Complete(ctx context.Context) (domain.QuizResult, error) {
	return s.finish(ctx, false)
}

// RetrySaveResult retries persisting the result of a completed session.
func (s *Session) RetrySaveResult(ctx context.Context) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	if s.result == nil {
		s.mu.Unlock()
		return fmt.Errorf("retry save: session %s is not complete", s.quiz.ID)
	}
	if s.resultSaved {
		s.mu.Unlock()
		return nil
	}
	result := *s.result
	s.mu.Unlock()

	err := s.persistResult(ctx, result)
	s.settleResult(ctx, result, err)
	return err
}

// Subscribe returns a channel of session events starting with the current snapshot.
// The caller must invoke cancel to release it.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	s.mu.Lock()
	initial := s.eventLocked(EventState, "")
	if s.closed {
		s.mu.Unlock()
		ch <- initial
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.mu.Unlock()

	ch <- initial

	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subscribers[ch]; ok {
			delete(s.subscribers, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}

// Close stops the countdown and autosave loop and ends every subscription. It does
// not write anything.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.haltLocked()
	for ch := range s.subscribers {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Idle reports whether no subscriber is attached.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers) == 0
}

// Suspend checkpoints a running attempt to the autosave slot and closes the
// session, leaving the attempt resumable from that slot.
func (s *Session) Suspend(ctx context.Context) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	if s.Phase() == PhaseActive {
		s.checkpoint(ctx)
	}
	s.Close()
}

func (s *Session) finish(ctx context.Context, expired bool) (domain.QuizResult, error) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	s.mu.Lock()
	if s.result != nil {
		result, saved := *s.result, s.resultSaved
		s.mu.Unlock()
		if !saved {
			return result, fmt.Errorf("%w: earlier attempt failed", domain.ErrResultNotSaved)
		}
		return result, nil
	}
	// a stale expiry from before a reseed
	if expired && (s.closed || !s.timer.Expired()) {
		s.mu.Unlock()
		return domain.QuizResult{}, nil
	}

	s.haltLocked()
	if expired {
		s.state.TimeRemaining = 0
	} else {
		s.syncRemainingLocked()
	}
	s.state.IsPaused = true
	s.state.IsComplete = true

	now := s.cfg.Clock()
	state := s.state.Clone()
	result := domain.QuizResult{
		ID:           s.cfg.NewID(),
		QuizID:       s.quiz.ID,
		QuizTitle:    s.quiz.Title,
		QuizSnapshot: s.quiz,
		State:        state,
		Score:        scoring.Score(s.quiz, state, s.cfg.NegativeMark),
		Timestamp:    now.UnixMilli(),
		TimeTaken:    scoring.TimeTaken(s.quiz, state),
	}
	s.result = &result
	s.broadcastLocked(s.eventLocked(EventState, ""))
	s.mu.Unlock()

	s.log.Info("quiz completed",
		zap.String("result_id", result.ID),
		zap.Bool("expired", expired),
		zap.Float64("total", result.Score.Total),
	)

	err := s.persistResult(ctx, result)
	s.settleResult(ctx, result, err)
	if err != nil {
		return result, err
	}
	return result, nil
}

// persistResult appends the result with bounded exponential retries.
func (s *Session) persistResult(ctx context.Context, result domain.QuizResult) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.ResultRetryBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.cfg.ResultSaveAttempts-1)), ctx)

	err := backoff.RetryNotify(func() error {
		return s.results.Append(ctx, result)
	}, policy, func(err error, wait time.Duration) {
		s.log.Warn("result save failed, retrying", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrResultNotSaved, err)
	}
	return nil
}

// settleResult records the outcome of a result write and clears saves on success.
// Callers hold ioMu.
func (s *Session) settleResult(ctx context.Context, result domain.QuizResult, err error) {
	if err == nil {
		if clearErr := s.saves.Clear(ctx, s.quiz.ID); clearErr != nil {
			s.log.Warn("clear saves after completion", zap.Error(clearErr))
		}
	} else {
		s.log.Error("result not saved", zap.String("result_id", result.ID), zap.Error(err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resultSaved = err == nil
	ev := s.eventLocked(EventCompleted, "")
	r := result
	ev.Result = &r
	if err != nil {
		ev.Notice = noticeResultNotSaved
		ev.Err = err.Error()
	}
	s.broadcastLocked(ev)
}

// checkpoint writes the current state to the autosave slot. Failures are logged and
// the session keeps running. Callers hold ioMu.
func (s *Session) checkpoint(ctx context.Context) {
	s.mu.Lock()
	if s.state.IsComplete || s.closed {
		s.mu.Unlock()
		return
	}
	s.syncRemainingLocked()
	state := s.state.Clone()
	s.mu.Unlock()

	if _, err := s.saves.Autosave(ctx, s.quiz.ID, state); err != nil {
		s.log.Warn("autosave failed", zap.Error(err))
	}
}

func (s *Session) autosaveLoop(stop <-chan struct{}, ticker timer.Ticker) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			s.autosaveTick(stop)
		}
	}
}

func (s *Session) autosaveTick(stop <-chan struct{}) {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	select {
	case <-stop:
		return
	default:
	}
	if s.Phase() != PhaseActive {
		return
	}
	s.checkpoint(context.Background())
}

func (s *Session) handleTick(remaining int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.state.IsPaused || s.state.IsComplete {
		return
	}
	// ignore ticks computed before a reseed or pause
	if remaining >= s.state.TimeRemaining || remaining < s.timer.Remaining() {
		return
	}
	s.state.TimeRemaining = remaining
	s.broadcastLocked(s.eventLocked(EventState, ""))
}

func (s *Session) handleExpire() {
	if _, err := s.finish(context.Background(), true); err != nil {
		s.log.Error("auto-complete on expiry", zap.Error(err))
	}
}

func (s *Session) activateLocked() {
	now := s.cfg.Clock()
	if s.state.StartTime == 0 {
		s.state.StartTime = now.UnixMilli()
	} else if !s.pausedAt.IsZero() {
		s.state.TotalPausedTime += now.Sub(s.pausedAt).Milliseconds()
	}
	s.pausedAt = time.Time{}
	s.state.IsPaused = false

	stop := make(chan struct{})
	s.autosaveStop = stop
	go s.autosaveLoop(stop, s.cfg.NewTicker(s.cfg.AutosaveInterval))
	s.timer.Resume()
}

// haltLocked stops the countdown and the autosave loop without changing state.
func (s *Session) haltLocked() {
	s.timer.Pause()
	if s.autosaveStop != nil {
		close(s.autosaveStop)
		s.autosaveStop = nil
	}
}

func (s *Session) syncRemainingLocked() {
	if r := s.timer.Remaining(); r < s.state.TimeRemaining {
		s.state.TimeRemaining = r
	}
}

// resetWithNotice discards the attempt and returns to Fresh.
func (s *Session) resetWithNotice(notice string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsComplete {
		return
	}
	s.haltLocked()
	s.state = domain.NewSessionState(s.quiz, s.cfg.Clock())
	s.loadedSlotID = ""
	s.pausedAt = time.Time{}
	s.timer.Reset(s.quiz.Settings.TimeLimit)
	s.broadcastLocked(s.eventLocked(EventNotice, notice))
	s.log.Info("session reset", zap.String("reason", notice))
}

func (s *Session) phaseLocked() Phase {
	switch {
	case s.state.IsComplete:
		return PhaseComplete
	case !s.state.IsPaused:
		return PhaseActive
	case s.state.StartTime == 0:
		return PhaseFresh
	default:
		return PhasePaused
	}
}

func (s *Session) statusesLocked() []domain.QuestionStatus {
	out := make([]domain.QuestionStatus, len(s.quiz.Questions))
	for i := range out {
		out[i] = s.state.StatusOf(s.quiz.Questions[s.state.QuestionAt(i)].ID)
	}
	return out
}

func (s *Session) eventLocked(typ EventType, notice string) Event {
	ev := Event{
		Type:     typ,
		Phase:    s.phaseLocked(),
		State:    s.state.Clone(),
		Statuses: s.statusesLocked(),
		Notice:   notice,
	}
	ev.QuestionID = s.quiz.Questions[s.state.QuestionAt(s.state.CurrentQuestionIndex)].ID
	if s.result != nil && typ != EventCompleted {
		r := *s.result
		ev.Result = &r
	}
	return ev
}

func (s *Session) broadcastLocked(ev Event) {
	for ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			// slow subscriber: drop its oldest event
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}
