package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"quiz-session-service/internal/app"
)

// releaseTimeout bounds the checkpoint written when the last connection closes.
const releaseTimeout = 5 * time.Second

type WSHandler struct {
	service  *app.QuizService
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewWSHandler(service *app.QuizService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	QuestionID string `json:"questionId"`
	ChoiceID   string `json:"choiceId"`
}

type navigatePayload struct {
	Index int `json:"index"`
}

type questionPayload struct {
	QuestionID string `json:"questionId"`
}

type savePayload struct {
	Name string `json:"name"`
}

type slotPayload struct {
	ID string `json:"id"`
}

type reviewResult struct {
	QuestionID string `json:"questionId"`
	Marked     bool   `json:"marked"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets and relays session intents and events.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	quizID := r.URL.Query().Get("quizId")
	if quizID == "" {
		http.Error(w, "missing quizId", http.StatusBadRequest)
		return
	}

	session, err := h.service.Open(r.Context(), quizID)
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	log := h.log.With(zap.String("quiz_id", quizID))
	send := make(chan outboundMessage[any], 32)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		for msg := range send {
			if err := conn.WriteJSON(msg); err != nil {
				log.Warn("ws write error", zap.Error(err))
				_ = conn.Close()
				// keep draining so producers never block on a dead connection
				for range send {
				}
				return
			}
		}
	}()

	relay := &eventRelay{send: send, closeSignals: closeSignals}
	relay.attach(session)

	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}

		// another connection may have retried or discarded the attempt
		current, err := h.service.Open(r.Context(), quizID)
		if err != nil {
			relay.reply("error", errorBody(err))
			continue
		}
		if current != session {
			session = current
			relay.attach(session)
		}

		typ, payload, next, err := h.dispatch(r.Context(), session, inbound)
		if err != nil {
			relay.reply("error", errorBody(err))
			continue
		}
		if next != nil && next != session {
			session = next
			relay.attach(session)
		}
		if typ != "" {
			relay.reply(typ, payload)
		}
	}

	close(closeSignals)
	relay.detach()
	close(send)
	<-writerDone

	// the last host leaving suspends the attempt instead of letting it run out
	releaseCtx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	h.service.Release(releaseCtx, quizID, session)
}

// dispatch applies one intent. It returns an optional direct reply and, for retry,
// the new session instance.
func (h *WSHandler) dispatch(ctx context.Context, session *app.Session, in inboundMessage) (string, any, *app.Session, error) {
	switch in.Type {
	case "start":
		return "", nil, nil, session.Start(ctx)
	case "pause":
		return "", nil, nil, session.Pause(ctx)
	case "toggle_pause":
		_, err := session.TogglePause(ctx)
		return "", nil, nil, err
	case "answer":
		var p answerPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return "", nil, nil, err
		}
		return "", nil, nil, session.SelectAnswer(p.QuestionID, p.ChoiceID)
	case "navigate":
		var p navigatePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return "", nil, nil, err
		}
		return "", nil, nil, session.Navigate(p.Index)
	case "next":
		return "", nil, nil, session.Next()
	case "previous":
		return "", nil, nil, session.Previous()
	case "toggle_review":
		var p questionPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return "", nil, nil, err
		}
		marked, err := session.ToggleReview(p.QuestionID)
		return "review", reviewResult{QuestionID: p.QuestionID, Marked: marked}, nil, err
	case "save":
		var p savePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return "", nil, nil, err
		}
		slot, err := session.CreateSave(ctx, p.Name)
		return "saved", slot, nil, err
	case "load":
		var p slotPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return "", nil, nil, err
		}
		return "", nil, nil, session.LoadSave(ctx, p.ID)
	case "delete_save":
		var p slotPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return "", nil, nil, err
		}
		if err := session.DeleteSave(ctx, p.ID); err != nil {
			return "", nil, nil, err
		}
		slots, err := session.SaveSlots(ctx)
		return "saves", slots, nil, err
	case "clear_saves":
		return "", nil, nil, session.ClearSaves(ctx)
	case "list_saves":
		slots, err := session.SaveSlots(ctx)
		return "saves", slots, nil, err
	case "complete":
		_, err := session.Complete(ctx)
		return "", nil, nil, err
	case "retry_save":
		return "", nil, nil, session.RetrySaveResult(ctx)
	case "retry":
		next, err := h.service.Retry(ctx, session.Quiz().ID)
		return "", nil, next, err
	default:
		return "", nil, nil, errUnsupported
	}
}

var (
	errUnsupported = errors.New("unsupported message type")
	errBadPayload  = errors.New("invalid payload")
)

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing", errBadPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errBadPayload
	}
	return nil
}

// eventRelay forwards the events of the attached session to the writer. Attaching a
// new session cancels the previous subscription.
type eventRelay struct {
	send         chan<- outboundMessage[any]
	closeSignals <-chan struct{}

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

func (r *eventRelay) attach(session *app.Session) {
	r.detach()

	events, cancel := session.Subscribe()
	done := make(chan struct{})
	r.mu.Lock()
	r.cancel, r.done = cancel, done
	r.mu.Unlock()

	go func() {
		defer close(done)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				select {
				case r.send <- outboundMessage[any]{Type: string(ev.Type), Payload: ev}:
				case <-r.closeSignals:
					return
				}
			case <-r.closeSignals:
				return
			}
		}
	}()
}

func (r *eventRelay) detach() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *eventRelay) reply(typ string, payload any) {
	select {
	case r.send <- outboundMessage[any]{Type: typ, Payload: payload}:
	case <-r.closeSignals:
	}
}
