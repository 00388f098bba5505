package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"quiz-session-service/internal/domain"
)

// errorCode maps domain errors to stable machine-readable codes and HTTP statuses.
func errorCode(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuiz):
		return "invalid_quiz", http.StatusBadRequest
	case errors.Is(err, domain.ErrQuizNotFound),
		errors.Is(err, domain.ErrSessionNotFound),
		errors.Is(err, domain.ErrResultNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, domain.ErrSaveNotFound):
		return "save_not_found", http.StatusNotFound
	case errors.Is(err, domain.ErrUnusableSave):
		return "unusable_save", http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrQuestionNotFound),
		errors.Is(err, domain.ErrChoiceNotFound),
		errors.Is(err, domain.ErrIndexOutOfRange):
		return "invalid_intent", http.StatusBadRequest
	case errors.Is(err, domain.ErrSaveLimitReached):
		return "save_limit", http.StatusConflict
	case errors.Is(err, domain.ErrEditConflict):
		return "edit_conflict", http.StatusConflict
	case errors.Is(err, domain.ErrSessionComplete):
		return "complete", http.StatusConflict
	case errors.Is(err, domain.ErrResultNotSaved):
		return "result_not_saved", http.StatusServiceUnavailable
	case errors.Is(err, errUnsupported):
		return "unsupported", http.StatusBadRequest
	case errors.Is(err, errBadPayload):
		return "bad_request", http.StatusBadRequest
	default:
		return "internal", http.StatusInternalServerError
	}
}

func errorBody(err error) errorPayload {
	code, _ := errorCode(err)
	return errorPayload{Code: code, Message: err.Error()}
}

func writeError(w http.ResponseWriter, err error) {
	_, status := errorCode(err)
	writeJSON(w, status, errorBody(err))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
