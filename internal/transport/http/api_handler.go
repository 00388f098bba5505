package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

// maxQuizBody caps uploaded quiz documents.
const maxQuizBody = 1 << 20

// APIHandler serves the JSON endpoints for the quiz catalogue and result history.
type APIHandler struct {
	service *app.QuizService
	log     *zap.Logger
}

func NewAPIHandler(service *app.QuizService, log *zap.Logger) *APIHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &APIHandler{service: service, log: log}
}

// Register mounts the endpoints on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /quizzes", h.listQuizzes)
	mux.HandleFunc("POST /quizzes", h.importQuiz)
	mux.HandleFunc("GET /quizzes/{id}/conflict", h.editConflict)
	mux.HandleFunc("GET /quizzes/{id}/saves", h.listSaves)
	mux.HandleFunc("PUT /quizzes/{id}", h.updateQuiz)
	mux.HandleFunc("DELETE /quizzes/{id}", h.deleteQuiz)
	mux.HandleFunc("GET /results", h.listResults)
	mux.HandleFunc("GET /results/{id}", h.getResult)
	mux.HandleFunc("DELETE /results/{id}", h.deleteResult)
	mux.HandleFunc("DELETE /results", h.clearResults)
}

func (h *APIHandler) listQuizzes(w http.ResponseWriter, r *http.Request) {
	quizzes, err := h.service.ListQuizzes(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if quizzes == nil {
		quizzes = []domain.Quiz{}
	}
	writeJSON(w, http.StatusOK, quizzes)
}

func (h *APIHandler) importQuiz(w http.ResponseWriter, r *http.Request) {
	quiz, err := h.service.ImportQuiz(r.Context(), http.MaxBytesReader(w, r.Body, maxQuizBody))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, quiz)
}

func (h *APIHandler) editConflict(w http.ResponseWriter, r *http.Request) {
	conflict, err := h.service.CheckEditConflict(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conflict)
}

func (h *APIHandler) listSaves(w http.ResponseWriter, r *http.Request) {
	slots, err := h.service.SaveSlots(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if slots == nil {
		slots = []domain.SaveSlot{}
	}
	writeJSON(w, http.StatusOK, slots)
}

func (h *APIHandler) updateQuiz(w http.ResponseWriter, r *http.Request) {
	var quiz domain.Quiz
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxQuizBody)).Decode(&quiz); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_quiz", Message: "invalid JSON format"})
		return
	}
	if quiz.ID == "" {
		quiz.ID = r.PathValue("id")
	}
	if quiz.ID != r.PathValue("id") {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_quiz", Message: "quiz id does not match path"})
		return
	}

	resolution := domain.EditResolution(r.URL.Query().Get("resolution"))
	if err := h.service.UpdateQuiz(r.Context(), quiz, resolution); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quiz)
}

func (h *APIHandler) deleteQuiz(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteQuiz(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) listResults(w http.ResponseWriter, r *http.Request) {
	var (
		results []domain.QuizResult
		err     error
	)
	if quizID := r.URL.Query().Get("quizId"); quizID != "" {
		results, err = h.service.ResultsForQuiz(r.Context(), quizID)
	} else {
		results, err = h.service.ListResults(r.Context())
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if results == nil {
		results = []domain.QuizResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

// getResult returns a stored result, rescored when negativeMark is given.
func (h *APIHandler) getResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	raw := r.URL.Query().Get("negativeMark")
	if raw == "" {
		result, err := h.service.GetResult(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	mark, err := strconv.ParseFloat(raw, 64)
	if err != nil || mark < 0 {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_request", Message: "negativeMark must be a non-negative number"})
		return
	}
	result, err := h.service.Rescore(r.Context(), id, mark)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *APIHandler) deleteResult(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteResult(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) clearResults(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ClearResults(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if _, status := errorCode(err); status >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeError(w, err)
}
