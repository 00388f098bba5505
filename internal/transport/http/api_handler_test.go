package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"quiz-session-service/internal/app"
	"quiz-session-service/internal/domain"
)

func newAPIServer(t *testing.T) (*app.QuizService, *httptest.Server) {
	t.Helper()
	service := newTestService(t)
	mux := http.NewServeMux()
	NewAPIHandler(service, nil).Register(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return service, server
}

func doJSON(t *testing.T, method, url, body string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

func TestAPIImportAndList(t *testing.T) {
	_, server := newAPIServer(t)

	doc := `{"id":"quiz-2","title":"More","description":"One question","settings":{"timeLimit":30},
		"questions":[{"id":"x","type":"MCQ","text":"?","choices":[{"id":"a","text":"A"},{"id":"b","text":"B"},{"id":"c","text":"C"},{"id":"d","text":"D"}],"correctAnswer":"d","explanation":"d"}]}`
	var created domain.Quiz
	if code := doJSON(t, http.MethodPost, server.URL+"/quizzes", doc, &created); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if created.ID != "quiz-2" {
		t.Fatalf("unexpected quiz %q", created.ID)
	}

	var quizzes []domain.Quiz
	if code := doJSON(t, http.MethodGet, server.URL+"/quizzes", "", &quizzes); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(quizzes) != 2 {
		t.Fatalf("expected 2 quizzes, got %d", len(quizzes))
	}

	var apiErr errorPayload
	if code := doJSON(t, http.MethodPost, server.URL+"/quizzes", `{"id":"broken"}`, &apiErr); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if apiErr.Code != "invalid_quiz" {
		t.Fatalf("expected invalid_quiz, got %q", apiErr.Code)
	}
}

func TestAPIUpdateConflict(t *testing.T) {
	service, server := newAPIServer(t)
	ctx := context.Background()

	session, err := service.Open(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := session.CreateSave(ctx, "checkpoint"); err != nil {
		t.Fatalf("save: %v", err)
	}

	var conflict domain.EditConflict
	if code := doJSON(t, http.MethodGet, server.URL+"/quizzes/quiz-1/conflict", "", &conflict); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !conflict.HasSaves || conflict.SaveCount != 1 {
		t.Fatalf("unexpected conflict %+v", conflict)
	}

	edited := sampleQuiz()
	edited.Title = "Edited"
	body, _ := json.Marshal(edited)

	var apiErr errorPayload
	if code := doJSON(t, http.MethodPut, server.URL+"/quizzes/quiz-1", string(body), &apiErr); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
	if apiErr.Code != "edit_conflict" {
		t.Fatalf("expected edit_conflict, got %q", apiErr.Code)
	}

	if code := doJSON(t, http.MethodPut, server.URL+"/quizzes/quiz-1?resolution=clear", string(body), nil); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	slots, err := service.SaveSlots(ctx, "quiz-1")
	if err != nil || len(slots) != 0 {
		t.Fatalf("expected saves cleared, got %d (%v)", len(slots), err)
	}
}

func TestAPIResults(t *testing.T) {
	service, server := newAPIServer(t)
	ctx := context.Background()

	session, err := service.Open(ctx, "quiz-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := session.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := session.SelectAnswer("q1", "a"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := session.SelectAnswer("q2", "c"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	result, err := session.Complete(ctx)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	var results []domain.QuizResult
	if code := doJSON(t, http.MethodGet, server.URL+"/results?quizId=quiz-1", "", &results); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(results) != 1 || results[0].ID != result.ID {
		t.Fatalf("unexpected results %+v", results)
	}

	var rescored domain.QuizResult
	if code := doJSON(t, http.MethodGet, server.URL+"/results/"+result.ID+"?negativeMark=1", "", &rescored); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if rescored.Score.Total != 0 {
		t.Fatalf("expected total 0 with a full penalty, got %v", rescored.Score.Total)
	}

	if code := doJSON(t, http.MethodGet, server.URL+"/results/"+result.ID+"?negativeMark=-1", "", nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}

	if code := doJSON(t, http.MethodDelete, server.URL+"/results/"+result.ID, "", nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := doJSON(t, http.MethodGet, server.URL+"/results/"+result.ID, "", nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}
