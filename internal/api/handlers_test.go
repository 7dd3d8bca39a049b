package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"advisorchat/internal/auth"
	"advisorchat/internal/chat"
	"advisorchat/internal/config"
	"advisorchat/internal/feed"
	"advisorchat/internal/models"
	"advisorchat/internal/storage"
)

const testAdvisorToken = "advisor-secret"

func newTestRouter(t *testing.T) (*gin.Engine, *sql.DB, *feed.Hub) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	hub := feed.NewHub()
	chatService := chat.NewService(db, hub, nil, nil)
	authService := auth.NewService([]string{testAdvisorToken})
	handler := NewHandler(chatService, authService, hub, nil)

	router := gin.New()
	handler.RegisterRoutes(router)
	return router, db, hub
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload *bytes.Buffer
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewBuffer(data)
	} else {
		payload = bytes.NewBuffer(nil)
	}
	req := httptest.NewRequest(method, path, payload)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestStartConversationIssuesKey(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/chat", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		ConversationKey string `json:"conversation_key"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ConversationKey == "" {
		t.Fatalf("no conversation key issued")
	}
}

func TestHistoryEmptyConversation(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodGet, "/api/chat/conv-1/messages", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 0 {
		t.Fatalf("expected empty history, got %d", len(resp.Messages))
	}
}

func TestSendAsVisitor(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/chat/conv-1/messages",
		map[string]string{"text": "I need a home insurance quote"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Message models.Message `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message.Role != models.RoleVisitor {
		t.Fatalf("expected visitor role, got %s", resp.Message.Role)
	}
	if resp.Message.ID == "" || resp.Message.CreatedAt.IsZero() {
		t.Fatalf("message missing id or timestamp: %+v", resp.Message)
	}
}

func TestSendWithAdvisorTokenTagsRole(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/chat/conv-1/messages",
		map[string]string{"text": "happy to help"},
		map[string]string{"Authorization": "Bearer " + testAdvisorToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Message models.Message `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Message.Role != models.RoleAdvisor {
		t.Fatalf("expected advisor role, got %s", resp.Message.Role)
	}
}

func TestSendRejectsEmptyBody(t *testing.T) {
	router, _, _ := newTestRouter(t)
	rec := doJSON(t, router, http.MethodPost, "/api/chat/conv-1/messages",
		map[string]string{"text": "   "}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestSendThenHistoryRoundTrip(t *testing.T) {
	router, _, _ := newTestRouter(t)
	for _, text := range []string{"first", "second"} {
		rec := doJSON(t, router, http.MethodPost, "/api/chat/conv-1/messages",
			map[string]string{"text": text}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("send %q: got %d", text, rec.Code)
		}
	}

	rec := doJSON(t, router, http.MethodGet, "/api/chat/conv-1/messages", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history: got %d", rec.Code)
	}
	var resp struct {
		Messages []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(resp.Messages))
	}
	if resp.Messages[0].Body != "first" || resp.Messages[1].Body != "second" {
		t.Fatalf("history out of order: %+v", resp.Messages)
	}
}

func TestAdminConversationsRequiresToken(t *testing.T) {
	router, _, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/admin/conversations", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/admin/conversations", nil,
		map[string]string{"Authorization": "Bearer wrong-token"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestAdminConversationsListsActivity(t *testing.T) {
	router, _, _ := newTestRouter(t)

	if rec := doJSON(t, router, http.MethodPost, "/api/chat/conv-a/messages",
		map[string]string{"text": "hello"}, nil); rec.Code != http.StatusOK {
		t.Fatalf("seed message: got %d", rec.Code)
	}

	rec := doJSON(t, router, http.MethodGet, "/api/admin/conversations", nil,
		map[string]string{"Authorization": "Bearer " + testAdvisorToken})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Conversations []models.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Conversations) != 1 || resp.Conversations[0].Key != "conv-a" {
		t.Fatalf("unexpected conversation list: %+v", resp.Conversations)
	}
}
