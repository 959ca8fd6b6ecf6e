package webhook_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pagepilot/pagepilot/internal/automation"
	"github.com/pagepilot/pagepilot/internal/inbox"
	"github.com/pagepilot/pagepilot/internal/models"
	"github.com/pagepilot/pagepilot/internal/webhook"
)

type countingEngine struct {
	mu       sync.Mutex
	comments int
}

func (e *countingEngine) ProcessComment(ctx context.Context, page *models.Page, event automation.CommentEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.comments++
	return nil
}

func (e *countingEngine) ProcessLiveComment(ctx context.Context, page *models.Page, event automation.CommentEvent) error {
	return nil
}

func (e *countingEngine) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.comments
}

type noopRouter struct{}

func (noopRouter) HandleMessagingEvent(ctx context.Context, event inbox.MessagingEvent) error {
	return nil
}

func setupHandler(appSecret string) (*webhook.Handler, *countingEngine) {
	pages := &fakePages{pages: map[string]*models.Page{
		"page_ext_1": {ID: 3, UserID: 7, PageID: "page_ext_1", AccessToken: "t"},
	}}
	engine := &countingEngine{}
	dispatcher := webhook.NewDispatcher(pages, engine, noopRouter{})
	return webhook.NewHandler(dispatcher, "verify-me", appSecret), engine
}

func waitForComments(t *testing.T, engine *countingEngine, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if engine.count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d processed comments, got %d", want, engine.count())
}

const validBody = `{"object":"page","entry":[{"id":"page_ext_1","changes":[{"field":"comments","value":{"item":"comment","comment_id":"comment_123","verb":"add","message":"hi","from":{"id":"user_55"}}}]}]}`

// ==================== Verification Handshake Tests ====================

func TestHandleVerify_Success(t *testing.T) {
	handler, _ := setupHandler("")

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=verify-me&hub.challenge=challenge-42", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "challenge-42" {
		t.Errorf("Expected challenge echoed, got '%s'", rec.Body.String())
	}
}

func TestHandleVerify_WrongToken(t *testing.T) {
	handler, _ := setupHandler("")

	req := httptest.NewRequest(http.MethodGet,
		"/webhook?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=challenge-42", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

func TestHandleVerify_MissingMode(t *testing.T) {
	handler, _ := setupHandler("")

	req := httptest.NewRequest(http.MethodGet, "/webhook?hub.verify_token=verify-me", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}
}

// ==================== Event Endpoint Tests ====================

func TestHandleEvent_AcknowledgesAndProcesses(t *testing.T) {
	handler, engine := setupHandler("")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(validBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "EVENT_RECEIVED" {
		t.Errorf("Expected acknowledgment body, got '%s'", rec.Body.String())
	}

	waitForComments(t, engine, 1)
}

func TestHandleEvent_MalformedJSONStill200(t *testing.T) {
	handler, engine := setupHandler("")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Malformed payload must still ack with 200, got %d", rec.Code)
	}

	time.Sleep(50 * time.Millisecond)
	if engine.count() != 0 {
		t.Errorf("Malformed payload must not be processed, got %d events", engine.count())
	}
}

func TestHandleEvent_ValidSignatureAccepted(t *testing.T) {
	secret := "app-secret"
	handler, engine := setupHandler(secret)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(validBody))
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(validBody))
	req.Header.Set("X-Hub-Signature-256", signature)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	waitForComments(t, engine, 1)
}

func TestHandleEvent_InvalidSignatureRejected(t *testing.T) {
	handler, engine := setupHandler("app-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(validBody))
	req.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403, got %d", rec.Code)
	}

	time.Sleep(50 * time.Millisecond)
	if engine.count() != 0 {
		t.Error("Rejected payload must not be processed")
	}
}

func TestHandleEvent_MissingSignatureRejected(t *testing.T) {
	handler, _ := setupHandler("app-secret")

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewBufferString(validBody))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("Expected 403 without signature header, got %d", rec.Code)
	}
}

func TestHandler_MethodNotAllowed(t *testing.T) {
	handler, _ := setupHandler("")

	req := httptest.NewRequest(http.MethodDelete, "/webhook", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}
