package inbox_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/pagepilot/pagepilot/internal/database"
	"github.com/pagepilot/pagepilot/internal/graph"
	"github.com/pagepilot/pagepilot/internal/inbox"
	"github.com/pagepilot/pagepilot/internal/models"
	"github.com/pagepilot/pagepilot/internal/notify"
)

// ==================== Test Fakes ====================

type fakeStore struct {
	page          *models.Page
	storedMIDs    map[string]bool
	messages      []models.Message
	increments    int
	lastMessages  []string
	unreadResets  []int64
	convCreated   bool
	conv          *models.Conversation
	user          *models.PageUser
	upsertedNames []*string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		storedMIDs: make(map[string]bool),
		conv:       &models.Conversation{ID: 20, PageID: 3, PageUserID: 8},
		user:       &models.PageUser{ID: 8, PageID: 3, PSID: "psid_42"},
	}
}

func (s *fakeStore) GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error) {
	if s.page != nil && s.page.PageID == pageID {
		return s.page, nil
	}
	return nil, nil
}

func (s *fakeStore) GetPageByID(ctx context.Context, id int64) (*models.Page, error) {
	if s.page != nil && s.page.ID == id {
		return s.page, nil
	}
	return nil, nil
}

func (s *fakeStore) UpsertPageUser(ctx context.Context, pageID int64, psid string, name, profilePic *string) (*models.PageUser, error) {
	s.upsertedNames = append(s.upsertedNames, name)
	return s.user, nil
}

func (s *fakeStore) GetPageUser(ctx context.Context, id int64) (*models.PageUser, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, nil
}

func (s *fakeStore) GetOrCreateConversation(ctx context.Context, pageID, pageUserID int64) (*models.Conversation, bool, error) {
	created := s.convCreated
	s.convCreated = false // only the first call creates
	return s.conv, created, nil
}

func (s *fakeStore) InsertMessage(ctx context.Context, conversationID int64, fromType, messageType, content string, attachment json.RawMessage, externalMID string, sentAt time.Time) (*models.Message, error) {
	if externalMID != "" && s.storedMIDs[externalMID] {
		return nil, database.ErrDuplicateMessage
	}
	if externalMID != "" {
		s.storedMIDs[externalMID] = true
	}
	msg := models.Message{
		ID:             int64(len(s.messages) + 1),
		ConversationID: conversationID,
		FromType:       fromType,
		MessageType:    messageType,
		Message:        content,
		ExternalMID:    externalMID,
		SentAt:         sentAt,
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) IncrementUnread(ctx context.Context, conversationID int64, lastMessage string, at time.Time) error {
	s.increments++
	s.lastMessages = append(s.lastMessages, lastMessage)
	return nil
}

func (s *fakeStore) UpdateLastMessage(ctx context.Context, conversationID int64, lastMessage string, at time.Time) error {
	s.lastMessages = append(s.lastMessages, lastMessage)
	return nil
}

func (s *fakeStore) ResetUnread(ctx context.Context, conversationID int64) error {
	s.unreadResets = append(s.unreadResets, conversationID)
	return nil
}

type fakeGateway struct {
	profile     *graph.Profile
	profileErr  error
	sendErr     error
	sends       []string
	lastPayload graph.MessagePayload
}

func (g *fakeGateway) FetchUserProfile(ctx context.Context, psid, token string) (*graph.Profile, error) {
	return g.profile, g.profileErr
}

func (g *fakeGateway) SendMessage(ctx context.Context, psid string, payload graph.MessagePayload, token string) error {
	g.sends = append(g.sends, psid)
	g.lastPayload = payload
	return g.sendErr
}

type publishedEvent struct {
	channel string
	event   string
	data    interface{}
}

type fakeNotifier struct {
	events []publishedEvent
}

func (n *fakeNotifier) Publish(ctx context.Context, channel, event string, data interface{}) {
	n.events = append(n.events, publishedEvent{channel, event, data})
}

type fakeRules struct {
	calls []string
}

func (r *fakeRules) ProcessLegacyRules(ctx context.Context, page *models.Page, ruleType, text, targetID string) error {
	r.calls = append(r.calls, ruleType+"|"+text+"|"+targetID)
	return nil
}

func setupRouter() (*inbox.Router, *fakeStore, *fakeGateway, *fakeNotifier, *fakeRules) {
	store := newFakeStore()
	store.page = &models.Page{ID: 3, UserID: 7, PageID: "page_ext_1", AccessToken: "page-token"}
	gateway := &fakeGateway{profile: &graph.Profile{Name: "Jane Doe", ProfilePic: "https://example.com/p.jpg"}}
	notifier := &fakeNotifier{}
	rules := &fakeRules{}
	return inbox.NewRouter(store, gateway, notifier, rules), store, gateway, notifier, rules
}

func userMessage(mid, text string) inbox.MessagingEvent {
	return inbox.MessagingEvent{
		SenderID:    "psid_42",
		RecipientID: "page_ext_1",
		MID:         mid,
		Text:        text,
	}
}

// ==================== HandleMessagingEvent Tests ====================

func TestHandleMessagingEvent_StoresAndNotifies(t *testing.T) {
	router, store, _, notifier, rules := setupRouter()

	err := router.HandleMessagingEvent(context.Background(), userMessage("mid.1", "hello"))
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(store.messages) != 1 {
		t.Fatalf("Expected 1 stored message, got %d", len(store.messages))
	}
	msg := store.messages[0]
	if msg.FromType != models.FromTypeUser || msg.Message != "hello" || msg.ExternalMID != "mid.1" {
		t.Errorf("Unexpected stored message: %+v", msg)
	}
	if store.increments != 1 {
		t.Errorf("Expected 1 unread bump, got %d", store.increments)
	}

	if len(notifier.events) != 1 {
		t.Fatalf("Expected 1 notification, got %d", len(notifier.events))
	}
	if notifier.events[0].channel != notify.ConversationChannel(20) || notifier.events[0].event != notify.EventNewMessage {
		t.Errorf("Unexpected notification: %+v", notifier.events[0])
	}

	if len(rules.calls) != 1 || rules.calls[0] != "inbox|hello|psid_42" {
		t.Errorf("Expected inbox rules run, got: %v", rules.calls)
	}
}

func TestHandleMessagingEvent_UnknownPageIgnored(t *testing.T) {
	router, store, _, notifier, _ := setupRouter()
	store.page = nil

	err := router.HandleMessagingEvent(context.Background(), userMessage("mid.1", "hello"))
	if err != nil {
		t.Fatalf("Unknown page must not error, got: %v", err)
	}
	if len(store.messages) != 0 || len(notifier.events) != 0 {
		t.Error("Unknown page must produce no writes or notifications")
	}
}

func TestHandleMessagingEvent_NewConversationNotification(t *testing.T) {
	router, store, _, notifier, _ := setupRouter()
	store.convCreated = true

	router.HandleMessagingEvent(context.Background(), userMessage("mid.1", "hello"))

	if len(notifier.events) != 2 {
		t.Fatalf("Expected 2 notifications, got %d", len(notifier.events))
	}
	first := notifier.events[0]
	if first.channel != notify.PageChannel(3) || first.event != notify.EventNewConversation {
		t.Errorf("Expected new-conversation on the page channel, got: %+v", first)
	}
}

func TestHandleMessagingEvent_DuplicateMIDIdempotent(t *testing.T) {
	router, store, _, notifier, _ := setupRouter()

	router.HandleMessagingEvent(context.Background(), userMessage("mid.1", "hello"))
	err := router.HandleMessagingEvent(context.Background(), userMessage("mid.1", "hello"))
	if err != nil {
		t.Fatalf("Duplicate delivery must not error, got: %v", err)
	}

	if len(store.messages) != 1 {
		t.Errorf("Expected 1 stored message after redelivery, got %d", len(store.messages))
	}
	if store.increments != 1 {
		t.Errorf("Redelivery must not bump unread again, got %d bumps", store.increments)
	}
	if len(notifier.events) != 1 {
		t.Errorf("Redelivery must not notify again, got %d events", len(notifier.events))
	}
}

func TestHandleMessagingEvent_DistinctMIDsEachCount(t *testing.T) {
	router, store, _, _, _ := setupRouter()

	router.HandleMessagingEvent(context.Background(), userMessage("mid.1", "first"))
	router.HandleMessagingEvent(context.Background(), userMessage("mid.2", "second"))

	if store.increments != 2 {
		t.Errorf("Expected 2 unread bumps, got %d", store.increments)
	}
	if store.lastMessages[len(store.lastMessages)-1] != "second" {
		t.Errorf("Expected latest preview 'second', got %v", store.lastMessages)
	}
}

func TestHandleMessagingEvent_ProfileFailureStillStores(t *testing.T) {
	router, store, gateway, _, _ := setupRouter()
	gateway.profile = nil
	gateway.profileErr = errors.New("no permission")

	err := router.HandleMessagingEvent(context.Background(), userMessage("mid.1", "hello"))
	if err != nil {
		t.Fatalf("Profile failure must not abort routing, got: %v", err)
	}
	if len(store.messages) != 1 {
		t.Fatalf("Expected message stored despite profile failure")
	}
	if store.upsertedNames[0] != nil {
		t.Error("Expected nil name when profile fetch failed")
	}
}

func TestHandleMessagingEvent_AttachmentMessage(t *testing.T) {
	router, store, _, _, _ := setupRouter()

	event := userMessage("mid.1", "")
	event.Attachments = []inbox.AttachmentEvent{{
		Type: "image",
		URL:  "https://cdn.example.com/photo.jpg",
		Raw:  json.RawMessage(`{"type":"image","payload":{"url":"https://cdn.example.com/photo.jpg"}}`),
	}}

	if err := router.HandleMessagingEvent(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	msg := store.messages[0]
	if msg.MessageType != models.MessageTypeImage {
		t.Errorf("Expected image kind, got '%s'", msg.MessageType)
	}
	if msg.Message != "https://cdn.example.com/photo.jpg" {
		t.Errorf("Expected payload URL as content, got '%s'", msg.Message)
	}
}

func TestHandleMessagingEvent_AudioMapsToVoice(t *testing.T) {
	router, store, _, _, _ := setupRouter()

	event := userMessage("mid.1", "")
	event.Attachments = []inbox.AttachmentEvent{{Type: "audio", URL: "https://cdn.example.com/note.mp4"}}
	router.HandleMessagingEvent(context.Background(), event)

	if store.messages[0].MessageType != models.MessageTypeVoice {
		t.Errorf("Expected voice kind for audio attachment, got '%s'", store.messages[0].MessageType)
	}
}

// ==================== SendPageMessage Tests ====================

func TestSendPageMessage_TextMessage(t *testing.T) {
	router, store, gateway, notifier, _ := setupRouter()
	conv := &models.Conversation{ID: 20, PageID: 3, PageUserID: 8}

	msg, err := router.SendPageMessage(context.Background(), conv, inbox.OutgoingMessage{Text: "hi from the page"})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if msg.FromType != models.FromTypePage {
		t.Errorf("Expected page sender, got '%s'", msg.FromType)
	}
	if len(gateway.sends) != 1 || gateway.sends[0] != "psid_42" {
		t.Errorf("Expected send to psid_42, got: %v", gateway.sends)
	}
	if gateway.lastPayload.Text != "hi from the page" {
		t.Errorf("Unexpected payload: %+v", gateway.lastPayload)
	}

	// No unread bump for page-sent messages
	if store.increments != 0 {
		t.Errorf("Page-sent message must not bump unread, got %d bumps", store.increments)
	}
	if len(notifier.events) != 1 || notifier.events[0].event != notify.EventNewMessage {
		t.Errorf("Expected new-message notification, got: %+v", notifier.events)
	}
}

func TestSendPageMessage_AttachmentMessage(t *testing.T) {
	router, store, gateway, _, _ := setupRouter()
	conv := &models.Conversation{ID: 20, PageID: 3, PageUserID: 8}

	out := inbox.OutgoingMessage{AttachmentType: "image", AttachmentURL: "https://cdn.example.com/promo.png"}
	msg, err := router.SendPageMessage(context.Background(), conv, out)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if msg.MessageType != models.MessageTypeImage {
		t.Errorf("Expected image kind, got '%s'", msg.MessageType)
	}
	att := gateway.lastPayload.Attachment
	if att == nil || att.Type != "image" || !att.Payload.IsReusable {
		t.Errorf("Unexpected attachment payload: %+v", att)
	}
	if store.messages[0].Message != "https://cdn.example.com/promo.png" {
		t.Errorf("Expected URL as stored content, got '%s'", store.messages[0].Message)
	}
}

func TestSendPageMessage_GatewayFailureStillStores(t *testing.T) {
	router, store, gateway, _, _ := setupRouter()
	gateway.sendErr = errors.New("platform down")
	conv := &models.Conversation{ID: 20, PageID: 3, PageUserID: 8}

	msg, err := router.SendPageMessage(context.Background(), conv, inbox.OutgoingMessage{Text: "hi"})
	if err != nil {
		t.Fatalf("Send failure must not abort the local write, got: %v", err)
	}
	if msg == nil || len(store.messages) != 1 {
		t.Error("Expected message stored despite gateway failure")
	}
}

func TestSendPageMessage_EmptyRejected(t *testing.T) {
	router, _, _, _, _ := setupRouter()
	conv := &models.Conversation{ID: 20, PageID: 3, PageUserID: 8}

	if _, err := router.SendPageMessage(context.Background(), conv, inbox.OutgoingMessage{}); err == nil {
		t.Fatal("Expected error for empty message")
	}
}

// ==================== MarkConversationRead Tests ====================

func TestMarkConversationRead(t *testing.T) {
	router, store, _, _, _ := setupRouter()

	if err := router.MarkConversationRead(context.Background(), 20); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if len(store.unreadResets) != 1 || store.unreadResets[0] != 20 {
		t.Errorf("Expected reset for conversation 20, got: %v", store.unreadResets)
	}
}
