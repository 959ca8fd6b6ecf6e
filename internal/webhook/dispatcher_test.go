package webhook_test

import (
	"context"
	"testing"

	"github.com/pagepilot/pagepilot/internal/automation"
	"github.com/pagepilot/pagepilot/internal/inbox"
	"github.com/pagepilot/pagepilot/internal/models"
	"github.com/pagepilot/pagepilot/internal/webhook"
)

// ==================== Test Fakes ====================

type fakePages struct {
	pages map[string]*models.Page
}

func (p *fakePages) GetPageByExternalID(ctx context.Context, pageID string) (*models.Page, error) {
	return p.pages[pageID], nil
}

type fakeEngine struct {
	comments     []automation.CommentEvent
	liveComments []automation.CommentEvent
	panicOn      string
}

func (e *fakeEngine) ProcessComment(ctx context.Context, page *models.Page, event automation.CommentEvent) error {
	if e.panicOn != "" && event.CommentID == e.panicOn {
		panic("engine exploded")
	}
	e.comments = append(e.comments, event)
	return nil
}

func (e *fakeEngine) ProcessLiveComment(ctx context.Context, page *models.Page, event automation.CommentEvent) error {
	e.liveComments = append(e.liveComments, event)
	return nil
}

type fakeRouter struct {
	events []inbox.MessagingEvent
}

func (r *fakeRouter) HandleMessagingEvent(ctx context.Context, event inbox.MessagingEvent) error {
	r.events = append(r.events, event)
	return nil
}

func setupDispatcher() (*webhook.Dispatcher, *fakeEngine, *fakeRouter) {
	pages := &fakePages{pages: map[string]*models.Page{
		"page_ext_1": {ID: 3, UserID: 7, PageID: "page_ext_1", AccessToken: "t"},
	}}
	engine := &fakeEngine{}
	router := &fakeRouter{}
	return webhook.NewDispatcher(pages, engine, router), engine, router
}

func commentChange(commentID, text string) webhook.Change {
	return webhook.Change{
		Field: "comments",
		Value: webhook.ChangeValue{
			Item:      "comment",
			CommentID: commentID,
			PostID:    "post_9",
			Verb:      "add",
			Message:   text,
			From:      &webhook.Actor{ID: "user_55", Name: "Jane"},
		},
	}
}

// ==================== Dispatch Tests ====================

func TestDispatch_CommentRouted(t *testing.T) {
	dispatcher, engine, _ := setupDispatcher()

	envelope := &webhook.Envelope{
		Object: "page",
		Entry: []webhook.Entry{{
			ID:      "page_ext_1",
			Changes: []webhook.Change{commentChange("comment_123", "nice!")},
		}},
	}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(engine.comments) != 1 {
		t.Fatalf("Expected 1 comment event, got %d", len(engine.comments))
	}
	event := engine.comments[0]
	if event.CommentID != "comment_123" || event.Text != "nice!" || event.CommenterID != "user_55" {
		t.Errorf("Unexpected event: %+v", event)
	}
	if event.CommenterName != "Jane" || event.PostID != "post_9" {
		t.Errorf("Unexpected event metadata: %+v", event)
	}
}

func TestDispatch_NonCommentFeedItemIgnored(t *testing.T) {
	dispatcher, engine, _ := setupDispatcher()

	envelope := &webhook.Envelope{Entry: []webhook.Entry{{
		ID: "page_ext_1",
		Changes: []webhook.Change{{
			Field: "feed",
			Value: webhook.ChangeValue{Item: "reaction", PostID: "post_9"},
		}},
	}}}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(engine.comments) != 0 {
		t.Errorf("Reaction items must not reach the engine, got %d events", len(engine.comments))
	}
}

func TestDispatch_EditedCommentIgnored(t *testing.T) {
	dispatcher, engine, _ := setupDispatcher()

	change := commentChange("comment_123", "edited text")
	change.Value.Verb = "edited"
	envelope := &webhook.Envelope{Entry: []webhook.Entry{{ID: "page_ext_1", Changes: []webhook.Change{change}}}}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(engine.comments) != 0 {
		t.Errorf("Edited comments must not trigger automation, got %d events", len(engine.comments))
	}
}

func TestDispatch_UnknownPageIgnored(t *testing.T) {
	dispatcher, engine, _ := setupDispatcher()

	envelope := &webhook.Envelope{Entry: []webhook.Entry{{
		ID:      "someone_elses_page",
		Changes: []webhook.Change{commentChange("comment_123", "hi")},
	}}}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(engine.comments) != 0 {
		t.Errorf("Unknown pages must be ignored, got %d events", len(engine.comments))
	}
}

func TestDispatch_LiveVideoComment(t *testing.T) {
	dispatcher, engine, _ := setupDispatcher()

	envelope := &webhook.Envelope{Entry: []webhook.Entry{{
		ID: "page_ext_1",
		Changes: []webhook.Change{{
			Field: "live_videos",
			Value: webhook.ChangeValue{
				CommentID: "live_comment_1",
				VideoID:   "video_7",
				Message:   "hello from the stream",
				From:      &webhook.Actor{ID: "user_55"},
			},
		}},
	}}}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(engine.liveComments) != 1 {
		t.Fatalf("Expected 1 live comment event, got %d", len(engine.liveComments))
	}
	if len(engine.comments) != 0 {
		t.Error("Live comments must not hit the regular comment path")
	}
}

func TestDispatch_MessagingRouted(t *testing.T) {
	dispatcher, _, router := setupDispatcher()

	envelope := &webhook.Envelope{Entry: []webhook.Entry{{
		ID: "page_ext_1",
		Messaging: []webhook.Messaging{{
			Sender:    webhook.Participant{ID: "psid_42"},
			Recipient: webhook.Participant{ID: "page_ext_1"},
			Message: &webhook.Message{
				MID:  "mid.1",
				Text: "hello",
				Attachments: []webhook.Attachment{{
					Type:    "image",
					Payload: webhook.AttachmentPayload{URL: "https://cdn.example.com/a.jpg"},
				}},
			},
		}},
	}}}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(router.events) != 1 {
		t.Fatalf("Expected 1 messaging event, got %d", len(router.events))
	}
	event := router.events[0]
	if event.SenderID != "psid_42" || event.MID != "mid.1" || event.Text != "hello" {
		t.Errorf("Unexpected event: %+v", event)
	}
	if len(event.Attachments) != 1 || event.Attachments[0].URL != "https://cdn.example.com/a.jpg" {
		t.Errorf("Unexpected attachments: %+v", event.Attachments)
	}
}

func TestDispatch_EchoAndReceiptsSkipped(t *testing.T) {
	dispatcher, _, router := setupDispatcher()

	envelope := &webhook.Envelope{Entry: []webhook.Entry{{
		ID: "page_ext_1",
		Messaging: []webhook.Messaging{
			{
				Sender:    webhook.Participant{ID: "page_ext_1"},
				Recipient: webhook.Participant{ID: "psid_42"},
				Message:   &webhook.Message{MID: "mid.echo", Text: "our own send", IsEcho: true},
			},
			{
				// Delivery receipt: no message at all
				Sender:    webhook.Participant{ID: "psid_42"},
				Recipient: webhook.Participant{ID: "page_ext_1"},
			},
		},
	}}}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(router.events) != 0 {
		t.Errorf("Echoes and receipts must be skipped, got %d events", len(router.events))
	}
}

func TestDispatch_PanicIsolation(t *testing.T) {
	dispatcher, engine, router := setupDispatcher()
	engine.panicOn = "comment_boom"

	envelope := &webhook.Envelope{Entry: []webhook.Entry{{
		ID: "page_ext_1",
		Changes: []webhook.Change{
			commentChange("comment_boom", "this one panics"),
			commentChange("comment_ok", "this one survives"),
		},
		Messaging: []webhook.Messaging{{
			Sender:    webhook.Participant{ID: "psid_42"},
			Recipient: webhook.Participant{ID: "page_ext_1"},
			Message:   &webhook.Message{MID: "mid.1", Text: "also survives"},
		}},
	}}}

	// Must not panic out of Dispatch
	dispatcher.Dispatch(context.Background(), envelope)

	if len(engine.comments) != 1 || engine.comments[0].CommentID != "comment_ok" {
		t.Errorf("Sibling comment must be processed, got: %+v", engine.comments)
	}
	if len(router.events) != 1 {
		t.Errorf("Messaging must be processed despite comment panic, got %d", len(router.events))
	}
}

func TestDispatch_MalformedCommentSkipped(t *testing.T) {
	dispatcher, engine, _ := setupDispatcher()

	change := commentChange("", "no comment id")
	envelope := &webhook.Envelope{Entry: []webhook.Entry{{ID: "page_ext_1", Changes: []webhook.Change{change}}}}
	dispatcher.Dispatch(context.Background(), envelope)

	if len(engine.comments) != 0 {
		t.Errorf("Malformed events must be skipped, got %d", len(engine.comments))
	}
}
