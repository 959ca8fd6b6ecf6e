package webhook

import "encoding/json"

// Envelope is the top-level webhook payload
type Envelope struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry is one page's batch of events. ID is the page's external Facebook ID.
type Entry struct {
	ID        string      `json:"id"`
	Time      int64       `json:"time"`
	Changes   []Change    `json:"changes"`
	Messaging []Messaging `json:"messaging"`
}

// Change is one feed/comment/live event
type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

// ChangeValue carries the event detail of a Change
type ChangeValue struct {
	Item      string `json:"item"`
	CommentID string `json:"comment_id"`
	PostID    string `json:"post_id"`
	Verb      string `json:"verb"`
	From      *Actor `json:"from"`
	Message   string `json:"message"`
	VideoID   string `json:"video_id"`
	Status    string `json:"status"`
}

// Actor identifies who triggered a change
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Messaging is one messenger event
type Messaging struct {
	Sender    Participant     `json:"sender"`
	Recipient Participant     `json:"recipient"`
	Timestamp int64           `json:"timestamp"`
	Message   *Message        `json:"message"`
	Delivery  json.RawMessage `json:"delivery,omitempty"`
	Read      json.RawMessage `json:"read,omitempty"`
}

// Participant is a PSID or page ID on a messaging event
type Participant struct {
	ID string `json:"id"`
}

// Message is the message body of a messaging event
type Message struct {
	MID         string       `json:"mid"`
	Text        string       `json:"text"`
	IsEcho      bool         `json:"is_echo"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment is one attachment on a messenger message
type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

// AttachmentPayload carries the attachment content URL
type AttachmentPayload struct {
	URL string `json:"url"`
}
