package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
)

// Profile is the public profile of a page-scoped user
type Profile struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Name       string `json:"name"`
	ProfilePic string `json:"profile_pic"`
}

// MessagePayload is the "message" object of a Send API call. Exactly one of
// Text or Attachment should be set.
type MessagePayload struct {
	Text       string      `json:"text,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is a media attachment in a Send API message
type Attachment struct {
	Type    string            `json:"type"`
	Payload AttachmentPayload `json:"payload"`
}

// AttachmentPayload carries the attachment source URL
type AttachmentPayload struct {
	URL        string `json:"url,omitempty"`
	IsReusable bool   `json:"is_reusable,omitempty"`
}

// GraphError is a non-2xx response from the Graph API
type GraphError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	FBTraceID string `json:"fbtrace_id"`
}

func (e *GraphError) Error() string {
	return fmt.Sprintf("graph api error (code %d, type %s): %s", e.Code, e.Type, e.Message)
}

type errorEnvelope struct {
	Error GraphError `json:"error"`
}

// Client talks to the Facebook Graph API. Page access tokens are passed per
// call; the client itself holds no credentials.
type Client struct {
	httpClient   *resty.Client
	profileCache *gocache.Cache
}

// NewClient creates a Graph API client rooted at baseURL
// (e.g. https://graph.facebook.com/v18.0)
func NewClient(baseURL string, profileTTL time.Duration) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second)

	return &Client{
		httpClient:   httpClient,
		profileCache: gocache.New(profileTTL, 10*time.Minute),
	}
}

func graphErrorFrom(resp *resty.Response) error {
	if envelope, ok := resp.Error().(*errorEnvelope); ok && envelope.Error.Message != "" {
		return &envelope.Error
	}
	return &GraphError{
		Message: fmt.Sprintf("unexpected response: %s", resp.Status()),
		Type:    "http",
		Code:    resp.StatusCode(),
	}
}

// PostCommentReply publishes a reply under a comment. When imageURL is set
// the reply carries the image via attachment_url.
func (c *Client) PostCommentReply(ctx context.Context, commentID, message, imageURL, token string) error {
	body := map[string]string{"message": message}
	if imageURL != "" {
		body["attachment_url"] = imageURL
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetBody(body).
		SetError(&errorEnvelope{}).
		Post(fmt.Sprintf("/%s/comments", commentID))
	if err != nil {
		return fmt.Errorf("failed to post comment reply: %w", err)
	}
	if resp.IsError() {
		return graphErrorFrom(resp)
	}

	return nil
}

// LikeObject likes a comment or post as the page
func (c *Client) LikeObject(ctx context.Context, objectID, token string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetError(&errorEnvelope{}).
		Post(fmt.Sprintf("/%s/likes", objectID))
	if err != nil {
		return fmt.Errorf("failed to like object: %w", err)
	}
	if resp.IsError() {
		return graphErrorFrom(resp)
	}

	return nil
}

// HideComment hides or unhides a comment on the page's content
func (c *Client) HideComment(ctx context.Context, commentID string, hidden bool, token string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetBody(map[string]bool{"is_hidden": hidden}).
		SetError(&errorEnvelope{}).
		Post(fmt.Sprintf("/%s", commentID))
	if err != nil {
		return fmt.Errorf("failed to hide comment: %w", err)
	}
	if resp.IsError() {
		return graphErrorFrom(resp)
	}

	return nil
}

// DeleteObject removes a comment or post owned by the page
func (c *Client) DeleteObject(ctx context.Context, objectID, token string) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetError(&errorEnvelope{}).
		Delete(fmt.Sprintf("/%s", objectID))
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	if resp.IsError() {
		return graphErrorFrom(resp)
	}

	return nil
}

// SendMessage delivers a message to a PSID through the Send API
func (c *Client) SendMessage(ctx context.Context, psid string, payload MessagePayload, token string) error {
	body := map[string]interface{}{
		"recipient":      map[string]string{"id": psid},
		"message":        payload,
		"messaging_type": "RESPONSE",
	}

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetBody(body).
		SetError(&errorEnvelope{}).
		Post("/me/messages")
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if resp.IsError() {
		return graphErrorFrom(resp)
	}

	return nil
}

// FetchUserProfile retrieves the public profile of a PSID. Results are
// cached so webhook bursts from the same user cost one API call.
func (c *Client) FetchUserProfile(ctx context.Context, psid, token string) (*Profile, error) {
	if cached, found := c.profileCache.Get(psid); found {
		return cached.(*Profile), nil
	}

	var profile Profile
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetQueryParam("access_token", token).
		SetQueryParam("fields", "first_name,last_name,name,profile_pic").
		SetResult(&profile).
		SetError(&errorEnvelope{}).
		Get(fmt.Sprintf("/%s", psid))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user profile: %w", err)
	}
	if resp.IsError() {
		log.Debug().Str("psid", psid).Int("status", resp.StatusCode()).Msg("Profile fetch rejected by Graph API")
		return nil, graphErrorFrom(resp)
	}

	c.profileCache.Set(psid, &profile, gocache.DefaultExpiration)
	return &profile, nil
}
