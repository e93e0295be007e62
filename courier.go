// Package courier is a Go client SDK for the Courier messenger service.
//
// It covers the REST API (auth, chats, messages, media) and a realtime
// session layer that keeps a per-conversation timeline consistent over a
// single multiplexed socket.
//
// Example:
//
//	client := courier.NewClient("", courier.WithBaseURL("https://chat.example.com"))
//	auth, _ := client.Login(ctx, "alice", "secret")
//	client.SetToken(auth.Token)
//
//	session := courier.NewSession(client, courier.SessionConfig{Username: auth.Username})
//	session.OnMessage(func(m courier.Message) { ... })
//	session.Connect(ctx)
package courier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultTimeout bounds every REST request.
	DefaultTimeout = 30 * time.Second

	// maxHistoryLimit is the server-side clamp on a history page size.
	maxHistoryLimit = 200
	// defaultHistoryLimit is used when the caller passes limit <= 0.
	defaultHistoryLimit = 50
)

// ============================================================================
// Client
// ============================================================================

// Client is the REST API client. It is safe for concurrent use once
// configured; SetToken is the only post-construction mutation and is
// expected to happen between request bursts (login, token refresh).
type Client struct {
	token      string
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

// ClientOption mutates a Client during construction.
type ClientOption func(*Client)

// WithBaseURL points the client at a server.
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger attaches a logger. The default is a nop logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a new Courier client.
// token is optional — pass "" before login/register.
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		token: token,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken sets or updates the bearer token, e.g. after login or refresh.
func (c *Client) SetToken(token string) {
	c.token = token
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	return c.token
}

// BaseURL returns the configured server base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, query map[string]string) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		params := url.Values{}
		for k, v := range query {
			params.Set(k, v)
		}
		u += "?" + params.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if e, derr := decodeJSON[APIError](data); derr == nil && e.Message != "" {
			apiErr.Message = e.Message
		}
		c.log.Debug("api error",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return nil, apiErr
	}
	return data, nil
}

// ============================================================================
// Auth API
// ============================================================================

// Register creates an account and returns fresh tokens.
func (c *Client) Register(ctx context.Context, username, password string) (*AuthResult, error) {
	data, err := c.doRequest(ctx, "POST", "/api/register",
		map[string]string{"username": username, "password": password}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

// Login authenticates and returns fresh tokens.
func (c *Client) Login(ctx context.Context, username, password string) (*AuthResult, error) {
	data, err := c.doRequest(ctx, "POST", "/api/login",
		map[string]string{"username": username, "password": password}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

// Refresh rotates the refresh token and returns a new token pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	data, err := c.doRequest(ctx, "POST", "/api/refresh",
		map[string]string{"refresh_token": refreshToken}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[AuthResult](data)
}

// Me returns the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	data, err := c.doRequest(ctx, "GET", "/api/me", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Profile](data)
}

// UpdateProfile updates display name and bio.
func (c *Client) UpdateProfile(ctx context.Context, displayName, bio string) error {
	_, err := c.doRequest(ctx, "PATCH", "/api/profile",
		map[string]string{"display_name": displayName, "bio": bio}, nil)
	return err
}

// ============================================================================
// Chats API
// ============================================================================

// ListChats returns the user's conversations with unread counts.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	data, err := c.doRequest(ctx, "GET", "/api/chats", nil, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Chats []Chat `json:"chats"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Chats, nil
}

// CreateGroup creates a group chat.
func (c *Client) CreateGroup(ctx context.Context, title string) (*Chat, error) {
	data, err := c.doRequest(ctx, "POST", "/api/chats",
		map[string]string{"title": title}, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Chat Chat `json:"chat"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out.Chat, nil
}

// CreateDM opens (or finds) the direct chat with another user.
func (c *Client) CreateDM(ctx context.Context, username string) (*Chat, error) {
	data, err := c.doRequest(ctx, "POST", "/api/chats/dm",
		map[string]string{"username": username}, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Chat Chat `json:"chat"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return &out.Chat, nil
}

// Invite adds a user to a group chat.
func (c *Client) Invite(ctx context.Context, chatID, username string) error {
	_, err := c.doRequest(ctx, "POST", "/api/chats/"+chatID+"/invite",
		map[string]string{"username": username}, nil)
	return err
}

// UpdateMemberRole promotes or demotes a group member ("admin" or "member").
func (c *Client) UpdateMemberRole(ctx context.Context, chatID, username, role string) error {
	_, err := c.doRequest(ctx, "PATCH", "/api/chats/"+chatID+"/members/role",
		map[string]string{"username": username, "role": role}, nil)
	return err
}

// RemoveMember removes a user from a group chat.
func (c *Client) RemoveMember(ctx context.Context, chatID, username string) error {
	_, err := c.doRequest(ctx, "DELETE", "/api/chats/"+chatID+"/members/"+username, nil, nil)
	return err
}

// MuteChat mutes a chat for the given number of minutes; 0 unmutes.
func (c *Client) MuteChat(ctx context.Context, chatID string, minutes int) error {
	_, err := c.doRequest(ctx, "POST", "/api/chats/"+chatID+"/mute",
		map[string]int{"muted_minutes": minutes}, nil)
	return err
}

// DeleteChat deletes a group (creator only) or leaves a DM.
func (c *Client) DeleteChat(ctx context.Context, chatID string) error {
	_, err := c.doRequest(ctx, "DELETE", "/api/chats/"+chatID, nil, nil)
	return err
}

// ListPins returns the pinned messages of a chat.
func (c *Client) ListPins(ctx context.Context, chatID string) ([]Pin, error) {
	data, err := c.doRequest(ctx, "GET", "/api/chats/"+chatID+"/pins", nil, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		Pins []Pin `json:"pins"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out.Pins, nil
}

// PinMessage pins a message in a chat.
func (c *Client) PinMessage(ctx context.Context, chatID string, messageID int64) error {
	_, err := c.doRequest(ctx, "POST", "/api/chats/"+chatID+"/pins",
		map[string]int64{"message_id": messageID}, nil)
	return err
}

// UnpinMessage removes a pin.
func (c *Client) UnpinMessage(ctx context.Context, chatID string, messageID int64) error {
	_, err := c.doRequest(ctx, "DELETE",
		fmt.Sprintf("/api/chats/%s/pins/%d", chatID, messageID), nil, nil)
	return err
}

// ============================================================================
// Messages API
// ============================================================================

// History fetches one page of message history for a chat, oldest-to-newest.
// beforeID == 0 returns the newest page. limit is clamped server-side; the
// client mirrors the clamp so pagination math stays consistent.
func (c *Client) History(ctx context.Context, chatID string, beforeID int64, limit int) (*HistoryPage, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	query := map[string]string{
		"chat_id": chatID,
		"limit":   strconv.Itoa(limit),
	}
	if beforeID > 0 {
		query["before_id"] = strconv.FormatInt(beforeID, 10)
	}
	data, err := c.doRequest(ctx, "GET", "/api/messages", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeJSON[HistoryPage](data)
}

// SendMessage sends a text message, optionally as a reply.
func (c *Client) SendMessage(ctx context.Context, chatID, text string, opts *SendOptions) (*SendResult, error) {
	payload := map[string]interface{}{"chat_id": chatID, "text": text}
	if opts != nil && opts.ReplyToID > 0 {
		payload["reply_to_id"] = opts.ReplyToID
	}
	data, err := c.doRequest(ctx, "POST", "/api/messages", payload, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[SendResult](data)
}

// EditMessage replaces the text of an own message.
func (c *Client) EditMessage(ctx context.Context, messageID int64, text string) error {
	_, err := c.doRequest(ctx, "PATCH", fmt.Sprintf("/api/messages/%d", messageID),
		map[string]string{"text": text}, nil)
	return err
}

// DeleteMessage deletes a message. scope is "me" (hide locally, server keeps
// the row) or "all" (sender only, tombstones for everyone).
func (c *Client) DeleteMessage(ctx context.Context, messageID int64, scope string) error {
	if scope == "" {
		scope = "me"
	}
	_, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/api/messages/%d", messageID),
		nil, map[string]string{"scope": scope})
	return err
}

// ForwardMessage copies a message into another chat.
func (c *Client) ForwardMessage(ctx context.Context, messageID int64, targetChatID string) (*SendResult, error) {
	data, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/messages/%d/forward", messageID),
		map[string]string{"target_chat_id": targetChatID}, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[SendResult](data)
}

// GetMessageStatus returns the per-member delivery/read breakdown.
func (c *Client) GetMessageStatus(ctx context.Context, messageID int64) (*MessageStatus, error) {
	data, err := c.doRequest(ctx, "GET", fmt.Sprintf("/api/messages/%d/status", messageID), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[MessageStatus](data)
}

// AddReaction records the viewer's reaction on a message.
func (c *Client) AddReaction(ctx context.Context, messageID int64, emoji string) error {
	_, err := c.doRequest(ctx, "POST", fmt.Sprintf("/api/messages/%d/reactions", messageID),
		map[string]string{"emoji": emoji}, nil)
	return err
}

// RemoveReaction removes the viewer's reaction from a message.
func (c *Client) RemoveReaction(ctx context.Context, messageID int64, emoji string) error {
	_, err := c.doRequest(ctx, "DELETE", fmt.Sprintf("/api/messages/%d/reactions", messageID),
		nil, map[string]string{"emoji": emoji})
	return err
}

// MarkRead advances the server-side read marker for a chat. The server keeps
// the marker monotonic (GREATEST of stored and sent), so repeats and
// out-of-order calls are harmless.
func (c *Client) MarkRead(ctx context.Context, chatID string, lastID int64) error {
	_, err := c.doRequest(ctx, "POST", "/api/chats/"+chatID+"/read",
		nil, map[string]string{"last_id": strconv.FormatInt(lastID, 10)})
	return err
}

// ============================================================================
// Media upload
// ============================================================================

// Upload sends a media message (image/video/audio) with an optional caption.
func (c *Client) Upload(ctx context.Context, chatID, caption, fileName, mimeType string, content []byte) (*SendResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("chat_id", chatID); err != nil {
		return nil, err
	}
	if caption != "" {
		if err := w.WriteField("text", caption); err != nil {
			return nil, err
		}
	}
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	// The server classifies media (image/video/audio) by the part's type.
	hdr.Set("Content-Type", mimeType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if e, derr := decodeJSON[APIError](data); derr == nil && e.Message != "" {
			apiErr.Message = e.Message
		}
		return nil, apiErr
	}
	return decodeJSON[SendResult](data)
}
