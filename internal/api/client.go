// Package api is the REST client of the chat backend. It implements the
// network interfaces the chat, presence, typing and inbox packages consume.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/chat"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/inbox"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/presence"
	"github.com/Hadi-Haidar/Tawasol-Frontend-sub003/internal/typing"
)

const historyPageSize = 50

var (
	ErrStatus  = errors.New("api: unexpected status")
	ErrNoToken = errors.New("api: no auth token")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api: status %d", e.Code)
	}
	return fmt.Sprintf("api: status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

type User struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
}

type AuthResult struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}

type Room struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
}

var (
	_ chat.API        = (*Client)(nil)
	_ presence.API    = (*Client)(nil)
	_ typing.Signaler = (*Client)(nil)
	_ inbox.Lister    = (*Client)(nil)
)

// New returns a client for the backend at baseURL. A nil httpClient uses a
// client with a 30s timeout.
func New(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: httpClient, tokens: tokens}
}

func (c *Client) Register(ctx context.Context, username, password, displayName string) (AuthResult, error) {
	var out AuthResult
	body := map[string]string{"username": username, "password": password, "display_name": displayName}
	err := c.do(ctx, http.MethodPost, "/api/auth/register", body, &out, false)
	return out, err
}

func (c *Client) Login(ctx context.Context, username, password string) (AuthResult, error) {
	var out AuthResult
	body := map[string]string{"username": username, "password": password}
	err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out, false)
	return out, err
}

// Me returns the user the current token belongs to.
func (c *Client) Me(ctx context.Context) (User, error) {
	var out User
	err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &out, true)
	return out, err
}

func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var out []Room
	err := c.do(ctx, http.MethodGet, "/api/rooms", nil, &out, true)
	return out, err
}

func (c *Client) CreateRoom(ctx context.Context, name string) (Room, error) {
	var out Room
	err := c.do(ctx, http.MethodPost, "/api/rooms", map[string]string{"name": name}, &out, true)
	return out, err
}

func (c *Client) History(ctx context.Context, key chat.Key, page int) (chat.HistoryPage, error) {
	q := url.Values{}
	if key.PeerID != 0 {
		q.Set("peer_id", strconv.FormatInt(key.PeerID, 10))
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(historyPageSize))

	var resp struct {
		Messages []chat.WireMessage `json:"messages"`
		HasMore  bool               `json:"has_more"`
	}
	path := fmt.Sprintf("/api/rooms/%d/messages?%s", key.RoomID, q.Encode())
	if err := c.do(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return chat.HistoryPage{}, err
	}
	out := chat.HistoryPage{HasMore: resp.HasMore, Messages: make([]chat.Message, 0, len(resp.Messages))}
	for _, w := range resp.Messages {
		out.Messages = append(out.Messages, w.ToMessage())
	}
	return out, nil
}

// Send posts a message. Drafts with an upload are sent as multipart form
// data with the file in the "file" part.
func (c *Client) Send(ctx context.Context, d chat.Draft, clientToken string) (chat.Message, error) {
	path := fmt.Sprintf("/api/rooms/%d/messages", d.Key.RoomID)
	var w chat.WireMessage

	if d.Upload == nil {
		body := map[string]any{
			"message":      d.Body,
			"type":         string(d.Type),
			"client_token": clientToken,
		}
		if d.Key.PeerID != 0 {
			body["receiver_id"] = d.Key.PeerID
		}
		if err := c.do(ctx, http.MethodPost, path, body, &w, true); err != nil {
			return chat.Message{}, err
		}
		return w.ToMessage(), nil
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{"message": d.Body, "type": string(d.Type), "client_token": clientToken}
	if d.Key.PeerID != 0 {
		fields["receiver_id"] = strconv.FormatInt(d.Key.PeerID, 10)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return chat.Message{}, fmt.Errorf("build upload: %w", err)
		}
	}
	part, err := mw.CreateFormFile("file", d.Upload.Name)
	if err != nil {
		return chat.Message{}, fmt.Errorf("build upload: %w", err)
	}
	if _, err := part.Write(d.Upload.Data); err != nil {
		return chat.Message{}, fmt.Errorf("build upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return chat.Message{}, fmt.Errorf("build upload: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, &buf, true)
	if err != nil {
		return chat.Message{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.send(req, &w); err != nil {
		return chat.Message{}, err
	}
	return w.ToMessage(), nil
}

func (c *Client) Edit(ctx context.Context, id, body string) (chat.Message, error) {
	var w chat.WireMessage
	path := "/api/messages/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodPatch, path, map[string]string{"message": body}, &w, true); err != nil {
		return chat.Message{}, err
	}
	return w.ToMessage(), nil
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(id), nil, nil, true)
}

func (c *Client) MarkRead(ctx context.Context, key chat.Key) error {
	body := map[string]int64{"peer_id": key.PeerID}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/rooms/%d/read", key.RoomID), body, nil, true)
}

func (c *Client) SendTyping(ctx context.Context, roomID int64, isTyping bool) error {
	body := map[string]bool{"is_typing": isTyping}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/rooms/%d/typing", roomID), body, nil, true)
}

func (c *Client) MarkOnline(ctx context.Context, roomID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/rooms/%d/online", roomID), nil, nil, true)
}

func (c *Client) MarkOffline(ctx context.Context, roomID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/rooms/%d/online", roomID), nil, nil, true)
}

func (c *Client) Heartbeat(ctx context.Context, roomID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/api/rooms/%d/heartbeat", roomID), nil, nil, true)
}

func (c *Client) Online(ctx context.Context, roomID int64) ([]presence.Member, error) {
	var resp struct {
		Members []presence.Member `json:"members"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/rooms/%d/online", roomID), nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.Members, nil
}

func (c *Client) Conversations(ctx context.Context, roomID int64) ([]inbox.Summary, error) {
	var resp struct {
		Conversations []struct {
			OtherUser   inbox.Peer        `json:"other_user"`
			LastMessage *chat.WireMessage `json:"last_message"`
			UnreadCount int               `json:"unread_count"`
		} `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/rooms/%d/conversations", roomID), nil, &resp, true); err != nil {
		return nil, err
	}
	out := make([]inbox.Summary, 0, len(resp.Conversations))
	for _, s := range resp.Conversations {
		sum := inbox.Summary{Peer: s.OtherUser, UnreadCount: s.UnreadCount}
		if s.LastMessage != nil {
			m := s.LastMessage.ToMessage()
			sum.LastMessage = &m
		}
		out = append(out, sum)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, auth bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}
	req, err := c.newRequest(ctx, method, path, body, auth)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.send(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if auth {
		if c.tokens == nil {
			return nil, ErrNoToken
		}
		token, err := c.tokens.Token()
		if err != nil {
			return nil, err
		}
		if token == "" {
			return nil, ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) send(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}
