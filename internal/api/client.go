package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Client talks to the story backend's REST API: auth, user sessions,
// conversation turns, and finished autobiographies. All payloads are JSON;
// every endpoint except register/login carries a bearer token, which Login
// and Register capture from the server's response.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	log zerolog.Logger

	mu    sync.Mutex
	token string
}

// NewClient constructs a backend client rooted at baseURL. token may be empty
// when the caller intends to Login or Register first.
func NewClient(baseURL, token string, log zerolog.Logger) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With().Str("component", "api").Logger(),
	}
}

// Token returns the bearer token currently attached to requests.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// User is the account record returned by the auth endpoints.
type User struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	FullName  string `json:"full_name,omitempty"`
	BirthYear int    `json:"birth_year,omitempty"`
}

// Session is one catalog entry of the guided interview.
type Session struct {
	ID          int    `json:"id"`
	SessionNum  int    `json:"sessionNumber"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// UserSession is one user's run through a catalog session.
type UserSession struct {
	ID        int    `json:"id"`
	SessionID int    `json:"sessionId"`
	Status    string `json:"status,omitempty"`
	StartedAt string `json:"startedAt,omitempty"`
}

// Conversation is one persisted transcript turn.
type Conversation struct {
	ID            int    `json:"id,omitempty"`
	UserSessionID int    `json:"userSessionId"`
	Speaker       string `json:"speaker"`
	MessageText   string `json:"messageText"`
	QuestionIndex int    `json:"questionIndex"`
}

// Autobiography is one generated life-story document.
type Autobiography struct {
	ID           int    `json:"id,omitempty"`
	Title        string `json:"title"`
	Content      string `json:"content"`
	APIProvider  string `json:"apiProvider,omitempty"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

// Register creates an account and captures the issued bearer token for all
// later calls.
func (c *Client) Register(ctx context.Context, username, password, fullName string, birthYear int) (User, error) {
	body := map[string]any{
		"username":   username,
		"password":   password,
		"full_name":  fullName,
		"birth_year": birthYear,
	}
	var out struct {
		User  User   `json:"user"`
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/register", body, &out); err != nil {
		return User{}, err
	}
	c.setToken(out.Token)
	return out.User, nil
}

// Login authenticates and captures the issued bearer token for all later
// calls.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	body := map[string]string{"username": username, "password": password}
	var out struct {
		User  User   `json:"user"`
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return User{}, err
	}
	c.setToken(out.Token)
	return out.User, nil
}

// Sessions fetches the interview session catalog.
func (c *Client) Sessions(ctx context.Context) ([]Session, error) {
	var out struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.Sessions, nil
}

// UserSessions lists the current user's session runs.
func (c *Client) UserSessions(ctx context.Context) ([]UserSession, error) {
	var out struct {
		UserSessions []UserSession `json:"userSessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/user-sessions", nil, &out); err != nil {
		return nil, err
	}
	return out.UserSessions, nil
}

// StartUserSession marks the given catalog session started for the current
// user and returns the run to attach conversation turns to.
func (c *Client) StartUserSession(ctx context.Context, sessionID int) (UserSession, error) {
	var out struct {
		UserSession UserSession `json:"userSession"`
	}
	path := fmt.Sprintf("/api/user-sessions/%d/start", sessionID)
	if err := c.do(ctx, http.MethodPost, path, struct{}{}, &out); err != nil {
		return UserSession{}, err
	}
	return out.UserSession, nil
}

// SaveConversation persists one transcript turn.
func (c *Client) SaveConversation(ctx context.Context, turn Conversation) (Conversation, error) {
	var out struct {
		Conversation Conversation `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", turn, &out); err != nil {
		return Conversation{}, err
	}
	return out.Conversation, nil
}

// Conversations fetches the persisted turns for one user session run.
func (c *Client) Conversations(ctx context.Context, userSessionID int) ([]Conversation, error) {
	var out struct {
		Conversations []Conversation `json:"conversations"`
	}
	path := fmt.Sprintf("/api/conversations/%d", userSessionID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Conversations, nil
}

// SaveAutobiography persists a generated life story.
func (c *Client) SaveAutobiography(ctx context.Context, doc Autobiography) (Autobiography, error) {
	var out struct {
		Autobiography Autobiography `json:"autobiography"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/autobiographies", doc, &out); err != nil {
		return Autobiography{}, err
	}
	return out.Autobiography, nil
}

// Autobiographies lists the current user's saved life stories.
func (c *Client) Autobiographies(ctx context.Context) ([]Autobiography, error) {
	var out struct {
		Autobiographies []Autobiography `json:"autobiographies"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/autobiographies", nil, &out); err != nil {
		return nil, err
	}
	return out.Autobiographies, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.BaseURL == "" {
		return fmt.Errorf("api: base URL not configured")
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("api: encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("api: build %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("api: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("api: %s %s: status=%d body=%s", method, path, resp.StatusCode, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("api: decode %s %s: %w", method, path, err)
	}
	return nil
}
