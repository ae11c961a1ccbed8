package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/putto11262002/courier/core"
)

var (
	ErrBadCredentials = errors.New("bad credentials")
	ErrUserNotFound   = errors.New("user not found")
)

// HistoryMessage is a conversation message annotated with whether the
// viewer authored it.
type HistoryMessage struct {
	core.Message
	Mine bool `json:"mine"`
}

// History is the server's view of one conversation, oldest first.
type History struct {
	Viewer   string                  `json:"viewer"`
	Other    core.UserWithoutSecrets `json:"other"`
	Messages []HistoryMessage        `json:"messages"`
}

// RestClient talks to the courier HTTP API: account management,
// authentication and historical message fetches. After Signin succeeds the
// session token is attached to subsequent requests.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	token      string
}

type RestOption func(*RestClient)

func WithHTTPClient(c *http.Client) RestOption {
	return func(r *RestClient) {
		r.httpClient = c
	}
}

func NewRestClient(baseURL string, opts ...RestOption) *RestClient {
	r := &RestClient{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Token returns the session token obtained by Signin. Pass it to
// NewConnManager to authenticate the realtime connection.
func (r *RestClient) Token() string {
	return r.token
}

// Signup registers a new account.
func (r *RestClient) Signup(ctx context.Context, name, username, password string) error {
	body := map[string]string{"name": name, "username": username, "password": password}
	res, err := r.do(ctx, http.MethodPost, "/api/users", body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		return apiError(res)
	}
	return nil
}

// Signin authenticates and stores the session token on the client.
func (r *RestClient) Signin(ctx context.Context, username, password string) (*core.Session, error) {
	body := map[string]string{"username": username, "password": password}
	res, err := r.do(ctx, http.MethodPost, "/api/auth/signin", body)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusUnauthorized {
		return nil, ErrBadCredentials
	}
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res)
	}
	var session core.Session
	if err := json.NewDecoder(res.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	r.token = session.Token
	return &session, nil
}

// Signout destroys the current session.
func (r *RestClient) Signout(ctx context.Context) error {
	res, err := r.do(ctx, http.MethodPost, "/api/auth/signout", nil)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		return apiError(res)
	}
	r.token = ""
	return nil
}

// Me fetches the authenticated user's profile.
func (r *RestClient) Me(ctx context.Context) (*core.UserWithoutSecrets, error) {
	res, err := r.do(ctx, http.MethodGet, "/api/users/me", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res)
	}
	var user core.UserWithoutSecrets
	if err := json.NewDecoder(res.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return &user, nil
}

// GetUser fetches another user's public profile.
func (r *RestClient) GetUser(ctx context.Context, username string) (*core.UserWithoutSecrets, error) {
	res, err := r.do(ctx, http.MethodGet, "/api/users/"+username, nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res)
	}
	var user core.UserWithoutSecrets
	if err := json.NewDecoder(res.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return &user, nil
}

// GetConversation fetches the message history with another user, oldest
// first.
func (r *RestClient) GetConversation(ctx context.Context, other string) (*History, error) {
	res, err := r.do(ctx, http.MethodGet, "/api/chats/"+other+"/messages", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, ErrUserNotFound
	}
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res)
	}
	var history History
	if err := json.NewDecoder(res.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return &history, nil
}

// GetConversationSummaries fetches the viewer's conversation list, most
// recent first, with per-conversation unseen counts.
func (r *RestClient) GetConversationSummaries(ctx context.Context) ([]core.ConversationSummary, error) {
	res, err := r.do(ctx, http.MethodGet, "/api/chats", nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, apiError(res)
	}
	var summaries []core.ConversationSummary
	if err := json.NewDecoder(res.Body).Decode(&summaries); err != nil {
		return nil, fmt.Errorf("Decode: %w", err)
	}
	return summaries, nil
}

func (r *RestClient) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("Marshal: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("NewRequestWithContext: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	res, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Do: %w", err)
	}
	return res, nil
}

func apiError(res *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err == nil && payload.Error != "" {
		return fmt.Errorf("api: %s (%d)", payload.Error, res.StatusCode)
	}
	return fmt.Errorf("api: unexpected status %d", res.StatusCode)
}
