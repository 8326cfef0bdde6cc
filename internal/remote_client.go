package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lychee-technology/fieldform"
)

// RemoteClient is the HTTP implementation of fieldform.SyncClient against the
// survey backend.
type RemoteClient struct {
	baseURL string
	http    *http.Client
	token   string
}

// NewRemoteClient builds a client for the backend at cfg.BaseURL.
func NewRemoteClient(cfg fieldform.SyncConfig) *RemoteClient {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &RemoteClient{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken sets the bearer token attached to every request.
func (c *RemoteClient) SetToken(token string) {
	c.token = token
}

type pushPayload struct {
	ID         string                  `json:"id"`
	EntityType fieldform.EntityType    `json:"entityType"`
	EntityID   string                  `json:"entityId"`
	Version    int                     `json:"version"`
	Response   *fieldform.FormResponse `json:"response"`
}

// PushRecord uploads one survey record.
func (c *RemoteClient) PushRecord(ctx context.Context, rec *fieldform.SurveyRecord) error {
	payload := pushPayload{
		ID:         rec.ID,
		EntityType: rec.EntityType,
		EntityID:   rec.EntityID,
		Version:    rec.Version,
		Response:   rec.Response,
	}
	err := c.post(ctx, "/api/sync/push", payload, nil)
	if err != nil {
		var ffErr *fieldform.Error
		if errors.As(err, &ffErr) {
			return ffErr.WithRecord(rec.ID)
		}
		return err
	}
	return nil
}

// Pull fetches remote changes after the checkpoint.
func (c *RemoteClient) Pull(ctx context.Context, req fieldform.PullRequest) (*fieldform.PullResponse, error) {
	var resp fieldform.PullResponse
	if err := c.post(ctx, "/api/sync/pull", req, &resp); err != nil {
		return nil, err
	}
	if resp.Timestamp == 0 {
		return nil, fieldform.NewError(fieldform.ErrorTypeRemote,
			fieldform.ErrCodeRemoteMalformed, "pull response missing timestamp")
	}
	return &resp, nil
}

// FetchWards downloads the full ward list, used for the first provisioning of
// a fresh device before any pull checkpoint exists.
func (c *RemoteClient) FetchWards(ctx context.Context) ([]*fieldform.Ward, error) {
	var wards []*fieldform.Ward
	if err := c.get(ctx, "/api/wards", &wards); err != nil {
		return nil, err
	}
	return wards, nil
}

// FetchWard downloads a single ward by number.
func (c *RemoteClient) FetchWard(ctx context.Context, wardNumber int) (*fieldform.Ward, error) {
	var ward fieldform.Ward
	if err := c.get(ctx, fmt.Sprintf("/api/wards/%d", wardNumber), &ward); err != nil {
		return nil, err
	}
	return &ward, nil
}

// Credentials is the login/signup request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

type authResponse struct {
	Token string `json:"token"`
}

// Login exchanges credentials for a bearer token and installs it on the
// client.
func (c *RemoteClient) Login(ctx context.Context, creds Credentials) (string, error) {
	var resp authResponse
	if err := c.post(ctx, "/api/auth/login", creds, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fieldform.NewError(fieldform.ErrorTypeRemote,
			fieldform.ErrCodeRemoteMalformed, "login response missing token")
	}
	c.token = resp.Token
	return resp.Token, nil
}

// Signup registers a surveyor account and installs the returned token.
func (c *RemoteClient) Signup(ctx context.Context, creds Credentials) (string, error) {
	var resp authResponse
	if err := c.post(ctx, "/api/auth/signup", creds, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", fieldform.NewError(fieldform.ErrorTypeRemote,
			fieldform.ErrCodeRemoteMalformed, "signup response missing token")
	}
	c.token = resp.Token
	return resp.Token, nil
}

// Logout invalidates the session token server-side and clears it locally.
// The local token is cleared even when the server call fails.
func (c *RemoteClient) Logout(ctx context.Context) error {
	err := c.post(ctx, "/api/auth/logout", struct{}{}, nil)
	c.token = ""
	return err
}

func (c *RemoteClient) post(ctx context.Context, path string, body, target any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fieldform.NewInternalError("encode request body", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fieldform.NewInternalError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, target)
}

func (c *RemoteClient) get(ctx context.Context, path string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fieldform.NewInternalError("build request", err)
	}
	return c.do(req, target)
}

func (c *RemoteClient) do(req *http.Request, target any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return fieldform.NewRemoteTimeoutError(
				fmt.Sprintf("%s %s timed out", req.Method, req.URL.Path), err)
		}
		return fieldform.NewRemoteError(0,
			fmt.Sprintf("%s %s failed", req.Method, req.URL.Path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fieldform.NewRemoteError(resp.StatusCode,
			fmt.Sprintf("%s %s: %s", req.Method, req.URL.Path, remoteMessage(resp.Body)), nil)
	}

	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil && !errors.Is(err, io.EOF) {
		return fieldform.NewError(fieldform.ErrorTypeRemote,
			fieldform.ErrCodeRemoteMalformed, "decode response body").WithCause(err)
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// remoteMessage extracts the error message a JSON error body carries, falling
// back to the raw body.
func remoteMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return "no response body"
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	return string(data)
}
