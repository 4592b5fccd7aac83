// Package rakuten is a client for the Rakuten AI conversation backend:
// user and thread creation, file ingestion, and streaming message exchange.
package rakuten

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// Client talks to the backend HTTP API. The streaming client deliberately has
// no timeout: a generation can run for minutes, bounded only by the server.
type Client struct {
	baseURL         string
	logger          *slog.Logger
	httpClient      *http.Client
	streamingClient *http.Client
}

// NewClient creates a Client for the given base URL. timeout bounds the
// non-streaming calls only.
func NewClient(log *slog.Logger, baseURL string, timeout time.Duration) *Client {
	if log == nil {
		log = slog.Default()
	}
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:         baseURL,
		logger:          log.With(slog.String("service", "rakuten")),
		httpClient:      &http.Client{Timeout: timeout},
		streamingClient: &http.Client{},
	}
}

// User is a backend-side principal owning conversation threads.
type User struct {
	ID string `json:"id"`
}

// Thread is one backend conversation. A Thread is owned by exactly one
// Session and reused for every turn in its channel.
type Thread struct {
	ID     string `json:"id"`
	UserID string `json:"userId"`

	client *Client
}

// CreateUser registers a fresh backend user.
func (c *Client) CreateUser(ctx context.Context) (User, error) {
	var user User
	if err := c.postJSON(ctx, "/users", nil, &user); err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	c.logger.Debug("user created", slog.String("user_id", user.ID))
	return user, nil
}

// CreateThread opens a new conversation thread scoped to the given user.
func (c *Client) CreateThread(ctx context.Context, userID string) (*Thread, error) {
	var thread Thread
	path := "/users/" + userID + "/threads"
	if err := c.postJSON(ctx, path, nil, &thread); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	thread.client = c
	if thread.UserID == "" {
		thread.UserID = userID
	}
	c.logger.Debug("thread created", slog.String("user_id", userID), slog.String("thread_id", thread.ID))
	return &thread, nil
}

// UploadFile ingests a binary payload into the thread and returns its handle.
func (t *Thread) UploadFile(ctx context.Context, name string, r io.Reader, isImage bool) (UploadedFile, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: %w", err)
	}
	if err := mw.WriteField("isImage", fmt.Sprintf("%t", isImage)); err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: %w", err)
	}

	url := t.client.baseURL + "/threads/" + t.ID + "/files"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.httpClient.Do(req)
	if err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody, _ := io.ReadAll(resp.Body)
		return UploadedFile{}, fmt.Errorf("upload file: backend error: %s", strings.TrimSpace(string(errBody)))
	}

	var uploaded UploadedFile
	if err := json.NewDecoder(resp.Body).Decode(&uploaded); err != nil {
		return UploadedFile{}, fmt.Errorf("upload file: parse response: %w", err)
	}
	if uploaded.Name == "" {
		uploaded.Name = name
	}
	uploaded.IsImage = isImage
	t.client.logger.Debug("file uploaded",
		slog.String("thread_id", t.ID),
		slog.String("file_id", uploaded.ID),
		slog.String("name", uploaded.Name),
		slog.Bool("is_image", isImage),
	)
	return uploaded, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	var body io.Reader = http.NoBody
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("backend error",
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
			slog.String("body_prefix", truncate(string(respBody), 300)),
		)
		return fmt.Errorf("backend error: %s", strings.TrimSpace(string(respBody)))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
