// Package httpagent talks to the agent over its JSON/multipart HTTP API.
package httpagent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/log"
)

const (
	chatPath   = "/chat"
	uploadPath = "/assets/upload"

	// maxReplyBytes bounds how much of a reply body is read.
	maxReplyBytes = 8 << 20
)

type Config struct {
	BaseURL string
	APIKey  string
	UserID  string
	Timeout time.Duration
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

type Client struct {
	baseURL    string
	apiKey     string
	userID     string
	sessionID  string
	timeout    time.Duration
	httpClient *http.Client
	logger     *log.Logger
}

var _ agent.Client = (*Client)(nil)

func New(cfg Config, logger *log.Logger) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("agent base URL is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		userID:     cfg.UserID,
		sessionID:  uuid.NewString(),
		timeout:    cfg.Timeout,
		httpClient: hc,
		logger:     logger.WithComponent(log.ComponentAgent),
	}, nil
}

type chatPayload struct {
	Message   string   `json:"message"`
	AgentID   string   `json:"agent_id"`
	UserID    string   `json:"user_id,omitempty"`
	SessionID string   `json:"session_id"`
	AssetIDs  []string `json:"asset_ids,omitempty"`
}

// Send posts a chat request. Every call is bounded by the client timeout in
// addition to ctx.
func (c *Client) Send(ctx context.Context, req agent.Request) (agent.Response, error) {
	body, err := json.Marshal(chatPayload{
		Message:   req.Message,
		AgentID:   req.AgentID,
		UserID:    c.userID,
		SessionID: c.sessionID,
		AssetIDs:  req.AssetIDs,
	})
	if err != nil {
		return agent.Response{}, fmt.Errorf("encode chat request: %w", err)
	}

	var resp agent.Response
	start := time.Now()
	if err := c.do(ctx, chatPath, "application/json", bytes.NewReader(body), &resp); err != nil {
		c.logger.WarnContext(ctx, "Agent call failed",
			log.NewFields().WithAgent(req.AgentID, len(req.AssetIDs)).WithOperation(log.OpSend).WithError(err).ToSlice()...)
		return agent.Response{}, err
	}

	c.logger.InfoContext(ctx, "Agent call completed",
		append(log.NewFields().WithAgent(req.AgentID, len(req.AssetIDs)).WithOperation(log.OpSend).ToSlice(),
			log.FieldSuccess, resp.Success,
			log.FieldDuration, time.Since(start).Milliseconds())...)
	return resp, nil
}

// Upload sends the file as multipart form field "file".
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader) (agent.UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return agent.UploadResult{}, fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return agent.UploadResult{}, fmt.Errorf("copy upload body: %w", err)
	}
	if c.userID != "" {
		_ = mw.WriteField("user_id", c.userID)
	}
	_ = mw.WriteField("session_id", c.sessionID)
	if err := mw.Close(); err != nil {
		return agent.UploadResult{}, fmt.Errorf("close multipart writer: %w", err)
	}

	var res agent.UploadResult
	if err := c.do(ctx, uploadPath, mw.FormDataContentType(), &buf, &res); err != nil {
		c.logger.WarnContext(ctx, "Asset upload failed",
			log.FieldFilename, filename,
			log.FieldOperation, log.OpUpload,
			log.FieldError, err.Error())
		return agent.UploadResult{}, err
	}
	c.logger.InfoContext(ctx, "Asset uploaded",
		log.FieldFilename, filename,
		log.FieldOperation, log.OpUpload,
		log.FieldAssetCount, len(res.AssetIDs))
	return res, nil
}

func (c *Client) do(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", agent.ErrTransport, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", agent.ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return fmt.Errorf("%w: read reply: %v", agent.ErrTransport, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s %s returned %d: %s", agent.ErrTransport, req.Method, path, resp.StatusCode, snippet(raw))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", agent.ErrMalformed, err)
	}
	return nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
