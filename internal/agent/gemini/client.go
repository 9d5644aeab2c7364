// Package gemini implements agent.Client on top of Google Gemini.
//
// Gemini has no asset store of its own, so uploads are held in an in-memory
// cache and attached inline to the request that references them.
package gemini

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/log"
)

const (
	DefaultModel = "gemini-1.5-flash"

	defaultHeldAssets = 32
	defaultAssetTTL   = 30 * time.Minute
)

type Config struct {
	APIKey string
	Model  string
	// Instructions maps an agent id to its system instruction.
	Instructions map[string]string
	Timeout      time.Duration
	// HeldAssets and AssetTTL bound the uploads kept for later requests.
	// Callers that cache asset ids must not remember them longer than this.
	HeldAssets int
	AssetTTL   time.Duration
}

type asset struct {
	mimeType string
	data     []byte
	// text is set for spreadsheets, which are sent as CSV text.
	text string
}

// generator is the part of genai the client depends on.
type generator interface {
	generate(ctx context.Context, agentID string, jsonReply bool, parts []genai.Part) (*genai.GenerateContentResponse, error)
}

type Client struct {
	gen     generator
	closer  io.Closer
	timeout time.Duration
	assets  *cache.LRUCache[asset]
	logger  *log.Logger
}

var _ agent.Client = (*Client)(nil)

func New(ctx context.Context, cfg Config, logger *log.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is required for the gemini backend")
	}
	gc, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("unable to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	c := newClient(&genaiGenerator{client: gc, model: model, instructions: cfg.Instructions}, cfg, logger)
	c.closer = gc
	return c, nil
}

func newClient(gen generator, cfg Config, logger *log.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.HeldAssets <= 0 {
		cfg.HeldAssets = defaultHeldAssets
	}
	if cfg.AssetTTL <= 0 {
		cfg.AssetTTL = defaultAssetTTL
	}
	return &Client{
		gen:     gen,
		timeout: cfg.Timeout,
		assets:  cache.NewLRUCache[asset](cfg.HeldAssets, cfg.AssetTTL),
		logger:  logger.WithComponent(log.ComponentAgent),
	}
}

// Assets exposes the held uploads for the cache manager.
func (c *Client) Assets() cache.Cleaner {
	return c.assets
}

func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Upload reads the file into memory. Workbooks are flattened to CSV text
// because Gemini does not accept them as inline data.
func (c *Client) Upload(ctx context.Context, filename, contentType string, r io.Reader) (agent.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return agent.UploadResult{}, fmt.Errorf("%w: read upload: %v", agent.ErrTransport, err)
	}

	a := asset{mimeType: contentType, data: data}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xls":
		text, err := workbookToCSV(data)
		if err != nil {
			return agent.UploadResult{}, fmt.Errorf("%w: %s: %v", agent.ErrAgent, filename, err)
		}
		a = asset{mimeType: "text/csv", text: text}
	case ".csv":
		a = asset{mimeType: "text/csv", text: string(data)}
	default:
		if a.mimeType == "" || a.mimeType == "application/octet-stream" {
			a.mimeType = http.DetectContentType(data)
		}
	}

	id := uuid.NewString()
	c.assets.Set(id, a)
	c.logger.InfoContext(ctx, "Asset held for inline attachment",
		log.FieldFilename, filename,
		log.FieldOperation, log.OpUpload,
		"mime_type", a.mimeType)
	return agent.UploadResult{Success: true, AssetIDs: []string{id}}, nil
}

// Send asks the model. Requests with attachments ask for a JSON reply,
// which then lands in the envelope result; plain text lands in the message.
func (c *Client) Send(ctx context.Context, req agent.Request) (agent.Response, error) {
	parts := []genai.Part{genai.Text(req.Message)}
	for _, id := range req.AssetIDs {
		a, ok := c.assets.Get(id)
		if !ok {
			return agent.Response{}, fmt.Errorf("%w: unknown or expired asset %s", agent.ErrAgent, id)
		}
		if a.text != "" {
			parts = append(parts, genai.Text("Attached spreadsheet (CSV):\n"+a.text))
			continue
		}
		parts = append(parts, genai.Blob{MIMEType: a.mimeType, Data: a.data})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.gen.generate(ctx, req.AgentID, len(req.AssetIDs) > 0, parts)
	if err != nil {
		c.logger.WarnContext(ctx, "Gemini call failed",
			log.NewFields().WithAgent(req.AgentID, len(req.AssetIDs)).WithOperation(log.OpSend).WithError(err).ToSlice()...)
		return agent.Response{}, fmt.Errorf("%w: %v", agent.ErrTransport, err)
	}

	text := replyText(resp)
	if text == "" {
		return agent.Response{}, fmt.Errorf("%w: empty model reply", agent.ErrMalformed)
	}
	c.logger.InfoContext(ctx, "Gemini call completed",
		append(log.NewFields().WithAgent(req.AgentID, len(req.AssetIDs)).WithOperation(log.OpSend).ToSlice(),
			log.FieldDuration, time.Since(start).Milliseconds())...)

	env := agent.Envelope{Status: "completed"}
	if raw := stripFence(text); json.Valid([]byte(raw)) {
		env.Result = json.RawMessage(raw)
	} else {
		env.Message = text
	}
	return agent.Response{Success: true, Response: env}, nil
}

func replyText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return strings.TrimSpace(b.String())
}

// stripFence removes a ```json fence the model sometimes adds.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func workbookToCSV(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %s: %w", sheet, err)
		}
		if len(rows) == 0 {
			continue
		}
		if err := w.WriteAll(rows); err != nil {
			return "", err
		}
	}
	if buf.Len() == 0 {
		return "", fmt.Errorf("workbook has no rows")
	}
	return buf.String(), nil
}

type genaiGenerator struct {
	client       *genai.Client
	model        string
	instructions map[string]string
}

func (g *genaiGenerator) generate(ctx context.Context, agentID string, jsonReply bool, parts []genai.Part) (*genai.GenerateContentResponse, error) {
	model := g.client.GenerativeModel(g.model)
	if instr := g.instructions[agentID]; instr != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instr)}}
	}
	if jsonReply {
		model.ResponseMIMEType = "application/json"
	}
	return model.GenerateContent(ctx, parts...)
}
