package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/core"
	"ledgerlens/internal/log"
)

var imageTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
	".gif":  "image/gif",
}

type ImageConfig struct {
	AgentID  string
	MaxBytes int64
}

type Image struct {
	up    uploader
	cfg   ImageConfig
	guard guard
	now   func() time.Time
}

func NewImage(client agent.Client, assets cache.Cache[[]string], cfg ImageConfig, logger *log.Logger) *Image {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxUploadBytes
	}
	return &Image{
		up: uploader{
			client:    client,
			assets:    assets,
			namespace: string(core.SourceImage),
			logger:    logger.WithComponent(log.ComponentCapture),
		},
		cfg:   cfg,
		guard: newGuard(),
		now:   time.Now,
	}
}

// ValidateImage checks type and size and returns the content type to use.
// PNG, JPEG and GIF headers must decode; WebP is checked by its magic bytes.
func ValidateImage(filename, contentType string, data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", fileError(ErrEmptyFile)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fileError(fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, maxBytes))
	}

	ct := imageTypes[strings.ToLower(filepath.Ext(filename))]
	if ct == "" {
		ct = strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	}
	sniffed := http.DetectContentType(data)
	switch ct {
	case "image/png", "image/jpeg", "image/gif":
		if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err != nil || "image/"+format != ct {
			return "", fileError(fmt.Errorf("%w: not a valid %s image", ErrUnreadableFile, ct))
		}
	case "image/webp":
		if sniffed != "image/webp" {
			return "", fileError(fmt.Errorf("%w: not a valid webp image", ErrUnreadableFile))
		}
	default:
		return "", fileError(fmt.Errorf("%w: expected png, jpeg, webp or gif", ErrUnsupportedFile))
	}
	return ct, nil
}

// Extract validates the receipt, uploads it and asks the agent for one
// candidate with confidence scores.
func (m *Image) Extract(ctx context.Context, filename, contentType string, data []byte) (Extraction, error) {
	release, err := m.guard.acquire()
	if err != nil {
		return Extraction{}, err
	}
	defer release()

	ct, err := ValidateImage(filename, contentType, data, m.cfg.MaxBytes)
	if err != nil {
		return Extraction{}, err
	}

	resp, err := m.up.ask(ctx, filename, ct, data, agent.Request{
		Message: imagePrompt(),
		AgentID: m.cfg.AgentID,
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("%s image: %w", stage(err, "read"), err)
	}

	now := m.now()
	c, ok := ParseImageReply(resp, now)
	if !ok {
		m.up.logger.WarnContext(ctx, "Receipt reply not recognized, using placeholder",
			log.FieldFilename, filename,
			log.FieldOperation, log.OpParse)
		return Extraction{Candidates: []Candidate{placeholder(core.SourceImage, filename, now)}, Degraded: true}, nil
	}

	args := []any{log.FieldFilename, filename, log.FieldOperation, log.OpParse}
	if c.Confidence != nil {
		args = append(args, "confidence", *c.Confidence)
	}
	m.up.logger.InfoContext(ctx, "Receipt parsed", args...)
	return Extraction{Candidates: []Candidate{c}}, nil
}
