// Package agent defines the port to the external AI agent that parses
// spreadsheets, reads receipts and answers questions about the ledger.
//
// The agent is opaque: callers send a message with an agent id and optional
// asset ids and get back an envelope whose result they interpret themselves.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

var (
	// ErrTransport covers network failures and non-2xx replies.
	ErrTransport = errors.New("agent transport error")
	// ErrAgent is returned when the agent answered with success=false.
	ErrAgent = errors.New("agent reported failure")
	// ErrMalformed is returned when a reply cannot be decoded.
	ErrMalformed = errors.New("malformed agent response")
)

type Request struct {
	Message  string   `json:"message"`
	AgentID  string   `json:"agent_id"`
	AssetIDs []string `json:"asset_ids,omitempty"`
}

type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type Response struct {
	Success  bool     `json:"success"`
	Response Envelope `json:"response"`
}

type UploadResult struct {
	Success  bool     `json:"success"`
	AssetIDs []string `json:"asset_ids"`
}

type Client interface {
	Send(ctx context.Context, req Request) (Response, error)
	Upload(ctx context.Context, filename, contentType string, r io.Reader) (UploadResult, error)
}

// Text returns the human-readable part of a reply: the envelope message,
// or the result when it is a bare JSON string.
func (r Response) Text() string {
	if msg := strings.TrimSpace(r.Response.Message); msg != "" {
		return msg
	}
	var s string
	if len(r.Response.Result) > 0 && json.Unmarshal(r.Response.Result, &s) == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

// Call sends req and turns an unsuccessful envelope into ErrAgent.
func Call(ctx context.Context, c Client, req Request) (Response, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return Response{}, err
	}
	if !resp.Success {
		msg := resp.Response.Message
		if msg == "" {
			msg = resp.Response.Status
		}
		return resp, fmt.Errorf("%w: %s", ErrAgent, msg)
	}
	return resp, nil
}

// UploadFile uploads one file and returns its asset ids. An unsuccessful or
// empty upload is reported as ErrAgent.
func UploadFile(ctx context.Context, c Client, filename, contentType string, r io.Reader) ([]string, error) {
	res, err := c.Upload(ctx, filename, contentType, r)
	if err != nil {
		return nil, err
	}
	if !res.Success || len(res.AssetIDs) == 0 {
		return nil, fmt.Errorf("%w: upload of %s returned no assets", ErrAgent, filename)
	}
	return res.AssetIDs, nil
}

// IsAgentError reports whether err came from the agent round trip.
func IsAgentError(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrAgent) || errors.Is(err, ErrMalformed)
}
