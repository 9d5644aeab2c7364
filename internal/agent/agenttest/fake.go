// Package agenttest provides an in-memory agent.Client for tests.
package agenttest

import (
	"context"
	"encoding/json"
	"io"
	"strconv"
	"sync"

	"ledgerlens/internal/agent"
)

// Fake records every call. SendFunc and UploadFunc override the defaults,
// which answer with an empty successful envelope and one asset id per upload.
type Fake struct {
	mu sync.Mutex

	SendFunc   func(ctx context.Context, req agent.Request) (agent.Response, error)
	UploadFunc func(ctx context.Context, filename string, data []byte) (agent.UploadResult, error)

	Sends   []agent.Request
	Uploads []string
}

func (f *Fake) Send(ctx context.Context, req agent.Request) (agent.Response, error) {
	f.mu.Lock()
	f.Sends = append(f.Sends, req)
	fn := f.SendFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return agent.Response{Success: true, Response: agent.Envelope{Status: "completed"}}, nil
}

func (f *Fake) Upload(ctx context.Context, filename, _ string, r io.Reader) (agent.UploadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return agent.UploadResult{}, err
	}
	f.mu.Lock()
	f.Uploads = append(f.Uploads, filename)
	n := len(f.Uploads)
	fn := f.UploadFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, filename, data)
	}
	return agent.UploadResult{Success: true, AssetIDs: []string{"asset-" + strconv.Itoa(n)}}, nil
}

func (f *Fake) SendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sends)
}

func (f *Fake) UploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Uploads)
}

// Reply builds a SendFunc that always answers with result encoded as JSON.
func Reply(result any) func(context.Context, agent.Request) (agent.Response, error) {
	return func(context.Context, agent.Request) (agent.Response, error) {
		raw, err := json.Marshal(result)
		if err != nil {
			return agent.Response{}, err
		}
		return agent.Response{Success: true, Response: agent.Envelope{Status: "completed", Result: raw}}, nil
	}
}

// Text builds a SendFunc that answers with a plain message.
func Text(msg string) func(context.Context, agent.Request) (agent.Response, error) {
	return func(context.Context, agent.Request) (agent.Response, error) {
		return agent.Response{Success: true, Response: agent.Envelope{Status: "completed", Message: msg}}, nil
	}
}

// Fail builds a SendFunc that always returns err.
func Fail(err error) func(context.Context, agent.Request) (agent.Response, error) {
	return func(context.Context, agent.Request) (agent.Response, error) {
		return agent.Response{}, err
	}
}
