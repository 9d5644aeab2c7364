package capture

import (
	"bytes"
	"context"
	"errors"

	"ledgerlens/internal/agent"
	"ledgerlens/internal/cache"
	"ledgerlens/internal/log"
)

// uploader sends files to the agent and remembers the asset ids of recent
// uploads by content hash, so re-submitting the same file skips the upload.
type uploader struct {
	client    agent.Client
	assets    cache.Cache[[]string]
	namespace string
	logger    *log.Logger
}

// upload reports whether the ids came from the cache rather than a fresh
// upload.
func (u *uploader) upload(ctx context.Context, filename, contentType string, data []byte) ([]string, bool, error) {
	key := cache.ContentKey(u.namespace, data)
	if u.assets != nil {
		if ids, ok := u.assets.Get(key); ok {
			u.logger.DebugContext(ctx, "Reusing uploaded assets",
				log.FieldFilename, filename,
				log.FieldAssetCount, len(ids))
			return ids, true, nil
		}
	}

	ids, err := agent.UploadFile(ctx, u.client, filename, contentType, bytes.NewReader(data))
	if err != nil {
		return nil, false, err
	}
	if u.assets != nil {
		u.assets.Set(key, ids)
	}
	return ids, false, nil
}

// ask uploads data and sends req with the resulting asset ids. The agent may
// have dropped assets the cache still remembers, so a rejected call on
// cached ids is retried once after a fresh upload.
func (u *uploader) ask(ctx context.Context, filename, contentType string, data []byte, req agent.Request) (agent.Response, error) {
	ids, cached, err := u.upload(ctx, filename, contentType, data)
	if err != nil {
		return agent.Response{}, &uploadError{err: err}
	}

	req.AssetIDs = ids
	resp, err := agent.Call(ctx, u.client, req)
	if err != nil && cached && errors.Is(err, agent.ErrAgent) {
		u.logger.WarnContext(ctx, "Agent rejected cached assets, uploading again",
			log.FieldFilename, filename,
			log.FieldError, err.Error())
		u.forget(data)
		if ids, _, err = u.upload(ctx, filename, contentType, data); err != nil {
			return agent.Response{}, &uploadError{err: err}
		}
		req.AssetIDs = ids
		resp, err = agent.Call(ctx, u.client, req)
	}
	if err != nil {
		u.forget(data)
		return agent.Response{}, err
	}
	return resp, nil
}

// uploadError marks a failure before the agent was asked anything.
type uploadError struct{ err error }

func (e *uploadError) Error() string { return e.err.Error() }
func (e *uploadError) Unwrap() error { return e.err }

// stage names the step that failed for error messages.
func stage(err error, call string) string {
	var ue *uploadError
	if errors.As(err, &ue) {
		return "upload"
	}
	return call
}

// forget drops the cached ids for data, used when the agent rejects them.
func (u *uploader) forget(data []byte) {
	if u.assets != nil {
		u.assets.Delete(cache.ContentKey(u.namespace, data))
	}
}
