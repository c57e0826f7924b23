package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OpenPecha/webuddhist/backend/internal/uploader"
	"github.com/OpenPecha/webuddhist/backend/pkg/logger"
)

// UploadMessage is one queued pipeline run. Token is the caller's bearer
// token, used for destination writes unless the worker has its own
// credential. It is empty when the server is set not to forward tokens.
type UploadMessage struct {
	RunID   string                     `json:"run_id"`
	Request uploader.TextUploadRequest `json:"request"`
	Token   string                     `json:"token,omitempty"`
}

// Runner is the part of *uploader.Runner the worker drives.
type Runner interface {
	Start(ctx context.Context, req uploader.TextUploadRequest) (string, error)
	Run(ctx context.Context, runID string, req uploader.TextUploadRequest, token string) (*uploader.TextInstanceIds, error)
}

// PublishUpload enqueues msg on UploadQueue.
func PublishUpload(ctx context.Context, ch Channel, msg UploadMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode upload message: %w", err)
	}
	return PublishFIFO(ctx, ch, UploadQueue, body)
}

// withoutToken drops the bearer token from an encoded UploadMessage. Bodies
// that do not decode are returned unchanged.
func withoutToken(body []byte) []byte {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return body
	}
	if _, ok := fields["token"]; !ok {
		return body
	}
	delete(fields, "token")
	out, err := json.Marshal(fields)
	if err != nil {
		return body
	}
	return out
}

// ProcessUploadMessage decodes body and runs it. Messages without a run id get
// a fresh ledger entry first. A non-empty serviceToken is used in place of the
// token the message carries.
func ProcessUploadMessage(ctx context.Context, runner Runner, body []byte, serviceToken string) error {
	var msg UploadMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("%w: malformed upload message: %w", ErrMalformedMessage, err)
	}
	if msg.Request.TextID == "" {
		return fmt.Errorf("%w: upload message has no text_id", ErrMalformedMessage)
	}

	token := msg.Token
	if serviceToken != "" {
		token = serviceToken
	}
	if token == "" {
		return fmt.Errorf("%w: upload message carries no credential", ErrMalformedMessage)
	}

	runID := msg.RunID
	if runID == "" {
		var err error
		if runID, err = runner.Start(ctx, msg.Request); err != nil {
			return fmt.Errorf("failed to start run: %w", err)
		}
	}

	ids, err := runner.Run(ctx, runID, msg.Request, token)
	if err != nil {
		return err
	}
	logger.Info("[Queue] Upload finished", "run_id", runID, "text_id", msg.Request.TextID, "new_texts", len(ids.NewText))
	return nil
}
