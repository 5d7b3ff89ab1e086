package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"thesis-backend/internal/checkpoint"
	"thesis-backend/internal/orchestrator"
	"thesis-backend/internal/queue"
	"thesis-backend/internal/runs"
	"thesis-backend/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrMissingRunID indicates a message without a run id.
type ErrMissingRunID struct {
	Meta      MessageMeta
	RequestID string
}

func (e ErrMissingRunID) Error() string { return "missing run id" }

// ErrProcess indicates driving the run failed after successful parsing.
// Permanent failures will not succeed on redelivery.
type ErrProcess struct {
	RunID     string
	RequestID string
	Permanent bool
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "drive run"
	}
	return "drive run: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// Driver advances a run until it suspends or completes.
type Driver interface {
	Drive(ctx context.Context, runID string) (runs.DriveResult, error)
}

var _ Driver = (*runs.Service)(nil)

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if strings.TrimSpace(msg.RunID) == "" {
		return msg, meta, ErrMissingRunID{Meta: meta, RequestID: msg.RequestID}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// HandleMessage parses, validates, and drives the run named by a message payload.
// Redelivering a message for a run that is already suspended or completed is a no-op.
func HandleMessage(ctx context.Context, driver Driver, body string) error {
	if driver == nil {
		return errors.New("run driver not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}

	if strings.TrimSpace(msg.RunID) == "" {
		return ErrMissingRunID{Meta: ComputeMeta(body), RequestID: msg.RequestID}
	}

	ctxWithRequest := telemetry.WithRequestID(ctx, msg.RequestID)
	res, err := driver.Drive(ctxWithRequest, msg.RunID)
	if err != nil {
		permanent := errors.Is(err, checkpoint.ErrNotFound) ||
			errors.Is(err, orchestrator.ErrEmptyOutline) ||
			errors.Is(err, orchestrator.ErrInconsistentOutline)
		return ErrProcess{RunID: msg.RunID, RequestID: msg.RequestID, Permanent: permanent, Err: err}
	}
	telemetry.Info("worker.run.driven", map[string]any{
		"run_id":     msg.RunID,
		"request_id": msg.RequestID,
		"steps":      res.Steps,
		"suspended":  res.Suspended,
		"completed":  res.Completed,
		"capped":     res.Capped,
	})
	return nil
}
