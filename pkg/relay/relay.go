// Package relay implements the mandatory three-step media transfer:
// fetch the attachment from platform storage, re-host it under the bot's
// own number, then send the re-hosted reference to the advisor. Received
// media handles are recipient-scoped, so no step can be skipped.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vickylabs/vickybot/pkg/bus"
)

// Stage names the pipeline step an error belongs to.
type Stage string

const (
	StageFetch  Stage = "fetch"
	StageRehost Stage = "rehost"
	StageSend   Stage = "send"
)

// ErrBudgetExceeded marks a relay abandoned because its wall-clock budget
// ran out before the retries did.
var ErrBudgetExceeded = errors.New("relay budget exceeded")

// Error is a terminal failure of one pipeline stage after its retries
// were exhausted.
type Error struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("relay %s failed after %d attempt(s): %v", e.Stage, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Platform is the subset of the messaging platform the pipeline needs.
// *wabapi.Client satisfies it.
type Platform interface {
	ResolveMedia(ctx context.Context, mediaID string) (url, mimeType string, err error)
	Download(ctx context.Context, url string, maxBytes int64) ([]byte, error)
	Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error)
	SendMedia(ctx context.Context, to, mediaID, mediaType, caption string) error
}

// Asset describes one in-flight relay. It carries references only; the
// fetched bytes live in the pipeline for the duration of a single Run and
// are dropped once re-hosted or the attempt is abandoned.
type Asset struct {
	RelayID         string
	SenderID        string
	SourceID        string
	Kind            bus.EventKind
	MimeType        string
	Filename        string
	TargetRecipient string
}

// Result is the single terminal report of one relay run.
type Result struct {
	RelayID    string
	Asset      Asset
	RehostedID string
	Err        error
	Elapsed    time.Duration
}
