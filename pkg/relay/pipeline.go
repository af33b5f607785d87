package relay

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"time"
)

// Options tune the pipeline's retry and budget behavior.
type Options struct {
	MaxAttempts int           // per stage, default 3
	BackoffBase time.Duration // default 500ms, doubled per attempt with jitter
	Budget      time.Duration // wall clock across all stages, default 90s
	MaxBytes    int64         // fetch size limit, default 16MB
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.MaxAttempts <= 0 {
		out.MaxAttempts = 3
	}
	if out.BackoffBase <= 0 {
		out.BackoffBase = 500 * time.Millisecond
	}
	if out.Budget <= 0 {
		out.Budget = 90 * time.Second
	}
	if out.MaxBytes <= 0 {
		out.MaxBytes = 16 * 1024 * 1024
	}
	return out
}

// Pipeline runs media relays. It is stateless between runs; a Run holds
// the fetched buffer only from fetch success to re-host completion.
type Pipeline struct {
	platform Platform
	opts     Options
}

// NewPipeline creates a Pipeline over a platform client.
func NewPipeline(platform Platform, opts Options) *Pipeline {
	return &Pipeline{platform: platform, opts: opts.withDefaults()}
}

// Run executes the three stages in order and returns exactly one Result,
// success or not. The stages never reorder: a re-host failure retries
// without re-fetching, and a send always references the re-hosted id.
func (p *Pipeline) Run(ctx context.Context, asset Asset) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.opts.Budget)
	defer cancel()

	result := Result{RelayID: asset.RelayID, Asset: asset}

	var buffer []byte
	mimeType := asset.MimeType
	err := p.retry(ctx, StageFetch, func(ctx context.Context) error {
		url, mime, err := p.platform.ResolveMedia(ctx, asset.SourceID)
		if err != nil {
			return err
		}
		if mime != "" {
			mimeType = mime
		}
		data, err := p.platform.Download(ctx, url, p.opts.MaxBytes)
		if err != nil {
			return err
		}
		buffer = data
		return nil
	})
	if err != nil {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}

	var rehosted string
	err = p.retry(ctx, StageRehost, func(ctx context.Context) error {
		id, upErr := p.platform.Upload(ctx, buffer, mimeType, asset.Filename)
		if upErr != nil {
			return upErr
		}
		rehosted = id
		return nil
	})
	// The buffer is released once stage 2 concludes, success or failure.
	buffer = nil
	if err != nil {
		result.Err = err
		result.Elapsed = time.Since(start)
		return result
	}
	result.RehostedID = rehosted

	caption := fmt.Sprintf("Reenviado de +%s (%s)", asset.SenderID, asset.Kind)
	err = p.retry(ctx, StageSend, func(ctx context.Context) error {
		return p.platform.SendMedia(ctx, asset.TargetRecipient, rehosted, string(asset.Kind), caption)
	})
	result.Err = err
	result.Elapsed = time.Since(start)
	return result
}

// retry runs fn up to MaxAttempts times with exponential backoff and
// jitter, stopping early when the budget context expires.
func (p *Pipeline) retry(ctx context.Context, stage Stage, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.opts.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return &Error{Stage: stage, Attempts: attempt - 1, Err: ErrBudgetExceeded}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		log.Printf("relay: %s attempt %d/%d failed: %v", stage, attempt, p.opts.MaxAttempts, lastErr)

		if attempt == p.opts.MaxAttempts {
			break
		}

		delay := p.opts.BackoffBase << (attempt - 1)
		delay += time.Duration(rand.Int63n(int64(p.opts.BackoffBase)/2 + 1))
		select {
		case <-ctx.Done():
			return &Error{Stage: stage, Attempts: attempt, Err: ErrBudgetExceeded}
		case <-time.After(delay):
		}
	}
	return &Error{Stage: stage, Attempts: p.opts.MaxAttempts, Err: lastErr}
}
