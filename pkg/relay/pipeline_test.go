package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vickylabs/vickybot/pkg/bus"
)

// fakePlatform scripts per-stage outcomes and records calls.
type fakePlatform struct {
	mu sync.Mutex

	resolveErrs int
	downloadErr error
	uploadErrs  int
	sendErrs    int

	resolveCalls int
	uploadCalls  int
	sendCalls    int

	uploadedData []byte
	sentMediaID  string
	sentTo       string
	sentCaption  string
}

func (f *fakePlatform) ResolveMedia(ctx context.Context, mediaID string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resolveCalls++
	if f.resolveErrs > 0 {
		f.resolveErrs--
		return "", "", errors.New("media reference expired")
	}
	return "https://cdn.example/" + mediaID, "image/jpeg", nil
}

func (f *fakePlatform) Download(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	return []byte("media-bytes"), nil
}

func (f *fakePlatform) Upload(ctx context.Context, data []byte, mimeType, filename string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCalls++
	if f.uploadErrs > 0 {
		f.uploadErrs--
		return "", errors.New("upload refused")
	}
	f.uploadedData = append([]byte(nil), data...)
	return "rehosted-1", nil
}

func (f *fakePlatform) SendMedia(ctx context.Context, to, mediaID, mediaType, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErrs > 0 {
		f.sendErrs--
		return errors.New("send rejected")
	}
	f.sentTo = to
	f.sentMediaID = mediaID
	f.sentCaption = caption
	return nil
}

func fastOpts() Options {
	return Options{MaxAttempts: 3, BackoffBase: time.Millisecond, Budget: 5 * time.Second}
}

func testAsset() Asset {
	return Asset{
		RelayID:         "relay-1",
		SenderID:        "5216680000000",
		SourceID:        "media-src",
		Kind:            bus.KindImage,
		Filename:        "photo.jpg",
		TargetRecipient: "5216682478005",
	}
}

func TestHappyPathSendsRehostedReference(t *testing.T) {
	f := &fakePlatform{}
	p := NewPipeline(f, fastOpts())

	res := p.Run(context.Background(), testAsset())
	require.NoError(t, res.Err)
	require.Equal(t, "rehosted-1", res.RehostedID)
	require.Equal(t, 1, f.sendCalls, "exactly one send")
	require.Equal(t, "rehosted-1", f.sentMediaID, "send must use the re-hosted id, never the source")
	require.Equal(t, "5216682478005", f.sentTo)
	require.Contains(t, f.sentCaption, "+5216680000000")
	require.Equal(t, []byte("media-bytes"), f.uploadedData)
}

func TestFetchFailureIsTerminalAfterRetries(t *testing.T) {
	f := &fakePlatform{resolveErrs: 99}
	p := NewPipeline(f, fastOpts())

	res := p.Run(context.Background(), testAsset())
	var relayErr *Error
	require.ErrorAs(t, res.Err, &relayErr)
	require.Equal(t, StageFetch, relayErr.Stage)
	require.Equal(t, 3, relayErr.Attempts)
	require.Equal(t, 0, f.uploadCalls, "rehost must not run after terminal fetch failure")
	require.Equal(t, 0, f.sendCalls)
}

func TestRehostRetriesWithoutRefetching(t *testing.T) {
	f := &fakePlatform{uploadErrs: 2}
	p := NewPipeline(f, fastOpts())

	res := p.Run(context.Background(), testAsset())
	require.NoError(t, res.Err)
	require.Equal(t, 1, f.resolveCalls, "a rehost retry must not re-fetch")
	require.Equal(t, 3, f.uploadCalls)
}

func TestSendFailureReportsSendStage(t *testing.T) {
	f := &fakePlatform{sendErrs: 99}
	p := NewPipeline(f, fastOpts())

	res := p.Run(context.Background(), testAsset())
	var relayErr *Error
	require.ErrorAs(t, res.Err, &relayErr)
	require.Equal(t, StageSend, relayErr.Stage)
	require.Equal(t, "rehosted-1", res.RehostedID)
}

func TestBudgetAbortsRemainingRetries(t *testing.T) {
	f := &fakePlatform{resolveErrs: 99}
	p := NewPipeline(f, Options{MaxAttempts: 10, BackoffBase: 200 * time.Millisecond, Budget: 50 * time.Millisecond})

	start := time.Now()
	res := p.Run(context.Background(), testAsset())
	require.Less(t, time.Since(start), 2*time.Second)

	var relayErr *Error
	require.ErrorAs(t, res.Err, &relayErr)
	require.ErrorIs(t, res.Err, ErrBudgetExceeded)
	require.Less(t, relayErr.Attempts, 10)
}

func TestRunReturnsExactlyOneResult(t *testing.T) {
	f := &fakePlatform{downloadErr: errors.New("network down")}
	p := NewPipeline(f, fastOpts())

	done := make(chan Result, 2)
	go func() {
		done <- p.Run(context.Background(), testAsset())
	}()

	res := <-done
	require.Error(t, res.Err)
	select {
	case <-done:
		t.Fatal("Run reported more than once")
	case <-time.After(50 * time.Millisecond):
	}
}
