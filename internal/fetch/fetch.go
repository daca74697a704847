// Package fetch downloads large artifacts over HTTPS with resume, retry,
// timeout, and corruption detection.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const maxRedirects = 10

// Restart sentinels. A 200 in reply to a Range request means the server does
// not support resume: start over without consuming a retry. A 416 means the
// partial exceeded the remote length: start over, bounded by MaxRestarts.
var (
	errRestartFresh = errors.New("server ignored range request")
	errRangeRestart = errors.New("range not satisfiable")
)

// RetryConfig controls retry behaviour with exponential backoff and jitter.
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt. Default: 5.
	MaxRetries int
	// InitialBackoff is the delay before the first retry. Default: 5s.
	InitialBackoff time.Duration
	// Multiplier scales the backoff after each retry. Default: 2.
	Multiplier float64
	// MaxBackoff caps the backoff duration. Default: 60s.
	MaxBackoff time.Duration
	// JitterFraction adds random jitter as a fraction of the delay. Default: 0.25.
	JitterFraction float64
}

// Options configures a single Fetch call.
type Options struct {
	// ExpectedSize is the remote artifact size when known. Zero disables the
	// size-based resume and corruption checks that depend on it.
	ExpectedSize int64
	// OnProgress, when set, receives throttled transfer updates.
	OnProgress func(Progress)
	// ProgressInterval throttles OnProgress. Default: 100ms.
	ProgressInterval time.Duration
	// ConnectTimeout bounds request issue to first byte. Default: 300s.
	ConnectTimeout time.Duration
	// InactivityTimeout bounds the gap between received chunks. Default: 300s.
	InactivityTimeout time.Duration
	// Retry is the backoff schedule for retryable failures.
	Retry RetryConfig
	// MaxRestarts bounds 416-triggered fresh restarts. Default: 3.
	MaxRestarts int
	// UserAgent overrides the request User-Agent.
	UserAgent string
}

func (o Options) withDefaults() Options {
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 100 * time.Millisecond
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 300 * time.Second
	}
	if o.InactivityTimeout <= 0 {
		o.InactivityTimeout = 300 * time.Second
	}
	if o.Retry.MaxRetries <= 0 {
		o.Retry.MaxRetries = 5
	}
	if o.Retry.InitialBackoff <= 0 {
		o.Retry.InitialBackoff = 5 * time.Second
	}
	if o.Retry.Multiplier <= 0 {
		o.Retry.Multiplier = 2
	}
	if o.Retry.MaxBackoff <= 0 {
		o.Retry.MaxBackoff = 60 * time.Second
	}
	if o.Retry.JitterFraction < 0 {
		o.Retry.JitterFraction = 0
	} else if o.Retry.JitterFraction == 0 {
		o.Retry.JitterFraction = 0.25
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 3
	}
	if o.UserAgent == "" {
		o.UserAgent = "addresskit/1.0"
	}
	return o
}

// Fetcher downloads one artifact per Fetch call.
type Fetcher struct {
	client *http.Client
	clock  clockwork.Clock
}

// New creates a Fetcher with a redirect-handling client and the real clock.
func New() *Fetcher {
	client := &http.Client{
		// Redirects are followed manually so Range and the other options
		// survive the hop.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Fetcher{client: client, clock: clockwork.NewRealClock()}
}

// NewWithClock creates a Fetcher with an injected client and clock for tests.
func NewWithClock(client *http.Client, clock clockwork.Clock) *Fetcher {
	return &Fetcher{client: client, clock: clock}
}

// Fetch downloads rawURL to dest, resuming a partial file when one exists.
// On failure it returns a *DownloadError carrying the terminal code, attempt
// count, retryability, and bytes transferred before failure.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dest string, opts Options) error {
	opts = opts.withDefaults()

	log := zap.L().With(
		zap.String("component", "fetch"),
		zap.String("url", rawURL),
		zap.String("dest", dest),
	)

	attempt := 0
	restarts := 0
	for {
		err := f.request(ctx, rawURL, dest, opts, attempt, 0)
		if err == nil {
			return nil
		}

		if errors.Is(err, errRestartFresh) {
			log.Info("server does not support resume, restarting from scratch")
			continue
		}
		if errors.Is(err, errRangeRestart) {
			restarts++
			if restarts > opts.MaxRestarts {
				return &DownloadError{
					Code:     "HTTP_416",
					Attempts: attempt + 1,
					Err:      eris.Errorf("fetch: %d range-not-satisfiable restarts", restarts),
				}
			}
			log.Warn("partial exceeds remote length, restarting", zap.Int("restart", restarts))
			continue
		}

		var de *DownloadError
		if !errors.As(err, &de) {
			de = newDownloadError(classify(err), 0, err)
		}
		de.Attempts = attempt + 1

		if !de.Retryable || attempt >= opts.Retry.MaxRetries {
			return de
		}

		delay := backoffDelay(attempt, opts.Retry)
		log.Warn("download attempt failed, backing off",
			zap.String("code", de.Code),
			zap.Int("attempt", de.Attempts),
			zap.Duration("backoff", delay),
			zap.Error(de.Err),
		)
		select {
		case <-ctx.Done():
			return de
		case <-f.clock.After(delay):
		}
		attempt++
	}
}

// request performs one attempt, following redirects recursively.
func (f *Fetcher) request(ctx context.Context, rawURL, dest string, opts Options, attempt, redirects int) error {
	if redirects > maxRedirects {
		return &DownloadError{Code: CodeProto, Err: eris.Errorf("fetch: more than %d redirects", maxRedirects)}
	}

	resumeFrom := f.inspectPartial(dest, opts.ExpectedSize)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return &DownloadError{Code: CodeProto, Err: eris.Wrap(err, "fetch: build request")}
	}
	req.Header.Set("User-Agent", opts.UserAgent)
	if resumeFrom > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", resumeFrom))
	}

	// The connect clock runs from request issue to response headers.
	var connectFired atomic.Bool
	connectTimer := f.clock.AfterFunc(opts.ConnectTimeout, func() {
		connectFired.Store(true)
		cancel()
	})
	resp, err := f.client.Do(req)
	connectTimer.Stop()
	if err != nil {
		if connectFired.Load() {
			return newDownloadError(CodeConnectTimeout, 0, err)
		}
		return newDownloadError(classify(err), 0, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		loc := resp.Header.Get("Location")
		if loc == "" {
			return &DownloadError{Code: CodeProto, Err: eris.Errorf("fetch: redirect %d without Location", resp.StatusCode)}
		}
		next, err := resp.Request.URL.Parse(loc)
		if err != nil {
			return &DownloadError{Code: CodeProto, Err: eris.Wrap(err, "fetch: parse redirect location")}
		}
		return f.request(ctx, next.String(), dest, opts, attempt, redirects+1)
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		// Append from the requested offset.
	case http.StatusOK:
		if resumeFrom > 0 {
			if err := os.Remove(dest); err != nil {
				return eris.Wrap(err, "fetch: remove partial")
			}
			return errRestartFresh
		}
	case http.StatusRequestedRangeNotSatisfiable:
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			return eris.Wrap(err, "fetch: remove oversized partial")
		}
		return errRangeRestart
	default:
		code, retryable := httpStatusCode(resp.StatusCode)
		return &DownloadError{
			Code:      code,
			Retryable: retryable,
			Err:       eris.Errorf("fetch: unexpected status %d from %s", resp.StatusCode, rawURL),
		}
	}

	return f.stream(cancel, resp, dest, resumeFrom, opts, attempt)
}

// inspectPartial decides the resume offset from on-disk state. A partial at
// or beyond the expected size is presumed corrupt and deleted.
func (f *Fetcher) inspectPartial(dest string, expected int64) int64 {
	info, err := os.Stat(dest)
	if err != nil || info.Size() == 0 {
		return 0
	}
	size := info.Size()
	if expected > 0 && size >= expected {
		zap.L().Warn("partial file at or beyond expected size, deleting",
			zap.String("dest", dest),
			zap.Int64("size", size),
			zap.Int64("expected", expected),
		)
		_ = os.Remove(dest)
		return 0
	}
	return size
}

// stream copies the response body to disk, enforcing the inactivity clock,
// the overflow bound, and the final size check.
func (f *Fetcher) stream(cancel context.CancelFunc, resp *http.Response, dest string, resumeFrom int64, opts Options, attempt int) error {
	var file *os.File
	var err error
	if resumeFrom > 0 {
		file, err = os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0o644)
	} else {
		if mkErr := os.MkdirAll(filepath.Dir(dest), 0o755); mkErr != nil {
			return eris.Wrap(mkErr, "fetch: create dest dir")
		}
		file, err = os.Create(dest)
	}
	if err != nil {
		return eris.Wrap(err, "fetch: open dest")
	}

	total := opts.ExpectedSize
	if total == 0 && resp.ContentLength >= 0 {
		total = resumeFrom + resp.ContentLength
	}

	var overflowAt int64
	if opts.ExpectedSize > 0 {
		overflowAt = int64(1.01 * float64(opts.ExpectedSize))
		if min := opts.ExpectedSize + 1024; min > overflowAt {
			overflowAt = min
		}
	}

	tracker := newProgressTracker(opts.OnProgress, opts.ProgressInterval, f.clock, total, resumeFrom, attempt)

	var idleFired atomic.Bool
	idle := f.clock.AfterFunc(opts.InactivityTimeout, func() {
		idleFired.Store(true)
		cancel()
	})
	defer idle.Stop()

	var session int64
	buf := make([]byte, 64<<10)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			idle.Reset(opts.InactivityTimeout)
			if _, werr := file.Write(buf[:n]); werr != nil {
				_ = file.Close()
				return eris.Wrap(werr, "fetch: write dest")
			}
			session += int64(n)
			tracker.add(n)

			if overflowAt > 0 && resumeFrom+session > overflowAt {
				_ = file.Close()
				_ = os.Remove(dest)
				return newDownloadError(CodeDataOverflow, session,
					eris.Errorf("fetch: received %d bytes, expected %d", resumeFrom+session, opts.ExpectedSize))
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = file.Close()
			if idleFired.Load() {
				return newDownloadError(CodeSocketTimeout, session, rerr)
			}
			return newDownloadError(classify(rerr), session, rerr)
		}
	}

	if resp.ContentLength >= 0 && session < resp.ContentLength {
		_ = file.Close()
		return newDownloadError(CodeConnReset, session,
			eris.Errorf("fetch: connection closed at %d of %d bytes", session, resp.ContentLength))
	}

	if err := file.Close(); err != nil {
		return eris.Wrap(err, "fetch: close dest")
	}

	if total > 0 {
		info, err := os.Stat(dest)
		if err != nil {
			return eris.Wrap(err, "fetch: stat dest")
		}
		if info.Size() != total {
			_ = os.Remove(dest)
			return newDownloadError(CodeSizeMismatch, session,
				eris.Errorf("fetch: file is %d bytes, expected %d", info.Size(), total))
		}
	}

	tracker.finish()
	return nil
}

func backoffDelay(attempt int, rc RetryConfig) time.Duration {
	delay := float64(rc.InitialBackoff) * math.Pow(rc.Multiplier, float64(attempt))
	if delay > float64(rc.MaxBackoff) {
		delay = float64(rc.MaxBackoff)
	}
	if rc.JitterFraction > 0 {
		jitterRange := delay * rc.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
