package fetch

import (
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

// Progress is a snapshot of an in-flight download, emitted at most once per
// progress interval.
type Progress struct {
	BytesDownloaded int64
	TotalBytes      int64
	BytesPerSecond  float64
	ETASeconds      float64
	Percent         float64
	Resuming        bool
	ResumedFrom     int64
	Attempt         int
}

// progressTracker throttles progress callbacks and computes the per-interval
// transfer rate.
type progressTracker struct {
	cb       func(Progress)
	limiter  *rate.Limiter
	clock    clockwork.Clock
	total    int64
	resumed  int64
	attempt  int
	current  int64
	lastAt   time.Time
	lastSent int64
}

func newProgressTracker(cb func(Progress), interval time.Duration, clock clockwork.Clock, total, resumedFrom int64, attempt int) *progressTracker {
	if cb == nil {
		return nil
	}
	return &progressTracker{
		cb:       cb,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
		clock:    clock,
		total:    total,
		resumed:  resumedFrom,
		attempt:  attempt,
		current:  resumedFrom,
		lastAt:   clock.Now(),
		lastSent: resumedFrom,
	}
}

// add records n freshly-written bytes and emits a throttled update.
func (p *progressTracker) add(n int) {
	if p == nil {
		return
	}
	p.current += int64(n)
	// The limiter is fed the injected clock's time so throttling is
	// deterministic under a fake clock.
	if !p.limiter.AllowN(p.clock.Now(), 1) {
		return
	}
	p.emit()
}

// finish emits one final unthrottled update so callers always observe 100%.
func (p *progressTracker) finish() {
	if p == nil {
		return
	}
	p.emit()
}

func (p *progressTracker) emit() {
	now := p.clock.Now()
	elapsed := now.Sub(p.lastAt).Seconds()

	var perSec float64
	if elapsed > 0 {
		perSec = float64(p.current-p.lastSent) / elapsed
	}

	var eta, percent float64
	if p.total > 0 {
		percent = float64(p.current) / float64(p.total) * 100
		if perSec > 0 {
			eta = float64(p.total-p.current) / perSec
		}
	}

	p.cb(Progress{
		BytesDownloaded: p.current,
		TotalBytes:      p.total,
		BytesPerSecond:  perSec,
		ETASeconds:      eta,
		Percent:         percent,
		Resuming:        p.resumed > 0,
		ResumedFrom:     p.resumed,
		Attempt:         p.attempt,
	})

	p.lastAt = now
	p.lastSent = p.current
}
