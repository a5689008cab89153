package github

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	gh "github.com/google/go-github/v57/github"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/user/gitwatch/internal/event"
	"github.com/user/gitwatch/internal/notifier"
	"github.com/user/gitwatch/internal/storage"
	"github.com/user/gitwatch/pkg/httputil"
	"github.com/user/gitwatch/pkg/logger"
)

const leaseName = "poll-cycle"

// writeTimeout bounds store writes that must outlive a cancelled cycle.
const writeTimeout = 5 * time.Second

// EventFetcher returns the recent activity of a repository.
type EventFetcher interface {
	FetchRecentEvents(ctx context.Context, token, owner, repo string) ([]*gh.Event, error)
}

// PollStore is the persistence used by the scheduler.
type PollStore interface {
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) error
	DuePollingTargets(ctx context.Context, limit int) ([]storage.Target, error)
	AdvanceLastPolled(ctx context.Context, id int64, at time.Time) error
}

// PollerConfig tunes the scheduler.
type PollerConfig struct {
	Interval        time.Duration // 0 disables the in-process ticker
	MaxPerCycle     int
	BatchSize       int
	DefaultLookback time.Duration
	CycleTimeout    time.Duration
	LeaseTTL        time.Duration
}

// CycleResult is the summary returned by one poll cycle.
type CycleResult struct {
	Success          bool  `json:"success"`
	Locked           bool  `json:"locked,omitempty"`
	Checked          int64 `json:"checked"`
	Notifications    int64 `json:"notifications"`
	Errors           int64 `json:"errors"`
	Skipped          int64 `json:"skipped"`
	TotalRepos       int   `json:"totalRepos"`
	ProcessingTimeMs int64 `json:"processingTimeMs"`
}

type cycleCounters struct {
	checked       atomic.Int64
	notifications atomic.Int64
	errors        atomic.Int64
	skipped       atomic.Int64
}

// Poller reconciles polling-mode subscriptions against the repository event
// feed. A cycle is started by the HTTP trigger or by the optional ticker.
type Poller struct {
	fetcher  EventFetcher
	store    PollStore
	notifier Dispatcher
	cfg      PollerConfig
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPoller creates a new repository poller.
func NewPoller(fetcher EventFetcher, store PollStore, n Dispatcher, cfg PollerConfig) *Poller {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxPerCycle <= 0 {
		cfg.MaxPerCycle = 100
	}
	if cfg.DefaultLookback <= 0 {
		cfg.DefaultLookback = 10 * time.Minute
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 55 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		fetcher:  fetcher,
		store:    store,
		notifier: n,
		cfg:      cfg,
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RunCycle runs one poll cycle under the cycle lease. When another cycle holds
// the lease the result is marked Locked and nothing is processed. When the
// cycle deadline passes, batches not yet started are skipped and the partial
// counters are returned.
func (p *Poller) RunCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CycleTimeout)
	defer cancel()

	holder := uuid.NewString()
	acquired, err := p.store.AcquireLease(ctx, leaseName, holder, p.cfg.LeaseTTL, p.now())
	if err != nil {
		recordCycle("failed", 0)
		return CycleResult{}, fmt.Errorf("acquire poll lease: %w", err)
	}
	if !acquired {
		logger.Info().Msg("Poll cycle already running elsewhere, skipping")
		recordCycle("locked", 0)
		return CycleResult{Success: true, Locked: true}, nil
	}
	defer p.releaseLease(ctx, holder)

	targets, err := p.store.DuePollingTargets(ctx, p.cfg.MaxPerCycle)
	if err != nil {
		recordCycle("failed", 0)
		return CycleResult{}, fmt.Errorf("load polling subscriptions: %w", err)
	}

	var c cycleCounters
	for i := 0; i < len(targets); i += p.cfg.BatchSize {
		if ctx.Err() != nil {
			logger.Warn().
				Int("remaining", len(targets)-i).
				Msg("Poll cycle deadline reached, leaving remaining subscriptions for the next cycle")
			break
		}
		p.runBatch(ctx, targets[i:min(i+p.cfg.BatchSize, len(targets))], &c)
	}

	elapsed := time.Since(start)
	result := CycleResult{
		Success:          true,
		Checked:          c.checked.Load(),
		Notifications:    c.notifications.Load(),
		Errors:           c.errors.Load(),
		Skipped:          c.skipped.Load(),
		TotalRepos:       len(targets),
		ProcessingTimeMs: elapsed.Milliseconds(),
	}
	recordCycle("completed", elapsed)

	logger.Info().
		Int("total", result.TotalRepos).
		Int64("checked", result.Checked).
		Int64("notifications", result.Notifications).
		Int64("errors", result.Errors).
		Int64("skipped", result.Skipped).
		Dur("elapsed", elapsed).
		Msg("Poll cycle complete")
	return result, nil
}

// runBatch polls every target of one batch concurrently and waits for all of
// them.
func (p *Poller) runBatch(ctx context.Context, batch []storage.Target, c *cycleCounters) {
	var g errgroup.Group
	g.SetLimit(p.cfg.BatchSize)
	for _, t := range batch {
		g.Go(func() error {
			p.pollOne(ctx, t, c)
			return nil
		})
	}
	_ = g.Wait()
}

// pollOne processes one subscription. Failures are counted, never returned.
func (p *Poller) pollOne(ctx context.Context, t storage.Target, c *cycleCounters) {
	log := logger.WithField("repo", t.FullName())
	now := p.now()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Int64("subscription_id", t.ID).Msg("Panic while polling subscription")
			c.errors.Add(1)
			recordRepo("error")
		}
	}()
	// The watermark moves even when the fetch fails or nothing is found.
	defer p.advance(ctx, t.ID, now)

	if !t.GitHubToken.Valid || t.GitHubToken.String == "" {
		log.Debug().Int64("subscription_id", t.ID).Msg("Skipping subscription without GitHub token")
		c.skipped.Add(1)
		recordRepo("skipped")
		return
	}

	since := now.Add(-p.cfg.DefaultLookback)
	if t.LastPolled.Valid {
		since = t.LastPolled.Time
	}

	events, err := p.fetcher.FetchRecentEvents(ctx, t.GitHubToken.String, t.Owner, t.Repo)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch repository events")
		c.errors.Add(1)
		recordRepo("error")
		return
	}
	c.checked.Add(1)
	recordRepo("checked")

	fresh := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if !e.GetCreatedAt().Time.After(since) {
			continue
		}
		ev, err := NormalizeFeedEvent(t.Owner, t.Repo, e)
		if err != nil {
			log.Debug().Err(err).Str("type", e.GetType()).Msg("Skipping undecodable event")
			continue
		}
		if ev != nil {
			fresh = append(fresh, ev)
		}
	}

	// The feed is newest first; deliver in the order things happened.
	slices.SortStableFunc(fresh, func(a, b *event.Event) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	r := recipientOf(t)
	for _, ev := range fresh {
		if p.notifier.Notify(ctx, r, ev) == notifier.Delivered {
			c.notifications.Add(1)
		}
	}

	log.Debug().Int("fetched", len(events)).Int("new", len(fresh)).Msg("Polled repository")
}

func (p *Poller) advance(ctx context.Context, id int64, at time.Time) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := p.store.AdvanceLastPolled(ctx, id, at); err != nil {
		logger.Error().Err(err).Int64("subscription_id", id).Msg("Failed to advance last_polled")
	}
}

func (p *Poller) releaseLease(ctx context.Context, holder string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if err := p.store.ReleaseLease(ctx, leaseName, holder); err != nil {
		logger.Warn().Err(err).Msg("Failed to release poll lease")
	}
}

// Start begins the in-process polling loop when an interval is configured.
func (p *Poller) Start() {
	if p.cfg.Interval <= 0 {
		logger.Info().Msg("In-process polling disabled, waiting for external trigger")
		return
	}
	p.wg.Add(1)
	go p.pollLoop()
	logger.Info().Dur("interval", p.cfg.Interval).Msg("Poller started")
}

// Stop gracefully stops the poller.
func (p *Poller) Stop() {
	logger.Info().Msg("Stopping poller")
	p.cancel()
	p.wg.Wait()
}

func (p *Poller) pollLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.RunCycle(p.ctx); err != nil {
				logger.Error().Err(err).Msg("Poll cycle failed")
			}
		}
	}
}

// TriggerHandler runs one cycle per authorized request. The caller must send
// "Authorization: Bearer <secret>".
func (p *Poller) TriggerHandler(secret string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if secret == "" {
			logger.Error().Msg("Cron secret is not configured")
			httputil.Error(w, http.StatusInternalServerError, "Cron secret not configured")
			return
		}
		if !bearerMatches(r.Header.Get("Authorization"), secret) {
			httputil.Error(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		// The trigger caller may hang up early; the cycle has its own deadline.
		result, err := p.RunCycle(context.WithoutCancel(r.Context()))
		if err != nil {
			logger.Error().Err(err).Msg("Poll cycle failed")
			httputil.Error(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		httputil.JSON(w, http.StatusOK, result)
	})
}

func bearerMatches(header, secret string) bool {
	return subtle.ConstantTimeCompare([]byte(header), []byte("Bearer "+secret)) == 1
}
