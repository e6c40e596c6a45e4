// Package orchestrator runs crawl passes: it loads the active rules, fans
// one dispatch per (rule, platform) out to the platform adapters, feeds the
// fetched posts through the matcher into the dedup store and folds the
// dispatch outcomes into a monitor.RunResult.
//
// Platform failures never abort a run. They are recorded on the result and
// the remaining dispatches carry on. Only a rule store failure or a rule that
// cannot be dispatched is returned as an error.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/social-monitor/internal/archive"
	"github.com/JakeFAU/social-monitor/internal/matcher"
	"github.com/JakeFAU/social-monitor/internal/metrics"
	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/policy/ratelimit"
	"github.com/JakeFAU/social-monitor/internal/progress"
	"github.com/JakeFAU/social-monitor/internal/store"
)

// TopicPostMatched is the default topic new posts are announced on.
const TopicPostMatched = "post.matched"

const (
	defaultConcurrency  = 8
	defaultMaxResults   = 100
	defaultDrainTimeout = 10 * time.Second
)

// Config tunes a crawl pass.
type Config struct {
	// Concurrency bounds the number of dispatches in flight across platforms.
	Concurrency int
	// DispatchTimeout bounds one dispatch, retries included. Zero disables it.
	DispatchTimeout time.Duration
	// MaxResults is handed to adapters as the per-dispatch result cap.
	MaxResults int
	// Lookback is the fetch window for a (rule, platform) with no cursor yet.
	Lookback time.Duration
	// TransientRetries is the number of immediate retries after a transient failure.
	TransientRetries int
	// DrainTimeout bounds adapter calls, store writes and archiving that
	// outlive a cancelled run.
	DrainTimeout time.Duration
	// NotifyTopic is the publish topic for newly persisted posts.
	NotifyTopic string
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxResults <= 0 {
		c.MaxResults = defaultMaxResults
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = defaultDrainTimeout
	}
	if c.NotifyTopic == "" {
		c.NotifyTopic = TopicPostMatched
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Rules, Posts, Clock and
// IDs are required; the rest are optional.
type Deps struct {
	Rules     monitor.RuleStore
	Posts     monitor.DedupStore
	Adapters  []monitor.Adapter
	Matcher   *matcher.Matcher
	Slots     *ratelimit.Slots
	Clock     monitor.Clock
	IDs       monitor.IDGenerator
	Publisher monitor.Publisher
	Archiver  *archive.Archiver
	Progress  progress.Emitter
	Logger    *zap.Logger
}

// Orchestrator executes crawl runs. It is safe for concurrent use, although
// callers normally serialize runs.
type Orchestrator struct {
	cfg       Config
	rules     monitor.RuleStore
	posts     monitor.DedupStore
	adapters  map[monitor.Platform]monitor.Adapter
	matcher   *matcher.Matcher
	slots     *ratelimit.Slots
	clock     monitor.Clock
	ids       monitor.IDGenerator
	publisher monitor.Publisher
	archiver  *archive.Archiver
	progress  progress.Emitter
	retry     RetryPolicy
	cursors   *Cursors
	logger    *zap.Logger
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Rules == nil:
		return nil, errors.New("orchestrator: rule store is required")
	case deps.Posts == nil:
		return nil, errors.New("orchestrator: post store is required")
	case deps.Clock == nil:
		return nil, errors.New("orchestrator: clock is required")
	case deps.IDs == nil:
		return nil, errors.New("orchestrator: id generator is required")
	}
	cfg = cfg.withDefaults()
	adapters := make(map[monitor.Platform]monitor.Adapter, len(deps.Adapters))
	for _, a := range deps.Adapters {
		if a == nil {
			continue
		}
		if _, dup := adapters[a.Platform()]; dup {
			return nil, fmt.Errorf("orchestrator: duplicate adapter for %s", a.Platform())
		}
		adapters[a.Platform()] = a
	}
	m := deps.Matcher
	if m == nil {
		m = matcher.New()
	}
	slots := deps.Slots
	if slots == nil {
		slots = ratelimit.NewSlots(cfg.Concurrency, nil)
	}
	var emitter progress.Emitter = progress.NopEmitter{}
	if deps.Progress != nil {
		emitter = deps.Progress
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:       cfg,
		rules:     deps.Rules,
		posts:     deps.Posts,
		adapters:  adapters,
		matcher:   m,
		slots:     slots,
		clock:     deps.Clock,
		ids:       deps.IDs,
		publisher: deps.Publisher,
		archiver:  deps.Archiver,
		progress:  emitter,
		retry:     NewRetryPolicy(cfg.TransientRetries),
		cursors:   NewCursors(),
		logger:    logger,
	}, nil
}

// job is one (rule, platform) dispatch, indexed by its position in the run.
type job struct {
	index    int
	rule     monitor.Rule
	platform monitor.Platform
}

// CrawlAll executes one crawl pass. Partial failures and cancellation are
// reported on the result; the error is non-nil only when the run could not
// be planned at all.
func (o *Orchestrator) CrawlAll(ctx context.Context) (monitor.RunResult, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return monitor.RunResult{}, fmt.Errorf("allocate run id: %w", err)
	}
	started := o.clock.Now().UTC()
	res := monitor.RunResult{RunID: runID, StartedAt: started}
	evtID, err := progress.ParseRunID(runID)
	if err != nil {
		return res, fmt.Errorf("run id: %w", err)
	}
	logger := o.logger.With(zap.String("run_id", runID))
	logger.Info("crawl run started")
	o.emit(progress.Event{RunID: evtID, Stage: progress.StageRunStart})

	jobs, err := o.plan(ctx)
	if err != nil {
		res.FinishedAt = o.clock.Now().UTC()
		logger.Error("crawl run aborted", zap.Error(err))
		o.emit(progress.Event{
			RunID:   evtID,
			Stage:   progress.StageRunError,
			Outcome: string(store.RunError),
			Dur:     res.FinishedAt.Sub(started),
			Note:    err.Error(),
		})
		return res, err
	}

	results := make([]monitor.DispatchResult, len(jobs))
	var g errgroup.Group
	g.SetLimit(o.cfg.Concurrency)
	for _, j := range jobs {
		if ctx.Err() != nil {
			results[j.index] = cancelledResult(j)
			continue
		}
		g.Go(func() error {
			results[j.index] = o.dispatch(ctx, runID, evtID, j)
			return nil
		})
	}
	_ = g.Wait()

	summary := monitor.Summarize(results)
	summary.RunID = runID
	summary.StartedAt = started
	summary.FinishedAt = o.clock.Now().UTC()

	status := runStatus(summary)
	logger.Info("crawl run finished",
		zap.String("status", string(status)),
		zap.Int("dispatches", len(results)),
		zap.Int("errors", len(summary.Errors)),
		zap.Int("posts_persisted", summary.Totals.PostsPersisted),
		zap.Int("posts_deduplicated", summary.Totals.PostsDeduplicated),
		zap.Duration("dur", summary.FinishedAt.Sub(started)),
	)
	o.emit(progress.Event{
		RunID:   evtID,
		Stage:   progress.StageRunDone,
		Outcome: string(status),
		Counts:  toCounts(summary.Totals),
		Dur:     summary.FinishedAt.Sub(started),
	})
	o.archive(ctx, logger, summary)
	return summary, nil
}

// plan loads the active rules and expands them into dispatch jobs in rule
// order. Every rule is checked before anything is dispatched.
func (o *Orchestrator) plan(ctx context.Context) ([]job, error) {
	rules, err := o.rules.ListActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active rules: %w", err)
	}
	var jobs []job
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if err := rule.Dispatchable(); err != nil {
			return nil, err
		}
		seen := make(map[monitor.Platform]struct{}, len(rule.Platforms))
		for _, p := range rule.Platforms {
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			jobs = append(jobs, job{index: len(jobs), rule: rule, platform: p})
		}
	}
	return jobs, nil
}

func (o *Orchestrator) archive(ctx context.Context, logger *zap.Logger, res monitor.RunResult) {
	if o.archiver == nil {
		return
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DrainTimeout)
	defer cancel()
	uri, err := o.archiver.Write(actx, res)
	if err != nil {
		logger.Warn("archive run result failed", zap.Error(err))
		return
	}
	logger.Debug("run result archived", zap.String("uri", uri))
}

func (o *Orchestrator) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = o.clock.Now().UTC()
	}
	o.progress.Emit(evt)
}

func runStatus(res monitor.RunResult) store.RunStatus {
	switch {
	case res.Cancelled:
		return store.RunCancelled
	case len(res.Errors) > 0:
		return store.RunPartial
	default:
		return store.RunOK
	}
}

func cancelledResult(j job) monitor.DispatchResult {
	return monitor.DispatchResult{
		RuleID:    j.rule.ID,
		RuleName:  j.rule.Name,
		Platform:  j.platform,
		Outcome:   monitor.DispatchCancelled,
		ErrorKind: monitor.FetchCancelled,
	}
}

func toCounts(c monitor.Counters) progress.Counts {
	return progress.Counts{
		Examined:      int64(c.PostsExamined),
		Matched:       int64(c.PostsMatched),
		Persisted:     int64(c.PostsPersisted),
		Deduplicated:  int64(c.PostsDeduplicated),
		StorageErrors: int64(c.StorageErrors),
	}
}

func observePosts(platform monitor.Platform, c monitor.Counters) {
	p := string(platform)
	metrics.ObservePosts(p, "examined", c.PostsExamined)
	metrics.ObservePosts(p, "matched", c.PostsMatched)
	metrics.ObservePosts(p, "persisted", c.PostsPersisted)
	metrics.ObservePosts(p, "deduplicated", c.PostsDeduplicated)
	metrics.ObservePosts(p, "storage_error", c.StorageErrors)
}
