package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/social-monitor/internal/metrics"
	"github.com/JakeFAU/social-monitor/internal/monitor"
	"github.com/JakeFAU/social-monitor/internal/progress"
)

// PostMatched is the notification published for every newly persisted post.
type PostMatched struct {
	RunID    string             `json:"run_id"`
	RuleID   string             `json:"rule_id"`
	RuleName string             `json:"rule_name"`
	Post     monitor.Post       `json:"post"`
	Evidence []monitor.Evidence `json:"evidence"`
}

// dispatchState is owned by a single dispatch goroutine.
type dispatchState struct {
	runID    string
	rule     monitor.Rule
	platform monitor.Platform
	seen     map[string]struct{}
	counters monitor.Counters
	logger   *zap.Logger
}

func (o *Orchestrator) dispatch(ctx context.Context, runID string, evtID [16]byte, j job) monitor.DispatchResult {
	begin := o.clock.Now().UTC()
	res := monitor.DispatchResult{RuleID: j.rule.ID, RuleName: j.rule.Name, Platform: j.platform}
	logger := o.logger.With(
		zap.String("run_id", runID),
		zap.String("rule_id", j.rule.ID),
		zap.String("rule", j.rule.Name),
		zap.String("platform", string(j.platform)),
	)

	adapter, ok := o.adapters[j.platform]
	if !ok {
		res.Outcome = monitor.DispatchFailed
		res.ErrorKind = monitor.FetchPermanent
		res.Error = fmt.Errorf("%w: %s", monitor.ErrNoAdapter, j.platform).Error()
		logger.Warn("dispatch failed", zap.String("error_kind", string(res.ErrorKind)), zap.String("error", res.Error))
		o.finishDispatch(evtID, begin, res)
		return res
	}

	release, err := o.slots.Acquire(ctx, string(j.platform))
	if err != nil {
		res = cancelledResult(j)
		o.finishDispatch(evtID, begin, res)
		return res
	}
	defer release()
	if ctx.Err() != nil {
		res = cancelledResult(j)
		o.finishDispatch(evtID, begin, res)
		return res
	}

	metrics.IncActiveDispatches()
	defer metrics.DecActiveDispatches()

	fctx, stop := o.fetchContext(ctx)
	defer stop()

	since := o.cursors.Since(j.rule.ID, j.platform, begin, o.cfg.Lookback)
	criteria := j.rule.Criteria(since, o.cfg.MaxResults)
	state := &dispatchState{
		runID:    runID,
		rule:     j.rule,
		platform: j.platform,
		seen:     make(map[string]struct{}),
		logger:   logger,
	}

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		err = o.fetch(fctx, adapter, criteria, state)
		if ctx.Err() != nil || !o.retry.ShouldRetry(err, attempt) {
			break
		}
		logger.Warn("transient fetch failure, retrying", zap.Int("attempt", attempt), zap.Error(err))
	}
	res.Counters = state.counters

	switch {
	case err == nil:
		res.Outcome = monitor.DispatchSucceeded
		o.cursors.Advance(j.rule.ID, j.platform, begin)
	case ctx.Err() != nil || monitor.ClassifyFetchError(err) == monitor.FetchCancelled:
		res.Outcome = monitor.DispatchCancelled
		res.ErrorKind = monitor.FetchCancelled
		logger.Info("dispatch cancelled", zap.Error(err))
	default:
		res.Outcome = monitor.DispatchFailed
		res.ErrorKind = monitor.ClassifyFetchError(err)
		res.Error = err.Error()
		logger.Warn("dispatch failed",
			zap.String("error_kind", string(res.ErrorKind)),
			zap.Int("attempt", res.Attempts),
			zap.Error(err),
		)
	}
	o.finishDispatch(evtID, begin, res)
	return res
}

// fetchContext detaches adapter calls from run cancellation. A call still in
// flight when the run is cancelled gets DrainTimeout to finish; the run
// context alone decides whether a dispatch starts or retries.
func (o *Orchestrator) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stopGrace := context.AfterFunc(ctx, func() {
		t := time.NewTimer(o.cfg.DrainTimeout)
		defer t.Stop()
		select {
		case <-t.C:
			cancel()
		case <-base.Done():
		}
	})
	fctx, cancelTimeout := base, context.CancelFunc(func() {})
	if o.cfg.DispatchTimeout > 0 {
		fctx, cancelTimeout = context.WithTimeout(base, o.cfg.DispatchTimeout)
	}
	return fctx, func() {
		stopGrace()
		cancelTimeout()
		cancel()
	}
}

// fetch consumes one adapter sequence. Posts already handled by an earlier
// attempt of the same dispatch are skipped.
func (o *Orchestrator) fetch(ctx context.Context, adapter monitor.Adapter, criteria monitor.Criteria, d *dispatchState) error {
	for raw, err := range adapter.Fetch(ctx, criteria) {
		if err != nil {
			return err
		}
		if raw.Platform == "" {
			raw.Platform = d.platform
		}
		if _, dup := d.seen[raw.ExternalID]; dup {
			continue
		}
		d.seen[raw.ExternalID] = struct{}{}
		d.counters.PostsExamined++
		o.handle(ctx, d, raw)
	}
	return nil
}

// handle matches and persists one post. Store writes are detached from
// cancellation so a post that matched is never half written.
func (o *Orchestrator) handle(ctx context.Context, d *dispatchState, raw monitor.RawPost) {
	result := o.matcher.Evaluate(raw, d.rule)
	if !result.Matched {
		return
	}
	d.counters.PostsMatched++

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.DrainTimeout)
	defer cancel()

	stored, created, err := o.claim(sctx, raw)
	if err != nil {
		d.counters.StorageErrors++
		d.logger.Error("persist post failed", zap.String("external_id", raw.ExternalID), zap.Error(err))
		return
	}
	_, err = o.posts.RecordEvidence(sctx, stored.ID, d.rule.ID, result.Evidence)
	if errors.Is(err, monitor.ErrNotFound) && !created {
		// A dedup hit whose row is gone, e.g. a stale claim cache entry.
		d.logger.Warn("claimed post missing from store, claiming again",
			zap.String("external_id", raw.ExternalID),
			zap.String("post_id", stored.ID),
		)
		stored, created, err = o.claim(sctx, raw)
		if err != nil {
			d.counters.StorageErrors++
			d.logger.Error("persist post failed", zap.String("external_id", raw.ExternalID), zap.Error(err))
			return
		}
		_, err = o.posts.RecordEvidence(sctx, stored.ID, d.rule.ID, result.Evidence)
	}
	if created {
		d.counters.PostsPersisted++
	} else {
		d.counters.PostsDeduplicated++
	}
	if err != nil {
		d.counters.StorageErrors++
		d.logger.Error("record evidence failed",
			zap.String("external_id", raw.ExternalID),
			zap.String("post_id", stored.ID),
			zap.Error(err),
		)
	}
	if created {
		o.notify(sctx, d, stored, result.Evidence)
	}
}

func (o *Orchestrator) claim(ctx context.Context, raw monitor.RawPost) (monitor.Post, bool, error) {
	id, err := o.ids.NewID()
	if err != nil {
		return monitor.Post{}, false, fmt.Errorf("%w: allocate post id: %w", monitor.ErrStorage, err)
	}
	post := monitor.NewPost(id, raw, o.clock.Now().UTC())
	stored, created, err := o.posts.Claim(ctx, post)
	if errors.Is(err, monitor.ErrDedupConflict) {
		// Lost a create race; the second claim finds the winner.
		stored, created, err = o.posts.Claim(ctx, post)
	}
	if err != nil {
		return monitor.Post{}, false, err
	}
	return stored, created, nil
}

func (o *Orchestrator) notify(ctx context.Context, d *dispatchState, post monitor.Post, evidence []monitor.Evidence) {
	if o.publisher == nil {
		return
	}
	msgID, err := o.publisher.Publish(ctx, o.cfg.NotifyTopic, PostMatched{
		RunID:    d.runID,
		RuleID:   d.rule.ID,
		RuleName: d.rule.Name,
		Post:     post,
		Evidence: evidence,
	})
	if err != nil {
		d.logger.Warn("publish post notification failed", zap.String("post_id", post.ID), zap.Error(err))
		return
	}
	d.logger.Debug("post notification published", zap.String("post_id", post.ID), zap.String("message_id", msgID))
}

func (o *Orchestrator) finishDispatch(evtID [16]byte, begin time.Time, res monitor.DispatchResult) {
	metrics.ObserveDispatch(string(res.Platform), string(res.Outcome))
	observePosts(res.Platform, res.Counters)
	stage := progress.StageDispatchDone
	if res.Outcome == monitor.DispatchFailed {
		stage = progress.StageDispatchError
	}
	now := o.clock.Now().UTC()
	o.emit(progress.Event{
		RunID:    evtID,
		TS:       now,
		Stage:    stage,
		Platform: string(res.Platform),
		RuleID:   res.RuleID,
		Outcome:  string(res.Outcome),
		Counts:   toCounts(res.Counters),
		Dur:      max(now.Sub(begin), 0),
		Note:     res.Error,
	})
}
