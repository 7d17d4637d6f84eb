package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"carewatch-backend/internal/alerts"
	"carewatch-backend/internal/evaluator"
	"carewatch-backend/internal/metrics"
	"carewatch-backend/internal/observations"
	"carewatch-backend/internal/retry"
	"carewatch-backend/internal/rules"
	"carewatch-backend/internal/security"
	"carewatch-backend/pkg/log"
)

const outcomeError = "error"

type Options struct {
	Source     observations.Source
	Rules      *RuleBook
	Manager    *alerts.Manager
	Limits     security.Limits
	Retry      retry.Policy
	Workers    int
	JobTimeout time.Duration
	Interval   time.Duration
	Location   *time.Location
	Now        func() time.Time
	Logger     log.Logger
}

// Orchestrator evaluates every active rule for every active enrollment once per cycle.
type Orchestrator struct {
	source     observations.Source
	rules      *RuleBook
	manager    *alerts.Manager
	limits     security.Limits
	policy     retry.Policy
	workers    int
	jobTimeout time.Duration
	interval   time.Duration
	location   *time.Location
	now        func() time.Time
	logger     log.Logger
}

// CycleStats summarizes one RunCycle.
type CycleStats struct {
	Enrollments int
	Failed      int
	Evaluations int
	Triggers    int
}

func NewOrchestrator(opts Options) *Orchestrator {
	o := &Orchestrator{
		source:     opts.Source,
		rules:      opts.Rules,
		manager:    opts.Manager,
		limits:     opts.Limits,
		policy:     opts.Retry,
		workers:    opts.Workers,
		jobTimeout: opts.JobTimeout,
		interval:   opts.Interval,
		location:   opts.Location,
		now:        opts.Now,
		logger:     opts.Logger,
	}
	if o.limits == (security.Limits{}) {
		o.limits = security.DefaultLimits()
	}
	if o.policy.Attempts <= 0 {
		o.policy = retry.DefaultPolicy()
	}
	if o.workers <= 0 {
		o.workers = 1
	}
	if o.jobTimeout <= 0 {
		o.jobTimeout = 20 * time.Second
	}
	if o.interval <= 0 {
		o.interval = 5 * time.Minute
	}
	if o.location == nil {
		o.location = time.UTC
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.logger == nil {
		o.logger = log.NewNop()
	}
	return o
}

// fetch is how much history one metric needs across every rule that reads it.
type fetch struct {
	since time.Time
	limit int
}

// planFetches merges the conditions of all rules into one query per metric.
// Latest-value, duration and trend conditions read back to the lookback cap.
func (o *Orchestrator) planFetches(active []rules.Rule, now time.Time) map[string]fetch {
	var capStart time.Time
	if o.limits.MaxLookback > 0 {
		capStart = now.Add(-o.limits.MaxLookback)
	}
	plan := map[string]fetch{}
	for _, rule := range active {
		for _, cond := range rule.Conditions() {
			f := fetch{since: capStart, limit: 1}
			if cond.Operator.IsTrend() || cond.Occurrences > 0 || cond.TimeWindow > 0 {
				f.limit = o.limits.MaxSampleRows
			}
			if !cond.Operator.IsTrend() && cond.TimeWindow > 0 {
				f.since = now.Add(-o.limits.ClampLookback(cond.TimeWindow))
			}
			prev, seen := plan[cond.MetricKey]
			if !seen {
				plan[cond.MetricKey] = f
				continue
			}
			if f.since.Before(prev.since) {
				prev.since = f.since
			}
			if f.limit > prev.limit {
				prev.limit = f.limit
			}
			plan[cond.MetricKey] = prev
		}
	}
	return plan
}

// RunCycle fans out over active enrollments. A failing enrollment is logged
// and counted and never stops the others.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	defer func() { metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	active := o.rules.Active()
	if len(active) == 0 {
		o.logger.Debugf(ctx, "scheduler.Orchestrator.RunCycle: no active rules")
		return CycleStats{}, nil
	}

	var enrollments []observations.Enrollment
	_, err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
		var err error
		enrollments, err = o.source.ActiveEnrollments(ctx)
		return err
	})
	if err != nil {
		return CycleStats{}, fmt.Errorf("scheduler.Orchestrator.RunCycle: list enrollments: %w", err)
	}

	now := o.now()
	plan := o.planFetches(active, now)

	var failed, evaluations, triggers atomic.Int64
	var g errgroup.Group
	g.SetLimit(o.workers)
	for _, enr := range enrollments {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			jobCtx, cancel := context.WithTimeout(ctx, o.jobTimeout)
			defer cancel()
			evaluated, triggered, err := o.evaluateEnrollment(jobCtx, enr, active, plan, now)
			evaluations.Add(int64(evaluated))
			triggers.Add(int64(triggered))
			if err != nil {
				failed.Add(1)
				metrics.EnrollmentFailures.Inc()
				o.logger.Errorf(ctx, "scheduler.Orchestrator.RunCycle: enrollment=%s: %v", enr.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	stats := CycleStats{
		Enrollments: len(enrollments),
		Failed:      int(failed.Load()),
		Evaluations: int(evaluations.Load()),
		Triggers:    int(triggers.Load()),
	}
	o.logger.Infof(ctx, "scheduler.Orchestrator.RunCycle: enrollments=%d failed=%d evaluations=%d triggers=%d",
		stats.Enrollments, stats.Failed, stats.Evaluations, stats.Triggers)
	return stats, ctx.Err()
}

func (o *Orchestrator) evaluateEnrollment(ctx context.Context, enr observations.Enrollment, active []rules.Rule, plan map[string]fetch, now time.Time) (int, int, error) {
	window := evaluator.Window{
		Now:          now,
		Location:     o.location,
		EnrolledAt:   enr.EnrolledAt,
		Observations: make(map[string][]observations.Observation, len(plan)),
	}
	var errs []error
	unavailable := map[string]bool{}
	for metric, f := range plan {
		var obs []observations.Observation
		_, err := retry.Do(ctx, o.policy, func(ctx context.Context) error {
			var err error
			obs, err = o.source.Recent(ctx, observations.Query{
				EnrollmentID: enr.ID,
				MetricKey:    metric,
				Since:        f.since,
				Limit:        f.limit,
			})
			return err
		})
		if err != nil {
			unavailable[metric] = true
			errs = append(errs, fmt.Errorf("fetch %s: %w", metric, err))
			continue
		}
		window.Observations[metric] = obs
	}

	evaluated, triggered := 0, 0
	for _, rule := range active {
		if readsAny(rule, unavailable) {
			metrics.Evaluations.WithLabelValues(outcomeError).Inc()
			continue
		}
		result := evaluator.Evaluate(rule, window)
		evaluated++
		metrics.Evaluations.WithLabelValues(string(result.Status)).Inc()

		switch {
		case result.Triggered():
			triggered++
			_, err := o.manager.HandleTrigger(ctx, rule, alerts.TriggerEvent{
				RuleID:       rule.ID,
				EnrollmentID: enr.ID,
				MetricKey:    rule.MetricKey(),
				Evidence:     result.Evidence,
				OccurredAt:   now,
				ObservedAt:   result.LatestObservedAt(),
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
			}
		case result.Conclusive():
			if err := o.manager.ObserveClear(ctx, rule, enr.ID, now); err != nil {
				errs = append(errs, fmt.Errorf("rule %s: clear: %w", rule.ID, err))
			}
		}
	}
	return evaluated, triggered, errors.Join(errs...)
}

func readsAny(rule rules.Rule, unavailable map[string]bool) bool {
	if len(unavailable) == 0 {
		return false
	}
	for _, cond := range rule.Conditions() {
		if unavailable[cond.MetricKey] {
			return true
		}
	}
	return false
}

// Run evaluates once immediately and then on every interval until ctx ends.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		if _, err := o.RunCycle(ctx); err != nil && ctx.Err() == nil {
			o.logger.Errorf(ctx, "scheduler.Orchestrator.Run: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
