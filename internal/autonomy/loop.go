// Package autonomy runs the goal polling daemon.
//
// Every tick the loop loads the declared goals, measures each target
// metric, and for every goal that misses its target runs the associated
// directive through the dispatcher. One goal's failure never stops the
// loop or the other goals.
package autonomy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/opsloop/internal/directive"
	"github.com/fyrsmithlabs/opsloop/internal/logging"
)

// DefaultInterval is the time between ticks.
const DefaultInterval = 5 * time.Minute

// Runner is the dispatcher surface the loop drives.
type Runner interface {
	Plan(ctx context.Context, text string) (*directive.Plan, error)
	Critique(ctx context.Context, plan *directive.Plan, text string) (*directive.Critique, error)
	Execute(ctx context.Context, plan *directive.Plan, opts directive.ExecuteOptions) (*directive.Result, error)
}

// Config configures a Loop.
type Config struct {
	Interval  time.Duration
	GoalsFile string
	// Live executes directives; otherwise they run dry.
	Live bool
	// Watch triggers an early tick when the goals file changes.
	Watch bool
}

// Goal actions reported per tick.
const (
	ActionNone     = "none"
	ActionRejected = "rejected"
	ActionExecuted = "executed"
	ActionFailed   = "failed"
	ActionDisabled = "disabled"
)

// GoalReport is the outcome of one goal in one tick.
type GoalReport struct {
	Goal     Goal
	Value    float64
	Source   string
	Gap      bool
	Action   string
	Issues   []string
	Artifact string
	Err      error
}

// TickReport is the outcome of one tick.
type TickReport struct {
	Tick  int64
	At    time.Time
	Goals []GoalReport
	Err   error
}

// Loop is the autonomy daemon.
type Loop struct {
	cfg     Config
	runner  Runner
	metrics *Evaluator
	logger  *logging.Logger
	ticks   atomic.Int64
	now     func() time.Time

	// onTick observes completed ticks; used by tests.
	onTick func(TickReport)
}

// NewLoop creates a loop. A zero interval selects DefaultInterval.
func NewLoop(cfg Config, runner Runner, metrics *Evaluator, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if metrics == nil {
		metrics = NewEvaluator(logger)
	}
	return &Loop{
		cfg:     cfg,
		runner:  runner,
		metrics: metrics,
		logger:  logging.Wrap(logger),
		now:     time.Now,
	}
}

// Ticks returns the number of completed ticks.
func (l *Loop) Ticks() int64 {
	return l.ticks.Load()
}

// Run ticks immediately and then every interval until ctx is done. A
// tick in progress completes before Run returns.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info(ctx, "autonomy loop started",
		zap.Duration("interval", l.cfg.Interval),
		zap.Bool("live", l.cfg.Live),
		zap.String("goals_file", l.cfg.GoalsFile))
	defer func() {
		l.logger.Info(ctx, "autonomy loop stopped", zap.Int64("ticks", l.Ticks()))
	}()

	trigger := make(chan struct{}, 1)
	var wg sync.WaitGroup
	if l.cfg.Watch && l.cfg.GoalsFile != "" {
		watcher, err := l.watchGoals(ctx, trigger, &wg)
		if err != nil {
			l.logger.Warn(ctx, "goals file watch disabled", zap.Error(err))
		} else {
			defer func() {
				_ = watcher.Close()
				wg.Wait()
			}()
		}
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.tick(ctx)
		case <-trigger:
			l.logger.Info(ctx, "goals file changed, running early tick")
			l.tick(ctx)
			ticker.Reset(l.cfg.Interval)
		}
	}
}

// Tick runs one evaluation pass. It never returns an error; failures are
// carried in the report.
func (l *Loop) Tick(ctx context.Context) TickReport {
	// In-flight executions are not preempted by shutdown.
	ctx = context.WithoutCancel(ctx)

	n := l.ticks.Add(1)
	ctx = logging.WithRequestID(ctx, fmt.Sprintf("tick-%d", n))
	report := TickReport{Tick: n, At: l.now()}
	TicksTotal.Inc()
	LastTick.SetToCurrentTime()

	mode := directive.ModeDryRun
	if l.cfg.Live {
		mode = directive.ModeLive
	}
	l.logger.Info(ctx, "autonomy heartbeat",
		zap.Int64("tick", n),
		zap.String("mode", mode),
		zap.Time("at", report.At))

	goals, err := LoadGoals(l.cfg.GoalsFile)
	if err != nil {
		report.Err = err
		if errors.Is(err, os.ErrNotExist) {
			l.logger.Info(ctx, "no goals file, nothing to evaluate", zap.String("goals_file", l.cfg.GoalsFile))
		} else {
			l.logger.Error(ctx, "loading goals failed", zap.Error(err))
		}
		return report
	}

	for _, g := range goals {
		report.Goals = append(report.Goals, l.evaluate(ctx, g))
	}
	return report
}

func (l *Loop) tick(ctx context.Context) {
	report := l.Tick(ctx)
	if l.onTick != nil {
		l.onTick(report)
	}
}

// evaluate handles one goal, recovering from panics.
func (l *Loop) evaluate(ctx context.Context, g Goal) (rep GoalReport) {
	rep = GoalReport{Goal: g, Action: ActionNone}
	defer func() {
		if r := recover(); r != nil {
			rep.Action = ActionFailed
			rep.Err = fmt.Errorf("goal %s panicked: %v", g.Name(), r)
			l.logger.Error(ctx, "goal evaluation panicked, continuing",
				zap.String("goal", g.Name()),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
		GoalActions.WithLabelValues(rep.Action).Inc()
	}()

	if !g.IsEnabled() {
		rep.Action = ActionDisabled
		return rep
	}
	if err := g.Validate(); err != nil {
		rep.Action = ActionFailed
		rep.Err = fmt.Errorf("invalid goal %s: %w", g.Name(), err)
		l.logger.Error(ctx, "skipping invalid goal", zap.String("goal", g.Name()), zap.Error(err))
		return rep
	}

	rep.Value, rep.Source = l.metrics.Value(ctx, g.TargetMetric)
	rep.Gap = g.Gap(rep.Value)
	log := l.logger.With(
		zap.String("goal", g.Name()),
		zap.String("metric", g.TargetMetric),
		zap.Float64("value", rep.Value),
		zap.Float64("target", g.TargetValue),
		zap.String("operator", string(g.Operator)))
	if !rep.Gap {
		log.Debug(ctx, "goal met")
		return rep
	}
	GoalGaps.WithLabelValues(g.Name()).Inc()
	log.Info(ctx, "goal gap detected", zap.String("directive", g.AssociatedDirective))

	plan, err := l.runner.Plan(ctx, g.AssociatedDirective)
	if err != nil {
		rep.Action, rep.Err = ActionFailed, err
		log.Error(ctx, "planning directive failed", zap.Error(err))
		return rep
	}
	crit, err := l.runner.Critique(ctx, plan, g.AssociatedDirective)
	if err != nil {
		rep.Action, rep.Err = ActionFailed, err
		log.Error(ctx, "critiquing plan failed", zap.Error(err))
		return rep
	}
	if !crit.Valid {
		rep.Action, rep.Issues = ActionRejected, crit.Issues
		log.Warn(ctx, "plan rejected, skipping goal this tick", zap.Strings("issues", crit.Issues))
		return rep
	}

	res, err := l.runner.Execute(ctx, plan, directive.ExecuteOptions{Live: l.cfg.Live})
	if res != nil {
		rep.Artifact = res.ArtifactPath
	}
	if err != nil || res == nil || !res.Success {
		rep.Action, rep.Err = ActionFailed, err
		if err == nil && res != nil {
			rep.Err = errors.New(res.Error)
		}
		log.Error(ctx, "directive execution failed", zap.Error(rep.Err))
		return rep
	}
	rep.Action = ActionExecuted
	log.Info(ctx, "directive executed", zap.String("tool", plan.Tool.ID), zap.String("artifact", rep.Artifact))
	return rep
}

// watchGoals watches the goals file's directory so that atomic replaces
// are seen, and signals trigger on changes to the file.
func (l *Loop) watchGoals(ctx context.Context, trigger chan<- struct{}, wg *sync.WaitGroup) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(l.cfg.GoalsFile)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}
	target := filepath.Clean(l.cfg.GoalsFile)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
					continue
				}
				select {
				case trigger <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn(ctx, "goals watcher error", zap.Error(err))
			}
		}
	}()
	return watcher, nil
}
