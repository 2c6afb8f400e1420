// Package directive turns free-text directives into executed automation
// runs.
//
// A run moves through three independently callable phases: Plan selects
// a tool and extracts parameters, Critique checks the plan against hard
// rules, and Execute runs the tool script (or records the command in dry
// run mode). Every execution is persisted as an artifact.
package directive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/opsloop/internal/fsutil"
	"github.com/fyrsmithlabs/opsloop/internal/logging"
	"github.com/fyrsmithlabs/opsloop/internal/sanitize"
	"github.com/fyrsmithlabs/opsloop/internal/selfheal"
	"github.com/fyrsmithlabs/opsloop/internal/session"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/opsloop/internal/directive"

	// AgentName is the history agent used for dispatcher events.
	AgentName = "dispatcher"
	// EventExecuted is the session event logged after every execution.
	EventExecuted = "directive_executed"
	// DefaultSessionID receives events of runs not tied to a conversation.
	DefaultSessionID = "autonomy"

	ModeDryRun = "dry_run"
	ModeLive   = "live"

	// SandboxEnv is set to 1 in the environment of every live run.
	SandboxEnv = "OPSLOOP_SANDBOX"

	maxOutputBytes = 64 * 1024
	artifactStamp  = "20060102T150405.000000000Z"
)

// SessionLogger receives execution events.
type SessionLogger interface {
	LogEvent(ctx context.Context, id, agent, event string, details map[string]any) (*session.ContextRecord, error)
}

// EventRecorder receives failure events for rule analysis.
type EventRecorder interface {
	Record(ctx context.Context, ev selfheal.Event) error
}

// Redactor scrubs credentials from script output before it is stored.
type Redactor interface {
	Redact(s string) string
}

// Config configures a Dispatcher.
type Config struct {
	Tools []Tool
	// Scorer defaults to KeywordScorer.
	Scorer Scorer
	// ScriptDirs are tried in order when resolving a tool script.
	ScriptDirs   []string
	ArtifactsDir string
	Timeout      time.Duration
	// RatePerMinute bounds executions; zero disables the limit.
	RatePerMinute int
	Sessions      SessionLogger
	Events        EventRecorder
	Redactor      Redactor
}

// Plan is a tool selection with its parameters.
type Plan struct {
	ID        string            `json:"id"`
	Directive string            `json:"directive"`
	Tool      Tool              `json:"tool"`
	Score     int               `json:"score"`
	Params    map[string]string `json:"params"`
	CreatedAt time.Time         `json:"created_at"`
}

// Critique is the verdict on a plan.
type Critique struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// ExecuteOptions controls one execution.
type ExecuteOptions struct {
	Live      bool
	SessionID string
}

func (o ExecuteOptions) sessionID() string {
	if o.SessionID == "" {
		return DefaultSessionID
	}
	return o.SessionID
}

// Result describes one execution.
type Result struct {
	Mode         string    `json:"mode"`
	Command      []string  `json:"command,omitempty"`
	ScriptPath   string    `json:"script_path,omitempty"`
	Success      bool      `json:"success"`
	ExitCode     int       `json:"exit_code"`
	Output       string    `json:"output,omitempty"`
	Error        string    `json:"error,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	ArtifactPath string    `json:"artifact_path,omitempty"`
}

// Outcome is the result of Run.
type Outcome struct {
	Plan     *Plan     `json:"plan"`
	Critique *Critique `json:"critique"`
	Result   *Result   `json:"result,omitempty"`
}

// Executed reports whether the plan passed critique and was executed.
func (o *Outcome) Executed() bool {
	return o != nil && o.Result != nil
}

type artifact struct {
	SessionID string  `json:"session_id"`
	Plan      *Plan   `json:"plan"`
	Result    *Result `json:"result"`
}

// Dispatcher runs directives.
type Dispatcher struct {
	cfg     Config
	scorer  Scorer
	limiter *rate.Limiter
	logger  *logging.Logger
	tracer  trace.Tracer
	now     func() time.Time
}

// NewDispatcher creates a dispatcher. A nil tool list selects
// DefaultTools.
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Tools) == 0 {
		cfg.Tools = DefaultTools()
	}
	scorer := cfg.Scorer
	if scorer == nil {
		scorer = KeywordScorer{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), cfg.RatePerMinute)
	}
	return &Dispatcher{
		cfg:     cfg,
		scorer:  scorer,
		limiter: limiter,
		logger:  logging.Wrap(logger),
		tracer:  otel.Tracer(instrumentationName),
		now:     time.Now,
	}
}

// Tools returns the registry.
func (d *Dispatcher) Tools() []Tool {
	return d.cfg.Tools
}

// Plan selects the best-scoring tool for directive and extracts its
// parameters. Ties go to the earlier tool in the registry.
func (d *Dispatcher) Plan(ctx context.Context, directive string) (*Plan, error) {
	directive = strings.TrimSpace(directive)
	if directive == "" {
		return nil, &ToolError{Err: ErrEmptyDirective}
	}

	best, bestScore := -1, 0
	for i, t := range d.cfg.Tools {
		if s := d.scorer.Score(directive, t); s > bestScore {
			best, bestScore = i, s
		}
	}
	if best < 0 {
		PlansTotal.WithLabelValues("no_tool").Inc()
		return nil, &ToolError{Directive: directive, Err: ErrNoToolFound}
	}

	plan := &Plan{
		ID:        uuid.NewString(),
		Directive: directive,
		Tool:      d.cfg.Tools[best],
		Score:     bestScore,
		Params:    ExtractParams(directive),
		CreatedAt: d.now(),
	}
	PlansTotal.WithLabelValues("planned").Inc()
	d.logger.Debug(ctx, "directive planned",
		zap.String("directive", directive),
		zap.String("tool", plan.Tool.ID),
		zap.Int("score", bestScore),
		zap.Any("params", plan.Params))
	return plan, nil
}

// Critique checks plan against its tool's requirements and against the
// locations named in directive. Rejections are reported in the result,
// never as an error.
func (d *Dispatcher) Critique(ctx context.Context, plan *Plan, directive string) (*Critique, error) {
	if plan == nil {
		return nil, errors.New("critique: nil plan")
	}

	c := &Critique{Issues: []string{}}
	loc := plan.Params[ParamLocation]
	if plan.Tool.RequiresLocation && loc == "" {
		c.Issues = append(c.Issues, fmt.Sprintf("tool %s requires a location but none was found in the directive", plan.Tool.ID))
	}
	if plan.Tool.RequiresQuery && plan.Params[ParamQuery] == "" {
		c.Issues = append(c.Issues, fmt.Sprintf("tool %s requires a query (the word before \"leads\") but none was found", plan.Tool.ID))
	}
	if named := Locations(directive); len(named) > 0 {
		switch {
		case loc != "" && !slices.Contains(named, loc):
			c.Issues = append(c.Issues, fmt.Sprintf("directive names %s but the plan targets %s", strings.Join(named, ", "), loc))
		case loc == "" && slices.Contains(plan.Tool.Params, ParamLocation):
			c.Issues = append(c.Issues, fmt.Sprintf("directive names %s but the plan has no location", strings.Join(named, ", ")))
		}
	}

	c.Valid = len(c.Issues) == 0
	if !c.Valid {
		CritiqueRejections.Inc()
		d.logger.Info(ctx, "plan rejected by critique",
			zap.String("directive", directive),
			zap.String("tool", plan.Tool.ID),
			zap.Strings("issues", c.Issues))
	}
	return c, nil
}

// Execute resolves the tool script and runs it, live or dry. The plan
// and result are persisted as an artifact whatever the outcome.
func (d *Dispatcher) Execute(ctx context.Context, plan *Plan, opts ExecuteOptions) (*Result, error) {
	if plan == nil {
		return nil, errors.New("execute: nil plan")
	}
	ctx, span := d.tracer.Start(ctx, "directive.execute")
	defer span.End()
	ctx = logging.WithSessionID(ctx, opts.sessionID())
	span.SetAttributes(
		attribute.String("tool", plan.Tool.ID),
		attribute.Bool("live", opts.Live),
	)

	mode := ModeDryRun
	if opts.Live {
		mode = ModeLive
	}
	res := &Result{Mode: mode, StartedAt: d.now()}

	script, tried := d.resolveScript(plan.Tool.Script)
	if script == "" {
		nf := &ScriptNotFoundError{ToolID: plan.Tool.ID, Script: plan.Tool.Script, Tried: tried}
		res.Error = nf.Error()
		res.ExitCode = -1
		res.FinishedAt = d.now()
		ExecutionsTotal.WithLabelValues(mode, "script_not_found").Inc()
		d.finish(ctx, plan, res, opts)
		span.RecordError(nf)
		span.SetStatus(codes.Error, nf.Error())
		return res, nf
	}
	res.ScriptPath = script
	res.Command = buildCommand(plan, script)

	if !opts.Live {
		res.Success = true
		res.Output = "dry run: command recorded, not executed"
		res.FinishedAt = d.now()
		ExecutionsTotal.WithLabelValues(mode, "success").Inc()
		d.finish(ctx, plan, res, opts)
		return res, nil
	}

	if err := d.limiter.Wait(ctx); err != nil {
		res.Error = err.Error()
		res.ExitCode = -1
		res.FinishedAt = d.now()
		d.finish(ctx, plan, res, opts)
		return res, fmt.Errorf("waiting for execution slot: %w", err)
	}

	d.run(ctx, plan, res)
	result := "success"
	if !res.Success {
		result = "failure"
		span.SetStatus(codes.Error, res.Error)
	}
	ExecutionsTotal.WithLabelValues(mode, result).Inc()
	d.finish(ctx, plan, res, opts)
	return res, nil
}

// Run chains Plan, Critique and Execute. A critique rejection returns
// the outcome without a result and without error.
func (d *Dispatcher) Run(ctx context.Context, directive string, opts ExecuteOptions) (*Outcome, error) {
	plan, err := d.Plan(ctx, directive)
	if err != nil {
		return nil, err
	}
	crit, err := d.Critique(ctx, plan, directive)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Plan: plan, Critique: crit}
	if !crit.Valid {
		return out, nil
	}
	res, err := d.Execute(ctx, plan, opts)
	out.Result = res
	return out, err
}

// resolveScript returns the first existing script path and every path
// tried.
func (d *Dispatcher) resolveScript(script string) (string, []string) {
	var tried []string
	for _, dir := range d.cfg.ScriptDirs {
		path, err := sanitize.JoinWithin(dir, script)
		if err != nil {
			tried = append(tried, filepath.Join(dir, script)+" ("+err.Error()+")")
			continue
		}
		tried = append(tried, path)
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, tried
		}
	}
	return "", tried
}

// buildCommand returns argv for the plan: interpreter, script, then the
// tool's parameters in declared order.
func buildCommand(plan *Plan, script string) []string {
	var argv []string
	if plan.Tool.Interpreter != "" {
		argv = append(argv, plan.Tool.Interpreter)
	}
	argv = append(argv, script)
	for _, name := range plan.Tool.Params {
		if v := plan.Params[name]; v != "" {
			argv = append(argv, "--"+name, v)
		}
	}
	return argv
}

// run executes res.Command in a minimal environment with a timeout.
func (d *Dispatcher) run(ctx context.Context, plan *Plan, res *Result) {
	runCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, res.Command[0], res.Command[1:]...)
	cmd.Dir = filepath.Dir(res.ScriptPath)
	cmd.Env = sandboxEnv(plan)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	ExecutionDuration.Observe(time.Since(start).Seconds())
	res.FinishedAt = d.now()
	res.Output = d.redact(truncateOutput(out.Bytes()))

	if err == nil {
		res.Success = true
		return
	}
	res.Error = err.Error()
	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.Error = fmt.Sprintf("timed out after %s: %v", d.cfg.Timeout, err)
	}
}

func sandboxEnv(plan *Plan) []string {
	env := []string{
		SandboxEnv + "=1",
		"OPSLOOP_TOOL=" + plan.Tool.ID,
		"OPSLOOP_PLAN_ID=" + plan.ID,
	}
	for _, key := range []string{"PATH", "LANG", "TZ"} {
		if v, ok := os.LookupEnv(key); ok {
			env = append(env, key+"="+v)
		}
	}
	return env
}

func (d *Dispatcher) redact(s string) string {
	if d.cfg.Redactor == nil {
		return s
	}
	return d.cfg.Redactor.Redact(s)
}

func truncateOutput(b []byte) string {
	if len(b) <= maxOutputBytes {
		return string(b)
	}
	return string(b[len(b)-maxOutputBytes:])
}

// finish persists the artifact and reports the execution to the session
// store and, for failed live runs, to the rule engine. Reporting
// failures are logged, not returned.
func (d *Dispatcher) finish(ctx context.Context, plan *Plan, res *Result, opts ExecuteOptions) {
	sessionID := opts.sessionID()

	path, err := d.writeArtifact(sessionID, plan, res)
	if err != nil {
		d.logger.Error(ctx, "persisting directive artifact failed", zap.String("tool", plan.Tool.ID), zap.Error(err))
	} else {
		res.ArtifactPath = path
	}

	if d.cfg.Sessions != nil {
		_, err := d.cfg.Sessions.LogEvent(ctx, sessionID, AgentName, EventExecuted, map[string]any{
			"directive": plan.Directive,
			"tool":      plan.Tool.ID,
			"mode":      res.Mode,
			"success":   res.Success,
			"artifact":  res.ArtifactPath,
		})
		if err != nil {
			d.logger.Warn(ctx, "logging directive event failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	if res.Mode == ModeLive && !res.Success && d.cfg.Events != nil {
		err := d.cfg.Events.Record(ctx, selfheal.Event{
			Source:  AgentName,
			Status:  selfheal.StatusError,
			Message: res.Error,
			Details: map[string]any{"tool": plan.Tool.ID, "directive": plan.Directive},
		})
		if err != nil {
			d.logger.Warn(ctx, "recording failure event failed", zap.Error(err))
		}
	}

	d.logger.Info(ctx, "directive executed",
		zap.String("tool", plan.Tool.ID),
		zap.String("mode", res.Mode),
		zap.Bool("success", res.Success),
		zap.String("artifact", res.ArtifactPath))
}

func (d *Dispatcher) writeArtifact(sessionID string, plan *Plan, res *Result) (string, error) {
	if d.cfg.ArtifactsDir == "" {
		return "", errors.New("no artifacts directory configured")
	}
	name := fmt.Sprintf("directive_%s_%s.json", d.now().UTC().Format(artifactStamp), shortID(plan.ID))
	path := filepath.Join(d.cfg.ArtifactsDir, name)
	// The path is stored inside the artifact too.
	res.ArtifactPath = path
	if err := fsutil.WriteJSONAtomic(path, artifact{SessionID: sessionID, Plan: plan, Result: res}); err != nil {
		res.ArtifactPath = ""
		return "", err
	}
	return path, nil
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
