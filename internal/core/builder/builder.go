// Package builder turns stored user source into a published container image
// and tracks each build to ready or failed.
package builder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"service-sopm/internal/core/task"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 10 * time.Minute
	defaultLogTail      = 1000
	defaultTaskTTL      = 300 * time.Second

	statusWriteTimeout = 10 * time.Second

	ReasonTimeout     = "Build timeout"
	ReasonFailed      = "Build failed"
	ReasonInterrupted = "build interrupted"
)

// Request asks for one function's image to be built.
type Request struct {
	FunctionID    string `json:"function_id"`
	Runtime       string `json:"runtime"`
	CodeReference string `json:"code_reference"`
	Dependencies  string `json:"dependencies"`
}

// Build identifies a started build.
type Build struct {
	FunctionID string `json:"function_id"`
	TaskName   string `json:"job_name"`
	Image      string `json:"image_tag"`
	Status     string `json:"status"`
}

type Options struct {
	RegistryURL  string
	PollInterval time.Duration
	Timeout      time.Duration
	LogTail      int
	// MonitorLimit caps concurrently monitored builds; 0 is unbounded.
	MonitorLimit int
	TaskTTL      time.Duration
}

// TaskName is the deterministic build task name for a function.
func TaskName(functionID string) string { return "build-" + functionID }

// ContextName is the deterministic build context name for a function.
func ContextName(functionID string) string { return "build-context-" + functionID }

type monitor struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

type Builder struct {
	orch    Orchestrator
	store   StatusStore
	recipes *Recipes
	opts    Options
	lg      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	monitors map[string]*monitor
	locks    map[string]*sync.Mutex
	wg       sync.WaitGroup
}

func New(orch Orchestrator, store StatusStore, recipes *Recipes, opts Options, lg zerolog.Logger) *Builder {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.LogTail <= 0 {
		opts.LogTail = defaultLogTail
	}
	if opts.TaskTTL <= 0 {
		opts.TaskTTL = defaultTaskTTL
	}
	opts.RegistryURL = strings.TrimSuffix(opts.RegistryURL, "/")
	ctx, cancel := context.WithCancel(context.Background())
	return &Builder{
		orch:     orch,
		store:    store,
		recipes:  recipes,
		opts:     opts,
		lg:       lg.With().Str("component", "builder").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		monitors: map[string]*monitor{},
		locks:    map[string]*sync.Mutex{},
	}
}

// ImageTag is where a function's image is published.
func (b *Builder) ImageTag(functionID string) string {
	return fmt.Sprintf("%s/%s:latest", b.opts.RegistryURL, functionID)
}

// Trigger starts a build and returns once the build task exists. The result
// is recorded later by a background monitor. A newer trigger for the same
// function supersedes the older monitor.
func (b *Builder) Trigger(ctx context.Context, req Request) (*Build, error) {
	if req.FunctionID == "" || req.CodeReference == "" {
		return nil, ErrInvalidRequest
	}
	bctx, err := b.recipes.Render(req.Runtime, req.Dependencies)
	if err != nil {
		return nil, err
	}

	unlock := b.lockFunction(req.FunctionID)
	defer unlock()

	m, err := b.reserve(req.FunctionID)
	if err != nil {
		return nil, err
	}

	lg := b.lg.With().Str("function_id", req.FunctionID).Logger()
	spec := Spec{
		Name:        TaskName(req.FunctionID),
		ContextName: ContextName(req.FunctionID),
		FunctionID:  req.FunctionID,
		Image:       b.ImageTag(req.FunctionID),
		SourceRef:   req.CodeReference,
		SourceFile:  bctx.SourceFile,
		Files:       bctx.Files,
		TTL:         b.opts.TaskTTL,
	}

	if err := b.orch.DeleteBuild(ctx, spec.Name, spec.ContextName); err != nil {
		b.release(req.FunctionID, m)
		return nil, fmt.Errorf("remove stale build %s: %w", spec.Name, err)
	}
	if err := b.store.MarkBuilding(ctx, req.FunctionID); err != nil {
		b.release(req.FunctionID, m)
		return nil, fmt.Errorf("mark function building: %w", err)
	}
	if err := b.orch.CreateBuild(ctx, spec); err != nil {
		b.release(req.FunctionID, m)
		reason := fmt.Sprintf("create build task: %v", err)
		if ferr := b.store.MarkFailed(context.WithoutCancel(ctx), req.FunctionID, reason); ferr != nil {
			lg.Error().Err(ferr).Msg("failed to record build failure")
		}
		return nil, fmt.Errorf("create build %s: %w", spec.Name, err)
	}

	b.startMonitor(spec, m)
	lg.Info().Str("task", spec.Name).Str("image", spec.Image).Msg("build started")
	return &Build{FunctionID: req.FunctionID, TaskName: spec.Name, Image: spec.Image, Status: "building"}, nil
}

func (b *Builder) lockFunction(id string) func() {
	b.mu.Lock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	b.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// reserve claims the monitor slot for id, counting it against the cap in
// the same critical section. A running monitor for id is stopped, and
// reserve waits for it to exit so it cannot write a status after the new
// build starts.
func (b *Builder) reserve(id string) (*monitor, error) {
	b.mu.Lock()
	prev := b.monitors[id]
	if prev == nil && b.opts.MonitorLimit > 0 && len(b.monitors) >= b.opts.MonitorLimit {
		b.mu.Unlock()
		return nil, ErrTooManyBuilds
	}
	ctx, cancel := context.WithCancel(b.ctx)
	m := &monitor{ctx: ctx, cancel: cancel, done: make(chan struct{})}
	b.monitors[id] = m
	b.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
		b.lg.Info().Str("function_id", id).Msg("superseded previous build monitor")
	}
	return m, nil
}

// release gives back a slot whose build never started.
func (b *Builder) release(id string, m *monitor) {
	m.cancel()
	b.mu.Lock()
	if b.monitors[id] == m {
		delete(b.monitors, id)
	}
	b.mu.Unlock()
	close(m.done)
}

func (b *Builder) startMonitor(spec Spec, m *monitor) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer close(m.done)
		defer func() {
			m.cancel()
			b.mu.Lock()
			if b.monitors[spec.FunctionID] == m {
				delete(b.monitors, spec.FunctionID)
			}
			b.mu.Unlock()
		}()
		b.monitor(m.ctx, spec)
	}()
}

// Monitoring reports whether a live monitor tracks the function's build.
func (b *Builder) Monitoring(functionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.monitors[functionID]
	return ok
}

// Active is the number of builds currently monitored.
func (b *Builder) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.monitors)
}

// Close stops all monitors without recording a status and waits for them.
func (b *Builder) Close() {
	b.cancel()
	b.wg.Wait()
}

func (b *Builder) monitor(ctx context.Context, spec Spec) {
	lg := b.lg.With().Str("function_id", spec.FunctionID).Str("task", spec.Name).Logger()

	deadline := time.NewTimer(b.opts.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(b.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			lg.Debug().Msg("build monitor stopped")
			return
		case <-deadline.C:
			lg.Error().Dur("timeout", b.opts.Timeout).Msg("build timed out")
			b.fail(ctx, spec.FunctionID, ReasonTimeout)
			return
		case <-ticker.C:
		}

		st, err := b.orch.BuildStatus(ctx, spec.Name)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			lg.Warn().Err(err).Msg("failed to read build status, retrying")
			continue
		}

		switch st.Phase {
		case task.PhaseSucceeded:
			wctx, cancel := b.writeCtx(ctx)
			err := b.store.MarkReady(wctx, spec.FunctionID, spec.Image)
			cancel()
			if err != nil {
				lg.Error().Err(err).Msg("failed to mark function ready")
				return
			}
			lg.Info().Str("image", spec.Image).Msg("build succeeded")
			return
		case task.PhaseFailed:
			reason := b.failureReason(ctx, spec.Name, st.Reason)
			lg.Error().Str("reason", reason).Msg("build failed")
			b.fail(ctx, spec.FunctionID, reason)
			return
		}
	}
}

func (b *Builder) failureReason(ctx context.Context, name, reason string) string {
	logs, err := b.orch.BuildLogs(ctx, name, b.opts.LogTail)
	if err != nil {
		b.lg.Warn().Err(err).Str("task", name).Msg("failed to read build logs")
	}
	if logs = Tail(strings.TrimSpace(logs), b.opts.LogTail); logs != "" {
		return logs
	}
	if reason != "" {
		return reason
	}
	return ReasonFailed
}

func (b *Builder) fail(ctx context.Context, id, reason string) {
	wctx, cancel := b.writeCtx(ctx)
	defer cancel()
	if err := b.store.MarkFailed(wctx, id, reason); err != nil {
		b.lg.Error().Err(err).Str("function_id", id).Msg("failed to mark function failed")
	}
}

func (b *Builder) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
}

// Tail returns at most the last n bytes of s without splitting a rune.
func Tail(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	start := len(s) - n
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
