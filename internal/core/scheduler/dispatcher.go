package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"service-sopm/internal/core/builtin"
	"service-sopm/internal/core/sandbox"
)

const (
	defaultPopTimeout = time.Second
	defaultBackoff    = time.Second
	finishAttempts    = 3
)

// Handler runs one dequeued job and reports its outcome. It must not return
// a non-terminal status.
type Handler func(ctx context.Context, msg *Message) Outcome

// DispatchOptions tune a dispatcher. Zero values pick the defaults.
type DispatchOptions struct {
	PopTimeout time.Duration
	Backoff    time.Duration
	Workers    int
}

// Dispatcher drains one topic and drives each job through
// running to a terminal status.
type Dispatcher struct {
	topic  string
	queue  Queue
	store  Store
	handle Handler
	paired bool
	opts   DispatchOptions
	lg     zerolog.Logger
}

func newDispatcher(topic string, queue Queue, store Store, handle Handler, paired bool, opts DispatchOptions, lg zerolog.Logger) *Dispatcher {
	if opts.PopTimeout <= 0 {
		opts.PopTimeout = defaultPopTimeout
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Dispatcher{
		topic:  topic,
		queue:  queue,
		store:  store,
		handle: handle,
		paired: paired,
		opts:   opts,
		lg:     lg.With().Str("component", "dispatcher").Str("topic", topic).Logger(),
	}
}

// NewBuiltinDispatcher drains the built-in topic into the catalog executor.
func NewBuiltinDispatcher(queue Queue, store Store, builtins Builtins, opts DispatchOptions, lg zerolog.Logger) *Dispatcher {
	return newDispatcher(TopicBuiltin, queue, store, BuiltinHandler(builtins), false, opts, lg)
}

// NewUserFunctionDispatcher drains the user function topic into the sandbox
// and keeps the paired execution rows in step with the jobs.
func NewUserFunctionDispatcher(queue Queue, store Store, sb Sandbox, opts DispatchOptions, lg zerolog.Logger) *Dispatcher {
	return newDispatcher(TopicUserFunction, queue, store, UserFunctionHandler(sb), true, opts, lg)
}

// Run blocks until ctx is cancelled. Each worker restarts its loop after a
// fault, so a bad message or a queue outage never stops consumption.
func (d *Dispatcher) Run(ctx context.Context) {
	d.lg.Info().Int("workers", d.opts.Workers).Msg("dispatcher started")
	var wg sync.WaitGroup
	for i := 0; i < d.opts.Workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			d.supervise(ctx, worker)
		}(i)
	}
	wg.Wait()
	d.lg.Info().Msg("dispatcher stopped")
}

func (d *Dispatcher) supervise(ctx context.Context, worker int) {
	lg := d.lg.With().Int("worker", worker).Logger()
	for ctx.Err() == nil {
		err := d.loop(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}
		lg.Error().Err(err).Dur("backoff", d.opts.Backoff).Msg("dispatcher loop failed, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.opts.Backoff):
		}
	}
}

func (d *Dispatcher) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	for ctx.Err() == nil {
		if _, err := d.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Step pops at most one message and processes it. It reports whether a
// message was taken. The job itself runs to completion even if ctx is
// cancelled meanwhile. A store failure is returned after the message has
// been put back or the outcome write given up on, so the caller backs off.
func (d *Dispatcher) Step(ctx context.Context) (bool, error) {
	msg, err := d.queue.Dequeue(ctx, d.topic, d.opts.PopTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("dequeue %s: %w", d.topic, err)
	}
	if msg == nil {
		return false, nil
	}
	return true, d.process(context.WithoutCancel(ctx), msg)
}

func (d *Dispatcher) process(ctx context.Context, msg *Message) error {
	lg := d.lg.With().Uint64("job_id", msg.JobID).Logger()

	var err error
	if d.paired {
		err = d.store.MarkUserFunctionRunning(ctx, msg.JobID)
	} else {
		err = d.store.MarkRunning(ctx, msg.JobID)
	}
	switch {
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrJobNotFound):
		lg.Warn().Err(err).Msg("skipping message, job is not pending")
		return nil
	case err != nil:
		lg.Error().Err(err).Msg("failed to mark job running, requeueing")
		if qerr := d.queue.Requeue(ctx, d.topic, msg); qerr != nil {
			lg.Error().Err(qerr).Msg("requeue failed, message lost")
			return fmt.Errorf("mark job %d running: %w (requeue: %v)", msg.JobID, err, qerr)
		}
		return fmt.Errorf("mark job %d running: %w", msg.JobID, err)
	}
	lg.Info().Msg("job running")

	start := time.Now()
	out := d.invoke(ctx, msg)
	if out.Status == StatusCompleted {
		out.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000
	}
	if !out.Status.Terminal() {
		out = Failed(fmt.Sprintf("handler returned non-terminal status %q", out.Status), nil)
	}

	if err := d.finish(ctx, msg.JobID, out); err != nil {
		lg.Error().Err(err).Str("status", string(out.Status)).Msg("failed to record job outcome")
		return fmt.Errorf("record outcome of job %d: %w", msg.JobID, err)
	}

	ev := lg.Info()
	if out.Status == StatusFailed {
		ev = lg.Warn().Str("error", out.Error)
	}
	ev.Str("status", string(out.Status)).Float64("execution_time_ms", out.ExecutionTimeMs).Msg("job finished")
	return nil
}

// finish writes the outcome, retrying after the backoff while the store
// fails. The job has already run, so it cannot go back on the queue.
func (d *Dispatcher) finish(ctx context.Context, id uint64, out Outcome) error {
	var err error
	for attempt := 1; ; attempt++ {
		if d.paired {
			err = d.store.FinishUserFunction(ctx, id, out)
		} else {
			err = d.store.Finish(ctx, id, out)
		}
		if err == nil || errors.Is(err, ErrInvalidTransition) || errors.Is(err, ErrJobNotFound) || attempt == finishAttempts {
			return err
		}
		d.lg.Warn().Err(err).Uint64("job_id", id).Int("attempt", attempt).Msg("outcome write failed, retrying")
		time.Sleep(d.opts.Backoff)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, msg *Message) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			d.lg.Error().Uint64("job_id", msg.JobID).Interface("panic", r).Msg("handler panicked")
			out = Failed(fmt.Sprintf("panic: %v", r), nil)
		}
	}()
	return d.handle(ctx, msg)
}

// BuiltinHandler runs messages through the catalog. Unknown names fail the
// job and list what is available.
func BuiltinHandler(builtins Builtins) Handler {
	return func(ctx context.Context, msg *Message) Outcome {
		result, err := builtins.Invoke(ctx, msg.FunctionName, msg.Payload)
		if err != nil {
			var nf *builtin.NotFoundError
			if errors.As(err, &nf) {
				return Failed(err.Error(), map[string]any{"available_functions": nf.Known})
			}
			return Failed(err.Error(), nil)
		}
		return Completed(result)
	}
}

// UserFunctionHandler runs messages in the sandbox using the function
// snapshot captured at submit time.
func UserFunctionHandler(sb Sandbox) Handler {
	return func(ctx context.Context, msg *Message) Outcome {
		if msg.Function == nil || msg.Function.ImageURL == "" {
			return Failed("missing function metadata", nil)
		}
		res := sb.Execute(ctx, sandbox.Function{
			ID:             msg.Function.ID,
			Image:          msg.Function.ImageURL,
			MemoryLimitMB:  msg.Function.MemoryLimitMB,
			TimeoutSeconds: msg.Function.TimeoutSeconds,
		}, sandbox.Invocation{JobID: msg.JobID, ExecutionID: msg.ExecutionID, Payload: msg.Payload})

		if !res.Succeeded {
			out := Failed(res.Error, nil)
			out.Output = res.Output
			return out
		}
		raw, err := json.Marshal(map[string]string{"output": res.Output})
		if err != nil {
			return Failed(fmt.Sprintf("encode result: %v", err), nil)
		}
		out := Completed(raw)
		out.Output = res.Output
		return out
	}
}
