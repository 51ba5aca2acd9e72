// Package builtin is the static catalog of built-in functions and the
// executor that invokes them by name.
package builtin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultTimeout = 30 * time.Second

// Func is a pure request/response transform. A returned error becomes a
// {"success": false, "error": ...} result, not a failed job.
type Func func(p Payload) (map[string]any, error)

var catalog = map[string]Func{}

func register(name string, fn Func) {
	if _, dup := catalog[name]; dup {
		panic("builtin: duplicate function " + name)
	}
	catalog[name] = fn
}

// NotFoundError is returned for names missing from the catalog.
type NotFoundError struct {
	Name  string
	Known []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("Function %s not found", e.Name)
}

type Executor struct {
	funcs   map[string]Func
	names   []string
	timeout time.Duration
	lg      zerolog.Logger
}

// NewExecutor serves the compiled-in catalog. Each call is bounded by timeout.
func NewExecutor(timeout time.Duration, lg zerolog.Logger) *Executor {
	return newExecutor(catalog, timeout, lg)
}

func newExecutor(funcs map[string]Func, timeout time.Duration, lg zerolog.Logger) *Executor {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	names := make([]string, 0, len(funcs))
	for name := range funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Executor{
		funcs:   funcs,
		names:   names,
		timeout: timeout,
		lg:      lg.With().Str("component", "builtin-executor").Logger(),
	}
}

// Names lists the catalog in sorted order.
func (e *Executor) Names() []string {
	out := make([]string, len(e.names))
	copy(out, e.names)
	return out
}

func (e *Executor) Check(name string) error {
	if _, ok := e.funcs[name]; !ok {
		return &NotFoundError{Name: name, Known: e.Names()}
	}
	return nil
}

type panicError struct {
	name  string
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("function %s panicked: %v", e.name, e.value)
}

type invokeResult struct {
	body map[string]any
	err  error
}

// Invoke runs the named function against payload. A panic or timeout is
// reported as an error; the caller's goroutine is never taken down.
func (e *Executor) Invoke(ctx context.Context, name string, payload json.RawMessage) (json.RawMessage, error) {
	fn, ok := e.funcs[name]
	if !ok {
		return nil, &NotFoundError{Name: name, Known: e.Names()}
	}

	p, err := decodePayload(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.lg.Error().Str("function", name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("builtin panicked")
				done <- invokeResult{err: &panicError{name: name, value: r}}
			}
		}()
		body, err := fn(p)
		done <- invokeResult{body: body, err: err}
	}()

	var res invokeResult
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("function %s: %w", name, ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		var perr *panicError
		if errors.As(res.err, &perr) {
			return nil, res.err
		}
		res.body = map[string]any{"success": false, "error": res.err.Error()}
	}
	raw, err := json.Marshal(res.body)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", name, err)
	}
	return raw, nil
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	p := Payload{}
	if len(raw) == 0 {
		return p, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}
