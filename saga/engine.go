package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Options configures the engine. The zero value gets sensible defaults; the
// struct is treated as immutable after NewEngine.
type Options struct {
	// Codec serializes all payloads. Default is JSONCodec.
	Codec Codec

	// Lease is how long a claimed instance stays invisible to other
	// executors before a crashed turn can be stolen. Default 1 minute.
	Lease time.Duration

	// FanOutConcurrency bounds how many activity calls of one pending batch
	// execute in parallel. Default 4.
	FanOutConcurrency int

	// InstanceTimeout aborts instances that stay non-terminal longer than
	// this and fails them with an instance_timeout fault. Side effects of
	// already-recorded activities are not rolled back; compensation is the
	// workflow author's job. Zero disables the timeout.
	InstanceTimeout time.Duration

	// PollInterval is how often Await re-checks instance status.
	// Default 50ms.
	PollInterval time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Codec == nil {
		o.Codec = JSONCodec{}
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	if o.FanOutConcurrency <= 0 {
		o.FanOutConcurrency = 4
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 50 * time.Millisecond
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Engine executes workflow instances as deterministic sagas: it replays
// recorded history to drive activities in order, fans batches out and in,
// classifies faults, and exposes instance status and output.
type Engine struct {
	store    Store
	registry *Registry
	opts     Options
	logger   *slog.Logger
}

// NewEngine creates a new engine. The store and registry are shared,
// explicit dependencies; the engine holds no process-global state.
func NewEngine(store Store, registry *Registry, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{store: store, registry: registry, opts: opts, logger: opts.Logger}
}

// Store returns the underlying instance store.
func (e *Engine) Store() Store { return e.store }

// StartRaw starts an instance from an untyped payload (API-glue entry
// point). The payload is validated against the workflow's registered input
// type before anything is persisted; it returns immediately once the
// instance is on record.
func (e *Engine) StartRaw(ctx context.Context, workflow string, input json.RawMessage) (uuid.UUID, error) {
	runner, ok := e.registry.workflow(workflow)
	if !ok {
		return uuid.Nil, Validationf("workflow_unknown", "workflow not registered: %s", workflow)
	}
	if err := runner.validateInput(e.opts.Codec, input); err != nil {
		return uuid.Nil, Validationf("workflow_input", "input for %s: %v", workflow, err)
	}

	inst := &Instance{
		ID:       uuid.New(),
		Workflow: workflow,
		Input:    input,
		Status:   StatusScheduled,
	}
	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return uuid.Nil, fmt.Errorf("create instance: %w", err)
	}
	return inst.ID, nil
}

// Start starts an instance of a typed workflow definition.
//
// Go does not support type parameters on methods, so this is a package-level
// generic.
func Start[In, Out any](ctx context.Context, e *Engine, wf *Workflow[In, Out], in *In) (uuid.UUID, error) {
	inputJSON, err := e.opts.Codec.Marshal(in)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal input: %w", err)
	}
	return e.StartRaw(ctx, wf.name, inputJSON)
}

// Status returns the current instance snapshot.
func (e *Engine) Status(ctx context.Context, id uuid.UUID) (*Instance, error) {
	return e.store.GetInstance(ctx, id)
}

// Cancel cancels an instance that has not started executing yet. Running or
// terminal instances cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	ok, err := e.store.CancelScheduled(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		inst, err := e.store.GetInstance(ctx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("cannot cancel instance in status %q", inst.Status)
	}
	return nil
}

// Run claims the instance and drives it until it is terminal. Safe to call
// repeatedly and after a crash: turns are at-least-once and recorded
// outcomes are never re-executed. Returns without error when another
// executor holds the claim.
func (e *Engine) Run(ctx context.Context, id uuid.UUID) error {
	claimed, err := e.store.Claim(ctx, id, e.opts.Lease)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	return e.drive(ctx, id)
}

// drive loops execution turns for a claimed instance until terminal.
func (e *Engine) drive(ctx context.Context, id uuid.UUID) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		inst, err := e.store.GetInstance(ctx, id)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return nil
		}

		if err := e.store.Heartbeat(ctx, id, e.opts.Lease); err != nil {
			return err
		}

		done, err := e.turn(ctx, inst)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// turn executes one replay turn: re-run the workflow function from the top
// against recorded history, then either execute the pending activity batch,
// complete the instance, or fail it.
func (e *Engine) turn(ctx context.Context, inst *Instance) (bool, error) {
	if e.opts.InstanceTimeout > 0 && time.Since(inst.CreatedAt) > e.opts.InstanceTimeout {
		f := Transientf("instance_timeout", "instance exceeded %s", e.opts.InstanceTimeout)
		if err := e.store.Fail(ctx, inst.ID, f); err != nil {
			return false, err
		}
		e.logger.Warn("instance timed out", "instance", inst.ID, "workflow", inst.Workflow)
		return true, nil
	}

	runner, ok := e.registry.workflow(inst.Workflow)
	if !ok {
		f := Validationf("workflow_unknown", "workflow not registered: %s", inst.Workflow)
		return true, e.store.Fail(ctx, inst.ID, f)
	}

	history, err := e.store.History(ctx, inst.ID)
	if err != nil {
		return false, err
	}
	c := newContext(ctx, inst.ID, e.opts.Codec, history)

	outputJSON, runErr, suspended := e.runTurnFn(c, runner, inst.Input)

	if suspended {
		if err := e.executePending(ctx, inst, c.pending); err != nil {
			return false, err
		}
		return false, nil
	}

	if runErr != nil {
		f := AsFault(runErr)
		e.logger.Info("instance failed", "instance", inst.ID, "workflow", inst.Workflow, "code", f.Code, "kind", f.Kind)
		return true, e.store.Fail(ctx, inst.ID, f)
	}

	e.logger.Info("instance completed", "instance", inst.ID, "workflow", inst.Workflow)
	return true, e.store.Complete(ctx, inst.ID, outputJSON)
}

// runTurnFn runs the workflow function, translating yield panics into a
// suspension and all other panics into terminal faults.
func (e *Engine) runTurnFn(c *Context, runner workflowRunner, input json.RawMessage) (outputJSON []byte, runErr error, suspended bool) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		switch v := r.(type) {
		case yieldPanic:
			suspended = true
		case nondeterminismError:
			runErr = Validationf("nondeterministic_replay", "%v", v)
		case *Fault:
			runErr = v
		default:
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			e.logger.Error("workflow panicked", "workflow", runner.workflowName(), "panic", v, "stack", string(buf[:n]))
			runErr = Validationf("workflow_panic", "workflow panicked: %v", v)
		}
	}()

	outputJSON, runErr = runner.run(c, e.opts.Codec, input)
	return outputJSON, runErr, false
}

// executePending runs the turn's scheduled activity calls with bounded
// concurrency and records the outcomes in schedule order, so a later replay
// sees the same ordered result list regardless of which call physically
// finished first.
func (e *Engine) executePending(ctx context.Context, inst *Instance, pending []pendingCall) error {
	if len(pending) == 0 {
		// A suspension with nothing pending means a future was awaited twice
		// without a recorded outcome; treat it as a stuck workflow.
		return e.store.Fail(ctx, inst.ID, Validationf("workflow_stuck", "turn suspended with no pending activity calls"))
	}

	outcomes := make([]Outcome, len(pending))
	sem := make(chan struct{}, e.opts.FanOutConcurrency)
	var wg sync.WaitGroup
	for i, call := range pending {
		wg.Add(1)
		go func(i int, call pendingCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i] = e.executeCall(ctx, inst, call)
		}(i, call)
	}
	wg.Wait()

	for _, o := range outcomes {
		if err := e.store.RecordOutcome(ctx, inst.ID, o); err != nil {
			return err
		}
	}

	// Validation/authorization faults are uncatchable: fail the instance now
	// rather than handing the fault back to the workflow.
	for _, o := range outcomes {
		if o.Fault != nil && o.Fault.Fatal() {
			e.logger.Info("instance failed on fatal activity fault",
				"instance", inst.ID, "activity", o.Activity, "code", o.Fault.Code)
			return e.store.Fail(ctx, inst.ID, o.Fault)
		}
	}
	return nil
}

// executeCall runs one activity call with the activity's retry policy.
// Only transient infrastructure faults are retried; everything else is
// recorded at its sequence number on the first attempt.
func (e *Engine) executeCall(ctx context.Context, inst *Instance, call pendingCall) Outcome {
	o := Outcome{Seq: call.seq, Activity: call.activity, Input: call.input}

	runner, ok := e.registry.activity(call.activity)
	if !ok {
		o.Fault = Validationf("activity_unknown", "activity not registered: %s", call.activity)
		o.Attempts = 1
		return o
	}
	if err := runner.validateInput(e.opts.Codec, call.input); err != nil {
		o.Fault = Validationf("activity_input", "input for %s: %v", call.activity, err)
		o.Attempts = 1
		return o
	}

	policy := runner.retryPolicy()
	var lastFault *Fault
	for attempt := 1; attempt <= policy.maxAttempts(); attempt++ {
		info := &ActivityInfo{InstanceID: inst.ID, Seq: call.seq, Attempt: attempt}

		resultJSON, err := runner.run(ctx, info, e.opts.Codec, call.input)
		if err == nil {
			o.Result = resultJSON
			o.Attempts = attempt
			return o
		}

		lastFault = AsFault(err)
		e.logger.Warn("activity attempt failed",
			"instance", inst.ID, "activity", call.activity, "seq", call.seq,
			"attempt", attempt, "code", lastFault.Code, "kind", lastFault.Kind)

		if !lastFault.Retryable() {
			o.Fault = lastFault
			o.Attempts = attempt
			return o
		}
		if attempt < policy.maxAttempts() {
			if err := sleepCtx(ctx, policy.backoff(attempt)); err != nil {
				o.Fault = Transientf("cancelled", "retry interrupted: %v", err)
				o.Attempts = attempt
				return o
			}
		}
	}

	o.Fault = lastFault
	o.Attempts = policy.maxAttempts()
	return o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Await blocks until the instance reaches a terminal status or ctx is done.
func (e *Engine) Await(ctx context.Context, id uuid.UUID) (*Instance, error) {
	for {
		inst, err := e.store.GetInstance(ctx, id)
		if err != nil {
			return nil, err
		}
		if inst.Status.Terminal() {
			return inst, nil
		}
		if err := sleepCtx(ctx, e.opts.PollInterval); err != nil {
			return nil, err
		}
	}
}

// Result awaits the instance and decodes its typed output. A failed
// instance returns its recorded fault as the error.
//
// Go does not support type parameters on methods, so this is a package-level
// generic.
func Result[Out any](ctx context.Context, e *Engine, id uuid.UUID) (*Out, error) {
	inst, err := e.Await(ctx, id)
	if err != nil {
		return nil, err
	}
	if inst.Status == StatusFailed {
		if inst.Fault != nil {
			return nil, inst.Fault
		}
		return nil, errors.New("saga: instance failed without recorded fault")
	}
	var out Out
	if err := e.opts.Codec.Unmarshal(inst.Output, &out); err != nil {
		return nil, fmt.Errorf("unmarshal instance output: %w", err)
	}
	return &out, nil
}
