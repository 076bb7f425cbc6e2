package saga

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// yieldPanic suspends the current execution turn. The engine recovers it,
// executes the pending activity calls, and re-runs the workflow function
// from the top on the next turn.
type yieldPanic struct{}

func (yieldPanic) Error() string { return "saga: yield" }

// nondeterminismError is raised when replay diverges from recorded history,
// which means the workflow function is not a pure function of
// (input, history).
type nondeterminismError struct {
	seq  int
	want string
	got  string
}

func (e nondeterminismError) Error() string {
	return fmt.Sprintf("saga: nondeterministic replay at seq %d: history has %q, workflow scheduled %q", e.seq, e.want, e.got)
}

// pendingCall is an activity call scheduled in the current turn whose
// outcome is not yet on record.
type pendingCall struct {
	seq      int
	activity string
	input    json.RawMessage
}

// Context is passed to workflow code. It provides the replay-safe activity
// scheduling primitives and nothing else; all side effects live in
// activities.
//
// A Context is bound to a single execution turn and must not be used from
// multiple goroutines: each instance is a single logical thread of control.
type Context struct {
	ctx     context.Context
	id      uuid.UUID
	codec   Codec
	history map[int]Outcome
	nextSeq int
	pending []pendingCall
}

func newContext(ctx context.Context, id uuid.UUID, codec Codec, history []Outcome) *Context {
	bySeq := make(map[int]Outcome, len(history))
	for _, o := range history {
		bySeq[o.Seq] = o
	}
	return &Context{ctx: ctx, id: id, codec: codec, history: bySeq}
}

// Context returns the underlying Go context.
func (c *Context) Context() context.Context { return c.ctx }

// InstanceID returns the orchestration instance ID.
func (c *Context) InstanceID() uuid.UUID { return c.id }

// Future is a handle to a scheduled activity call. Its sequence number is
// assigned at schedule time and is stable across replays regardless of
// completion order.
type Future[Out any] struct {
	c        *Context
	seq      int
	resolved *Outcome
}

// Seq returns the schedule-order index of this call.
func (f *Future[Out]) Seq() int { return f.seq }

// Schedule records an activity call at the next sequence number without
// awaiting it. If history already holds an outcome for that sequence number
// the future is resolved immediately and the activity is not re-invoked.
//
// Go does not support type parameters on methods, so this is a package-level
// generic.
func Schedule[In, Out any](c *Context, act *Activity[In, Out], in *In) *Future[Out] {
	seq := c.nextSeq
	c.nextSeq++

	if recorded, ok := c.history[seq]; ok {
		if recorded.Activity != act.name {
			panic(nondeterminismError{seq: seq, want: recorded.Activity, got: act.name})
		}
		return &Future[Out]{c: c, seq: seq, resolved: &recorded}
	}

	inputJSON, err := c.codec.Marshal(in)
	if err != nil {
		// A non-serializable input is a programming error in the workflow.
		panic(Validationf("activity_input", "marshal input for %s: %v", act.name, err))
	}
	c.pending = append(c.pending, pendingCall{seq: seq, activity: act.name, input: inputJSON})
	return &Future[Out]{c: c, seq: seq}
}

// Get returns the recorded outcome, or suspends the turn if the call has not
// completed yet. The returned error, if any, is the recorded *Fault.
func (f *Future[Out]) Get() (*Out, error) {
	if f.resolved == nil {
		panic(yieldPanic{})
	}
	if f.resolved.Fault != nil {
		return nil, f.resolved.Fault
	}
	var out Out
	if err := f.c.codec.Unmarshal(f.resolved.Result, &out); err != nil {
		return nil, Validationf("activity_output", "unmarshal recorded output at seq %d: %v", f.seq, err)
	}
	return &out, nil
}

// Call schedules one activity and awaits its outcome.
func Call[In, Out any](c *Context, act *Activity[In, Out], in *In) (*Out, error) {
	return Schedule(c, act, in).Get()
}

// Gather awaits a fan-out batch. Results and errors are indexed by schedule
// order, not completion order, so replay sees the same ordered list no
// matter which branch physically finished first. A failing branch keeps its
// slot: errs[i] carries its fault while outs[i] is nil.
func Gather[Out any](futures []*Future[Out]) (outs []*Out, errs []error) {
	for _, f := range futures {
		if f.resolved == nil {
			panic(yieldPanic{})
		}
	}
	outs = make([]*Out, len(futures))
	errs = make([]error, len(futures))
	for i, f := range futures {
		outs[i], errs[i] = f.Get()
	}
	return outs, errs
}
