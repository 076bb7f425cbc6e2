package saga

import (
	"context"
	"fmt"
	"runtime"

	"github.com/google/uuid"
)

// Activity represents an activity definition with typed input and output:
// a named, independently retryable unit of work invoked only by the engine.
// Activities never call each other and never read orchestration history.
type Activity[In, Out any] struct {
	name  string
	fn    func(context.Context, *ActivityInfo, *In) (*Out, error)
	retry RetryPolicy
}

// NewActivity creates a new activity definition.
func NewActivity[In, Out any](
	name string,
	fn func(context.Context, *ActivityInfo, *In) (*Out, error),
	retry RetryPolicy,
) *Activity[In, Out] {
	return &Activity[In, Out]{name: name, fn: fn, retry: retry}
}

// Name returns the activity name.
func (a *Activity[In, Out]) Name() string { return a.name }

// RetryPolicy returns the activity's retry policy.
func (a *Activity[In, Out]) RetryPolicy() RetryPolicy { return a.retry }

// ActivityInfo carries execution metadata into the activity function.
//
// (InstanceID, Seq) is stable across replays and physical retries; mutating
// activities that are not naturally idempotent must use it as their dedup
// key, because the engine delivers at-least-once.
type ActivityInfo struct {
	InstanceID uuid.UUID
	Seq        int
	Attempt    int // 1-indexed
}

// DedupKey derives a deterministic UUID from (InstanceID, Seq). Activities
// that create entities use it as the entity ID so a physical re-execution
// upserts instead of duplicating.
func (i *ActivityInfo) DedupKey(name string) uuid.UUID {
	return uuid.NewSHA1(i.InstanceID, []byte(fmt.Sprintf("%s/%d", name, i.Seq)))
}

// ActivityPanicError wraps a panic that occurred during activity execution,
// so a panicking activity fails its call instead of crashing the worker.
type ActivityPanicError struct {
	Value any
	Stack string
}

func (e ActivityPanicError) Error() string {
	return fmt.Sprintf("saga: activity panicked: %v", e.Value)
}

// activityRunner is the type-erased view of a registered activity.
// Registration is type-safe; execution is dynamic (by activity name from
// recorded history).
type activityRunner interface {
	activityName() string
	retryPolicy() RetryPolicy
	validateInput(codec Codec, data []byte) error
	run(ctx context.Context, info *ActivityInfo, codec Codec, inputJSON []byte) (outputJSON []byte, err error)
}

type registeredActivity[In, Out any] struct {
	act *Activity[In, Out]
}

func (r registeredActivity[In, Out]) activityName() string { return r.act.name }

func (r registeredActivity[In, Out]) retryPolicy() RetryPolicy { return r.act.retry }

// validateInput checks at the registry boundary that the payload decodes
// into the activity's registered input type before dispatch.
func (r registeredActivity[In, Out]) validateInput(codec Codec, data []byte) error {
	var in In
	return codec.Unmarshal(data, &in)
}

func (r registeredActivity[In, Out]) run(ctx context.Context, info *ActivityInfo, codec Codec, inputJSON []byte) (outputJSON []byte, err error) {
	var in In
	if err := codec.Unmarshal(inputJSON, &in); err != nil {
		return nil, Validationf("activity_input", "unmarshal input for %s: %v", r.act.name, err)
	}

	// Recover from panics so one bad activity doesn't take the worker down.
	defer func() {
		if rec := recover(); rec != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			err = ActivityPanicError{Value: rec, Stack: string(buf[:n])}
		}
	}()

	out, err := r.act.fn(ctx, info, &in)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(out)
}
