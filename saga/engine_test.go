package saga_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/raultorres2603/legal-ia-sub000/saga"
)

type addIn struct {
	A int `json:"a"`
	B int `json:"b"`
}

type addOut struct {
	Sum int `json:"sum"`
}

func newTestEngine(t *testing.T, registry *saga.Registry, opts saga.Options) (*saga.Engine, *saga.MemStore) {
	t.Helper()
	store := saga.NewMemStore()
	return saga.NewEngine(store, registry, opts), store
}

func TestSequentialCallsExecuteEachActivityOnce(t *testing.T) {
	executions := atomic.NewInt64(0)

	add := saga.NewActivity("add",
		func(_ context.Context, _ *saga.ActivityInfo, in *addIn) (*addOut, error) {
			executions.Inc()
			return &addOut{Sum: in.A + in.B}, nil
		}, saga.NoRetry)

	wf := saga.NewWorkflow("chain",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			first, err := saga.Call(c, add, in)
			if err != nil {
				return nil, err
			}
			return saga.Call(c, add, &addIn{A: first.Sum, B: 10})
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, add)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{A: 1, B: 2})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	out, err := saga.Result[addOut](ctx, e, id)
	require.NoError(t, err)
	assert.Equal(t, 13, out.Sum)

	// The workflow function replayed several turns, but each recorded call
	// ran exactly once.
	assert.Equal(t, int64(2), executions.Load())
}

type fanIn struct {
	Index int `json:"index"`
}

type fanOut struct {
	Index int `json:"index"`
}

func TestFanOutResultsFollowScheduleOrderNotCompletionOrder(t *testing.T) {
	var mu sync.Mutex
	var completionOrder []int

	slowFirst := saga.NewActivity("slow-first",
		func(_ context.Context, _ *saga.ActivityInfo, in *fanIn) (*fanOut, error) {
			// Earlier-scheduled calls finish last.
			time.Sleep(time.Duration(4-in.Index) * 50 * time.Millisecond)
			mu.Lock()
			completionOrder = append(completionOrder, in.Index)
			mu.Unlock()
			return &fanOut{Index: in.Index}, nil
		}, saga.NoRetry)

	type orderOut struct {
		Indices []int `json:"indices"`
	}
	wf := saga.NewWorkflow("fan",
		func(c *saga.Context, _ *struct{}) (*orderOut, error) {
			futures := make([]*saga.Future[fanOut], 5)
			for i := range futures {
				futures[i] = saga.Schedule(c, slowFirst, &fanIn{Index: i})
			}
			outs, errs := saga.Gather(futures)
			result := &orderOut{}
			for i, out := range outs {
				if errs[i] != nil {
					return nil, errs[i]
				}
				result.Indices = append(result.Indices, out.Index)
			}
			return result, nil
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, slowFirst)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{FanOutConcurrency: 5})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &struct{}{})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	out, err := saga.Result[orderOut](ctx, e, id)
	require.NoError(t, err)

	// Physical completion ran backwards, yet the gathered results follow
	// schedule order.
	assert.Equal(t, 4, completionOrder[0])
	assert.Equal(t, []int{0, 1, 2, 3, 4}, out.Indices)
}

func TestFailingBranchKeepsItsSlot(t *testing.T) {
	flaky := saga.NewActivity("flaky-branch",
		func(_ context.Context, _ *saga.ActivityInfo, in *fanIn) (*fanOut, error) {
			if in.Index == 1 {
				return nil, saga.NotFoundf("branch_missing", "branch %d has no data", in.Index)
			}
			return &fanOut{Index: in.Index}, nil
		}, saga.NoRetry)

	type branchOut struct {
		OK      []int `json:"ok"`
		Missing []int `json:"missing"`
	}
	wf := saga.NewWorkflow("fan-partial",
		func(c *saga.Context, _ *struct{}) (*branchOut, error) {
			futures := make([]*saga.Future[fanOut], 3)
			for i := range futures {
				futures[i] = saga.Schedule(c, flaky, &fanIn{Index: i})
			}
			outs, errs := saga.Gather(futures)
			result := &branchOut{}
			for i := range outs {
				if errs[i] != nil {
					result.Missing = append(result.Missing, i)
					continue
				}
				result.OK = append(result.OK, outs[i].Index)
			}
			return result, nil
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, flaky)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &struct{}{})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	out, err := saga.Result[branchOut](ctx, e, id)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, out.OK)
	assert.Equal(t, []int{1}, out.Missing)
}

func TestTransientFaultsAreRetriedUntilSuccess(t *testing.T) {
	attempts := atomic.NewInt64(0)

	wobbly := saga.NewActivity("wobbly",
		func(_ context.Context, _ *saga.ActivityInfo, in *addIn) (*addOut, error) {
			if attempts.Inc() < 3 {
				return nil, saga.Transientf("store_timeout", "simulated timeout")
			}
			return &addOut{Sum: in.A + in.B}, nil
		}, saga.RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 5, BackoffFactor: 1.5})

	wf := saga.NewWorkflow("retry-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			return saga.Call(c, wobbly, in)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, wobbly)
	saga.RegisterWorkflow(r, wf)
	e, store := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{A: 2, B: 3})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	out, err := saga.Result[addOut](ctx, e, id)
	require.NoError(t, err)
	assert.Equal(t, 5, out.Sum)
	assert.Equal(t, int64(3), attempts.Load())

	history, err := store.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 3, history[0].Attempts)
	assert.Nil(t, history[0].Fault)
}

func TestValidationFaultFailsInstanceEvenIfWorkflowWouldCatchIt(t *testing.T) {
	reject := saga.NewActivity("reject",
		func(_ context.Context, _ *saga.ActivityInfo, _ *addIn) (*addOut, error) {
			return nil, saga.Validationf("bad_request", "input rejected")
		}, saga.DefaultRetryPolicy)

	wf := saga.NewWorkflow("swallow-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			// The workflow tries to swallow the fault, but validation faults
			// are uncatchable.
			if out, err := saga.Call(c, reject, in); err == nil {
				return out, nil
			}
			return &addOut{Sum: -1}, nil
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, reject)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	inst, err := e.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, inst.Status)
	require.NotNil(t, inst.Fault)
	assert.Equal(t, saga.FaultValidation, inst.Fault.Kind)
	assert.Equal(t, "bad_request", inst.Fault.Code)
}

func TestValidationFaultIsNotRetried(t *testing.T) {
	attempts := atomic.NewInt64(0)

	reject := saga.NewActivity("reject-once",
		func(_ context.Context, _ *saga.ActivityInfo, _ *addIn) (*addOut, error) {
			attempts.Inc()
			return nil, saga.Validationf("bad_request", "input rejected")
		}, saga.RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 5})

	wf := saga.NewWorkflow("reject-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			return saga.Call(c, reject, in)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, reject)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	_, err = saga.Result[addOut](ctx, e, id)
	require.Error(t, err)
	assert.Equal(t, int64(1), attempts.Load())
}

func TestExternalServiceFaultIsCatchable(t *testing.T) {
	down := saga.NewActivity("external-down",
		func(_ context.Context, _ *saga.ActivityInfo, _ *addIn) (*addOut, error) {
			return nil, saga.ExternalServicef("provider_down", "503 from provider")
		}, saga.NoRetry)

	wf := saga.NewWorkflow("degrade-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			out, err := saga.Call(c, down, in)
			if saga.IsFaultKind(err, saga.FaultExternalService) {
				return &addOut{Sum: -1}, nil // degraded path
			}
			return out, err
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, down)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	out, err := saga.Result[addOut](ctx, e, id)
	require.NoError(t, err)
	assert.Equal(t, -1, out.Sum)
}

func TestNondeterministicReplayFailsInstance(t *testing.T) {
	a := saga.NewActivity("det-a",
		func(_ context.Context, _ *saga.ActivityInfo, in *addIn) (*addOut, error) {
			return &addOut{Sum: in.A}, nil
		}, saga.NoRetry)
	b := saga.NewActivity("det-b",
		func(_ context.Context, _ *saga.ActivityInfo, in *addIn) (*addOut, error) {
			return &addOut{Sum: in.B}, nil
		}, saga.NoRetry)

	// Deliberately broken: behavior depends on closure state instead of
	// (input, history), so the second turn diverges from the record.
	turns := atomic.NewInt64(0)
	wf := saga.NewWorkflow("broken-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			if turns.Inc() == 1 {
				return saga.Call(c, a, in)
			}
			return saga.Call(c, b, in)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, a)
	saga.RegisterActivity(r, b)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{A: 1, B: 2})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	inst, err := e.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, inst.Status)
	require.NotNil(t, inst.Fault)
	assert.Equal(t, "nondeterministic_replay", inst.Fault.Code)
}

func TestInstanceTimeoutFailsInstance(t *testing.T) {
	block := saga.NewActivity("block",
		func(_ context.Context, _ *saga.ActivityInfo, in *addIn) (*addOut, error) {
			return &addOut{Sum: in.A}, nil
		}, saga.NoRetry)
	wf := saga.NewWorkflow("timeout-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			return saga.Call(c, block, in)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, block)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{InstanceTimeout: time.Nanosecond})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{A: 1})
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, e.Run(ctx, id))

	inst, err := e.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, inst.Status)
	require.NotNil(t, inst.Fault)
	assert.Equal(t, "instance_timeout", inst.Fault.Code)
}

func TestCancelScheduledInstance(t *testing.T) {
	noop := saga.NewActivity("noop",
		func(_ context.Context, _ *saga.ActivityInfo, in *addIn) (*addOut, error) {
			return &addOut{}, nil
		}, saga.NoRetry)
	wf := saga.NewWorkflow("cancel-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			return saga.Call(c, noop, in)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, noop)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{})
	require.NoError(t, err)
	require.NoError(t, e.Cancel(ctx, id))

	inst, err := e.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, inst.Status)
	require.NotNil(t, inst.Fault)
	assert.Equal(t, "cancelled", inst.Fault.Code)

	// Cancelling twice reports the terminal state.
	assert.Error(t, e.Cancel(ctx, id))
}

func TestStartRejectsUnknownWorkflowAndBadInput(t *testing.T) {
	wf := saga.NewWorkflow("typed-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			return &addOut{Sum: in.A + in.B}, nil
		})
	r := saga.NewRegistry()
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	_, err := e.StartRaw(ctx, "nope", []byte(`{}`))
	assert.True(t, saga.IsFaultKind(err, saga.FaultValidation))

	_, err = e.StartRaw(ctx, "typed-wf", []byte(`{"a": "not a number"}`))
	assert.True(t, saga.IsFaultKind(err, saga.FaultValidation))
}

func TestActivityPanicFailsCallNotWorker(t *testing.T) {
	boom := saga.NewActivity("boom",
		func(_ context.Context, _ *saga.ActivityInfo, _ *addIn) (*addOut, error) {
			panic("kaboom")
		}, saga.NoRetry)
	wf := saga.NewWorkflow("panic-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			return saga.Call(c, boom, in)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, boom)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	inst, err := e.Await(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, inst.Status)
}

func TestDedupKeyIsStableAcrossAttempts(t *testing.T) {
	seen := make(map[string]int)
	var mu sync.Mutex
	attempts := atomic.NewInt64(0)

	create := saga.NewActivity("create-entity",
		func(_ context.Context, info *saga.ActivityInfo, _ *addIn) (*addOut, error) {
			mu.Lock()
			seen[info.DedupKey("entity").String()]++
			mu.Unlock()
			if attempts.Inc() < 2 {
				return nil, saga.Transientf("flaky", "first attempt fails")
			}
			return &addOut{}, nil
		}, saga.RetryPolicy{InitialInterval: time.Millisecond, MaxAttempts: 3})

	wf := saga.NewWorkflow("dedup-wf",
		func(c *saga.Context, in *addIn) (*addOut, error) {
			return saga.Call(c, create, in)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, create)
	saga.RegisterWorkflow(r, wf)
	e, _ := newTestEngine(t, r, saga.Options{})

	ctx := context.Background()
	id, err := saga.Start(ctx, e, wf, &addIn{})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	// Both physical attempts derived the same entity ID.
	require.Len(t, seen, 1)
	for _, count := range seen {
		assert.Equal(t, 2, count)
	}
}
