package saga

// Workflow represents a workflow definition with typed input and output.
//
// The function must be a pure function of (input, history): every activity
// call goes through Call/Schedule on the Context, and wall-clock time,
// randomness, and external reads are only allowed inside activities.
// Anything else makes replay diverge.
type Workflow[In, Out any] struct {
	name string
	fn   func(*Context, *In) (*Out, error)
}

// NewWorkflow creates a new workflow definition.
func NewWorkflow[In, Out any](name string, fn func(*Context, *In) (*Out, error)) *Workflow[In, Out] {
	return &Workflow[In, Out]{name: name, fn: fn}
}

// Name returns the workflow name.
func (w *Workflow[In, Out]) Name() string { return w.name }

// workflowRunner is the type-erased view of a registered workflow.
type workflowRunner interface {
	workflowName() string
	validateInput(codec Codec, data []byte) error
	run(c *Context, codec Codec, inputJSON []byte) (outputJSON []byte, err error)
}

type registeredWorkflow[In, Out any] struct {
	wf *Workflow[In, Out]
}

func (r registeredWorkflow[In, Out]) workflowName() string { return r.wf.name }

func (r registeredWorkflow[In, Out]) validateInput(codec Codec, data []byte) error {
	var in In
	return codec.Unmarshal(data, &in)
}

func (r registeredWorkflow[In, Out]) run(c *Context, codec Codec, inputJSON []byte) ([]byte, error) {
	var in In
	if err := codec.Unmarshal(inputJSON, &in); err != nil {
		return nil, Validationf("workflow_input", "unmarshal input for %s: %v", r.wf.name, err)
	}

	out, err := r.wf.fn(c, &in)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(out)
}
