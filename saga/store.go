package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// InstanceStatus represents the lifecycle state of an orchestration instance.
type InstanceStatus string

const (
	StatusScheduled InstanceStatus = "scheduled"
	StatusRunning   InstanceStatus = "running"
	StatusCompleted InstanceStatus = "completed"
	StatusFailed    InstanceStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s InstanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Instance is one execution of a named workflow. It is owned exclusively by
// the engine: created on Start, mutated only by appending history entries
// and the single terminal transition, immutable once terminal.
type Instance struct {
	ID        uuid.UUID
	Workflow  string
	Input     json.RawMessage
	Status    InstanceStatus
	Output    json.RawMessage
	Fault     *Fault
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcome is one recorded history entry: the result or fault of the activity
// call scheduled at Seq. (InstanceID, Seq) is the idempotency key; recording
// is first-write-wins, so an at-least-once re-execution of the orchestrating
// turn can never overwrite an outcome that is already on record.
type Outcome struct {
	Seq      int             `json:"seq"`
	Activity string          `json:"activity"`
	Input    json.RawMessage `json:"input,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Fault    *Fault          `json:"fault,omitempty"`
	Attempts int             `json:"attempts"`
}

// Failed reports whether the outcome is a fault.
func (o Outcome) Failed() bool { return o.Fault != nil }

// Store errors.
var (
	ErrInstanceNotFound = errors.New("saga: instance not found")
	ErrInstanceTerminal = errors.New("saga: instance already terminal")
)

// Store persists instances and their append-only history.
//
// Implementations: MemStore (tests, development) and pgstore.SagaStore
// (production, Postgres).
type Store interface {
	// CreateInstance persists a new instance in Scheduled state.
	CreateInstance(ctx context.Context, inst *Instance) error

	// GetInstance returns the instance or ErrInstanceNotFound.
	GetInstance(ctx context.Context, id uuid.UUID) (*Instance, error)

	// History returns all recorded outcomes ordered by sequence number.
	History(ctx context.Context, id uuid.UUID) ([]Outcome, error)

	// RecordOutcome appends one history entry. First write wins: a second
	// write for the same (instance, seq) is silently ignored.
	RecordOutcome(ctx context.Context, id uuid.UUID, o Outcome) error

	// Claim moves a runnable instance (Scheduled, or Running with an expired
	// lease) to Running and grants a lease. Returns false when the instance
	// is terminal or someone else holds a live lease.
	Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error)

	// ClaimNext claims the oldest runnable instance for one of the given
	// workflow names. Returns nil when nothing is runnable.
	ClaimNext(ctx context.Context, workflows []string, lease time.Duration) (*Instance, error)

	// Heartbeat extends the lease of a claimed instance.
	Heartbeat(ctx context.Context, id uuid.UUID, lease time.Duration) error

	// Complete marks the instance Completed with its output. No-op if the
	// instance is already terminal.
	Complete(ctx context.Context, id uuid.UUID, output json.RawMessage) error

	// Fail marks the instance Failed, preserving the fault verbatim. No-op
	// if the instance is already terminal.
	Fail(ctx context.Context, id uuid.UUID, f *Fault) error

	// CancelScheduled fails a Scheduled instance with a cancellation fault.
	// Returns false when the instance already started or finished.
	CancelScheduled(ctx context.Context, id uuid.UUID) (bool, error)
}
