package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/raultorres2603/legal-ia-sub000/saga"
)

// Compile-time interface check.
var _ saga.Store = (*SagaStore)(nil)

// SagaStore persists saga instances and their append-only history in
// Postgres. Claiming uses FOR UPDATE SKIP LOCKED so concurrent workers never
// contend on the same instance, and lease expiry is evaluated on the
// database clock so worker clock skew cannot double-claim.
type SagaStore struct {
	pool   *pgxpool.Pool
	tables dbTables
}

// NewSagaStore creates a saga store over an existing pool. The caller owns
// the pool lifecycle.
func NewSagaStore(pool *pgxpool.Pool, cfg Config) *SagaStore {
	return &SagaStore{pool: pool, tables: newDBTables(cfg)}
}

func (s *SagaStore) CreateInstance(ctx context.Context, inst *saga.Instance) error {
	_, err := s.pool.Exec(ctx, s.tables.insertInstanceSQL(),
		inst.ID, inst.Workflow, inst.Input, string(inst.Status))
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

func (s *SagaStore) GetInstance(ctx context.Context, id uuid.UUID) (*saga.Instance, error) {
	row := s.pool.QueryRow(ctx, s.tables.getInstanceSQL(), id)
	return scanInstance(row)
}

func (s *SagaStore) History(ctx context.Context, id uuid.UUID) ([]saga.Outcome, error) {
	rows, err := s.pool.Query(ctx, s.tables.historySQL(), id)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var history []saga.Outcome
	for rows.Next() {
		var (
			o         saga.Outcome
			faultJSON []byte
		)
		if err := rows.Scan(&o.Seq, &o.Activity, &o.Input, &o.Result, &faultJSON, &o.Attempts); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		if o.Fault, err = decodeFault(faultJSON); err != nil {
			return nil, err
		}
		history = append(history, o)
	}
	return history, rows.Err()
}

func (s *SagaStore) RecordOutcome(ctx context.Context, id uuid.UUID, o saga.Outcome) error {
	faultJSON, err := encodeFault(o.Fault)
	if err != nil {
		return err
	}
	// ON CONFLICT DO NOTHING makes the first write win.
	_, err = s.pool.Exec(ctx, s.tables.insertOutcomeSQL(),
		id, o.Seq, o.Activity, o.Input, o.Result, faultJSON, o.Attempts)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

func (s *SagaStore) Claim(ctx context.Context, id uuid.UUID, lease time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, s.tables.claimInstanceSQL(),
		id, lease.Seconds(), string(saga.StatusRunning), string(saga.StatusScheduled))
	if err != nil {
		return false, fmt.Errorf("claim instance: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var one int
	err = s.pool.QueryRow(ctx, s.tables.instanceExistsSQL(), id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, saga.ErrInstanceNotFound
	}
	if err != nil {
		return false, fmt.Errorf("check instance: %w", err)
	}
	return false, nil
}

func (s *SagaStore) ClaimNext(ctx context.Context, workflows []string, lease time.Duration) (*saga.Instance, error) {
	row := s.pool.QueryRow(ctx, s.tables.claimNextInstanceSQL(),
		workflows, lease.Seconds(), string(saga.StatusRunning), string(saga.StatusScheduled))
	inst, err := scanInstance(row)
	if errors.Is(err, saga.ErrInstanceNotFound) {
		return nil, nil
	}
	return inst, err
}

func (s *SagaStore) Heartbeat(ctx context.Context, id uuid.UUID, lease time.Duration) error {
	_, err := s.pool.Exec(ctx, s.tables.heartbeatSQL(),
		id, lease.Seconds(), string(saga.StatusRunning))
	if err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (s *SagaStore) Complete(ctx context.Context, id uuid.UUID, output json.RawMessage) error {
	_, err := s.pool.Exec(ctx, s.tables.completeInstanceSQL(),
		id, output, string(saga.StatusCompleted),
		string(saga.StatusCompleted), string(saga.StatusFailed))
	if err != nil {
		return fmt.Errorf("complete instance: %w", err)
	}
	return nil
}

func (s *SagaStore) Fail(ctx context.Context, id uuid.UUID, f *saga.Fault) error {
	faultJSON, err := encodeFault(f)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, s.tables.failInstanceSQL(),
		id, faultJSON, string(saga.StatusFailed),
		string(saga.StatusCompleted), string(saga.StatusFailed))
	if err != nil {
		return fmt.Errorf("fail instance: %w", err)
	}
	return nil
}

func (s *SagaStore) CancelScheduled(ctx context.Context, id uuid.UUID) (bool, error) {
	f := &saga.Fault{Kind: saga.FaultValidation, Code: "cancelled", Message: "cancelled before execution"}
	faultJSON, err := encodeFault(f)
	if err != nil {
		return false, err
	}
	tag, err := s.pool.Exec(ctx, s.tables.cancelScheduledSQL(),
		id, faultJSON, string(saga.StatusFailed), string(saga.StatusScheduled))
	if err != nil {
		return false, fmt.Errorf("cancel instance: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInstance(row rowScanner) (*saga.Instance, error) {
	var (
		inst      saga.Instance
		status    string
		faultJSON []byte
	)
	err := row.Scan(&inst.ID, &inst.Workflow, &inst.Input, &status,
		&inst.Output, &faultJSON, &inst.CreatedAt, &inst.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, saga.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	inst.Status = saga.InstanceStatus(status)
	if inst.Fault, err = decodeFault(faultJSON); err != nil {
		return nil, err
	}
	return &inst, nil
}

func encodeFault(f *saga.Fault) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal fault: %w", err)
	}
	return data, nil
}

func decodeFault(data []byte) (*saga.Fault, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var f saga.Fault
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("unmarshal fault: %w", err)
	}
	return &f, nil
}
