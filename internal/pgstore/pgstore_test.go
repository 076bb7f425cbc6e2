package pgstore_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raultorres2603/legal-ia-sub000/advisory"
	"github.com/raultorres2603/legal-ia-sub000/finance"
	"github.com/raultorres2603/legal-ia-sub000/internal/pgstore"
	"github.com/raultorres2603/legal-ia-sub000/saga"
	"github.com/raultorres2603/legal-ia-sub000/testutil"
)

func setupStores(t *testing.T) (*pgxpool.Pool, *pgstore.SagaStore, *pgstore.EntityStore) {
	t.Helper()
	pool := testutil.SetupTestDB(t)

	_, err := pool.Exec(context.Background(), pgstore.SchemaSQL)
	require.NoError(t, err, "apply schema")

	cfg := pgstore.Config{}
	return pool, pgstore.NewSagaStore(pool, cfg), pgstore.NewEntityStore(pool, cfg)
}

func createInstance(t *testing.T, s *pgstore.SagaStore, workflow string) *saga.Instance {
	t.Helper()
	inst := &saga.Instance{
		ID:       uuid.New(),
		Workflow: workflow,
		Input:    json.RawMessage(`{"year":2025}`),
		Status:   saga.StatusScheduled,
	}
	require.NoError(t, s.CreateInstance(context.Background(), inst))
	return inst
}

func TestSagaStoreInstanceLifecycle(t *testing.T) {
	_, store, _ := setupStores(t)
	ctx := context.Background()

	inst := createInstance(t, store, "wf")

	got, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)
	assert.Equal(t, "wf", got.Workflow)
	assert.Equal(t, saga.StatusScheduled, got.Status)
	assert.JSONEq(t, `{"year":2025}`, string(got.Input))

	_, err = store.GetInstance(ctx, uuid.New())
	assert.ErrorIs(t, err, saga.ErrInstanceNotFound)

	require.NoError(t, store.Complete(ctx, inst.ID, json.RawMessage(`{"ok":true}`)))

	got, err = store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, got.Status)
	assert.JSONEq(t, `{"ok":true}`, string(got.Output))

	// Terminal instances are immutable.
	require.NoError(t, store.Fail(ctx, inst.ID, saga.Transientf("late", "stale executor")))
	got, err = store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCompleted, got.Status)
	assert.Nil(t, got.Fault)
}

func TestSagaStoreRecordOutcomeFirstWriteWins(t *testing.T) {
	_, store, _ := setupStores(t)
	ctx := context.Background()
	inst := createInstance(t, store, "wf")

	first := saga.Outcome{Seq: 0, Activity: "act", Result: json.RawMessage(`"first"`), Attempts: 1}
	require.NoError(t, store.RecordOutcome(ctx, inst.ID, first))
	second := saga.Outcome{Seq: 0, Activity: "act", Result: json.RawMessage(`"second"`), Attempts: 2}
	require.NoError(t, store.RecordOutcome(ctx, inst.ID, second))

	faulted := saga.Outcome{Seq: 1, Activity: "other", Fault: saga.NotFoundf("missing", "no data"), Attempts: 1}
	require.NoError(t, store.RecordOutcome(ctx, inst.ID, faulted))

	history, err := store.History(ctx, inst.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, json.RawMessage(`"first"`), history[0].Result)
	assert.Equal(t, 1, history[0].Attempts)
	require.NotNil(t, history[1].Fault)
	assert.Equal(t, saga.FaultNotFound, history[1].Fault.Kind)
	assert.Equal(t, "missing", history[1].Fault.Code)
}

func TestSagaStoreClaimAndLease(t *testing.T) {
	_, store, _ := setupStores(t)
	ctx := context.Background()
	inst := createInstance(t, store, "wf")

	claimed, err := store.Claim(ctx, inst.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = store.Claim(ctx, inst.ID, time.Minute)
	require.NoError(t, err)
	assert.False(t, claimed, "live lease must block a second claim")

	_, err = store.Claim(ctx, uuid.New(), time.Minute)
	assert.ErrorIs(t, err, saga.ErrInstanceNotFound)

	// A sub-second lease expires on the database clock and the instance
	// becomes stealable.
	expired := createInstance(t, store, "wf-steal")
	claimed, err = store.Claim(ctx, expired.ID, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, claimed)
	time.Sleep(300 * time.Millisecond)
	claimed, err = store.Claim(ctx, expired.ID, time.Minute)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestSagaStoreClaimNext(t *testing.T) {
	_, store, _ := setupStores(t)
	ctx := context.Background()

	older := createInstance(t, store, "wf-a")
	time.Sleep(20 * time.Millisecond) // distinct created_at
	newer := createInstance(t, store, "wf-a")
	createInstance(t, store, "wf-b")

	got, err := store.ClaimNext(ctx, []string{"wf-a"}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, older.ID, got.ID)
	assert.Equal(t, saga.StatusRunning, got.Status)

	got, err = store.ClaimNext(ctx, []string{"wf-a"}, time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, newer.ID, got.ID)

	got, err = store.ClaimNext(ctx, []string{"wf-a"}, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSagaStoreCancelScheduled(t *testing.T) {
	_, store, _ := setupStores(t)
	ctx := context.Background()

	inst := createInstance(t, store, "wf")
	ok, err := store.CancelScheduled(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, got.Status)
	require.NotNil(t, got.Fault)
	assert.Equal(t, "cancelled", got.Fault.Code)

	running := createInstance(t, store, "wf")
	claimed, err := store.Claim(ctx, running.ID, time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)
	ok, err = store.CancelScheduled(ctx, running.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngineRunsAgainstPostgres(t *testing.T) {
	_, store, _ := setupStores(t)
	ctx := context.Background()

	type in struct {
		N int `json:"n"`
	}
	type out struct {
		N int `json:"n"`
	}
	square := saga.NewActivity("square",
		func(_ context.Context, _ *saga.ActivityInfo, in *in) (*out, error) {
			return &out{N: in.N * in.N}, nil
		}, saga.NoRetry)
	wf := saga.NewWorkflow("square-wf",
		func(c *saga.Context, input *in) (*out, error) {
			return saga.Call(c, square, input)
		})

	r := saga.NewRegistry()
	saga.RegisterActivity(r, square)
	saga.RegisterWorkflow(r, wf)
	e := saga.NewEngine(store, r, saga.Options{})

	id, err := saga.Start(ctx, e, wf, &in{N: 7})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx, id))

	result, err := saga.Result[out](ctx, e, id)
	require.NoError(t, err)
	assert.Equal(t, 49, result.N)
}

func seedUser(t *testing.T, entities *pgstore.EntityStore) *advisory.User {
	t.Helper()
	u := &advisory.User{Email: uuid.NewString() + "@example.com", Name: "Ana"}
	require.NoError(t, entities.PutUser(context.Background(), u))
	return u
}

func TestEntityStoreUsers(t *testing.T) {
	_, _, entities := setupStores(t)
	ctx := context.Background()

	u := seedUser(t, entities)
	got, err := entities.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, got.Email)
	assert.Equal(t, "Ana", got.Name)

	_, err = entities.GetUser(ctx, uuid.New())
	assert.ErrorIs(t, err, advisory.ErrNotFound)
}

func TestEntityStoreInvoiceRoundTripKeepsDecimalsExact(t *testing.T) {
	_, _, entities := setupStores(t)
	ctx := context.Background()
	u := seedUser(t, entities)

	inv := &finance.Invoice{
		OwnerID:   u.ID,
		Number:    "INV-001",
		IssueDate: time.Date(2025, 2, 15, 0, 0, 0, 0, time.UTC),
		Items: []finance.InvoiceItem{
			{
				Description:   "consulting",
				Quantity:      decimal.RequireFromString("2.5"),
				UnitPrice:     decimal.RequireFromString("99.99"),
				VATRate:       decimal.RequireFromString("21"),
				RetentionRate: decimal.RequireFromString("15"),
			},
		},
	}
	require.NoError(t, entities.CreateInvoice(ctx, inv))

	got, err := entities.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, "INV-001", got.Number)
	require.Len(t, got.Items, 1)
	assert.True(t, got.Items[0].Quantity.Equal(decimal.RequireFromString("2.5")))
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("99.99")))
	assert.True(t, got.Items[0].Base().Equal(decimal.RequireFromString("249.975")),
		"base = %s", got.Items[0].Base())

	_, err = entities.GetInvoice(ctx, uuid.New())
	assert.ErrorIs(t, err, advisory.ErrNotFound)
}

func TestEntityStoreListByOwnerYear(t *testing.T) {
	_, _, entities := setupStores(t)
	ctx := context.Background()
	owner := seedUser(t, entities)
	other := seedUser(t, entities)

	mk := func(ownerID uuid.UUID, number string, issued time.Time) {
		inv := &finance.Invoice{
			OwnerID:   ownerID,
			Number:    number,
			IssueDate: issued,
			Items: []finance.InvoiceItem{{
				Description:   "x",
				Quantity:      decimal.NewFromInt(1),
				UnitPrice:     decimal.NewFromInt(100),
				VATRate:       decimal.NewFromInt(21),
				RetentionRate: decimal.Zero,
			}},
		}
		require.NoError(t, entities.CreateInvoice(ctx, inv))
	}

	mk(owner.ID, "A-1", time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC))
	mk(owner.ID, "A-2", time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC))
	mk(owner.ID, "A-3", time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)) // other year
	mk(other.ID, "B-1", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))   // other owner

	invoices, err := entities.ListByOwnerYear(ctx, owner.ID, 2025)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "A-1", invoices[0].Number)
	assert.Equal(t, "A-2", invoices[1].Number)
	require.Len(t, invoices[0].Items, 1)
}

func TestEntityStoreUpdateItemsReplacesLines(t *testing.T) {
	_, _, entities := setupStores(t)
	ctx := context.Background()
	u := seedUser(t, entities)

	inv := &finance.Invoice{
		OwnerID:   u.ID,
		Number:    "INV-U",
		IssueDate: time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC),
		Items: []finance.InvoiceItem{{
			Description:   "old",
			Quantity:      decimal.NewFromInt(1),
			UnitPrice:     decimal.NewFromInt(10),
			VATRate:       decimal.NewFromInt(21),
			RetentionRate: decimal.Zero,
		}},
	}
	require.NoError(t, entities.CreateInvoice(ctx, inv))

	require.NoError(t, entities.UpdateItems(ctx, inv.ID, []finance.InvoiceItem{
		{
			Description:   "new-1",
			Quantity:      decimal.NewFromInt(3),
			UnitPrice:     decimal.RequireFromString("33.33"),
			VATRate:       decimal.NewFromInt(10),
			RetentionRate: decimal.NewFromInt(7),
		},
		{
			Description:   "new-2",
			Quantity:      decimal.NewFromInt(1),
			UnitPrice:     decimal.NewFromInt(5),
			VATRate:       decimal.NewFromInt(4),
			RetentionRate: decimal.Zero,
		},
	}))

	got, err := entities.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "new-1", got.Items[0].Description)
	assert.Equal(t, "new-2", got.Items[1].Description)
	assert.True(t, got.Items[0].UnitPrice.Equal(decimal.RequireFromString("33.33")))
}

func TestEntityStoreDocumentLifecycle(t *testing.T) {
	_, _, entities := setupStores(t)
	ctx := context.Background()
	u := seedUser(t, entities)

	doc := &advisory.Document{
		ID:      uuid.New(),
		OwnerID: u.ID,
		Title:   "Fiscal guidance 2025",
		Year:    2025,
		Status:  advisory.DocumentPending,
	}
	require.NoError(t, entities.CreateDocument(ctx, doc))

	// A duplicate create with the same deterministic ID is a no-op.
	dup := *doc
	dup.Title = "should not overwrite"
	require.NoError(t, entities.CreateDocument(ctx, &dup))

	got, err := entities.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fiscal guidance 2025", got.Title)
	assert.Equal(t, advisory.DocumentPending, got.Status)

	require.NoError(t, entities.UpdateContent(ctx, doc.ID, "content", "blob://d", true))
	got, err = entities.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, advisory.DocumentReady, got.Status)
	assert.Equal(t, "content", got.Content)
	assert.Equal(t, "blob://d", got.BlobURL)
	assert.True(t, got.Degraded)

	require.NoError(t, entities.SetStatus(ctx, doc.ID, advisory.DocumentFailed))
	got, err = entities.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, advisory.DocumentFailed, got.Status)

	assert.ErrorIs(t, entities.SetStatus(ctx, uuid.New(), advisory.DocumentReady), advisory.ErrNotFound)
	_, err = entities.GetDocument(ctx, uuid.New())
	assert.ErrorIs(t, err, advisory.ErrNotFound)
}
