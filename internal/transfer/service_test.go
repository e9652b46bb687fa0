package transfer_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-transit/internal/catalog"
	"github.com/odyssey-erp/odyssey-transit/internal/followup"
	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/observability"
	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer/transfertest"
)

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type taskRecorder struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (r *taskRecorder) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Type: task.Type()}, nil
}

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *memoryKeys) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return shared.ErrConflict
	}
	m.keys[key] = true
	return nil
}

func (m *memoryKeys) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type fixture struct {
	store    *transfertest.Store
	svc      *transfer.Service
	stock    *inventory.Service
	tasks    *taskRecorder
	registry *prometheus.Registry
	bolts    uuid.UUID
	central  party.Party
	north    party.Party
	crane    party.Party
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	bolts := uuid.New()
	items := catalog.Static{bolts: {ID: bolts, Name: "Bolt M8", MeasuringUnit: "pcs"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := transfertest.NewStore()
	tasks := &taskRecorder{}
	registry := prometheus.NewRegistry()

	svc := transfer.NewService(store, nil, items, transfer.Options{
		Idempotency: &memoryKeys{keys: map[string]bool{}},
		FollowUp:    followup.NewPublisher(tasks, "", logger),
		Metrics:     observability.NewEngine(registry),
		Logger:      logger,
	})
	f := fixture{
		store:    store,
		svc:      svc,
		stock:    inventory.NewService(store.Stock(), nil, items, nil),
		tasks:    tasks,
		registry: registry,
		bolts:    bolts,
		central:  party.Warehouse(uuid.New()),
		north:    party.Warehouse(uuid.New()),
		crane:    party.Equipment(uuid.New()),
	}
	_, err := f.stock.ReceiveInbound(context.Background(), inventory.InboundInput{
		Holder: f.central, ItemTypeID: bolts, Quantity: qty(50), Actor: "clerk",
	})
	require.NoError(t, err)
	return f
}

func (f fixture) create(t *testing.T, batch *int64, quantities ...int64) transfer.Transaction {
	t.Helper()
	in := transfer.CreateInput{Sender: f.central, Receiver: f.north, BatchNumber: batch, Actor: "clerk"}
	for _, q := range quantities {
		in.Items = append(in.Items, transfer.ItemInput{ItemTypeID: f.bolts, Quantity: qty(q)})
	}
	tx, err := f.svc.Create(context.Background(), in)
	require.NoError(t, err)
	return tx
}

func (f fixture) balance(t *testing.T, holder party.Party) decimal.Decimal {
	t.Helper()
	rc, err := f.stock.Reconcile(context.Background(), holder, f.bolts)
	require.NoError(t, err)
	require.True(t, rc.Balanced, "ledger %s stock %s for %s", rc.LedgerBalance, rc.StockBalance, holder)
	return rc.StockBalance
}

func receipt(tx transfer.Transaction, quantities ...int64) []transfer.ReceivedItem {
	out := make([]transfer.ReceivedItem, len(tx.Items))
	for i, item := range tx.Items {
		out[i] = transfer.ReceivedItem{TransactionItemID: item.ID, ReceivedQuantity: qty(quantities[i])}
	}
	return out
}

func int64p(v int64) *int64 { return &v }

func TestAcceptAllMatchedCompletesTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, nil, 10, 5)
	require.Equal(t, transfer.StatusPending, tx.Status)
	require.Equal(t, f.central.ID(), tx.SentFirst)

	got, err := f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: receipt(tx, 10, 5), Actor: "keeper"})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusAccepted, got.Status)
	require.NotNil(t, got.CompletedAt)
	for _, item := range got.Items {
		require.Equal(t, transfer.ItemAccepted, item.Status)
	}

	require.True(t, f.balance(t, f.north).Equal(qty(15)))
	require.True(t, f.balance(t, f.central).Equal(qty(35)))

	flagged, err := f.stock.Discrepancies(ctx, inventory.MovementFilter{TransactionID: tx.ID})
	require.NoError(t, err)
	require.Empty(t, flagged)
	require.Empty(t, f.tasks.tasks)
}

func TestAcceptMismatchIsPartiallyAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, int64p(31), 10, 5)

	_, err := f.svc.Dispatch(ctx, tx.ID, "clerk")
	require.NoError(t, err)
	require.True(t, f.balance(t, f.central).Equal(qty(50)))

	got, err := f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: receipt(tx, 7, 6), Actor: "keeper"})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusPartiallyAccepted, got.Status)
	require.Equal(t, transfer.ItemMissing, got.Items[0].Status)
	require.Equal(t, transfer.ItemOverReceived, got.Items[1].Status)
	require.True(t, got.Items[0].ReceivedQuantity.Equal(qty(7)))

	recs, err := f.stock.ListStock(ctx, inventory.StockFilter{TransactionID: tx.ID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, inventory.StatusMissing, recs[0].Status)
	require.Equal(t, inventory.StatusOverReceived, recs[1].Status)

	require.True(t, f.balance(t, f.north).Equal(qty(13)))
	require.True(t, f.balance(t, f.central).Equal(qty(35)))

	require.Len(t, f.tasks.tasks, 1)
	require.Equal(t, followup.TaskDiscrepancyDetected, f.tasks.tasks[0].Type())
	var payload followup.DiscrepancyPayload
	require.NoError(t, json.Unmarshal(f.tasks.tasks[0].Payload(), &payload))
	require.Len(t, payload.Lines, 2)
	require.Equal(t, int64(31), *payload.BatchNumber)

	n, err := testutil.GatherAndCount(f.registry, "transit_discrepancies_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestRejectLeavesReceiverStockUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pending := f.create(t, nil, 10)
	got, err := f.svc.Reject(ctx, transfer.RejectInput{TransactionID: pending.ID, Reason: "wrong site", Actor: "keeper"})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusRejected, got.Status)
	require.Equal(t, "wrong site", got.Items[0].RejectionReason)

	delivering := f.create(t, nil, 20)
	_, err = f.svc.Dispatch(ctx, delivering.ID, "clerk")
	require.NoError(t, err)
	got, err = f.svc.Reject(ctx, transfer.RejectInput{TransactionID: delivering.ID, Reason: "damaged", Actor: "keeper"})
	require.NoError(t, err)
	require.Equal(t, transfer.ItemRejected, got.Items[0].Status)

	require.True(t, f.balance(t, f.central).Equal(qty(50)))
	require.True(t, f.balance(t, f.north).IsZero())
	recs, err := f.stock.ListStock(ctx, inventory.StockFilter{Holder: f.north})
	require.NoError(t, err)
	require.Empty(t, recs)

	_, err = f.svc.Reject(ctx, transfer.RejectInput{TransactionID: delivering.ID, Actor: "keeper"})
	require.ErrorIs(t, err, transfer.ErrReasonRequired)
}

func TestConcurrentCreateWithSameBatchNumber(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	errs := make([]error, 2)
	var g errgroup.Group
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = f.svc.Create(ctx, transfer.CreateInput{
				Sender: f.central, Receiver: f.north, BatchNumber: int64p(4242), Actor: "clerk",
				Items: []transfer.ItemInput{{ItemTypeID: f.bolts, Quantity: qty(1)}},
			})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, transfer.ErrDuplicateBatchNumber)
		require.ErrorIs(t, err, shared.ErrConflict)
	}
	require.Equal(t, 1, succeeded)
	require.Len(t, f.store.Snapshot().Transactions, 1)
}

func TestValidateBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, int64p(77), 3)

	res, err := f.svc.ValidateBatch(ctx, 77, f.central.ID())
	require.NoError(t, err)
	require.Equal(t, transfer.ScenarioPendingSent, res.Scenario)

	res, err = f.svc.ValidateBatch(ctx, 77, f.north.ID())
	require.NoError(t, err)
	require.Equal(t, transfer.ScenarioIncomingValidation, res.Scenario)
	require.True(t, res.CanValidate)

	res, err = f.svc.ValidateBatch(ctx, 77, f.crane.ID())
	require.NoError(t, err)
	require.Equal(t, transfer.ScenarioUsedByOtherEntity, res.Scenario)
	require.Nil(t, res.Transaction)

	res, err = f.svc.ValidateBatch(ctx, 78, f.north.ID())
	require.NoError(t, err)
	require.Equal(t, transfer.ScenarioNotFound, res.Scenario)
	require.True(t, res.CanCreateNew)

	_, err = f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: receipt(tx, 3), Actor: "keeper"})
	require.NoError(t, err)
	res, err = f.svc.ValidateBatch(ctx, 77, f.north.ID())
	require.NoError(t, err)
	require.Equal(t, transfer.ScenarioAlreadyValidated, res.Scenario)

	_, err = f.svc.ValidateBatch(ctx, 0, f.north.ID())
	require.ErrorIs(t, err, transfer.ErrInvalidBatchNumber)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	line := []transfer.ItemInput{{ItemTypeID: f.bolts, Quantity: qty(1)}}

	_, err := f.svc.Create(ctx, transfer.CreateInput{Sender: f.central, Receiver: f.north, Items: line})
	require.ErrorIs(t, err, shared.ErrActorMissing)

	_, err = f.svc.Create(ctx, transfer.CreateInput{Sender: f.central, Receiver: f.central, Items: line, Actor: "clerk"})
	require.ErrorIs(t, err, transfer.ErrSameParty)

	_, err = f.svc.Create(ctx, transfer.CreateInput{Sender: f.central, Receiver: f.north, Initiator: f.crane, Items: line, Actor: "clerk"})
	require.ErrorIs(t, err, transfer.ErrInitiatorNotParty)

	_, err = f.svc.Create(ctx, transfer.CreateInput{Sender: f.central, Receiver: f.north, Actor: "clerk"})
	require.ErrorIs(t, err, transfer.ErrNoItems)

	_, err = f.svc.Create(ctx, transfer.CreateInput{
		Sender: f.central, Receiver: f.north, Actor: "clerk",
		Items: []transfer.ItemInput{{ItemTypeID: uuid.New(), Quantity: qty(1)}},
	})
	require.ErrorIs(t, err, shared.ErrNotFound)

	require.Empty(t, f.store.Snapshot().Transactions)
}

func TestCreateIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := transfer.CreateInput{
		Sender: f.central, Receiver: f.north, BatchNumber: int64p(5), IdempotencyKey: "k1", Actor: "clerk",
		Items: []transfer.ItemInput{{ItemTypeID: f.bolts, Quantity: qty(1)}},
	}
	_, err := f.svc.Create(ctx, in)
	require.NoError(t, err)

	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, shared.ErrConflict)

	in.IdempotencyKey = "k2"
	_, err = f.svc.Create(ctx, in)
	require.ErrorIs(t, err, transfer.ErrDuplicateBatchNumber)

	in.BatchNumber = int64p(6)
	_, err = f.svc.Create(ctx, in)
	require.NoError(t, err, "key of a failed create is released")
	require.Len(t, f.store.Snapshot().Transactions, 2)
}

func TestTerminalTransactionRefusesChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, nil, 4)
	_, err := f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: receipt(tx, 4), Actor: "keeper"})
	require.NoError(t, err)

	_, err = f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: receipt(tx, 4), Actor: "keeper"})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, transfer.RejectInput{TransactionID: tx.ID, Reason: "late", Actor: "keeper"})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.svc.Dispatch(ctx, tx.ID, "clerk")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	require.True(t, f.balance(t, f.north).Equal(qty(4)))
}

func TestDispatchWithInsufficientStockChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, nil, 30, 30)

	_, err := f.svc.Dispatch(ctx, tx.ID, "clerk")
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, err := f.svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, transfer.StatusPending, got.Status)
	require.Len(t, f.store.Snapshot().Stock.Movements, 1)
	require.True(t, f.balance(t, f.central).Equal(qty(50)))
}

func TestAcceptRequiresEveryLineOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx := f.create(t, nil, 2, 3)

	_, err := f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: receipt(tx, 2, 3)[:1], Actor: "keeper"})
	require.ErrorIs(t, err, transfer.ErrIncompleteReceipt)

	items := receipt(tx, 2, 3)
	items[1].TransactionItemID = uuid.New()
	_, err = f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: items, Actor: "keeper"})
	require.ErrorIs(t, err, transfer.ErrItemNotFound)

	items = receipt(tx, 2, 3)
	items[0].ReceivedQuantity = qty(-1)
	_, err = f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: items, Actor: "keeper"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: uuid.New(), Items: items, Actor: "keeper"})
	require.True(t, errors.Is(err, transfer.ErrTransactionNotFound))

	got, err := f.svc.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, transfer.StatusPending, got.Status)
}

func TestListFiltersByPartyAndStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t, nil, 1)
	f.create(t, nil, 1)
	_, err := f.svc.Reject(ctx, transfer.RejectInput{TransactionID: first.ID, Reason: "no", Actor: "keeper"})
	require.NoError(t, err)

	all, err := f.svc.List(ctx, transfer.ListFilter{Party: f.north})
	require.NoError(t, err)
	require.Len(t, all, 2)

	rejected, err := f.svc.List(ctx, transfer.ListFilter{Party: f.central, Status: transfer.StatusRejected})
	require.NoError(t, err)
	require.Len(t, rejected, 1)
	require.Equal(t, first.ID, rejected[0].ID)

	none, err := f.svc.List(ctx, transfer.ListFilter{Party: f.crane})
	require.NoError(t, err)
	require.Empty(t, none)

	_, err = f.svc.List(ctx, transfer.ListFilter{Status: "lost"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestQuantitiesBeyondStoredScaleAreRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, transfer.CreateInput{
		Sender: f.central, Receiver: f.north, Actor: "clerk",
		Items: []transfer.ItemInput{{ItemTypeID: f.bolts, Quantity: decimal.RequireFromString("0.00001")}},
	})
	require.ErrorIs(t, err, transfer.ErrInvalidQuantity)
	require.Empty(t, f.store.Snapshot().Transactions)

	tx := f.create(t, nil, 10)
	movements := len(f.store.Snapshot().Stock.Movements)
	items := receipt(tx, 10)
	items[0].ReceivedQuantity = decimal.RequireFromString("10.00001")
	_, err = f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: items, Actor: "keeper"})
	require.ErrorIs(t, err, transfer.ErrInvalidQuantity)
	require.Len(t, f.store.Snapshot().Stock.Movements, movements)

	items[0].ReceivedQuantity = decimal.RequireFromString("10.000000")
	got, err := f.svc.Accept(ctx, transfer.AcceptInput{TransactionID: tx.ID, Items: items, Actor: "keeper"})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusAccepted, got.Status)
}

func TestTransactionJSONOmitsMissingParent(t *testing.T) {
	f := newFixture(t)
	tx := f.create(t, nil, 1)
	require.Nil(t, tx.ParentTransactionID)

	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.NotContains(t, fields, "parentTransactionId")
}
