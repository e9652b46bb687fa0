package resolution_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-transit/internal/catalog"
	"github.com/odyssey-erp/odyssey-transit/internal/followup"
	"github.com/odyssey-erp/odyssey-transit/internal/inventory"
	"github.com/odyssey-erp/odyssey-transit/internal/observability"
	"github.com/odyssey-erp/odyssey-transit/internal/party"
	"github.com/odyssey-erp/odyssey-transit/internal/resolution"
	"github.com/odyssey-erp/odyssey-transit/internal/resolution/resolutiontest"
	"github.com/odyssey-erp/odyssey-transit/internal/shared"
	"github.com/odyssey-erp/odyssey-transit/internal/transfer"
)

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func qtyp(v int64) *decimal.Decimal {
	d := qty(v)
	return &d
}

type taskRecorder struct {
	tasks []*asynq.Task
}

func (r *taskRecorder) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.tasks = append(r.tasks, task)
	return &asynq.TaskInfo{ID: uuid.NewString(), Type: task.Type()}, nil
}

type fixture struct {
	store     *resolutiontest.Store
	svc       *resolution.Service
	stock     *inventory.Service
	transfers *transfer.Service
	tasks     *taskRecorder
	registry  *prometheus.Registry
	bolts     uuid.UUID
	central   party.Party
	north     party.Party
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	bolts := uuid.New()
	items := catalog.Static{bolts: {ID: bolts, Name: "Bolt M8", MeasuringUnit: "pcs"}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := resolutiontest.NewStore()
	tasks := &taskRecorder{}
	registry := prometheus.NewRegistry()
	metrics := observability.NewEngine(registry)

	f := fixture{
		store:     store,
		stock:     inventory.NewService(store.Stock(), nil, items, nil),
		transfers: transfer.NewService(store.Transfers(), nil, items, transfer.Options{Metrics: metrics, Logger: logger}),
		svc: resolution.NewService(store, nil, resolution.Options{
			FollowUp: followup.NewPublisher(tasks, "", logger),
			Metrics:  metrics,
			Logger:   logger,
		}),
		tasks:    tasks,
		registry: registry,
		bolts:    bolts,
		central:  party.Warehouse(uuid.New()),
		north:    party.Warehouse(uuid.New()),
	}
	_, err := f.stock.ReceiveInbound(context.Background(), inventory.InboundInput{
		Holder: f.central, ItemTypeID: bolts, Quantity: qty(100), Actor: "clerk",
	})
	require.NoError(t, err)
	return f
}

// ship sends one line per requested quantity from central to north and accepts the
// received quantities. It returns the transaction and its stock records in line order.
func (f fixture) ship(t *testing.T, requested, received []int64) (transfer.Transaction, []inventory.StockRecord) {
	t.Helper()
	ctx := context.Background()
	in := transfer.CreateInput{Sender: f.central, Receiver: f.north, Actor: "clerk"}
	for _, q := range requested {
		in.Items = append(in.Items, transfer.ItemInput{ItemTypeID: f.bolts, Quantity: qty(q)})
	}
	tx, err := f.transfers.Create(ctx, in)
	require.NoError(t, err)

	accept := transfer.AcceptInput{TransactionID: tx.ID, Actor: "keeper"}
	for i, item := range tx.Items {
		accept.Items = append(accept.Items, transfer.ReceivedItem{TransactionItemID: item.ID, ReceivedQuantity: qty(received[i])})
	}
	tx, err = f.transfers.Accept(ctx, accept)
	require.NoError(t, err)

	recs, err := f.stock.ListStock(ctx, inventory.StockFilter{TransactionID: tx.ID})
	require.NoError(t, err)
	require.Len(t, recs, len(requested))
	return tx, recs
}

func (f fixture) balance(t *testing.T, holder party.Party) decimal.Decimal {
	t.Helper()
	rc, err := f.stock.Reconcile(context.Background(), holder, f.bolts)
	require.NoError(t, err)
	require.True(t, rc.Balanced, "ledger %s stock %s for %s", rc.LedgerBalance, rc.StockBalance, holder)
	return rc.StockBalance
}

func (f fixture) status(t *testing.T, id uuid.UUID) transfer.Status {
	t.Helper()
	tx, err := f.transfers.Get(context.Background(), id)
	require.NoError(t, err)
	return tx.Status
}

func TestFoundItemsRestoresExpectedQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, recs := f.ship(t, []int64{10}, []int64{5})
	require.Equal(t, transfer.StatusPartiallyAccepted, tx.Status)
	rec := recs[0]
	require.Equal(t, inventory.StatusMissing, rec.Status)
	require.True(t, rec.Quantity.Equal(qty(5)))

	before, err := f.stock.History(ctx, inventory.MovementFilter{StockRecordID: rec.ID})
	require.NoError(t, err)

	out, err := f.svc.Resolve(ctx, resolution.ResolveInput{
		StockRecordID: rec.ID, Type: resolution.FoundItems, CorrectedQuantity: qtyp(5), Actor: "auditor",
	})
	require.NoError(t, err)
	require.True(t, out.StockRecord.Quantity.Equal(qty(10)))
	require.Equal(t, inventory.StatusResolved, out.StockRecord.Status)
	require.True(t, out.StockRecord.Resolved)
	require.True(t, out.Resolution.FullyResolved)
	require.Nil(t, out.Resolution.ReturnTransactionID)
	require.Equal(t, inventory.StatusMissing, out.Resolution.OriginalStatus)
	require.True(t, out.Resolution.OriginalQuantity.Equal(qty(5)))
	require.Equal(t, transfer.StatusResolved, out.Transaction.Status)

	after, err := f.stock.History(ctx, inventory.MovementFilter{StockRecordID: rec.ID})
	require.NoError(t, err)
	require.Len(t, after, len(before)+1)
	last := after[len(after)-1]
	require.Equal(t, inventory.MovementFound, last.Type)
	require.True(t, last.Quantity.Equal(qty(5)))
	require.Equal(t, out.Resolution.MovementID, last.ID)

	require.True(t, f.balance(t, f.north).Equal(qty(10)))
	require.True(t, f.balance(t, f.central).Equal(qty(90)))
	require.Equal(t, transfer.StatusResolved, f.status(t, tx.ID))
}

func TestSecondResolutionIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, recs := f.ship(t, []int64{10}, []int64{6})

	_, err := f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[0].ID, Type: resolution.AcknowledgeLoss, Actor: "auditor"})
	require.NoError(t, err)

	_, err = f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[0].ID, Type: resolution.FoundItems, Actor: "auditor"})
	require.ErrorIs(t, err, resolution.ErrAlreadyResolved)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	require.Len(t, f.store.Resolutions(), 1)
}

func TestPartialFoundKeepsRecordOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, recs := f.ship(t, []int64{10}, []int64{5})

	out, err := f.svc.Resolve(ctx, resolution.ResolveInput{
		StockRecordID: recs[0].ID, Type: resolution.FoundItems, CorrectedQuantity: qtyp(2), Actor: "auditor",
	})
	require.NoError(t, err)
	require.False(t, out.Resolution.FullyResolved)
	require.False(t, out.StockRecord.Resolved)
	require.Equal(t, inventory.StatusMissing, out.StockRecord.Status)
	require.True(t, out.StockRecord.Quantity.Equal(qty(7)))
	require.Equal(t, transfer.StatusResolving, f.status(t, tx.ID))

	out, err = f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[0].ID, Type: resolution.AcknowledgeLoss, Notes: "written off", Actor: "auditor"})
	require.NoError(t, err)
	require.True(t, out.Resolution.FullyResolved)
	require.Equal(t, transfer.StatusResolved, f.status(t, tx.ID))

	losses, err := f.stock.History(ctx, inventory.MovementFilter{StockRecordID: recs[0].ID, Type: inventory.MovementLoss})
	require.NoError(t, err)
	require.Len(t, losses, 1)
	require.True(t, losses[0].Quantity.Equal(qty(3)))

	require.True(t, f.balance(t, f.north).Equal(qty(7)))
	require.True(t, f.balance(t, f.central).Equal(qty(90)))

	listed, err := f.svc.ListForStock(ctx, recs[0].ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
}

func TestReportTheftRaisesFollowUp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, recs := f.ship(t, []int64{10}, []int64{5})

	out, err := f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[0].ID, Type: resolution.ReportTheft, Notes: "seal broken", Actor: "auditor"})
	require.NoError(t, err)
	require.True(t, out.Resolution.FollowUp)
	require.True(t, out.StockRecord.Quantity.Equal(qty(5)))

	require.Len(t, f.tasks.tasks, 1)
	require.Equal(t, followup.TaskTheftReported, f.tasks.tasks[0].Type())
	var payload followup.TheftPayload
	require.NoError(t, json.Unmarshal(f.tasks.tasks[0].Payload(), &payload))
	require.Equal(t, out.Resolution.ID, payload.ResolutionID)
	require.Equal(t, "5", payload.Quantity)
	require.Equal(t, "seal broken", payload.Notes)

	require.True(t, f.balance(t, f.north).Equal(qty(5)))
}

func TestReturnToSenderSpawnsTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, recs := f.ship(t, []int64{10}, []int64{12})
	require.Equal(t, inventory.StatusOverReceived, recs[0].Status)

	out, err := f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[0].ID, Type: resolution.ReturnToSender, Actor: "auditor"})
	require.NoError(t, err)
	require.NotNil(t, out.Return)
	ret := *out.Return
	require.Equal(t, transfer.StatusPending, ret.Status)
	require.Equal(t, f.north, ret.Sender)
	require.Equal(t, f.central, ret.Receiver)
	require.NotNil(t, ret.ParentTransactionID)
	require.Equal(t, tx.ID, *ret.ParentTransactionID)
	require.True(t, ret.Items[0].RequestedQuantity.Equal(qty(2)))
	require.NotNil(t, out.Resolution.ReturnTransactionID)
	require.Equal(t, ret.ID, *out.Resolution.ReturnTransactionID)
	require.Equal(t, transfer.StatusResolved, f.status(t, tx.ID))

	require.True(t, f.balance(t, f.north).Equal(qty(12)))

	_, err = f.transfers.Accept(ctx, transfer.AcceptInput{
		TransactionID: ret.ID,
		Items:         []transfer.ReceivedItem{{TransactionItemID: ret.Items[0].ID, ReceivedQuantity: qty(2)}},
		Actor:         "keeper",
	})
	require.NoError(t, err)
	require.True(t, f.balance(t, f.north).Equal(qty(10)))
	require.True(t, f.balance(t, f.central).Equal(qty(92)))
}

func TestCountingErrorCorrectsQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, recs := f.ship(t, []int64{10}, []int64{12})

	out, err := f.svc.Resolve(ctx, resolution.ResolveInput{
		StockRecordID: recs[0].ID, Type: resolution.CountingError, CorrectedQuantity: qtyp(10), Actor: "auditor",
	})
	require.NoError(t, err)
	require.True(t, out.StockRecord.Quantity.Equal(qty(10)))
	require.True(t, out.Resolution.CorrectedQuantity.Equal(qty(10)))

	rows, err := f.stock.History(ctx, inventory.MovementFilter{StockRecordID: recs[0].ID, Type: inventory.MovementAdjustment})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].Quantity.Equal(qty(-2)))
	require.True(t, f.balance(t, f.north).Equal(qty(10)))
}

func TestTransactionResolvesAfterLastFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tx, recs := f.ship(t, []int64{10, 4, 6}, []int64{8, 4, 7})

	_, err := f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[0].ID, Type: resolution.AcknowledgeLoss, Actor: "auditor"})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusResolving, f.status(t, tx.ID))

	_, err = f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[1].ID, Type: resolution.AcceptSurplus, Actor: "auditor"})
	require.ErrorIs(t, err, resolution.ErrNotFlagged)

	_, err = f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: recs[2].ID, Type: resolution.AcceptSurplus, Actor: "auditor"})
	require.NoError(t, err)
	require.Equal(t, transfer.StatusResolved, f.status(t, tx.ID))

	listed, err := f.svc.ListForTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	require.True(t, f.balance(t, f.north).Equal(qty(19)))

	n, err := testutil.GatherAndCount(f.registry, "transit_resolutions_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestResolveValidationWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, recs := f.ship(t, []int64{10}, []int64{5})
	id := recs[0].ID
	fine := func(v string) *decimal.Decimal {
		d := decimal.RequireFromString(v)
		return &d
	}

	cases := []struct {
		name  string
		input resolution.ResolveInput
		want  error
	}{
		{"actor", resolution.ResolveInput{StockRecordID: id, Type: resolution.AcknowledgeLoss}, shared.ErrActorMissing},
		{"unknown type", resolution.ResolveInput{StockRecordID: id, Type: "SHRUG", Actor: "a"}, resolution.ErrUnknownType},
		{"surplus on missing", resolution.ResolveInput{StockRecordID: id, Type: resolution.AcceptSurplus, Actor: "a"}, resolution.ErrNotApplicable},
		{"found above shortfall", resolution.ResolveInput{StockRecordID: id, Type: resolution.FoundItems, CorrectedQuantity: qtyp(6), Actor: "a"}, resolution.ErrInvalidQuantity},
		{"count without quantity", resolution.ResolveInput{StockRecordID: id, Type: resolution.CountingError, Actor: "a"}, resolution.ErrCorrectedQuantityRequired},
		{"negative count", resolution.ResolveInput{StockRecordID: id, Type: resolution.CountingError, CorrectedQuantity: qtyp(-1), Actor: "a"}, shared.ErrValidation},
		{"count beyond scale", resolution.ResolveInput{StockRecordID: id, Type: resolution.CountingError, CorrectedQuantity: fine("4.00001"), Actor: "a"}, resolution.ErrInvalidQuantity},
		{"found beyond scale", resolution.ResolveInput{StockRecordID: id, Type: resolution.FoundItems, CorrectedQuantity: fine("2.00001"), Actor: "a"}, resolution.ErrInvalidQuantity},
		{"unknown record", resolution.ResolveInput{StockRecordID: uuid.New(), Type: resolution.AcknowledgeLoss, Actor: "a"}, shared.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Resolve(ctx, tc.input)
			require.ErrorIs(t, err, tc.want)
		})
	}

	inbound, err := f.stock.ListStock(ctx, inventory.StockFilter{Holder: f.central})
	require.NoError(t, err)
	_, err = f.svc.Resolve(ctx, resolution.ResolveInput{StockRecordID: inbound[0].ID, Type: resolution.AcknowledgeLoss, Actor: "a"})
	require.ErrorIs(t, err, resolution.ErrNotFlagged)

	require.Empty(t, f.store.Resolutions())
	got, err := f.stock.GetStock(ctx, id)
	require.NoError(t, err)
	require.Equal(t, inventory.StatusMissing, got.Status)
}

func TestTypeApplicability(t *testing.T) {
	require.True(t, resolution.FoundItems.AppliesTo(inventory.StatusMissing))
	require.False(t, resolution.FoundItems.AppliesTo(inventory.StatusOverReceived))
	require.True(t, resolution.CountingError.AppliesTo(inventory.StatusOverReceived))
	require.True(t, resolution.CountingError.AppliesTo(inventory.StatusMissing))
	require.False(t, resolution.ReturnToSender.AppliesTo(inventory.StatusInStock))
}
