package redemption

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"venue-loyalty/pkg/config"
	"venue-loyalty/pkg/db/pagination"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/services/catalog"
	"venue-loyalty/services/checkin"
	"venue-loyalty/services/customer"
	"venue-loyalty/services/ledger"
	"venue-loyalty/services/settings"
	"venue-loyalty/services/testutil"
	"venue-loyalty/services/tier"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db         *gorm.DB
	ledger     *ledger.Service
	customer   *customer.Service
	catalog    *catalog.Service
	redemption *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&Request{},
		&customer.Customer{},
		&ledger.Entry{},
		&checkin.CheckIn{},
		&settings.Settings{},
		&catalog.Product{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Venue.Name = "Cafe Aurora"
	cfg.Venue.AdminCredential = "s3cret"

	settingsSvc := settings.NewService(settings.ServiceParams{DB: db, Node: node, Config: cfg})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	checkinSvc := checkin.NewService(checkin.ServiceParams{DB: db, Node: node})
	customerSvc := customer.NewService(customer.ServiceParams{
		DB:       db,
		Node:     node,
		Settings: settingsSvc,
		Ledger:   ledgerSvc,
		CheckIn:  checkinSvc,
	})
	catalogSvc := catalog.NewService(catalog.ServiceParams{DB: db, Node: node})

	return &fixture{
		db:       db,
		ledger:   ledgerSvc,
		customer: customerSvc,
		catalog:  catalogSvc,
		redemption: NewService(ServiceParams{
			DB:       db,
			Node:     node,
			Settings: settingsSvc,
			Ledger:   ledgerSvc,
			Customer: customerSvc,
			Catalog:  catalogSvc,
		}),
	}
}

func (f *fixture) seed(t *testing.T) (*customer.Customer, *catalog.Product) {
	t.Helper()
	ctx := context.Background()

	cust, err := f.customer.Register(ctx, customer.RegisterParams{Name: "Alex", Phone: "5551234"})
	require.NoError(t, err)

	product, err := f.catalog.Create(ctx, catalog.ProductParams{Name: "Mug", PointCost: 40})
	require.NoError(t, err)

	return cust, product
}

func TestSubmitComputesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust, product := f.seed(t)

	row, err := f.redemption.Submit(ctx, SubmitParams{
		CustomerID: cust.ID,
		ProductID:  product.ID,
		Quantity:   3,
	})
	require.NoError(t, err)
	require.Equal(t, int64(120), row.PointsTotal)
	require.Equal(t, string(StatusPending), row.Status)
	require.Equal(t, "Mug", row.ProductName)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust, product := f.seed(t)

	var be errutil.BaseError

	_, err := f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 0})
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())

	_, err = f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: "missing", Quantity: 1})
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())

	_, err = f.redemption.Submit(ctx, SubmitParams{CustomerID: "missing", ProductID: product.ID, Quantity: 1})
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())

	// Deactivated products read the same as missing ones.
	require.NoError(t, f.catalog.SetActive(ctx, product.ID, false))
	_, err = f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 1})
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestDecideApproveCreditsLedgerOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust, product := f.seed(t)

	row, err := f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 3})
	require.NoError(t, err)

	decision, err := f.redemption.Decide(ctx, DecideParams{RequestID: row.ID, Approve: true, DecidedBy: "admin"})
	require.NoError(t, err)
	require.Equal(t, string(StatusApproved), decision.Request.Status)
	require.Equal(t, int64(120), decision.Balance)
	require.Equal(t, tier.Red, decision.Tier)
	require.NotNil(t, decision.Request.DecidedAt)

	entries, err := f.ledger.History(ctx, cust.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(ledger.CategoryRedemption), entries[0].Category)
	require.Equal(t, int64(120), entries[0].Points)

	got, err := f.customer.Get(ctx, cust.ID)
	require.NoError(t, err)
	require.Equal(t, int64(120), got.PointsTotal)

	// A second decision on the same request must not double-credit.
	_, err = f.redemption.Decide(ctx, DecideParams{RequestID: row.ID, Approve: true, DecidedBy: "admin"})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	entries, err = f.ledger.History(ctx, cust.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestDecideRejectLeavesLedgerUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust, product := f.seed(t)

	row, err := f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)

	decision, err := f.redemption.Decide(ctx, DecideParams{
		RequestID: row.ID,
		Approve:   false,
		DecidedBy: "admin",
		Note:      "out of stock",
	})
	require.NoError(t, err)
	require.Equal(t, string(StatusRejected), decision.Request.Status)
	require.Zero(t, decision.Balance)

	entries, err := f.ledger.History(ctx, cust.ID, 0)
	require.NoError(t, err)
	require.Empty(t, entries)

	// Rejected is terminal too.
	_, err = f.redemption.Decide(ctx, DecideParams{RequestID: row.ID, Approve: true, DecidedBy: "admin"})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func TestDecideMissingRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.redemption.Decide(context.Background(), DecideParams{RequestID: "missing", Approve: true})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())
}

func TestDecideConcurrentExactlyOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust, product := f.seed(t)

	row, err := f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)

	var wins, conflicts atomic.Int32
	g := new(errgroup.Group)
	for _, approve := range []bool{true, false} {
		g.Go(func() error {
			_, err := f.redemption.Decide(ctx, DecideParams{RequestID: row.ID, Approve: approve, DecidedBy: "admin"})
			if err == nil {
				wins.Add(1)
				return nil
			}
			var be errutil.BaseError
			if errors.As(err, &be) && be.Status() == errutil.StatusConflict {
				conflicts.Add(1)
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(1), conflicts.Load())

	// At most one credit regardless of which call won.
	entries, err := f.ledger.History(ctx, cust.ID, 0)
	require.NoError(t, err)
	require.LessOrEqual(t, len(entries), 1)
}

func TestListFiltersByStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust, product := f.seed(t)

	first, err := f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 1})
	require.NoError(t, err)
	_, err = f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)

	_, err = f.redemption.Decide(ctx, DecideParams{RequestID: first.ID, Approve: true, DecidedBy: "admin"})
	require.NoError(t, err)

	pending, err := f.redemption.List(ctx, ListParams{Status: string(StatusPending)})
	require.NoError(t, err)
	require.Len(t, pending.Requests, 1)
	require.False(t, pending.PageInfo.HasMore)

	all, err := f.redemption.ListByCustomer(ctx, cust.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListPaginatesWithCursor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cust, product := f.seed(t)

	for i := 0; i < 5; i++ {
		_, err := f.redemption.Submit(ctx, SubmitParams{CustomerID: cust.ID, ProductID: product.ID, Quantity: 1})
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond) // distinct created_at ordering
	}

	first, err := f.redemption.List(ctx, ListParams{Pagination: pagination.Pagination{Limit: 3}})
	require.NoError(t, err)
	require.Len(t, first.Requests, 3)
	require.True(t, first.PageInfo.HasMore)
	require.NotEmpty(t, first.PageInfo.NextCursor)

	second, err := f.redemption.List(ctx, ListParams{Pagination: pagination.Pagination{
		Limit:  3,
		Cursor: first.PageInfo.NextCursor,
	}})
	require.NoError(t, err)
	require.Len(t, second.Requests, 2)
	require.False(t, second.PageInfo.HasMore)

	seen := map[string]bool{}
	for _, row := range append(first.Requests, second.Requests...) {
		require.False(t, seen[row.ID])
		seen[row.ID] = true
	}
}
