package customer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"venue-loyalty/pkg/config"
	"venue-loyalty/pkg/errutil"
	"venue-loyalty/services/checkin"
	"venue-loyalty/services/ledger"
	"venue-loyalty/services/settings"
	"venue-loyalty/services/testutil"
	"venue-loyalty/services/tier"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db := testutil.NewTestDB(t, &Customer{}, &ledger.Entry{}, &checkin.CheckIn{}, &settings.Settings{})

	// Owned by the redemption service; created here so the delete cascade
	// has a table to sweep.
	require.NoError(t, db.Exec(
		"CREATE TABLE IF NOT EXISTS redemption_requests (id TEXT PRIMARY KEY, customer_id TEXT, status TEXT)",
	).Error)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Venue.Name = "Cafe Aurora"
	cfg.Venue.AdminCredential = "s3cret"

	settingsSvc := settings.NewService(settings.ServiceParams{DB: db, Node: node, Config: cfg})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	checkinSvc := checkin.NewService(checkin.ServiceParams{DB: db, Node: node})

	svc := NewService(ServiceParams{
		DB:       db,
		Node:     node,
		Settings: settingsSvc,
		Ledger:   ledgerSvc,
		CheckIn:  checkinSvc,
	})

	return svc, db
}

func register(t *testing.T, svc *Service, phone string) *Customer {
	t.Helper()
	row, err := svc.Register(context.Background(), RegisterParams{Name: "Alex", Phone: phone})
	require.NoError(t, err)
	return row
}

func TestRegister(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	row, err := svc.Register(ctx, RegisterParams{Name: "Alex", Phone: "5551234"})
	require.NoError(t, err)
	require.Equal(t, string(tier.Red), row.Tier)
	require.Zero(t, row.PointsTotal)

	_, err = svc.Register(ctx, RegisterParams{Name: "Sam", Phone: "5551234"})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())

	_, err = svc.Register(ctx, RegisterParams{Phone: "5555678"})
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())
}

func TestLoginAndPassword(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	// No password stored yet: phone alone suffices.
	_, err := svc.LoginByPhone(ctx, "5551234", "")
	require.NoError(t, err)

	err = svc.SetPassword(ctx, row.ID, "abc")
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())

	require.NoError(t, svc.SetPassword(ctx, row.ID, "abcd"))

	_, err = svc.LoginByPhone(ctx, "5551234", "abcd")
	require.NoError(t, err)

	_, err = svc.LoginByPhone(ctx, "5551234", "wrong")
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnauthorized, be.Status())

	_, err = svc.LoginByPhone(ctx, "0000000", "abcd")
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnauthorized, be.Status())
}

func TestCreditPointsUpdatesCacheAndTier(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	result, err := svc.CreditPoints(ctx, CreditPointsParams{
		CustomerID:  row.ID,
		Points:      300,
		Description: "dinner",
	})
	require.NoError(t, err)
	require.Equal(t, int64(300), result.Balance)
	require.Equal(t, tier.Yellow, result.Tier)

	got, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, int64(300), got.PointsTotal)
	require.Equal(t, string(tier.Yellow), got.Tier)

	result, err = svc.CreditPoints(ctx, CreditPointsParams{CustomerID: row.ID, Points: 200})
	require.NoError(t, err)
	require.Equal(t, int64(500), result.Balance)
	require.Equal(t, tier.Green, result.Tier)
}

func TestCreditPointsRejectsZero(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	_, err := svc.CreditPoints(ctx, CreditPointsParams{CustomerID: row.ID, Points: 0})
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusValidationFailed, be.Status())

	entries, err := svc.ledger.History(ctx, row.ID, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestCheckInDeduplicatesAndUpdatesLastVisit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	result, err := svc.CheckIn(ctx, CheckInParams{CustomerID: row.ID, Location: "front"})
	require.NoError(t, err)
	require.Equal(t, 1, result.VisitDays)
	require.Zero(t, result.BonusAwarded)

	got, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastVisit)

	_, err = svc.CheckIn(ctx, CheckInParams{CustomerID: row.ID})
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Status())
}

func seedVisitDays(t *testing.T, svc *Service, db *gorm.DB, customerID string, days int) {
	t.Helper()
	now := time.Now()
	for i := 1; i <= days; i++ {
		_, err := svc.checkin.RecordTx(context.Background(), db, customerID, now.Add(-time.Duration(i)*24*time.Hour), "")
		require.NoError(t, err)
	}
}

func TestCheckInAwardsFrequencyBonusOnCrossing(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	// 4 earlier days; today's check-in is the fifth distinct day.
	seedVisitDays(t, svc, db, row.ID, 4)

	result, err := svc.CheckIn(ctx, CheckInParams{CustomerID: row.ID})
	require.NoError(t, err)
	require.Equal(t, 5, result.VisitDays)
	require.Equal(t, int64(25), result.BonusAwarded)
	require.Equal(t, int64(25), result.Balance)

	got, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.BonusThreshold)

	entries, err := svc.ledger.History(ctx, row.ID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(ledger.CategoryFrequencyBonus), entries[0].Category)
}

func TestCheckInCreditsOnlyTheDeltaAboveTheMark(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	// Already paid through the 5-day step.
	seedVisitDays(t, svc, db, row.ID, 9)
	require.NoError(t, db.Model(&Customer{}).Where("id = ?", row.ID).
		Update("bonus_threshold", 5).Error)

	result, err := svc.CheckIn(ctx, CheckInParams{CustomerID: row.ID})
	require.NoError(t, err)
	require.Equal(t, 10, result.VisitDays)
	require.Equal(t, int64(25), result.BonusAwarded) // 50 - 25 already paid

	got, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 10, got.BonusThreshold)
}

func TestCheckInDecayLowersMarkWithoutClawback(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	seedVisitDays(t, svc, db, row.ID, 2)
	require.NoError(t, db.Model(&Customer{}).Where("id = ?", row.ID).
		Update("bonus_threshold", 10).Error)

	result, err := svc.CheckIn(ctx, CheckInParams{CustomerID: row.ID})
	require.NoError(t, err)
	require.Equal(t, 3, result.VisitDays)
	require.Zero(t, result.BonusAwarded)

	got, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Zero(t, got.BonusThreshold)

	entries, err := svc.ledger.History(ctx, row.ID, 0)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestConcurrentCreditsPayCrossingOnce(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	// Five distinct visit days already on record, mark still at zero: the
	// next settle owns the 5-day crossing, and only one of the racing
	// credits may pay it.
	seedVisitDays(t, svc, db, row.ID, 5)

	g := new(errgroup.Group)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			_, err := svc.CreditPoints(ctx, CreditPointsParams{CustomerID: row.ID, Points: 100})
			return err
		})
	}
	require.NoError(t, g.Wait())

	entries, err := svc.ledger.History(ctx, row.ID, 0)
	require.NoError(t, err)

	var bonusEntries int
	var bonusTotal int64
	for _, entry := range entries {
		if entry.Category == string(ledger.CategoryFrequencyBonus) {
			bonusEntries++
			bonusTotal += entry.Points
		}
	}
	require.Equal(t, 1, bonusEntries)
	require.Equal(t, int64(25), bonusTotal)

	got, err := svc.Get(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, 5, got.BonusThreshold)
	require.Equal(t, int64(225), got.PointsTotal)
}

func TestProfileMatchesRecomputation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	_, err := svc.CreditPoints(ctx, CreditPointsParams{CustomerID: row.ID, Points: 300})
	require.NoError(t, err)

	// An already-expired grant written directly through the ledger: the
	// cached total does not know about it until the next settle.
	_, err = svc.ledger.Credit(ctx, ledger.CreditParams{
		CustomerID: row.ID,
		Points:     50,
		Category:   ledger.CategoryPurchase,
		At:         time.Now().Add(-91 * 24 * time.Hour),
	})
	require.NoError(t, err)

	profile, err := svc.Profile(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, int64(300), profile.ValidBalance)
	require.Equal(t, int64(50), profile.ExpiredPoints)
	require.Equal(t, tier.Yellow, profile.Tier)
	require.Equal(t, "Cafe Aurora", profile.VenueName)
	require.Len(t, profile.History, 2)
	require.Equal(t, int64(300), profile.History[0].Points)

	balance, err := svc.ledger.ValidBalance(ctx, row.ID, time.Now())
	require.NoError(t, err)
	require.Equal(t, balance, profile.Customer.PointsTotal)
}

func TestRefreshDerivedHealsStaleCache(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	_, err := svc.CreditPoints(ctx, CreditPointsParams{CustomerID: row.ID, Points: 250})
	require.NoError(t, err)

	// Simulate drift.
	require.NoError(t, db.Model(&Customer{}).Where("id = ?", row.ID).
		Updates(map[string]any{"points_total": 9999, "tier": "green"}).Error)

	got, err := svc.RefreshDerived(ctx, row.ID)
	require.NoError(t, err)
	require.Equal(t, int64(250), got.PointsTotal)
	require.Equal(t, string(tier.Yellow), got.Tier)
}

func TestDeleteCascades(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	row := register(t, svc, "5551234")

	_, err := svc.CreditPoints(ctx, CreditPointsParams{CustomerID: row.ID, Points: 100})
	require.NoError(t, err)
	_, err = svc.CheckIn(ctx, CheckInParams{CustomerID: row.ID})
	require.NoError(t, err)
	require.NoError(t, db.Exec(
		"INSERT INTO redemption_requests (id, customer_id, status) VALUES ('req-1', ?, 'pending')", row.ID,
	).Error)

	require.NoError(t, svc.Delete(ctx, row.ID))

	_, err = svc.Get(ctx, row.ID)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Status())

	var count int64
	require.NoError(t, db.Model(&ledger.Entry{}).Where("customer_id = ?", row.ID).Count(&count).Error)
	require.Zero(t, count)
	require.NoError(t, db.Model(&checkin.CheckIn{}).Where("customer_id = ?", row.ID).Count(&count).Error)
	require.Zero(t, count)
	require.NoError(t, db.Table("redemption_requests").Where("customer_id = ?", row.ID).Count(&count).Error)
	require.Zero(t, count)
}

func TestRankingAndStatistics(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a := register(t, svc, "5550001")
	b := register(t, svc, "5550002")
	register(t, svc, "5550003")

	_, err := svc.CreditPoints(ctx, CreditPointsParams{CustomerID: a.ID, Points: 600})
	require.NoError(t, err)
	_, err = svc.CreditPoints(ctx, CreditPointsParams{CustomerID: b.ID, Points: 250})
	require.NoError(t, err)

	ranked, err := svc.Ranking(ctx, 2)
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	require.Equal(t, a.ID, ranked[0].ID)
	require.Equal(t, b.ID, ranked[1].ID)

	listed, err := svc.List(ctx, ListParams{})
	require.NoError(t, err)
	require.Len(t, listed, 3)
	require.Equal(t, a.ID, listed[0].ID)
	require.Equal(t, b.ID, listed[1].ID)

	stats, err := svc.Statistics(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalCustomers)
	require.Equal(t, int64(1), stats.GreenCount)
	require.Equal(t, int64(1), stats.YellowCount)
	require.Equal(t, int64(1), stats.RedCount)
	require.Equal(t, int64(850), stats.PointsDistributed)
}
